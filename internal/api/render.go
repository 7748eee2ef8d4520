package api

import (
	"bytes"
	"embed"
	"html/template"

	"github.com/axellelanca/shortlink/internal/models"
)

//go:embed templates/redirect.html
var templatesFS embed.FS

var redirectTemplate = template.Must(template.ParseFS(templatesFS, "templates/redirect.html"))

// redirectPage is the view model of templates/redirect.html. Absent optional
// fields are empty strings.
type redirectPage struct {
	IOSDeepLink        string
	IOSFallbackURL     string
	AndroidDeepLink    string
	AndroidFallbackURL string
	DefaultFallbackURL string
	OGTitle            string
	OGDescription      string
	OGImageURL         string
}

// RenderRedirect renders the HTML page that sends the visitor to the app or
// to the fallback matching their platform.
func RenderRedirect(link *models.LinkProjection) ([]byte, error) {
	page := redirectPage{
		IOSDeepLink:        models.Value(link.IOSDeepLink),
		IOSFallbackURL:     models.Value(link.IOSFallbackURL),
		AndroidDeepLink:    models.Value(link.AndroidDeepLink),
		AndroidFallbackURL: models.Value(link.AndroidFallbackURL),
		DefaultFallbackURL: link.DefaultFallbackURL,
		OGTitle:            models.Value(link.OGTitle),
		OGDescription:      models.Value(link.OGDescription),
		OGImageURL:         models.Value(link.OGImageURL),
	}

	var buf bytes.Buffer
	if err := redirectTemplate.Execute(&buf, page); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
