// Package services contains the business logic layer of the shortener: link
// creation and the redirect flow.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	apperrors "github.com/axellelanca/shortlink/internal/errors"
	"github.com/axellelanca/shortlink/internal/fingerprint"
	"github.com/axellelanca/shortlink/internal/logger"
	"github.com/axellelanca/shortlink/internal/models"
	"github.com/axellelanca/shortlink/internal/notify"
	"github.com/axellelanca/shortlink/internal/repository"
	"github.com/axellelanca/shortlink/internal/shortkey"
)

// Resolver turns a short key into the link it designates.
type Resolver interface {
	Resolve(ctx context.Context, shortKey string) (*models.LinkProjection, error)
}

// Notifier reports a redirect to the link's webhook without blocking.
type Notifier interface {
	Notify(link *models.LinkProjection, shortKey string, meta notify.RequestMetadata) bool
}

// RenderFunc produces the response body for a resolved link.
type RenderFunc func(link *models.LinkProjection) ([]byte, error)

// CreateResult is the outcome of CreateLink.
type CreateResult struct {
	ShortKey string
	Created  bool // false when an identical link already existed
}

// LinkService provides business logic methods for creating and following
// shortened links. It sits between the HTTP handlers / CLI and the store.
type LinkService struct {
	linkRepo repository.LinkRepository
	resolver Resolver
	notifier Notifier
	newSalt  func() (string, error)
	validate *validator.Validate
	log      *logrus.Entry
}

// NewLinkService creates and returns a new instance of LinkService.
// Parameters:
//   - linkRepo: store used on the creation path
//   - resolver: cache-aside resolver used on the redirect path
//   - notifier: webhook dispatcher, fired after the response body is produced
func NewLinkService(linkRepo repository.LinkRepository, resolver Resolver, notifier Notifier) *LinkService {
	return &LinkService{
		linkRepo: linkRepo,
		resolver: resolver,
		notifier: notifier,
		newSalt:  shortkey.GenerateSalt,
		validate: validator.New(),
		log:      logger.For("link_service"),
	}
}

// draftRules are checked on every draft, whichever surface it came from.
// Fallbacks and the OG image end up in href and meta attributes, so only
// http(s) is accepted there; deep links may use any scheme.
var draftRules = []struct {
	field string
	get   func(models.LinkDraft) string
	tag   string
}{
	{"defaultFallbackUrl", func(d models.LinkDraft) string { return d.DefaultFallbackURL }, "required,http_url"},
	{"iosDeepLink", func(d models.LinkDraft) string { return d.IOSDeepLink }, "omitempty,url"},
	{"iosFallbackUrl", func(d models.LinkDraft) string { return d.IOSFallbackURL }, "omitempty,http_url"},
	{"androidDeepLink", func(d models.LinkDraft) string { return d.AndroidDeepLink }, "omitempty,url"},
	{"androidFallbackUrl", func(d models.LinkDraft) string { return d.AndroidFallbackURL }, "omitempty,http_url"},
	{"webhookUrl", func(d models.LinkDraft) string { return d.WebhookURL }, "omitempty,http_url"},
	{"ogImageUrl", func(d models.LinkDraft) string { return d.OGImageURL }, "omitempty,http_url"},
	{"ogTitle", func(d models.LinkDraft) string { return d.OGTitle }, "max=255"},
	{"ogDescription", func(d models.LinkDraft) string { return d.OGDescription }, "max=500"},
}

// ValidateDraft returns a ValidationError for the first invalid field.
func (s *LinkService) ValidateDraft(d models.LinkDraft) error {
	for _, r := range draftRules {
		if err := s.validate.Var(r.get(d), r.tag); err != nil {
			var verrs validator.ValidationErrors
			reason := err.Error()
			if errors.As(err, &verrs) && len(verrs) > 0 {
				reason = "failed " + verrs[0].Tag() + " check"
			}
			return apperrors.ValidationError{Field: r.field, Reason: reason}
		}
	}
	return nil
}

// CreateLink stores the draft, or finds the live link with the same target
// URLs, and returns its short key.
// Returns:
//   - *CreateResult: the short key and whether a new row was inserted
//   - error: ValidationError, ErrSaltGenerationFailed, ConsistencyError or a store error
func (s *LinkService) CreateLink(ctx context.Context, draft models.LinkDraft) (*CreateResult, error) {
	if err := s.ValidateDraft(draft); err != nil {
		return nil, err
	}

	fp := fingerprint.Of(draft.FingerprintFields()...)
	salt, err := s.newSalt()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrSaltGenerationFailed, err)
	}

	link, created, err := s.linkRepo.CreateOrFind(ctx, draft.ToLink(salt, fp))
	if err != nil {
		return nil, err
	}

	key := shortkey.Encode(link.Salt, link.ID)
	s.log.WithFields(logrus.Fields{
		"short_key":   key,
		"fingerprint": fp,
		"created":     created,
	}).Info("link stored")
	return &CreateResult{ShortKey: key, Created: created}, nil
}

// Resolve returns the link behind shortKey or apperrors.ErrLinkNotFound.
func (s *LinkService) Resolve(ctx context.Context, shortKey string) (*models.LinkProjection, error) {
	return s.resolver.Resolve(ctx, shortKey)
}

// Redirect resolves shortKey, renders the response body and only then fires
// the webhook notification. Notification outcome never affects the result.
func (s *LinkService) Redirect(ctx context.Context, shortKey string, meta notify.RequestMetadata, render RenderFunc) ([]byte, error) {
	link, err := s.resolver.Resolve(ctx, shortKey)
	if err != nil {
		return nil, err
	}

	body, err := render(link)
	if err != nil {
		return nil, fmt.Errorf("failed to render redirect for %s: %w", shortKey, err)
	}

	s.notifier.Notify(link, shortKey, meta)
	return body, nil
}
