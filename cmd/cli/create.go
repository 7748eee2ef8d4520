package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/axellelanca/shortlink/cmd"
	"github.com/axellelanca/shortlink/internal/database"
	"github.com/axellelanca/shortlink/internal/models"
	"github.com/axellelanca/shortlink/internal/repository"
	"github.com/axellelanca/shortlink/internal/services"
)

var draftFlags models.LinkDraft

// CreateCmd represents the 'create' command.
var CreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Creates a short key for a set of target URLs.",
	Long: `This command stores a link and prints its short key. If a live link with
the same deep links and fallback URLs already exists, its key is printed instead.

Example:
  shortlink create --default-fallback-url="https://example.com/item/7" \
    --ios-deep-link="myapp://item/7" --og-title="Item 7"`,
	RunE: func(c *cobra.Command, args []string) error {
		cfg := cmd.Cfg
		db, err := cmd.OpenDatabase(c.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer database.Close(db)

		// Creation never touches the cache or the webhook.
		linkService := services.NewLinkService(repository.NewLinkRepository(db), nil, nil)

		res, err := linkService.CreateLink(c.Context(), draftFlags)
		if err != nil {
			return fmt.Errorf("failed to create short link: %w", err)
		}

		out := c.OutOrStdout()
		if res.Created {
			fmt.Fprintln(out, "Short link created:")
		} else {
			fmt.Fprintln(out, "Short link already exists:")
		}
		fmt.Fprintf(out, "Key: %s\n", res.ShortKey)
		fmt.Fprintf(out, "URL: %s/%s\n", cfg.Server.BaseURL, res.ShortKey)
		return nil
	},
}

func init() {
	f := CreateCmd.Flags()
	f.StringVar(&draftFlags.DefaultFallbackURL, "default-fallback-url", "", "URL opened when no app applies (required)")
	f.StringVar(&draftFlags.IOSDeepLink, "ios-deep-link", "", "iOS app deep link")
	f.StringVar(&draftFlags.IOSFallbackURL, "ios-fallback-url", "", "URL opened on iOS when the app is missing")
	f.StringVar(&draftFlags.AndroidDeepLink, "android-deep-link", "", "Android app deep link")
	f.StringVar(&draftFlags.AndroidFallbackURL, "android-fallback-url", "", "URL opened on Android when the app is missing")
	f.StringVar(&draftFlags.WebhookURL, "webhook-url", "", "URL notified on every redirect")
	f.StringVar(&draftFlags.OGTitle, "og-title", "", "Open Graph title")
	f.StringVar(&draftFlags.OGDescription, "og-description", "", "Open Graph description")
	f.StringVar(&draftFlags.OGImageURL, "og-image-url", "", "Open Graph image URL")
	_ = CreateCmd.MarkFlagRequired("default-fallback-url")

	cmd.RootCmd.AddCommand(CreateCmd)
}
