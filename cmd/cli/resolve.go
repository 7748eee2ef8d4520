package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/axellelanca/shortlink/cmd"
	"github.com/axellelanca/shortlink/internal/database"
	apperrors "github.com/axellelanca/shortlink/internal/errors"
	"github.com/axellelanca/shortlink/internal/models"
	"github.com/axellelanca/shortlink/internal/repository"
	"github.com/axellelanca/shortlink/internal/shortkey"
)

// ResolveCmd represents the 'resolve' command.
var ResolveCmd = &cobra.Command{
	Use:   "resolve [short-key]",
	Short: "Shows the targets behind a short key.",
	Long: `Decodes the short key and reads the link straight from the database,
bypassing the cache, then prints its targets.`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	cmd.RootCmd.AddCommand(ResolveCmd)
}

func runResolve(c *cobra.Command, args []string) error {
	key := args[0]
	if len(key) < shortkey.MinLen || !shortkey.IsAlphanumeric(key) {
		return apperrors.ErrInvalidShortKey
	}
	id, salt, ok := shortkey.Decode(key)
	if !ok {
		return apperrors.ErrLinkNotFound
	}

	db, err := cmd.OpenDatabase(c.Context(), cmd.Cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close(db)

	link, err := repository.NewLinkRepository(db).FindForResolution(c.Context(), id)
	if err != nil {
		return err
	}
	if link == nil || link.Salt != salt {
		return apperrors.ErrLinkNotFound
	}

	w := tabwriter.NewWriter(c.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Key:\t%s\n", key)
	fmt.Fprintf(w, "ID:\t%d\n", link.ID)
	fmt.Fprintf(w, "Default fallback:\t%s\n", link.DefaultFallbackURL)
	printOptional(w, "iOS deep link:", link.IOSDeepLink)
	printOptional(w, "iOS fallback:", link.IOSFallbackURL)
	printOptional(w, "Android deep link:", link.AndroidDeepLink)
	printOptional(w, "Android fallback:", link.AndroidFallbackURL)
	printOptional(w, "Webhook:", link.WebhookURL)
	printOptional(w, "OG title:", link.OGTitle)
	return w.Flush()
}

func printOptional(w *tabwriter.Writer, label string, v *string) {
	if s := models.Value(v); s != "" {
		fmt.Fprintf(w, "%s\t%s\n", label, s)
	}
}
