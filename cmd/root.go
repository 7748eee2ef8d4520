package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/axellelanca/shortlink/internal/config"
	"github.com/axellelanca/shortlink/internal/database"
	"github.com/axellelanca/shortlink/internal/logger"
)

// Cfg holds the configuration loaded before any command runs.
var Cfg *config.Config

// RootCmd is the base command. Subcommands (run-server, create, resolve,
// migrate) register themselves from their own init functions.
var RootCmd = &cobra.Command{
	Use:   "shortlink",
	Short: "A deep-link aware URL shortener",
	Long: `shortlink turns app deep links and their web fallbacks into short keys,
serves a redirect page for each key and notifies a webhook on every visit.`,
	SilenceUsage: true,
}

// Execute is called from main.go.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

// initConfig loads the configuration and sets up logging. An invalid
// configuration aborts: no command can run meaningfully without one.
func initConfig() {
	var err error
	Cfg, err = config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	if err := logger.Setup(Cfg.Log); err != nil {
		logrus.WithError(err).Fatal("failed to set up logging")
	}
}

// OpenDatabase connects to the configured store, waits for it to answer and
// migrates the schema when database.auto_migrate is set.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.WaitReady(ctx, db, 30*time.Second); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("database not reachable: %w", err)
	}
	if cfg.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			_ = database.Close(db)
			return nil, err
		}
	}
	return db, nil
}
