package cmd

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	Run: func(_ *cobra.Command, _ []string) {
		runMigrations(context.Background())
		logrus.Info("[MIGRATION] Schema is up to date")
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

// runMigrations brings every repository's schema up to date. Safe to run
// repeatedly; gorm only applies missing pieces.
func runMigrations(ctx context.Context) {
	inits := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"leads", leadRepository.Init},
		{"sync cursors", cursorRepository.Init},
		{"campaigns", campaignRepository.Init},
		{"channel settings", settingsRepository.Init},
		{"credit ledger", ledgerRepository.Init},
		{"dispatch records", dispatchRepository.Init},
		{"agent devices", deviceRepository.Init},
	}

	for _, m := range inits {
		if err := m.fn(ctx); err != nil {
			logrus.Fatalf("[MIGRATION] Failed to migrate %s: %v", m.name, err)
		}
	}
}
