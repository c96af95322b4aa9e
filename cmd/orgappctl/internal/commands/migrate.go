package commands

import (
	"fmt"

	"github.com/go4it/marketplace/internal/db"
)

type MigrateCmd struct {
	Dir    string `help:"Migration files directory; defaults to the embedded set."`
	Status bool   `help:"Print migration status instead of applying."`
}

func (c *MigrateCmd) Run(globals *Globals) error {
	cfg, logger, err := globals.load()
	if err != nil {
		return err
	}
	if c.Status {
		return db.MigrationStatus(cfg.CoreDatabaseURL)
	}
	if err := db.RunMigrations(cfg.CoreDatabaseURL, c.Dir); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info().Msg("migrations applied")
	return nil
}
