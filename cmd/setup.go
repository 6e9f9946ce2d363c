package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/vidpub/internal/repositories"
	"github.com/desertthunder/vidpub/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupDatabase initializes the database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	r.logger.Info("initializing database", "driver", r.config.Database.Driver, "path", r.config.Database.Path)

	db, err := repositories.Open(r.config.Database)
	if err != nil {
		return fmt.Errorf("failed to set up database: %w", err)
	}
	defer db.Close()

	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)
	return nil
}

// SetupConfig writes config.toml from the embedded template. An existing file is left alone.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	if err := shared.CreateConfigFile(r.configPath); err != nil {
		return err
	}
	r.logger.Info("config file created", "path", r.configPath)

	r.writePlain("✓ Wrote %s\n", r.configPath)
	r.writePlainln("Next steps:")
	r.writePlain("1. Add an API key per [[pool.credentials]] entry, or export %s\n", shared.CredentialEnvKey("primary"))
	r.writePlain("2. Run 'vidpub setup database' to apply migrations\n")
	r.writePlain("3. Run 'vidpub pool connect youtube' to connect a channel\n")
	return nil
}
