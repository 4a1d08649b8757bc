package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/tishcommerce-checkout/pkg/config"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/db"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/logger"
)

// MaybeRun applies pending migrations at startup when STOREFRONT_DB_AUTO_MIGRATE is set.
func MaybeRun(ctx context.Context, cfg config.DBConfig, logg *logger.Logger, client *db.Client) error {
	if !cfg.AutoMigrate {
		return nil
	}

	if err := ValidateEmbedded(); err != nil {
		return fmt.Errorf("embedded migrations invalid: %w", err)
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithField(ctx, "driver", cfg.Driver)
	logg.Info(ctx, "running goose migrations")

	if err := Run(ctx, sqlDB, cfg.Driver, "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	logg.Info(ctx, "goose migrations completed")
	return nil
}
