package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/casier-judiciaire/casier-backend/pkg/config"
	"github.com/casier-judiciaire/casier-backend/pkg/db"
	"github.com/casier-judiciaire/casier-backend/pkg/logger"
)

// autoRunAllowed reports whether startup may apply migrations itself. Outside
// dev the migrate command is the only path to a schema change.
func autoRunAllowed(app config.AppConfig, flags config.FeatureFlagsConfig) bool {
	return flags.AutoMigrate && app.IsDev()
}

// MaybeRunDev applies the embedded migrations on boot when running in dev
// with CASIER_AUTO_MIGRATE set. The set is validated first so a malformed
// file never half-applies.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !autoRunAllowed(cfg.App, cfg.FeatureFlags) {
		if cfg.FeatureFlags.AutoMigrate {
			logg.Warn(logg.WithField(ctx, "env", cfg.App.Env), "auto-migrate ignored outside dev")
		}
		return nil
	}
	if err := ValidateEmbedded(); err != nil {
		return fmt.Errorf("embedded migrations invalid: %w", err)
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "source": "embedded"})
	logg.Info(ctx, "applying migrations on startup")
	start := time.Now()
	if err := Run(ctx, sqlDB, "", "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}
	logg.Info(logg.WithField(ctx, "duration_ms", time.Since(start).Milliseconds()), "startup migrations applied")
	return nil
}
