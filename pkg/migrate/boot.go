package migrate

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/confops/pkg/config"
	"github.com/angelmondragon/confops/pkg/db"
	"github.com/angelmondragon/confops/pkg/logger"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// ApplyOnBoot brings the schema up to date when CONFOPS_AUTO_MIGRATE is set
// in dev. SQLite runs get a flattened schema since the goose files use
// Postgres enum types.
func ApplyOnBoot(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "driver": client.Driver()})

	if client.Driver() == db.DriverSQLite {
		if err := ApplySQLiteSchema(ctx, client.DB()); err != nil {
			return err
		}
		logg.Info(ctx, "sqlite schema applied")
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	m, err := New(sqlDB, nil)
	if err != nil {
		return err
	}
	applied, err := m.Up(ctx)
	for _, a := range applied {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"version":  a.Version,
			"file":     a.Path,
			"duration": a.Duration.String(),
		}), "migration applied")
	}
	if err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "applied", len(applied)), "schema up to date")
	return nil
}

// ApplySQLiteSchema creates the tables used by the sqlite driver.
func ApplySQLiteSchema(ctx context.Context, conn *gorm.DB) error {
	for _, stmt := range strings.Split(sqliteSchema, ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if err := conn.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("sqlite schema: %w", err)
		}
	}
	return nil
}
