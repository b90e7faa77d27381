package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantreaper/internal/lifecycle"
	"github.com/wolfeidau/tenantreaper/internal/logger"
	postgresstore "github.com/wolfeidau/tenantreaper/internal/store/postgres"
)

type MigrateCmd struct {
	Engine EngineFlags `embed:""`
}

func (c *MigrateCmd) Run(ctx context.Context, globals *Globals) error {
	log.Logger = logger.Setup(globals.Debug)

	cfg, err := loadConfig(c.Engine)
	if err != nil {
		return err
	}
	cfg.Store.AutoMigrate = true

	pool, err := postgresstore.NewPool(ctx, &cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	if err := postgresstore.ValidateSchema(ctx, pool, lifecycle.DefaultSpec()); err != nil {
		return err
	}

	fmt.Println("Migrations applied, schema matches the dependency table.")

	return nil
}
