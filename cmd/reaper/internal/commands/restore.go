package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/tenantreaper/internal/lifecycle"
)

type RestoreCmd struct {
	Entity string `arg:"" help:"Entity type" enum:"tenant,user"`
	ID     int64  `arg:"" help:"Entity id"`

	Engine EngineFlags `embed:""`
	Actor  ActorFlags  `embed:"" prefix:"actor-"`
}

func (c *RestoreCmd) Run(ctx context.Context, globals *Globals) error {
	engine, cleanup, err := setupEngine(ctx, globals, c.Engine)
	if err != nil {
		return err
	}
	defer cleanup()
	defer engine.Close()

	result, err := engine.orch.Restore(ctx, lifecycle.EntityType(c.Entity), c.ID, c.Actor.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Restored %s %d\n", result.EntityType, result.EntityID)
	printCounts("Restored rows", result.Restored)
	fmt.Printf("Audit id: %s\n", result.AuditID)
	if result.AuditDegraded {
		fmt.Println("Warning: audit record could not be written")
	}

	return nil
}
