package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/tenantreaper/internal/lifecycle"
)

type SoftDeleteCmd struct {
	Entity string `arg:"" help:"Entity type" enum:"tenant,user"`
	ID     int64  `arg:"" help:"Entity id"`

	Engine EngineFlags `embed:""`
	Actor  ActorFlags  `embed:"" prefix:"actor-"`
}

func (c *SoftDeleteCmd) Run(ctx context.Context, globals *Globals) error {
	engine, cleanup, err := setupEngine(ctx, globals, c.Engine)
	if err != nil {
		return err
	}
	defer cleanup()
	defer engine.Close()

	result, err := engine.orch.SoftDelete(ctx, lifecycle.EntityType(c.Entity), c.ID, c.Actor.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Soft-deleted %s %d at %s\n", result.EntityType, result.EntityID, result.DeletedAt.Format("2006-01-02 15:04:05.000000 MST"))
	printCounts("Tombstoned rows", result.Affected)
	printCounts("Removed rows", result.Removed)
	fmt.Printf("Audit id: %s\n", result.AuditID)
	if result.AuditDegraded {
		fmt.Println("Warning: audit record could not be written")
	}

	return nil
}
