package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/tenantreaper/internal/lifecycle"
)

type PurgeCmd struct {
	Entity string `arg:"" help:"Entity type" enum:"tenant,user"`
	ID     int64  `arg:"" help:"Entity id"`

	Engine EngineFlags `embed:""`
	Actor  ActorFlags  `embed:"" prefix:"actor-"`

	Yes bool `help:"Skip the confirmation prompt" default:"false"`
}

func (c *PurgeCmd) Run(ctx context.Context, globals *Globals) error {
	engine, cleanup, err := setupEngine(ctx, globals, c.Engine)
	if err != nil {
		return err
	}
	defer cleanup()
	defer engine.Close()

	entityType := lifecycle.EntityType(c.Entity)

	if !c.Yes {
		radius, err := engine.orch.Scanner().BlastRadius(ctx, entityType, c.ID)
		if err != nil {
			return err
		}
		fmt.Printf("Purging %s %d is irreversible and will touch:\n", c.Entity, c.ID)
		printBlastRadius(radius)
		fmt.Print("Type yes to continue: ")

		var answer string
		if _, err := fmt.Scanln(&answer); err != nil || answer != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	result, err := engine.orch.Purge(ctx, entityType, c.ID, c.Actor.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Purged %s %d\n", result.EntityType, result.EntityID)
	printCounts("Deleted rows", result.Deleted)
	printCounts("Nulled columns", result.Nulled)
	fmt.Printf("Audit id: %s\n", result.AuditID)
	if result.AuditDegraded {
		fmt.Println("Warning: audit record could not be written")
	}

	return nil
}

func printBlastRadius(radius lifecycle.BlastRadius) {
	for _, behavior := range []lifecycle.Behavior{lifecycle.Restrict, lifecycle.Cascade, lifecycle.SetNull} {
		counts, ok := radius[behavior]
		if !ok {
			continue
		}
		printCounts(string(behavior), counts)
	}
}
