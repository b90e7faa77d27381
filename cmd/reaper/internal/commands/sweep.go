package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/tenantreaper/internal/lifecycle"
)

type SweepCmd struct {
	Entity string `arg:"" help:"Entity type" enum:"tenant,user"`

	Engine EngineFlags `embed:""`
	Actor  ActorFlags  `embed:"" prefix:"actor-"`
}

func (c *SweepCmd) Run(ctx context.Context, globals *Globals) error {
	engine, cleanup, err := setupEngine(ctx, globals, c.Engine)
	if err != nil {
		return err
	}
	defer cleanup()
	defer engine.Close()

	result, err := engine.orch.Sweep(ctx, lifecycle.EntityType(c.Entity), c.Engine.Retention, c.Actor.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Sweep complete: %d candidates, %d purged, %d failed\n",
		result.Candidates, len(result.Purged), len(result.Failures))

	for _, purged := range result.Purged {
		fmt.Printf("  purged %s %d (audit %s)\n", purged.EntityType, purged.EntityID, purged.AuditID)
	}
	for _, failure := range result.Failures {
		fmt.Printf("  failed %s %d: %v\n", result.EntityType, failure.EntityID, failure.Err)
	}

	if len(result.Failures) > 0 {
		return fmt.Errorf("%d of %d purge candidates failed", len(result.Failures), result.Candidates)
	}

	return nil
}
