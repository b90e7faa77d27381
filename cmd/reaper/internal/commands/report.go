package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/tenantreaper/internal/lifecycle"
)

type ReportCmd struct {
	Entity string `arg:"" help:"Entity type" enum:"tenant,user"`

	Engine EngineFlags `embed:""`
}

func (c *ReportCmd) Run(ctx context.Context, globals *Globals) error {
	engine, cleanup, err := setupEngine(ctx, globals, c.Engine)
	if err != nil {
		return err
	}
	defer cleanup()
	defer engine.Close()

	reports, err := engine.orch.Scanner().Report(ctx, lifecycle.EntityType(c.Entity), c.Engine.Retention)
	if err != nil {
		return err
	}

	if len(reports) == 0 {
		fmt.Printf("No %s purge candidates within retention %s.\n", c.Entity, c.Engine.Retention)
		return nil
	}

	fmt.Printf("%d %s purge candidate(s), retention %s. Nothing has been deleted.\n\n",
		len(reports), c.Entity, c.Engine.Retention)

	for _, report := range reports {
		fmt.Printf("%s %d, soft-deleted %s\n", c.Entity, report.ID, report.DeletedAt.Format("2006-01-02 15:04:05 MST"))
		printBlastRadius(report.Counts)
		fmt.Println()
	}

	return nil
}
