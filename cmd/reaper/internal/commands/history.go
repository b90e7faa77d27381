package commands

import (
	"context"
	"fmt"
)

type HistoryCmd struct {
	Entity string `arg:"" help:"Entity type" enum:"tenant,user"`
	ID     int64  `arg:"" help:"Entity id"`
	Limit  int    `help:"Maximum entries to show" default:"50"`

	Engine EngineFlags `embed:""`
}

func (c *HistoryCmd) Run(ctx context.Context, globals *Globals) error {
	engine, cleanup, err := setupEngine(ctx, globals, c.Engine)
	if err != nil {
		return err
	}
	defer cleanup()
	defer engine.Close()

	records, err := engine.audits.ListByEntity(ctx, c.Entity, c.ID, c.Limit)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Printf("No audit history for %s %d.\n", c.Entity, c.ID)
		return nil
	}

	for _, record := range records {
		actor := "-"
		if record.ActorID != nil {
			actor = fmt.Sprintf("%d", *record.ActorID)
		}
		fmt.Printf("%s  %-12s actor=%-8s ip=%-15s %s\n",
			record.CreatedAt.Format("2006-01-02 15:04:05"),
			record.Operation,
			actor,
			record.ActorIP,
			record.AuditID)
	}

	return nil
}
