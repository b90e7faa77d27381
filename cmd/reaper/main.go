package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/tenantreaper/cmd/reaper/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool `help:"Enable debug mode."`
		Version kong.VersionFlag

		SoftDelete commands.SoftDeleteCmd `cmd:"" name:"soft-delete" help:"Soft delete a tenant or user"`
		Restore    commands.RestoreCmd    `cmd:"" help:"Restore a soft-deleted tenant or user"`
		Purge      commands.PurgeCmd      `cmd:"" help:"Permanently purge a soft-deleted tenant or user"`
		Sweep      commands.SweepCmd      `cmd:"" help:"Purge every entity past its retention window"`
		Report     commands.ReportCmd     `cmd:"" help:"Preview purge candidates and their blast radius (dry run)"`
		History    commands.HistoryCmd    `cmd:"" help:"Show audit history for an entity"`
		Migrate    commands.MigrateCmd    `cmd:"" help:"Run database migrations"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
