package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/go4it/marketplace/cmd/orgappctl/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Migrate     commands.MigrateCmd     `cmd:"" help:"Apply or inspect database migrations"`
		Status      commands.StatusCmd      `cmd:"" help:"Show the apps of an organization"`
		Publish     commands.PublishCmd     `cmd:"" help:"Publish a new application version"`
		Reconcile   commands.ReconcileCmd   `cmd:"" help:"Fail deployments stuck without progress"`
		SweepDrafts commands.SweepDraftsCmd `cmd:"" name:"sweep-drafts" help:"Destroy expired draft previews"`
		Watch       commands.WatchCmd       `cmd:"" help:"Stream deployment progress of an app"`
		LogLevel    string                  `help:"Log level." default:"info" env:"LOG_LEVEL"`
		Version     kong.VersionFlag
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("orgappctl"),
		kong.Description("Operator tool for the app deployment control plane."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{LogLevel: cli.LogLevel, Version: version})
	cmd.FatalIfErrorf(err)
}
