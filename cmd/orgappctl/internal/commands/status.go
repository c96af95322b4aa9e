package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/go4it/marketplace/internal/model"
)

type StatusCmd struct {
	Org string `required:"" help:"Organization ID."`
	App string `help:"Only show this app."`
}

func (c *StatusCmd) Run(ctx context.Context, globals *Globals) error {
	services, cleanup, err := globals.connect(ctx, false)
	if err != nil {
		return err
	}
	defer cleanup()

	var apps []model.OrgApp
	if c.App != "" {
		app, err := services.Orchestrator.Get(ctx, c.Org, c.App)
		if err != nil {
			return err
		}
		apps = append(apps, *app)
	} else if apps, err = services.Orchestrator.List(ctx, c.Org); err != nil {
		return err
	}
	return printApps(os.Stdout, apps)
}

func printApps(out io.Writer, apps []model.OrgApp) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "APP\tSTATUS\tDEPLOYED\tLATEST\tUPDATE\tHOSTNAME\tMESSAGE")
	for _, a := range apps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
			a.AppID, a.Status, orDash(a.DeployedVersion), a.LatestVersion, a.NeedsUpdate,
			orDash(a.Hostname), orDash(a.StatusMessage))
	}
	return tw.Flush()
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
