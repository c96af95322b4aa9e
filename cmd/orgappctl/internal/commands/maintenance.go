package commands

import (
	"context"
	"fmt"
)

type PublishCmd struct {
	App     string `required:"" help:"Application ID."`
	Version string `required:"" help:"Version string to publish."`
}

func (c *PublishCmd) Run(ctx context.Context, globals *Globals) error {
	services, cleanup, err := globals.connect(ctx, false)
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := services.Versions.Publish(ctx, c.App, c.Version)
	if err != nil {
		return err
	}
	fmt.Printf("published %s %s to %d installs\n", c.App, c.Version, n)
	return nil
}

// ReconcileCmd runs the watchdog once, inline, in addition to the
// scheduled run on the worker.
type ReconcileCmd struct{}

func (c *ReconcileCmd) Run(ctx context.Context, globals *Globals) error {
	services, cleanup, err := globals.connect(ctx, false)
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := services.Orchestrator.Reconcile(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("marked %d stuck deployments failed\n", n)
	return nil
}

type SweepDraftsCmd struct{}

func (c *SweepDraftsCmd) Run(ctx context.Context, globals *Globals) error {
	services, cleanup, err := globals.connect(ctx, true)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := services.Drafts.SweepExpired(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("destroyed %d expired drafts, %d failed\n", res.Destroyed, res.Failed)
	return nil
}
