package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/go4it/marketplace/internal/activity"
	"github.com/go4it/marketplace/internal/core"
	"github.com/go4it/marketplace/internal/model"
	"github.com/go4it/marketplace/internal/provider"
)

const (
	draftPollInterval = 10 * time.Second
	draftStartTimeout = 10 * time.Minute
)

// DeployDraftWorkflow starts a draft preview instance and waits for it to come
// up. The draft ends ready with its preview URL, or failed with the reason.
func DeployDraftWorkflow(ctx workflow.Context, d model.DraftDeploy) error {
	ctx = workflow.WithActivityOptions(ctx, providerActivityOptions())

	var instanceID string
	if err := workflow.ExecuteActivity(ctx, "StartDraftInstance", d).Get(ctx, &instanceID); err != nil {
		markDraftFailed(ctx, d.GeneratedAppID, fmt.Sprintf("Preview could not be started: %s", activityMessage(err)))
		return err
	}

	deadline := workflow.Now(ctx).Add(draftStartTimeout)
	for {
		var inst provider.Instance
		if err := workflow.ExecuteActivity(ctx, "GetDraftInstance", instanceID).Get(ctx, &inst); err != nil {
			markDraftFailed(ctx, d.GeneratedAppID, fmt.Sprintf("Preview status unavailable: %s", activityMessage(err)))
			return err
		}

		switch inst.State {
		case provider.InstanceStarted:
			return workflow.ExecuteActivity(storeActivityCtx(ctx), "MarkDraftReady", activity.MarkDraftReadyParams{
				GeneratedAppID: d.GeneratedAppID,
				URL:            inst.URL,
			}).Get(ctx, nil)
		case provider.InstanceFailed, provider.InstanceStopped:
			msg := inst.Error
			if msg == "" {
				msg = fmt.Sprintf("Preview instance %s", inst.State)
			}
			markDraftFailed(ctx, d.GeneratedAppID, msg)
			return nil
		}

		if !workflow.Now(ctx).Before(deadline) {
			markDraftFailed(ctx, d.GeneratedAppID, fmt.Sprintf("%s: preview did not start within %s", core.ErrTimeout, draftStartTimeout))
			return nil
		}
		if err := workflow.Sleep(ctx, draftPollInterval); err != nil {
			return err
		}
	}
}

// SweepDraftsWorkflow destroys expired draft previews. Runs on a cron
// schedule.
func SweepDraftsWorkflow(ctx workflow.Context) error {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy:         providerActivityOptions().RetryPolicy,
	})

	var res core.SweepResult
	if err := workflow.ExecuteActivity(ctx, "SweepExpiredDrafts").Get(ctx, &res); err != nil {
		return fmt.Errorf("sweep expired drafts: %w", err)
	}
	workflow.GetLogger(ctx).Info("draft sweep finished", "destroyed", res.Destroyed, "failed", res.Failed)
	return nil
}

func markDraftFailed(ctx workflow.Context, generatedAppID, msg string) {
	_ = workflow.ExecuteActivity(storeActivityCtx(ctx), "MarkDraftFailed", activity.MarkDraftFailedParams{
		GeneratedAppID: generatedAppID,
		Message:        msg,
	}).Get(ctx, nil)
}
