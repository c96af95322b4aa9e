package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/go4it/marketplace/internal/activity"
	"github.com/go4it/marketplace/internal/model"
)

// DeployOrgAppWorkflow hands one deployment attempt to the compute provider.
// The attempt's progress arrives later through the provider callback, so the
// workflow ends once the provider accepted the request. If the request cannot
// be delivered the attempt is marked FAILED.
func DeployOrgAppWorkflow(ctx workflow.Context, attempt model.DeployAttempt) error {
	ctx = workflow.WithActivityOptions(ctx, providerActivityOptions())
	logger := workflow.GetLogger(ctx)

	var sent bool
	err := workflow.ExecuteActivity(ctx, "DispatchDeploy", attempt).Get(ctx, &sent)
	if err != nil {
		msg := fmt.Sprintf("Deployment could not be started: %s", activityMessage(err))
		_ = workflow.ExecuteActivity(storeActivityCtx(ctx), "FailDeployAttempt", activity.FailDeployAttemptParams{
			Attempt: attempt,
			Message: msg,
		}).Get(ctx, nil)
		return err
	}
	if !sent {
		logger.Info("deploy attempt superseded before dispatch",
			"org_id", attempt.OrgID, "app_id", attempt.AppID, "attempt_id", attempt.AttemptID)
	}
	return nil
}

// RemoveOrgAppWorkflow destroys the instance of an OrgApp that was removed.
func RemoveOrgAppWorkflow(ctx workflow.Context, removal model.InstanceRemoval) error {
	ao := providerActivityOptions()
	ao.RetryPolicy.MaximumAttempts = 10
	ao.RetryPolicy.MaximumInterval = 5 * time.Minute
	ctx = workflow.WithActivityOptions(ctx, ao)

	return workflow.ExecuteActivity(ctx, "DestroyOrgAppInstance", removal).Get(ctx, nil)
}

// ReconcileDeploymentsWorkflow is the watchdog: it fails OrgApps stuck in
// DEPLOYING without provider progress. Runs on a cron schedule.
func ReconcileDeploymentsWorkflow(ctx workflow.Context) error {
	ctx = storeActivityCtx(ctx)

	var failed int
	if err := workflow.ExecuteActivity(ctx, "ReconcileDeployments").Get(ctx, &failed); err != nil {
		return fmt.Errorf("reconcile deployments: %w", err)
	}
	if failed > 0 {
		workflow.GetLogger(ctx).Warn("stuck deployments marked failed", "count", failed)
	}
	return nil
}

func providerActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    5,
			InitialInterval:    5 * time.Second,
			MaximumInterval:    30 * time.Second,
			BackoffCoefficient: 2.0,
		},
	}
}

// storeActivityCtx is for activities that only touch the state store.
func storeActivityCtx(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})
}
