package activity

import (
	"context"

	"github.com/go4it/marketplace/internal/core"
	"github.com/go4it/marketplace/internal/model"
)

// OrgApps contains the activities that drive an OrgApp deployment attempt.
type OrgApps struct {
	orch *core.Orchestrator
}

// NewOrgApps creates a new OrgApps activity struct.
func NewOrgApps(orch *core.Orchestrator) *OrgApps {
	return &OrgApps{orch: orch}
}

// FailDeployAttemptParams holds the parameters for FailDeployAttempt.
type FailDeployAttemptParams struct {
	Attempt model.DeployAttempt `json:"attempt"`
	Message string              `json:"message"`
}

// DispatchDeploy sends the attempt to the compute provider. It returns false
// when the attempt was superseded before it could be sent.
func (a *OrgApps) DispatchDeploy(ctx context.Context, attempt model.DeployAttempt) (bool, error) {
	return a.orch.Dispatch(ctx, attempt)
}

// FailDeployAttempt marks the attempt FAILED if it is still current.
func (a *OrgApps) FailDeployAttempt(ctx context.Context, params FailDeployAttemptParams) error {
	_, err := a.orch.FailAttempt(ctx, params.Attempt, params.Message)
	return err
}

// DestroyOrgAppInstance tears down the instance of a removed OrgApp.
func (a *OrgApps) DestroyOrgAppInstance(ctx context.Context, removal model.InstanceRemoval) error {
	return a.orch.DestroyInstance(ctx, removal)
}

// ReconcileDeployments fails deployments stuck in DEPLOYING past the deploy
// timeout and returns how many it failed.
func (a *OrgApps) ReconcileDeployments(ctx context.Context) (int, error) {
	return a.orch.Reconcile(ctx)
}
