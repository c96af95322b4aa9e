package activity

import (
	"context"

	"github.com/go4it/marketplace/internal/core"
	"github.com/go4it/marketplace/internal/model"
	"github.com/go4it/marketplace/internal/provider"
)

// Drafts contains the draft preview activities.
type Drafts struct {
	svc *core.DraftService
}

// NewDrafts creates a new Drafts activity struct.
func NewDrafts(svc *core.DraftService) *Drafts {
	return &Drafts{svc: svc}
}

type MarkDraftReadyParams struct {
	GeneratedAppID string `json:"generated_app_id"`
	URL            string `json:"url"`
}

type MarkDraftFailedParams struct {
	GeneratedAppID string `json:"generated_app_id"`
	Message        string `json:"message"`
}

// StartDraftInstance requests the preview instance and returns its id.
func (a *Drafts) StartDraftInstance(ctx context.Context, d model.DraftDeploy) (string, error) {
	return a.svc.StartInstance(ctx, d)
}

// GetDraftInstance reports the provider state of a preview instance.
func (a *Drafts) GetDraftInstance(ctx context.Context, instanceID string) (*provider.Instance, error) {
	return a.svc.InstanceState(ctx, instanceID)
}

func (a *Drafts) MarkDraftReady(ctx context.Context, params MarkDraftReadyParams) error {
	return a.svc.MarkReady(ctx, params.GeneratedAppID, params.URL)
}

func (a *Drafts) MarkDraftFailed(ctx context.Context, params MarkDraftFailedParams) error {
	return a.svc.MarkFailed(ctx, params.GeneratedAppID, params.Message)
}

// SweepExpiredDrafts destroys expired previews.
func (a *Drafts) SweepExpiredDrafts(ctx context.Context) (core.SweepResult, error) {
	return a.svc.SweepExpired(ctx)
}
