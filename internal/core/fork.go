package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/go4it/marketplace/internal/model"
	"github.com/go4it/marketplace/internal/provider"
	"github.com/go4it/marketplace/internal/store"
)

// AttachResult is the outcome of recording a fork on its OrgApp. A failed
// attach does not undo the fork.
type AttachResult struct {
	Attached bool  `json:"attached"`
	Err      error `json:"-"`
}

// ModifyResult tells the caller which generated app to open for editing.
type ModifyResult struct {
	GeneratedAppID string       `json:"generatedAppId"`
	Forked         bool         `json:"forked"`
	Attach         AttachResult `json:"attach"`
}

// ForkCoordinator decides whether modifying an OrgApp edits its generated app
// in place or needs a private copy of someone else's lineage first.
type ForkCoordinator struct {
	store    store.Store
	provider provider.Provider
	logger   zerolog.Logger
	now      func() time.Time
}

func NewForkCoordinator(d Deps) *ForkCoordinator {
	return &ForkCoordinator{
		store:    d.Store,
		provider: d.Provider,
		logger:   d.Logger.With().Str("component", "fork-coordinator").Logger(),
		now:      d.clock(),
	}
}

// Modify returns the generated app the organization should edit. Apps the
// organization generated itself are edited in place without any provider
// call. Anything else is forked, and the fork is attached to the OrgApp in a
// single attempt whose failure is reported in the result, not as an error.
func (f *ForkCoordinator) Modify(ctx context.Context, orgID, appID string) (*ModifyResult, error) {
	app, err := f.store.GetOrgApp(ctx, orgID, appID)
	if err != nil {
		return nil, fmt.Errorf("modify app %s/%s: %w", orgID, appID, fromStore(err))
	}
	if app.GeneratedAppID == nil || *app.GeneratedAppID == "" {
		return nil, fmt.Errorf("modify app %s/%s: %w", orgID, appID, ErrNotForkable)
	}
	sourceID := *app.GeneratedAppID

	source, err := f.store.GetGeneratedApp(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("modify app %s/%s: %w", orgID, appID, fromStore(err))
	}
	if source.OrgID == orgID {
		return &ModifyResult{GeneratedAppID: sourceID, Attach: AttachResult{Attached: true}}, nil
	}

	forkID, err := f.provider.Fork(ctx, sourceID, orgID)
	if err != nil {
		return nil, fmt.Errorf("fork generated app %s for org %s: %w: %w", sourceID, orgID, ErrProviderError, err)
	}
	f.logger.Info().Str("org_id", orgID).Str("app_id", appID).Str("source_id", sourceID).
		Str("generated_app_id", forkID).Msg("generated app forked")

	res := &ModifyResult{GeneratedAppID: forkID, Forked: true}
	res.Attach = f.attach(ctx, app, sourceID, forkID)
	if res.Attach.Err != nil {
		f.logger.Warn().Err(res.Attach.Err).Str("org_id", orgID).Str("app_id", appID).
			Str("generated_app_id", forkID).Msg("attach fork to app")
	}
	return res, nil
}

// attach records the fork's lineage and points the OrgApp at it. It writes
// against the version read at the start of Modify and never retries.
func (f *ForkCoordinator) attach(ctx context.Context, app *model.OrgApp, sourceID, forkID string) AttachResult {
	lineage := &model.GeneratedApp{ID: forkID, OrgID: app.OrgID, SourceID: &sourceID, CreatedAt: f.now()}
	if err := f.store.CreateGeneratedApp(ctx, lineage); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return AttachResult{Err: fmt.Errorf("record lineage of %s: %w", forkID, fromStore(err))}
	}

	app.GeneratedAppID = &forkID
	if err := f.store.UpdateOrgApp(ctx, app); err != nil {
		return AttachResult{Err: fmt.Errorf("attach %s to %s/%s: %w", forkID, app.OrgID, app.AppID, fromStore(err))}
	}
	return AttachResult{Attached: true}
}
