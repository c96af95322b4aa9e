package core

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"
	"golang.org/x/sync/errgroup"

	"github.com/go4it/marketplace/internal/config"
	"github.com/go4it/marketplace/internal/metrics"
	"github.com/go4it/marketplace/internal/model"
	"github.com/go4it/marketplace/internal/platform"
	"github.com/go4it/marketplace/internal/provider"
	"github.com/go4it/marketplace/internal/store"
)

// DraftHandle is what a user sees of one of their draft previews.
type DraftHandle struct {
	GeneratedAppID  string    `json:"generatedAppId"`
	Status          string    `json:"status"`
	StatusMessage   string    `json:"statusMessage,omitempty"`
	PreviewURL      *string   `json:"previewUrl,omitempty"`
	ExpiresAt       time.Time `json:"expiresAt"`
	DaysUntilExpiry int       `json:"daysUntilExpiry"`
}

// DraftService runs throwaway previews of unpublished generated apps. Drafts
// have no OrgApp and no hostname; they expire after the policy TTL and are
// destroyed by SweepExpired.
type DraftService struct {
	store    store.Store
	tc       temporalclient.Client
	provider provider.Provider
	policy   config.Policy
	logger   zerolog.Logger
	now      func() time.Time
}

func NewDraftService(d Deps) *DraftService {
	return &DraftService{
		store:    d.Store,
		tc:       d.Temporal,
		provider: d.Provider,
		policy:   d.Policy,
		logger:   d.Logger.With().Str("component", "draft-previews").Logger(),
		now:      d.clock(),
	}
}

// DeployDraft starts a preview of generatedAppID for userID. A preview that
// is still deploying or ready is returned as is; a failed or expired one is
// deployed again. Only the request that wins the create or the version check
// starts a workflow; a concurrent request from another user gets ErrNotOwner.
func (s *DraftService) DeployDraft(ctx context.Context, userID, generatedAppID string) (*DraftHandle, error) {
	if _, err := s.store.GetGeneratedApp(ctx, generatedAppID); err != nil {
		return nil, fmt.Errorf("deploy draft %s: %w", generatedAppID, fromStore(err))
	}

	now := s.now()
	var draft *model.DraftPreview
	started := false
	err := retryOnConflict(func() error {
		started = false
		cur, err := s.store.GetDraftPreview(ctx, generatedAppID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			cur = &model.DraftPreview{GeneratedAppID: generatedAppID, UserID: userID, CreatedAt: now}
			s.markDeploying(cur, now)
			if err := s.store.CreateDraftPreview(ctx, cur); err != nil {
				if errors.Is(err, store.ErrAlreadyExists) {
					// Lost the insert race; re-read and re-check the owner.
					return fmt.Errorf("%w: %w", store.ErrConflict, err)
				}
				return err
			}
			started = true
		case err != nil:
			return err
		case cur.UserID != userID:
			return ErrNotOwner
		case !cur.Expired(now) && cur.Status != model.DraftStatusFailed:
		default:
			s.markDeploying(cur, now)
			if err := s.store.UpdateDraftPreview(ctx, cur); err != nil {
				return err
			}
			started = true
		}
		draft = cur
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("deploy draft %s: %w", generatedAppID, err)
	}
	if !started {
		return s.handle(draft, now), nil
	}

	_, err = s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        fmt.Sprintf("draft-deploy-%s-%s", generatedAppID, platform.NewID()),
		TaskQueue: TaskQueue,
	}, "DeployDraftWorkflow", model.DraftDeploy{GeneratedAppID: generatedAppID, UserID: userID})
	if err != nil {
		msg := fmt.Sprintf("could not start preview: %v", err)
		if ferr := s.MarkFailed(context.WithoutCancel(ctx), generatedAppID, msg); ferr != nil {
			s.logger.Error().Err(ferr).Str("generated_app_id", generatedAppID).Msg("record failed preview start")
		}
		return nil, fmt.Errorf("deploy draft %s: %w: %s", generatedAppID, ErrProviderError, msg)
	}

	s.logger.Info().Str("generated_app_id", generatedAppID).Str("user_id", userID).
		Time("expires_at", draft.ExpiresAt).Msg("draft preview requested")
	return s.handle(draft, now), nil
}

func (s *DraftService) markDeploying(d *model.DraftPreview, now time.Time) {
	msg := "Deploying preview"
	d.Status = model.DraftStatusDeploying
	d.StatusMessage = &msg
	d.PreviewURL = nil
	d.ExpiresAt = now.Add(s.policy.DraftTTL)
}

// ListDrafts returns the user's previews, newest first. Expiry is derived at
// read time so a preview past its expiry reports expired before any sweep.
func (s *DraftService) ListDrafts(ctx context.Context, userID string) ([]DraftHandle, error) {
	drafts, err := s.store.ListDraftPreviewsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list drafts for user %s: %w", userID, fromStore(err))
	}
	now := s.now()
	handles := make([]DraftHandle, 0, len(drafts))
	for i := range drafts {
		handles = append(handles, *s.handle(&drafts[i], now))
	}
	return handles, nil
}

// GetDraft returns one of the user's previews.
func (s *DraftService) GetDraft(ctx context.Context, userID, generatedAppID string) (*DraftHandle, error) {
	draft, err := s.store.GetDraftPreview(ctx, generatedAppID)
	if err != nil {
		return nil, fmt.Errorf("get draft %s: %w", generatedAppID, fromStore(err))
	}
	if draft.UserID != userID {
		return nil, fmt.Errorf("get draft %s: %w", generatedAppID, ErrNotOwner)
	}
	return s.handle(draft, s.now()), nil
}

// StartInstance asks the provider for the preview instance and records its
// id. An instance left over from an earlier deploy of the same draft is
// destroyed once the new one is recorded.
func (s *DraftService) StartInstance(ctx context.Context, d model.DraftDeploy) (string, error) {
	res, err := s.provider.DeployDraft(ctx, provider.DraftRequest{
		Name:           platform.DraftAppName(d.GeneratedAppID),
		GeneratedAppID: d.GeneratedAppID,
		UserID:         d.UserID,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrProviderError, err)
	}

	var previous *string
	err = retryOnConflict(func() error {
		draft, err := s.store.GetDraftPreview(ctx, d.GeneratedAppID)
		if err != nil {
			return err
		}
		previous = draft.InstanceID
		draft.InstanceID = &res.InstanceID
		if res.URL != "" {
			draft.PreviewURL = &res.URL
		}
		return s.store.UpdateDraftPreview(ctx, draft)
	})
	if errors.Is(err, ErrNotFound) {
		// Swept while the provider was starting it.
		if derr := s.provider.Destroy(ctx, res.InstanceID); derr != nil {
			s.logger.Warn().Err(derr).Str("generated_app_id", d.GeneratedAppID).Str("instance_id", res.InstanceID).
				Msg("destroy orphaned preview instance")
		}
	}
	if err != nil {
		return "", fmt.Errorf("record preview instance for %s: %w", d.GeneratedAppID, err)
	}

	if previous != nil && *previous != res.InstanceID {
		if err := s.provider.Destroy(ctx, *previous); err != nil {
			s.logger.Warn().Err(err).Str("generated_app_id", d.GeneratedAppID).Str("instance_id", *previous).
				Msg("destroy replaced preview instance")
		}
	}
	return res.InstanceID, nil
}

// InstanceState reports the provider's view of a preview instance.
func (s *DraftService) InstanceState(ctx context.Context, instanceID string) (*provider.Instance, error) {
	inst, err := s.provider.Instance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderError, err)
	}
	return inst, nil
}

func (s *DraftService) MarkReady(ctx context.Context, generatedAppID, url string) error {
	return s.settle(ctx, generatedAppID, func(d *model.DraftPreview) {
		msg := "Preview is ready"
		d.Status = model.DraftStatusReady
		d.StatusMessage = &msg
		if url != "" {
			d.PreviewURL = &url
		}
	})
}

func (s *DraftService) MarkFailed(ctx context.Context, generatedAppID, message string) error {
	return s.settle(ctx, generatedAppID, func(d *model.DraftPreview) {
		d.Status = model.DraftStatusFailed
		d.StatusMessage = &message
	})
}

func (s *DraftService) settle(ctx context.Context, generatedAppID string, apply func(*model.DraftPreview)) error {
	var status string
	err := retryOnConflict(func() error {
		draft, err := s.store.GetDraftPreview(ctx, generatedAppID)
		if err != nil {
			return err
		}
		apply(draft)
		status = draft.Status
		return s.store.UpdateDraftPreview(ctx, draft)
	})
	if errors.Is(err, ErrNotFound) {
		// Swept while deploying.
		return nil
	}
	if err != nil {
		return fmt.Errorf("update draft %s: %w", generatedAppID, err)
	}
	s.logger.Info().Str("generated_app_id", generatedAppID).Str("status", status).Msg("draft preview settled")
	return nil
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Destroyed int `json:"destroyed"`
	Failed    int `json:"failed"`
}

// SweepExpired destroys every expired preview and deletes its record. A
// preview whose destroy fails keeps its record and is retried on the next
// sweep.
func (s *DraftService) SweepExpired(ctx context.Context) (SweepResult, error) {
	now := s.now()
	expired, err := s.store.ListExpiredDraftPreviews(ctx, now)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list expired drafts: %w", fromStore(err))
	}

	var destroyed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.policy.DraftSweepParallelism))
	for _, d := range expired {
		g.Go(func() error {
			if err := s.sweepOne(gctx, d, now); err != nil {
				failed.Add(1)
				metrics.DraftsSweptTotal.WithLabelValues("failed").Inc()
				s.logger.Warn().Err(err).Str("generated_app_id", d.GeneratedAppID).Msg("sweep expired draft")
				return nil
			}
			destroyed.Add(1)
			metrics.DraftsSweptTotal.WithLabelValues("destroyed").Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SweepResult{}, err
	}

	res := SweepResult{Destroyed: int(destroyed.Load()), Failed: int(failed.Load())}
	if len(expired) > 0 {
		s.logger.Info().Int("destroyed", res.Destroyed).Int("failed", res.Failed).Msg("draft sweep finished")
	}
	return res, nil
}

func (s *DraftService) sweepOne(ctx context.Context, d model.DraftPreview, now time.Time) error {
	cur, err := s.store.GetDraftPreview(ctx, d.GeneratedAppID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	// Redeployed since it was listed.
	if cur.ExpiresAt.After(now) {
		return nil
	}
	if cur.InstanceID != nil {
		if err := s.provider.Destroy(ctx, *cur.InstanceID); err != nil {
			return fmt.Errorf("destroy instance %s: %w", *cur.InstanceID, err)
		}
	}
	return s.store.DeleteDraftPreview(ctx, d.GeneratedAppID)
}

func (s *DraftService) handle(d *model.DraftPreview, now time.Time) *DraftHandle {
	return &DraftHandle{
		GeneratedAppID:  d.GeneratedAppID,
		Status:          d.EffectiveStatus(now),
		StatusMessage:   deref(d.StatusMessage),
		PreviewURL:      clone(d.PreviewURL),
		ExpiresAt:       d.ExpiresAt,
		DaysUntilExpiry: d.DaysUntilExpiry(now),
	}
}
