package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/go4it/marketplace/internal/config"
	"github.com/go4it/marketplace/internal/metrics"
	"github.com/go4it/marketplace/internal/model"
	"github.com/go4it/marketplace/internal/platform"
	"github.com/go4it/marketplace/internal/progress"
	"github.com/go4it/marketplace/internal/provider"
	"github.com/go4it/marketplace/internal/store"
)

// Deployment triggers, used as the metrics label of an attempt.
const (
	TriggerLaunch = "launch"
	TriggerRetry  = "retry"
	TriggerGoLive = "go_live"
	TriggerUpdate = "update"
)

// Orchestrator owns the OrgApp state machine. Every transition is a
// compare-and-swap on the stored record; no lock is held while the provider
// works, progress arrives later through HandleProgress.
type Orchestrator struct {
	store       store.Store
	tc          temporalclient.Client
	provider    provider.Provider
	hub         *progress.Hub
	versions    *VersionTracker
	policy      config.Policy
	callbackURL string
	logger      zerolog.Logger
	now         func() time.Time
}

func NewOrchestrator(d Deps, versions *VersionTracker) *Orchestrator {
	return &Orchestrator{
		store:       d.Store,
		tc:          d.Temporal,
		provider:    d.Provider,
		hub:         d.Hub,
		versions:    versions,
		policy:      d.Policy,
		callbackURL: d.CallbackURL,
		logger:      d.Logger.With().Str("component", "orchestrator").Logger(),
		now:         d.clock(),
	}
}

// Add installs an Application into an Organization in the ADDED state.
func (o *Orchestrator) Add(ctx context.Context, orgID, appID string) (*model.OrgApp, error) {
	if _, err := o.store.GetOrganization(ctx, orgID); err != nil {
		return nil, fmt.Errorf("add app %s to org %s: %w", appID, orgID, fromStore(err))
	}
	application, err := o.store.GetApplication(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("add app %s to org %s: %w", appID, orgID, fromStore(err))
	}

	now := o.now()
	app := &model.OrgApp{
		OrgID:           orgID,
		AppID:           appID,
		Status:          model.StatusAdded,
		LatestVersion:   application.LatestVersion,
		AccessMemberIDs: []string{},
		GeneratedAppID:  application.GeneratedAppID,
		AddedAt:         now,
		UpdatedAt:       now,
	}
	if err := o.store.CreateOrgApp(ctx, app); err != nil {
		return nil, fmt.Errorf("add app %s to org %s: %w", appID, orgID, fromStore(err))
	}

	o.logger.Info().Str("org_id", orgID).Str("app_id", appID).Msg("app added to organization")
	return app, nil
}

// Get returns the OrgApp annotated with its update status.
func (o *Orchestrator) Get(ctx context.Context, orgID, appID string) (*model.OrgApp, error) {
	app, err := o.store.GetOrgApp(ctx, orgID, appID)
	if err != nil {
		return nil, fmt.Errorf("get app %s/%s: %w", orgID, appID, fromStore(err))
	}
	if err := o.versions.Annotate(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

func (o *Orchestrator) List(ctx context.Context, orgID string) ([]model.OrgApp, error) {
	apps, err := o.store.ListOrgAppsByOrg(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list apps for org %s: %w", orgID, fromStore(err))
	}
	ptrs := make([]*model.OrgApp, len(apps))
	for i := range apps {
		ptrs[i] = &apps[i]
	}
	if err := o.versions.Annotate(ctx, ptrs...); err != nil {
		return nil, err
	}
	if apps == nil {
		apps = []model.OrgApp{}
	}
	return apps, nil
}

// LaunchOptions selects how a launch is deployed.
type LaunchOptions struct {
	// Preview deploys without production routing. The instance settles in
	// PREVIEW and is promoted with GoLive.
	Preview bool
}

// Launch deploys an ADDED or STOPPED OrgApp.
func (o *Orchestrator) Launch(ctx context.Context, orgID, appID string, opts LaunchOptions) (*model.OrgApp, error) {
	mode := model.DeployModeProduction
	if opts.Preview {
		mode = model.DeployModePreview
	}
	return o.beginAttempt(ctx, orgID, appID, TriggerLaunch, mode, func(app *model.OrgApp) error {
		if app.Status != model.StatusAdded && app.Status != model.StatusStopped {
			return fmt.Errorf("%w: cannot launch an app that is %s", ErrInvalidTransition, app.Status)
		}
		if !app.HasAccess() {
			return ErrAccessRequired
		}
		return nil
	})
}

// Retry re-runs a FAILED deployment with the mode of the failed attempt.
func (o *Orchestrator) Retry(ctx context.Context, orgID, appID string) (*model.OrgApp, error) {
	return o.beginAttempt(ctx, orgID, appID, TriggerRetry, "", func(app *model.OrgApp) error {
		if app.Status != model.StatusFailed {
			return fmt.Errorf("%w: only failed deployments can be retried, app is %s", ErrInvalidTransition, app.Status)
		}
		if !app.HasAccess() {
			return ErrAccessRequired
		}
		return nil
	})
}

// GoLive promotes a PREVIEW instance to production routing.
func (o *Orchestrator) GoLive(ctx context.Context, orgID, appID string) (*model.OrgApp, error) {
	return o.beginAttempt(ctx, orgID, appID, TriggerGoLive, model.DeployModeProduction, func(app *model.OrgApp) error {
		if app.Status != model.StatusPreview {
			return fmt.Errorf("%w: only preview instances can go live, app is %s", ErrInvalidTransition, app.Status)
		}
		return nil
	})
}

// Update redeploys a RUNNING OrgApp whose deployed version differs from the
// latest published one.
func (o *Orchestrator) Update(ctx context.Context, orgID, appID string) (*model.OrgApp, error) {
	return o.beginAttempt(ctx, orgID, appID, TriggerUpdate, model.DeployModeProduction, func(app *model.OrgApp) error {
		if app.Status != model.StatusRunning {
			return fmt.Errorf("%w: only running apps can be updated, app is %s", ErrInvalidTransition, app.Status)
		}
		if !app.Drifted() {
			return fmt.Errorf("%w: version %s is already deployed", ErrInvalidTransition, app.LatestVersion)
		}
		return nil
	})
}

// beginAttempt moves an OrgApp into DEPLOYING under compare-and-swap and
// starts the deploy workflow for the new attempt. check runs against the
// freshly read record on every try; an empty mode keeps the previous
// attempt's mode.
func (o *Orchestrator) beginAttempt(ctx context.Context, orgID, appID, trigger, mode string, check func(*model.OrgApp) error) (*model.OrgApp, error) {
	var app *model.OrgApp
	err := retryOnConflict(func() error {
		cur, err := o.store.GetOrgApp(ctx, orgID, appID)
		if err != nil {
			return err
		}
		if cur.Status == model.StatusDeploying {
			return ErrAlreadyInProgress
		}
		if err := check(cur); err != nil {
			return err
		}
		latest, err := o.versions.Latest(ctx, cur)
		if err != nil {
			return err
		}

		attemptMode := mode
		if attemptMode == "" {
			attemptMode = model.DeployModeProduction
			if cur.AttemptMode != nil {
				attemptMode = *cur.AttemptMode
			}
		}

		now := o.now()
		msg := fmt.Sprintf("Deploying version %s", latest)
		cur.Status = model.StatusDeploying
		cur.StatusMessage = &msg
		cur.LatestVersion = latest
		cur.AttemptID++
		cur.AttemptVersion = &latest
		cur.AttemptMode = &attemptMode
		cur.LastProgressAt = &now
		if err := o.store.UpdateOrgApp(ctx, cur); err != nil {
			return err
		}
		app = cur
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s app %s/%s: %w", trigger, orgID, appID, err)
	}

	metrics.DeployAttemptsTotal.WithLabelValues(trigger, *app.AttemptMode).Inc()
	o.logger.Info().Str("org_id", orgID).Str("app_id", appID).Int64("attempt_id", app.AttemptID).
		Str("trigger", trigger).Str("mode", *app.AttemptMode).Str("version", *app.AttemptVersion).
		Msg("deployment attempt started")
	o.publish(ctx, app, model.StageQueued, *app.StatusMessage, nil)

	attempt := model.DeployAttempt{OrgID: orgID, AppID: appID, AttemptID: app.AttemptID}
	workflowID := fmt.Sprintf("orgapp-deploy-%s-%s-%d", orgID, appID, app.AttemptID)
	_, err = o.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: TaskQueue,
	}, "DeployOrgAppWorkflow", attempt)
	if err != nil {
		msg := fmt.Sprintf("could not start deployment: %v", err)
		failed, ferr := o.FailAttempt(context.WithoutCancel(ctx), attempt, msg)
		if ferr != nil {
			o.logger.Error().Err(ferr).Str("org_id", orgID).Str("app_id", appID).Msg("record failed deployment start")
		} else if failed != nil {
			app = failed
		}
		return app, fmt.Errorf("%s app %s/%s: %w: %s", trigger, orgID, appID, ErrProviderError, msg)
	}

	if err := o.versions.Annotate(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

// Dispatch sends the deploy request for an attempt to the provider and records
// the instance it was accepted under. It returns false when the attempt is no
// longer current and nothing was sent.
func (o *Orchestrator) Dispatch(ctx context.Context, attempt model.DeployAttempt) (bool, error) {
	app, err := o.store.GetOrgApp(ctx, attempt.OrgID, attempt.AppID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dispatch attempt %d for %s/%s: %w", attempt.AttemptID, attempt.OrgID, attempt.AppID, fromStore(err))
	}
	if !isCurrent(app, attempt.AttemptID) {
		return false, nil
	}
	org, err := o.store.GetOrganization(ctx, attempt.OrgID)
	if err != nil {
		return false, fmt.Errorf("dispatch attempt %d for %s/%s: %w", attempt.AttemptID, attempt.OrgID, attempt.AppID, fromStore(err))
	}

	req := provider.DeployRequest{
		Name:        platform.ProviderAppName(app.OrgID, app.AppID),
		OrgID:       app.OrgID,
		OrgSlug:     org.Slug,
		AppID:       app.AppID,
		Version:     deref(app.AttemptVersion),
		AttemptID:   app.AttemptID,
		Mode:        deref(app.AttemptMode),
		CallbackURL: o.callbackURL,
	}
	if app.Hostname != nil && req.Mode == model.DeployModeProduction {
		req.Hostname = *app.Hostname
	}

	res, err := o.provider.Deploy(ctx, req)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrProviderError, err)
	}

	err = retryOnConflict(func() error {
		cur, err := o.store.GetOrgApp(ctx, attempt.OrgID, attempt.AppID)
		if err != nil {
			return err
		}
		if !isCurrent(cur, attempt.AttemptID) {
			app = nil
			return nil
		}
		now := o.now()
		msg := "Deployment accepted by provider"
		cur.MachineID = &res.InstanceID
		cur.StatusMessage = &msg
		cur.LastProgressAt = &now
		if err := o.store.UpdateOrgApp(ctx, cur); err != nil {
			return err
		}
		app = cur
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		// Removed while the provider was deploying; nothing else knows about
		// this instance.
		o.scheduleDestroy(ctx, attempt.OrgID, attempt.AppID, attempt.AttemptID, res.InstanceID)
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("record instance for %s/%s: %w", attempt.OrgID, attempt.AppID, err)
	}
	if app != nil {
		o.publish(ctx, app, model.StageAccepted, *app.StatusMessage, nil)
	}
	return true, nil
}

// HandleProgress applies a provider milestone. Events for an attempt that is
// no longer current, or for an OrgApp that is not DEPLOYING, are discarded and
// reported as not applied.
func (o *Orchestrator) HandleProgress(ctx context.Context, ev model.ProviderEvent) (bool, error) {
	var app *model.OrgApp
	applied := false
	err := retryOnConflict(func() error {
		applied = false
		cur, err := o.store.GetOrgApp(ctx, ev.OrgID, ev.AppID)
		if err != nil {
			return err
		}
		if !isCurrent(cur, ev.AttemptID) {
			return nil
		}

		now := o.now()
		cur.LastProgressAt = &now
		msg := ev.Message

		switch {
		case (ev.Error != nil && *ev.Error != "") || ev.Stage == model.StageFailed:
			cur.Status = model.StatusFailed
			if ev.Error != nil && *ev.Error != "" {
				msg = *ev.Error
			}
			if msg == "" {
				msg = "Deployment failed"
			}
		case ev.Stage == model.StageRunning || ev.Stage == model.StagePreviewReady:
			ref := machineRef(ev, cur)
			if ref == nil {
				cur.Status = model.StatusFailed
				msg = "Provider reported the instance up without an instance reference"
				break
			}
			cur.Status = model.StatusRunning
			if ev.Stage == model.StagePreviewReady {
				cur.Status = model.StatusPreview
			}
			cur.MachineID = ref
			cur.DeployedVersion = clone(cur.AttemptVersion)
			cur.DeployedAt = &now
			cur.URL = o.instanceURL(ev, cur)
			if msg == "" {
				msg = fmt.Sprintf("Version %s is live", deref(cur.DeployedVersion))
				if cur.Status == model.StatusPreview {
					msg = fmt.Sprintf("Version %s is ready for preview", deref(cur.DeployedVersion))
				}
			}
		}
		cur.StatusMessage = &msg

		if err := o.store.UpdateOrgApp(ctx, cur); err != nil {
			return err
		}
		app = cur
		applied = true
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		metrics.StaleEventsTotal.Inc()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("handle progress for %s/%s attempt %d: %w", ev.OrgID, ev.AppID, ev.AttemptID, err)
	}
	if !applied {
		metrics.StaleEventsTotal.Inc()
		o.logger.Debug().Str("org_id", ev.OrgID).Str("app_id", ev.AppID).Int64("attempt_id", ev.AttemptID).
			Str("stage", ev.Stage).Msg("discarded stale progress event")
		return false, nil
	}

	if model.IsTerminal(app.Status) {
		o.recordOutcome(app)
	}
	var errMsg *string
	if ev.Error != nil && *ev.Error != "" {
		errMsg = ev.Error
	}
	o.publish(ctx, app, ev.Stage, deref(app.StatusMessage), errMsg)
	return true, nil
}

// FailAttempt moves the attempt to FAILED with message. It is a no-op that
// returns nil when the attempt is no longer current.
func (o *Orchestrator) FailAttempt(ctx context.Context, attempt model.DeployAttempt, message string) (*model.OrgApp, error) {
	var app *model.OrgApp
	err := retryOnConflict(func() error {
		app = nil
		cur, err := o.store.GetOrgApp(ctx, attempt.OrgID, attempt.AppID)
		if err != nil {
			return err
		}
		if !isCurrent(cur, attempt.AttemptID) {
			return nil
		}
		now := o.now()
		cur.Status = model.StatusFailed
		cur.StatusMessage = &message
		cur.LastProgressAt = &now
		if err := o.store.UpdateOrgApp(ctx, cur); err != nil {
			return err
		}
		app = cur
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fail attempt %d for %s/%s: %w", attempt.AttemptID, attempt.OrgID, attempt.AppID, err)
	}
	if app == nil {
		return nil, nil
	}

	o.recordOutcome(app)
	o.publish(ctx, app, model.StageFailed, message, &message)
	return app, nil
}

// Reconcile fails every DEPLOYING OrgApp that has not reported progress within
// the deploy timeout. It returns how many were failed.
func (o *Orchestrator) Reconcile(ctx context.Context) (int, error) {
	now := o.now()
	stale, err := o.store.ListStaleDeploying(ctx, now.Add(-o.policy.DeployTimeout))
	if err != nil {
		return 0, fmt.Errorf("reconcile deployments: %w", fromStore(err))
	}

	failed := 0
	for _, app := range stale {
		last := app.UpdatedAt
		if app.LastProgressAt != nil {
			last = *app.LastProgressAt
		}
		msg := fmt.Sprintf("%s: no progress from the provider for %s", ErrTimeout, now.Sub(last).Truncate(time.Second))
		attempt := model.DeployAttempt{OrgID: app.OrgID, AppID: app.AppID, AttemptID: app.AttemptID}
		res, err := o.FailAttempt(ctx, attempt, msg)
		if err != nil {
			o.logger.Error().Err(err).Str("org_id", app.OrgID).Str("app_id", app.AppID).Msg("reconcile stuck deployment")
			continue
		}
		if res != nil {
			failed++
			o.logger.Warn().Str("org_id", app.OrgID).Str("app_id", app.AppID).Int64("attempt_id", app.AttemptID).
				Msg("stuck deployment marked failed")
		}
	}
	return failed, nil
}

// Remove deletes the OrgApp together with its hostname reservation and access
// set, then schedules destruction of its instance.
func (o *Orchestrator) Remove(ctx context.Context, orgID, appID string) error {
	var removed *model.OrgApp
	err := retryOnConflict(func() error {
		cur, err := o.store.GetOrgApp(ctx, orgID, appID)
		if err != nil {
			return err
		}
		if err := o.store.DeleteOrgApp(ctx, orgID, appID, cur.Version); err != nil {
			return err
		}
		removed = cur
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove app %s/%s: %w", orgID, appID, err)
	}

	o.logger.Info().Str("org_id", orgID).Str("app_id", appID).Msg("app removed from organization")
	removed.Version++
	o.publish(ctx, removed, model.StageRemoved, "App removed", nil)

	if removed.MachineID != nil {
		o.scheduleDestroy(ctx, orgID, appID, removed.AttemptID, *removed.MachineID)
	}
	return nil
}

// scheduleDestroy starts RemoveOrgAppWorkflow for an instance whose OrgApp is
// gone.
func (o *Orchestrator) scheduleDestroy(ctx context.Context, orgID, appID string, attemptID int64, instanceID string) {
	_, err := o.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        fmt.Sprintf("orgapp-remove-%s-%s-%d", orgID, appID, attemptID),
		TaskQueue: TaskQueue,
	}, "RemoveOrgAppWorkflow", model.InstanceRemoval{OrgID: orgID, AppID: appID, InstanceID: instanceID})
	if err != nil {
		// The record is already gone; the orphaned instance is left for the
		// provider's own garbage collection.
		o.logger.Error().Err(err).Str("org_id", orgID).Str("app_id", appID).
			Str("instance_id", instanceID).Msg("start RemoveOrgAppWorkflow")
	}
}

// DestroyInstance tears down a removed OrgApp's instance at the provider.
func (o *Orchestrator) DestroyInstance(ctx context.Context, removal model.InstanceRemoval) error {
	if err := o.provider.Destroy(ctx, removal.InstanceID); err != nil {
		return fmt.Errorf("destroy instance %s of %s/%s: %w", removal.InstanceID, removal.OrgID, removal.AppID, err)
	}
	return nil
}

// Subscribe opens a progress subscription primed with the OrgApp's current
// state. The caller must Close it.
func (o *Orchestrator) Subscribe(ctx context.Context, orgID, appID string) (*progress.Subscription, error) {
	sub := o.hub.Subscribe(orgID, appID)
	app, err := o.store.GetOrgApp(ctx, orgID, appID)
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe to %s/%s: %w", orgID, appID, fromStore(err))
	}
	sub.Prime(snapshot(app, o.now()))
	return sub, nil
}

func (o *Orchestrator) publish(ctx context.Context, app *model.OrgApp, stage, message string, errMsg *string) {
	if o.hub == nil {
		return
	}
	ev := model.ProgressEvent{
		OrgID:     app.OrgID,
		AppID:     app.AppID,
		AttemptID: app.AttemptID,
		Seq:       app.Version,
		Stage:     stage,
		Message:   message,
		Status:    app.Status,
		FlyURL:    app.URL,
		Error:     errMsg,
		Timestamp: o.now(),
	}
	if stage == model.StageRemoved {
		ev.Status = ""
	}
	o.hub.Publish(context.WithoutCancel(ctx), ev)
}

func (o *Orchestrator) recordOutcome(app *model.OrgApp) {
	metrics.DeployOutcomesTotal.WithLabelValues(app.Status).Inc()
	ev := o.logger.Info()
	if app.Status == model.StatusFailed {
		ev = o.logger.Warn()
	}
	ev.Str("org_id", app.OrgID).Str("app_id", app.AppID).Int64("attempt_id", app.AttemptID).
		Str("status", app.Status).Str("message", deref(app.StatusMessage)).Msg("deployment attempt finished")
}

// instanceURL is the URL users reach the instance at: the custom hostname for
// production instances that have one, else what the provider reported.
func (o *Orchestrator) instanceURL(ev model.ProviderEvent, app *model.OrgApp) *string {
	if app.Hostname != nil && app.Status == model.StatusRunning {
		u := platform.HTTPSURL(*app.Hostname)
		return &u
	}
	if ev.FlyURL != nil {
		return clone(ev.FlyURL)
	}
	return app.URL
}

func snapshot(app *model.OrgApp, now time.Time) model.ProgressEvent {
	return model.ProgressEvent{
		OrgID:     app.OrgID,
		AppID:     app.AppID,
		AttemptID: app.AttemptID,
		Seq:       app.Version,
		Stage:     model.StageState,
		Message:   deref(app.StatusMessage),
		Status:    app.Status,
		FlyURL:    app.URL,
		Timestamp: now,
	}
}

// machineRef picks the instance reference for a RUNNING or PREVIEW record:
// the id in the event, else the one recorded at dispatch, else the URL.
func machineRef(ev model.ProviderEvent, app *model.OrgApp) *string {
	switch {
	case ev.InstanceID != nil && *ev.InstanceID != "":
		return clone(ev.InstanceID)
	case app.MachineID != nil && *app.MachineID != "":
		return clone(app.MachineID)
	case ev.FlyURL != nil && *ev.FlyURL != "":
		return clone(ev.FlyURL)
	}
	return nil
}

func isCurrent(app *model.OrgApp, attemptID int64) bool {
	return app.Status == model.StatusDeploying && app.AttemptID == attemptID
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func clone(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
