package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalmocks "go.temporal.io/sdk/mocks"

	"github.com/go4it/marketplace/internal/model"
	"github.com/go4it/marketplace/internal/provider"
)

// ---------- Add / Get / List ----------

func TestOrchestrator_Add(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	app, err := f.svc.Orchestrator.Add(ctx, "org-1", "app-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAdded, app.Status)
	assert.Equal(t, "1.0.0", app.LatestVersion)
	assert.Equal(t, int64(1), app.Version)
	assert.Empty(t, app.AccessMemberIDs)
	require.NotNil(t, app.GeneratedAppID)
	assert.Equal(t, "gen-1", *app.GeneratedAppID)

	_, err = f.svc.Orchestrator.Add(ctx, "org-1", "app-1")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestOrchestrator_Add_Unknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Orchestrator.Add(ctx, "org-1", "app-404")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Orchestrator.Add(ctx, "org-404", "app-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrchestrator_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	apps, err := f.svc.Orchestrator.List(ctx, "org-2")
	require.NoError(t, err)
	assert.NotNil(t, apps)
	assert.Empty(t, apps)

	f.added(t, "org-2", "app-1")
	f.added(t, "org-2", "app-2")
	apps, err = f.svc.Orchestrator.List(ctx, "org-2")
	require.NoError(t, err)
	assert.Len(t, apps, 2)
}

// ---------- Launch ----------

func TestOrchestrator_Launch_AccessRequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.added(t, "org-1", "app-1")

	_, err := f.svc.Orchestrator.Launch(ctx, "org-1", "app-1", LaunchOptions{})
	require.ErrorIs(t, err, ErrAccessRequired)

	after := f.get(t, "org-1", "app-1")
	assert.Equal(t, model.StatusAdded, after.Status)
	assert.Equal(t, before.Version, after.Version)
	f.tc.AssertNotCalled(t, "ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_SetAccessLaunchRunning(t *testing.T) {
	f := newFixture(t)
	f.expectWorkflow("DeployOrgAppWorkflow")
	ctx := context.Background()
	f.added(t, "org-1", "app-1")

	_, err := f.svc.Access.SetAccess(ctx, "org-1", "app-1", []string{"m1"})
	require.NoError(t, err)

	app, err := f.svc.Orchestrator.Launch(ctx, "org-1", "app-1", LaunchOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeploying, app.Status)
	assert.Equal(t, int64(1), app.AttemptID)
	assert.Equal(t, "Deploying version 1.0.0", *app.StatusMessage)

	applied, err := f.svc.Orchestrator.HandleProgress(ctx, model.ProviderEvent{
		OrgID: "org-1", AppID: "app-1", AttemptID: app.AttemptID,
		Stage: model.StageRunning, FlyURL: ptr("https://x.go4it.live"),
	})
	require.NoError(t, err)
	assert.True(t, applied)

	app, err = f.svc.Orchestrator.Get(ctx, "org-1", "app-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, app.Status)
	require.NotNil(t, app.DeployedVersion)
	assert.Equal(t, app.LatestVersion, *app.DeployedVersion)
	assert.Equal(t, "https://x.go4it.live", *app.URL)
	assert.Equal(t, "https://x.go4it.live", *app.MachineID)
	assert.False(t, app.NeedsUpdate)
	assert.NotNil(t, app.DeployedAt)

	f.tc.AssertExpectations(t)
}

func TestOrchestrator_Launch_Concurrent(t *testing.T) {
	f := newFixture(t)
	f.expectWorkflow("DeployOrgAppWorkflow")
	f.added(t, "org-1", "app-1", "m1")

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.Orchestrator.Launch(context.Background(), "org-1", "app-1", LaunchOptions{})
		}()
	}
	close(start)
	wg.Wait()

	var ok, inProgress int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyInProgress):
			inProgress++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, inProgress)

	app := f.get(t, "org-1", "app-1")
	assert.Equal(t, model.StatusDeploying, app.Status)
	assert.Equal(t, int64(1), app.AttemptID)
	f.tc.AssertNumberOfCalls(t, "ExecuteWorkflow", 1)
}

func TestOrchestrator_Launch_WorkflowStartFails(t *testing.T) {
	f := newFixture(t)
	f.tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, "DeployOrgAppWorkflow", mock.Anything).
		Return(nil, errors.New("temporal unavailable"))
	f.added(t, "org-1", "app-1", "m1")

	app, err := f.svc.Orchestrator.Launch(context.Background(), "org-1", "app-1", LaunchOptions{})
	require.ErrorIs(t, err, ErrProviderError)
	assert.Contains(t, err.Error(), "temporal unavailable")
	require.NotNil(t, app)
	assert.Equal(t, model.StatusFailed, app.Status)

	stored := f.get(t, "org-1", "app-1")
	assert.Equal(t, model.StatusFailed, stored.Status)
	assert.Contains(t, *stored.StatusMessage, "temporal unavailable")
}

func TestOrchestrator_Launch_InvalidTransition(t *testing.T) {
	f := newFixture(t)
	f.expectWorkflow("DeployOrgAppWorkflow")
	f.added(t, "org-1", "app-1", "m1")
	f.running(t, "org-1", "app-1")

	_, err := f.svc.Orchestrator.Launch(context.Background(), "org-1", "app-1", LaunchOptions{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestOrchestrator_Launch_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Orchestrator.Launch(context.Background(), "org-1", "app-1", LaunchOptions{})
	assert.ErrorIs(t, err, ErrNotFound)
}

// ---------- Retry / GoLive / Update ----------

func TestOrchestrator_RetryKeepsPreviewMode(t *testing.T) {
	f := newFixture(t)
	f.expectWorkflow("DeployOrgAppWorkflow")
	ctx := context.Background()
	f.added(t, "org-1", "app-1", "m1")

	app, err := f.svc.Orchestrator.Launch(ctx, "org-1", "app-1", LaunchOptions{Preview: true})
	require.NoError(t, err)
	assert.Equal(t, model.DeployModePreview, *app.AttemptMode)

	_, err = f.svc.Orchestrator.Retry(ctx, "org-1", "app-1")
	assert.ErrorIs(t, err, ErrAlreadyInProgress)

	_, err = f.svc.Orchestrator.HandleProgress(ctx, model.ProviderEvent{
		OrgID: "org-1", AppID: "app-1", AttemptID: 1, Stage: "building", Error: ptr("image build failed"),
	})
	require.NoError(t, err)
	failed := f.get(t, "org-1", "app-1")
	assert.Equal(t, model.StatusFailed, failed.Status)
	assert.Equal(t, "image build failed", *failed.StatusMessage)

	app, err = f.svc.Orchestrator.Retry(ctx, "org-1", "app-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeploying, app.Status)
	assert.Equal(t, int64(2), app.AttemptID)
	assert.Equal(t, model.DeployModePreview, *app.AttemptMode)
}

func TestOrchestrator_Retry_RequiresFailed(t *testing.T) {
	f := newFixture(t)
	f.added(t, "org-1", "app-1", "m1")

	_, err := f.svc.Orchestrator.Retry(context.Background(), "org-1", "app-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestOrchestrator_PreviewThenGoLive(t *testing.T) {
	f := newFixture(t)
	f.expectWorkflow("DeployOrgAppWorkflow")
	ctx := context.Background()
	f.added(t, "org-1", "app-1", "m1")
	_, err := f.svc.Subdomains.Reserve(ctx, "org-1", "app-1", "acme")
	require.NoError(t, err)

	app, err := f.svc.Orchestrator.Launch(ctx, "org-1", "app-1", LaunchOptions{Preview: true})
	require.NoError(t, err)
	_, err = f.svc.Orchestrator.HandleProgress(ctx, model.ProviderEvent{
		OrgID: "org-1", AppID: "app-1", AttemptID: app.AttemptID,
		Stage: model.StagePreviewReady, InstanceID: ptr("i-1"), FlyURL: ptr("https://oa-preview.fly.dev"),
	})
	require.NoError(t, err)

	app = f.get(t, "org-1", "app-1")
	assert.Equal(t, model.StatusPreview, app.Status)
	assert.Equal(t, "https://oa-preview.fly.dev", *app.URL)

	app, err = f.svc.Orchestrator.GoLive(ctx, "org-1", "app-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeploying, app.Status)
	assert.Equal(t, model.DeployModeProduction, *app.AttemptMode)

	_, err = f.svc.Orchestrator.HandleProgress(ctx, model.ProviderEvent{
		OrgID: "org-1", AppID: "app-1", AttemptID: app.AttemptID, Stage: model.StageRunning,
	})
	require.NoError(t, err)

	app = f.get(t, "org-1", "app-1")
	assert.Equal(t, model.StatusRunning, app.Status)
	assert.Equal(t, "https://acme.go4it.live", *app.URL)
	assert.Equal(t, "i-1", *app.MachineID)

	_, err = f.svc.Orchestrator.GoLive(ctx, "org-1", "app-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestOrchestrator_NeedsUpdateAfterPublishAndRedeploy(t *testing.T) {
	f := newFixture(t)
	f.expectWorkflow("DeployOrgAppWorkflow")
	ctx := context.Background()
	f.added(t, "org-1", "app-1", "m1")
	app := f.running(t, "org-1", "app-1")
	assert.False(t, app.NeedsUpdate)

	_, err := f.svc.Orchestrator.Update(ctx, "org-1", "app-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	n, err := f.svc.Versions.Publish(ctx, "app-1", "1.1.0")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	app, err = f.svc.Orchestrator.Get(ctx, "org-1", "app-1")
	require.NoError(t, err)
	assert.True(t, app.NeedsUpdate)
	assert.Equal(t, "1.1.0", app.LatestVersion)
	assert.Equal(t, "1.0.0", *app.DeployedVersion)

	app, err = f.svc.Orchestrator.Update(ctx, "org-1", "app-1")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", *app.AttemptVersion)

	_, err = f.svc.Orchestrator.HandleProgress(ctx, model.ProviderEvent{
		OrgID: "org-1", AppID: "app-1", AttemptID: app.AttemptID, Stage: model.StageRunning,
	})
	require.NoError(t, err)

	app, err = f.svc.Orchestrator.Get(ctx, "org-1", "app-1")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", *app.DeployedVersion)
	assert.False(t, app.NeedsUpdate)
}

// ---------- Provider progress ----------

func TestOrchestrator_StaleEventDiscarded(t *testing.T) {
	f := newFixture(t)
	f.expectWorkflow("DeployOrgAppWorkflow")
	ctx := context.Background()
	f.added(t, "org-1", "app-1", "m1")

	_, err := f.svc.Orchestrator.Launch(ctx, "org-1", "app-1", LaunchOptions{})
	require.NoError(t, err)
	_, err = f.svc.Orchestrator.HandleProgress(ctx, model.ProviderEvent{
		OrgID: "org-1", AppID: "app-1", AttemptID: 1, Stage: model.StageFailed, Message: "out of capacity",
	})
	require.NoError(t, err)
	_, err = f.svc.Orchestrator.Retry(ctx, "org-1", "app-1")
	require.NoError(t, err)

	applied, err := f.svc.Orchestrator.HandleProgress(ctx, model.ProviderEvent{
		OrgID: "org-1", AppID: "app-1", AttemptID: 1, Stage: model.StageRunning, InstanceID: ptr("i-old"),
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, model.StatusDeploying, f.get(t, "org-1", "app-1").Status)

	applied, err = f.svc.Orchestrator.HandleProgress(ctx, model.ProviderEvent{
		OrgID: "org-1", AppID: "app-1", AttemptID: 2, Stage: model.StageRunning, InstanceID: ptr("i-new"),
	})
	require.NoError(t, err)
	assert.True(t, applied)

	// A late failure for the finished attempt must not overwrite RUNNING.
	applied, err = f.svc.Orchestrator.HandleProgress(ctx, model.ProviderEvent{
		OrgID: "org-1", AppID: "app-1", AttemptID: 2, Stage: model.StageFailed,
	})
	require.NoError(t, err)
	assert.False(t, applied)

	app := f.get(t, "org-1", "app-1")
	assert.Equal(t, model.StatusRunning, app.Status)
	assert.Equal(t, "i-new", *app.MachineID)
}

func TestOrchestrator_HandleProgress_UnknownApp(t *testing.T) {
	f := newFixture(t)
	applied, err := f.svc.Orchestrator.HandleProgress(context.Background(), model.ProviderEvent{
		OrgID: "org-1", AppID: "app-1", AttemptID: 1, Stage: model.StageRunning,
	})
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestOrchestrator_HandleProgress_IntermediateStage(t *testing.T) {
	f := newFixture(t)
	f.expectWorkflow("DeployOrgAppWorkflow")
	ctx := context.Background()
	f.added(t, "org-1", "app-1", "m1")
	_, err := f.svc.Orchestrator.Launch(ctx, "org-1", "app-1", LaunchOptions{})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	applied, err := f.svc.Orchestrator.HandleProgress(ctx, model.ProviderEvent{
		OrgID: "org-1", AppID: "app-1", AttemptID: 1, Stage: "building", Message: "Building image",
	})
	require.NoError(t, err)
	assert.True(t, applied)

	app := f.get(t, "org-1", "app-1")
	assert.Equal(t, model.StatusDeploying, app.Status)
	assert.Equal(t, "Building image", *app.StatusMessage)
	assert.Equal(t, f.clock.Now(), *app.LastProgressAt)
}

func TestOrchestrator_RunningWithoutInstanceReferenceFails(t *testing.T) {
	f := newFixture(t)
	f.expectWorkflow("DeployOrgAppWorkflow")
	ctx := context.Background()
	f.added(t, "org-1", "app-1", "m1")
	_, err := f.svc.Orchestrator.Launch(ctx, "org-1", "app-1", LaunchOptions{})
	require.NoError(t, err)

	_, err = f.svc.Orchestrator.HandleProgress(ctx, model.ProviderEvent{
		OrgID: "org-1", AppID: "app-1", AttemptID: 1, Stage: model.StageRunning,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, f.get(t, "org-1", "app-1").Status)
}

func TestOrchestrator_HandleProgress_EmptyErrorIsNotFailure(t *testing.T) {
	f := newFixture(t)
	f.expectWorkflow("DeployOrgAppWorkflow")
	ctx := context.Background()
	f.added(t, "org-1", "app-1", "m1")
	_, err := f.svc.Orchestrator.Launch(ctx, "org-1", "app-1", LaunchOptions{})
	require.NoError(t, err)

	sub, err := f.svc.Orchestrator.Subscribe(ctx, "org-1", "app-1")
	require.NoError(t, err)
	defer sub.Close()
	<-sub.Events()

	applied, err := f.svc.Orchestrator.HandleProgress(ctx, model.ProviderEvent{
		OrgID: "org-1", AppID: "app-1", AttemptID: 1, Stage: model.StageRunning,
		InstanceID: ptr("i-1"), Error: ptr(""),
	})
	require.NoError(t, err)
	assert.True(t, applied)

	app := f.get(t, "org-1", "app-1")
	assert.Equal(t, model.StatusRunning, app.Status)
	assert.Equal(t, "1.0.0", *app.DeployedVersion)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, model.StatusRunning, ev.Status)
		assert.Nil(t, ev.Error)
	case <-time.After(time.Second):
		t.Fatal("no progress event")
	}
}

// ---------- Dispatch ----------

func TestOrchestrator_Dispatch(t *testing.T) {
	f := newFixture(t)
	f.expectWorkflow("DeployOrgAppWorkflow")
	ctx := context.Background()
	f.added(t, "org-1", "app-1", "m1")
	_, err := f.svc.Subdomains.Reserve(ctx, "org-1", "app-1", "acme")
	require.NoError(t, err)
	_, err = f.svc.Orchestrator.Launch(ctx, "org-1", "app-1", LaunchOptions{})
	require.NoError(t, err)

	f.prov.On("Deploy", mock.Anything, mock.MatchedBy(func(req provider.DeployRequest) bool {
		return req.OrgSlug == "acme" && req.Version == "1.0.0" && req.AttemptID == 1 &&
			req.Hostname == "acme.go4it.live" && req.Mode == model.DeployModeProduction &&
			req.CallbackURL != ""
	})).Return(&provider.DeployResult{InstanceID: "i-1"}, nil).Once()

	sent, err := f.svc.Orchestrator.Dispatch(ctx, model.DeployAttempt{OrgID: "org-1", AppID: "app-1", AttemptID: 1})
	require.NoError(t, err)
	assert.True(t, sent)

	app := f.get(t, "org-1", "app-1")
	assert.Equal(t, model.StatusDeploying, app.Status)
	assert.Equal(t, "i-1", *app.MachineID)
	f.prov.AssertExpectations(t)

	sent, err = f.svc.Orchestrator.Dispatch(ctx, model.DeployAttempt{OrgID: "org-1", AppID: "app-1", AttemptID: 7})
	require.NoError(t, err)
	assert.False(t, sent)
	f.prov.AssertNumberOfCalls(t, "Deploy", 1)
}

func TestOrchestrator_Dispatch_ProviderError(t *testing.T) {
	f := newFixture(t)
	f.expectWorkflow("DeployOrgAppWorkflow")
	ctx := context.Background()
	f.added(t, "org-1", "app-1", "m1")
	_, err := f.svc.Orchestrator.Launch(ctx, "org-1", "app-1", LaunchOptions{})
	require.NoError(t, err)

	f.prov.On("Deploy", mock.Anything, mock.Anything).
		Return(nil, &provider.APIError{Operation: "deploy", StatusCode: 400, Message: "unknown version"})

	_, err = f.svc.Orchestrator.Dispatch(ctx, model.DeployAttempt{OrgID: "org-1", AppID: "app-1", AttemptID: 1})
	require.ErrorIs(t, err, ErrProviderError)
	assert.Contains(t, err.Error(), "unknown version")
}

func TestOrchestrator_Dispatch_RemovedDuringDeploy(t *testing.T) {
	f := newFixture(t)
	f.expectWorkflow("DeployOrgAppWorkflow")
	ctx := context.Background()
	f.added(t, "org-1", "app-1", "m1")
	_, err := f.svc.Orchestrator.Launch(ctx, "org-1", "app-1", LaunchOptions{})
	require.NoError(t, err)

	// The user removes the app while the provider call is in flight, before
	// any instance id was recorded.
	f.prov.On("Deploy", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			require.NoError(t, f.svc.Orchestrator.Remove(ctx, "org-1", "app-1"))
		}).
		Return(&provider.DeployResult{InstanceID: "i-late"}, nil).Once()
	wfRun := &temporalmocks.WorkflowRun{}
	f.tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, "RemoveOrgAppWorkflow",
		model.InstanceRemoval{OrgID: "org-1", AppID: "app-1", InstanceID: "i-late"}).Return(wfRun, nil).Once()

	sent, err := f.svc.Orchestrator.Dispatch(ctx, model.DeployAttempt{OrgID: "org-1", AppID: "app-1", AttemptID: 1})
	require.NoError(t, err)
	assert.True(t, sent)

	_, err = f.svc.Orchestrator.Get(ctx, "org-1", "app-1")
	assert.ErrorIs(t, err, ErrNotFound)
	f.tc.AssertCalled(t, "ExecuteWorkflow", mock.Anything, mock.Anything, "RemoveOrgAppWorkflow",
		model.InstanceRemoval{OrgID: "org-1", AppID: "app-1", InstanceID: "i-late"})
	f.tc.AssertNumberOfCalls(t, "ExecuteWorkflow", 2)
}

// ---------- FailAttempt / Reconcile ----------

func TestOrchestrator_FailAttempt_NotCurrent(t *testing.T) {
	f := newFixture(t)
	f.added(t, "org-1", "app-1", "m1")

	app, err := f.svc.Orchestrator.FailAttempt(context.Background(),
		model.DeployAttempt{OrgID: "org-1", AppID: "app-1", AttemptID: 1}, "boom")
	require.NoError(t, err)
	assert.Nil(t, app)
	assert.Equal(t, model.StatusAdded, f.get(t, "org-1", "app-1").Status)
}

func TestOrchestrator_ReconcileTimesOutStuckDeployments(t *testing.T) {
	f := newFixture(t)
	f.expectWorkflow("DeployOrgAppWorkflow")
	ctx := context.Background()
	f.added(t, "org-1", "app-1", "m1")
	f.added(t, "org-1", "app-2", "m1")
	_, err := f.svc.Orchestrator.Launch(ctx, "org-1", "app-1", LaunchOptions{})
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	_, err = f.svc.Orchestrator.Launch(ctx, "org-1", "app-2", LaunchOptions{})
	require.NoError(t, err)

	n, err := f.svc.Orchestrator.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(6 * time.Minute)
	n, err = f.svc.Orchestrator.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stuck := f.get(t, "org-1", "app-1")
	assert.Equal(t, model.StatusFailed, stuck.Status)
	assert.Contains(t, *stuck.StatusMessage, ErrTimeout.Error())
	assert.Equal(t, model.StatusDeploying, f.get(t, "org-1", "app-2").Status)

	// FAILED stays retryable.
	_, err = f.svc.Orchestrator.Retry(ctx, "org-1", "app-1")
	require.NoError(t, err)
}

// ---------- Remove ----------

func TestOrchestrator_Remove(t *testing.T) {
	f := newFixture(t)
	f.expectWorkflow("DeployOrgAppWorkflow")
	ctx := context.Background()
	f.added(t, "org-1", "app-1", "m1")
	_, err := f.svc.Subdomains.Reserve(ctx, "org-1", "app-1", "acme")
	require.NoError(t, err)
	f.running(t, "org-1", "app-1")

	wfRun := &temporalmocks.WorkflowRun{}
	f.tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, "RemoveOrgAppWorkflow",
		model.InstanceRemoval{OrgID: "org-1", AppID: "app-1", InstanceID: "i-app-1"}).Return(wfRun, nil).Once()

	require.NoError(t, f.svc.Orchestrator.Remove(ctx, "org-1", "app-1"))

	_, err = f.svc.Orchestrator.Get(ctx, "org-1", "app-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, held := f.store.HostnameOwner("acme.go4it.live")
	assert.False(t, held)
	f.tc.AssertExpectations(t)

	// The hostname is free for someone else.
	f.added(t, "org-2", "app-1")
	_, err = f.svc.Subdomains.Reserve(ctx, "org-2", "app-1", "acme")
	require.NoError(t, err)
}

func TestOrchestrator_Remove_NeverDeployed(t *testing.T) {
	f := newFixture(t)
	f.added(t, "org-1", "app-1")

	require.NoError(t, f.svc.Orchestrator.Remove(context.Background(), "org-1", "app-1"))
	f.tc.AssertNotCalled(t, "ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	err := f.svc.Orchestrator.Remove(context.Background(), "org-1", "app-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrchestrator_DestroyInstance(t *testing.T) {
	f := newFixture(t)
	f.prov.On("Destroy", mock.Anything, "i-1").Return(nil).Once()
	f.prov.On("Destroy", mock.Anything, "i-2").Return(errors.New("provider down")).Once()

	require.NoError(t, f.svc.Orchestrator.DestroyInstance(context.Background(), model.InstanceRemoval{InstanceID: "i-1"}))
	err := f.svc.Orchestrator.DestroyInstance(context.Background(), model.InstanceRemoval{InstanceID: "i-2"})
	assert.ErrorContains(t, err, "provider down")
}

// ---------- Subscribe ----------

func TestOrchestrator_SubscribeSnapshotThenProgress(t *testing.T) {
	f := newFixture(t)
	f.expectWorkflow("DeployOrgAppWorkflow")
	ctx := context.Background()
	f.added(t, "org-1", "app-1", "m1")

	sub, err := f.svc.Orchestrator.Subscribe(ctx, "org-1", "app-1")
	require.NoError(t, err)
	defer sub.Close()

	snap := <-sub.Events()
	assert.Equal(t, model.StageState, snap.Stage)
	assert.Equal(t, model.StatusAdded, snap.Status)

	app, err := f.svc.Orchestrator.Launch(ctx, "org-1", "app-1", LaunchOptions{})
	require.NoError(t, err)
	queued := <-sub.Events()
	assert.Equal(t, model.StageQueued, queued.Stage)
	assert.Equal(t, model.StatusDeploying, queued.Status)
	assert.Greater(t, queued.Seq, snap.Seq)

	_, err = f.svc.Orchestrator.HandleProgress(ctx, model.ProviderEvent{
		OrgID: "org-1", AppID: "app-1", AttemptID: app.AttemptID,
		Stage: model.StageRunning, FlyURL: ptr("https://x.go4it.live"),
	})
	require.NoError(t, err)
	done := <-sub.Events()
	assert.Equal(t, model.StatusRunning, done.Status)
	assert.Equal(t, "https://x.go4it.live", *done.FlyURL)

	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestOrchestrator_SubscribeTerminalState(t *testing.T) {
	f := newFixture(t)
	f.expectWorkflow("DeployOrgAppWorkflow")
	f.added(t, "org-1", "app-1", "m1")
	f.running(t, "org-1", "app-1")

	sub, err := f.svc.Orchestrator.Subscribe(context.Background(), "org-1", "app-1")
	require.NoError(t, err)

	snap := <-sub.Events()
	assert.Equal(t, model.StatusRunning, snap.Status)
	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestOrchestrator_Subscribe_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Orchestrator.Subscribe(context.Background(), "org-1", "app-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, f.hub.Subscribers("org-1", "app-1"))
}
