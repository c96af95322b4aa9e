package handler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalmocks "go.temporal.io/sdk/mocks"

	"github.com/go4it/marketplace/internal/config"
	"github.com/go4it/marketplace/internal/core"
	"github.com/go4it/marketplace/internal/model"
	"github.com/go4it/marketplace/internal/progress"
	"github.com/go4it/marketplace/internal/provider"
	"github.com/go4it/marketplace/internal/store"
)

// fakeProvider forks into "fork-of-<id>" and otherwise succeeds.
type fakeProvider struct {
	mu      sync.Mutex
	forkErr error
	forks   int
}

func (p *fakeProvider) Deploy(_ context.Context, req provider.DeployRequest) (*provider.DeployResult, error) {
	return &provider.DeployResult{InstanceID: "i-" + req.AppID}, nil
}

func (p *fakeProvider) DeployDraft(_ context.Context, req provider.DraftRequest) (*provider.DeployResult, error) {
	return &provider.DeployResult{InstanceID: "d-" + req.GeneratedAppID}, nil
}

func (p *fakeProvider) Instance(_ context.Context, id string) (*provider.Instance, error) {
	return &provider.Instance{ID: id, State: provider.InstanceStarting}, nil
}

func (p *fakeProvider) Destroy(context.Context, string) error {
	return nil
}

func (p *fakeProvider) Fork(_ context.Context, id, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forks++
	if p.forkErr != nil {
		return "", p.forkErr
	}
	return "fork-of-" + id, nil
}

type fixture struct {
	store    *store.Memory
	tc       *temporalmocks.Client
	prov     *fakeProvider
	hub      *progress.Hub
	services *core.Services
}

// newFixture seeds org-1 "acme" with members m1 and m2, and the catalog apps
// app-1 (generated by another org) and app-2 (generated by org-1).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	mem.PutOrganization(model.Organization{ID: "org-1", Name: "Acme", Slug: "acme"},
		model.Member{ID: "m1", UserID: "u1", Role: model.RoleOwner},
		model.Member{ID: "m2", UserID: "u2", Role: model.RoleMember},
	)
	mem.PutGeneratedApp(model.GeneratedApp{ID: "gen-1", OrgID: "org-creator"})
	mem.PutGeneratedApp(model.GeneratedApp{ID: "gen-own", OrgID: "org-1"})
	gen1, genOwn := "gen-1", "gen-own"
	mem.PutApplication(model.Application{ID: "app-1", Name: "CRM", LatestVersion: "1.0.0", GeneratedAppID: &gen1})
	mem.PutApplication(model.Application{ID: "app-2", Name: "Wiki", LatestVersion: "2.0.0", GeneratedAppID: &genOwn})

	hub := progress.NewHub(progress.NewLocalBroker(), zerolog.Nop())
	require.NoError(t, hub.Start(context.Background()))
	t.Cleanup(func() { _ = hub.Stop() })

	f := &fixture{store: mem, tc: &temporalmocks.Client{}, prov: &fakeProvider{}, hub: hub}
	f.services = core.NewServices(core.Deps{
		Store:       mem,
		Temporal:    f.tc,
		Provider:    f.prov,
		Hub:         hub,
		Policy:      config.DefaultPolicy(),
		CallbackURL: "https://control.example.com/internal/v1/provider/events",
		Logger:      zerolog.Nop(),
	})
	return f
}

func (f *fixture) expectWorkflow(name string) {
	f.tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, name, mock.Anything).
		Return(&temporalmocks.WorkflowRun{}, nil)
}

func (f *fixture) failWorkflow(name string) {
	f.tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, name, mock.Anything).
		Return(nil, errors.New("temporal unavailable"))
}

// added installs app-1 in org-1 with the given access set.
func (f *fixture) added(t *testing.T, appID string, members ...string) *model.OrgApp {
	t.Helper()
	ctx := context.Background()
	app, err := f.services.Orchestrator.Add(ctx, "org-1", appID)
	require.NoError(t, err)
	if len(members) > 0 {
		app, err = f.services.Access.SetAccess(ctx, "org-1", appID, members)
		require.NoError(t, err)
	}
	return app
}

// deploying launches appID and returns the record in DEPLOYING.
func (f *fixture) deploying(t *testing.T, appID string) *model.OrgApp {
	t.Helper()
	f.expectWorkflow("DeployOrgAppWorkflow")
	f.added(t, appID, "m1")
	app, err := f.services.Orchestrator.Launch(context.Background(), "org-1", appID, core.LaunchOptions{})
	require.NoError(t, err)
	return app
}

// running drives appID to RUNNING through a provider event.
func (f *fixture) running(t *testing.T, appID string) *model.OrgApp {
	t.Helper()
	app := f.deploying(t, appID)
	instance := "i-" + appID
	applied, err := f.services.Orchestrator.HandleProgress(context.Background(), model.ProviderEvent{
		OrgID: "org-1", AppID: appID, AttemptID: app.AttemptID, Stage: model.StageRunning, InstanceID: &instance,
	})
	require.NoError(t, err)
	require.True(t, applied)
	app, err = f.services.Orchestrator.Get(context.Background(), "org-1", appID)
	require.NoError(t, err)
	return app
}
