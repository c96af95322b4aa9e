package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalmocks "go.temporal.io/sdk/mocks"

	"github.com/go4it/marketplace/internal/config"
	"github.com/go4it/marketplace/internal/model"
	"github.com/go4it/marketplace/internal/progress"
	"github.com/go4it/marketplace/internal/provider"
	"github.com/go4it/marketplace/internal/store"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Deploy(ctx context.Context, req provider.DeployRequest) (*provider.DeployResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.DeployResult), args.Error(1)
}

func (m *mockProvider) DeployDraft(ctx context.Context, req provider.DraftRequest) (*provider.DeployResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.DeployResult), args.Error(1)
}

func (m *mockProvider) Instance(ctx context.Context, instanceID string) (*provider.Instance, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.Instance), args.Error(1)
}

func (m *mockProvider) Destroy(ctx context.Context, instanceID string) error {
	return m.Called(ctx, instanceID).Error(0)
}

func (m *mockProvider) Fork(ctx context.Context, generatedAppID, orgID string) (string, error) {
	args := m.Called(ctx, generatedAppID, orgID)
	return args.String(0), args.Error(1)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store *store.Memory
	tc    *temporalmocks.Client
	prov  *mockProvider
	hub   *progress.Hub
	clock *fakeClock
	svc   *Services
}

// newFixture seeds org-1 (members m1, m2) and org-2, and two catalog apps:
// app-1 at 1.0.0 generated by a third organization, and app-2 at 2.0.0
// generated by org-1 itself.
// wrap lets a test decorate the store the services see.
func newFixture(t *testing.T, wrap ...func(store.Store) store.Store) *fixture {
	t.Helper()
	mem := store.NewMemory()
	mem.PutOrganization(model.Organization{ID: "org-1", Name: "Acme", Slug: "acme"},
		model.Member{ID: "m1", UserID: "u1", Role: model.RoleOwner},
		model.Member{ID: "m2", UserID: "u2", Role: model.RoleMember},
	)
	mem.PutOrganization(model.Organization{ID: "org-2", Name: "Globex", Slug: "globex"},
		model.Member{ID: "m3", UserID: "u3", Role: model.RoleOwner},
	)
	mem.PutGeneratedApp(model.GeneratedApp{ID: "gen-1", OrgID: "org-creator"})
	mem.PutGeneratedApp(model.GeneratedApp{ID: "gen-own", OrgID: "org-1"})
	mem.PutApplication(model.Application{ID: "app-1", Name: "CRM", LatestVersion: "1.0.0", GeneratedAppID: ptr("gen-1")})
	mem.PutApplication(model.Application{ID: "app-2", Name: "Wiki", LatestVersion: "2.0.0", GeneratedAppID: ptr("gen-own")})

	hub := progress.NewHub(progress.NewLocalBroker(), zerolog.Nop())
	require.NoError(t, hub.Start(context.Background()))
	t.Cleanup(func() { _ = hub.Stop() })

	var st store.Store = mem
	for _, w := range wrap {
		st = w(st)
	}

	f := &fixture{
		store: mem,
		tc:    &temporalmocks.Client{},
		prov:  &mockProvider{},
		hub:   hub,
		clock: &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.svc = NewServices(Deps{
		Store:       st,
		Temporal:    f.tc,
		Provider:    f.prov,
		Hub:         hub,
		Policy:      config.DefaultPolicy(),
		CallbackURL: "https://control.example.com/internal/v1/provider/events",
		Logger:      zerolog.Nop(),
		Now:         f.clock.Now,
	})
	return f
}

func (f *fixture) expectWorkflow(name string) {
	wfRun := &temporalmocks.WorkflowRun{}
	wfRun.On("GetID").Return("mock-wf-id").Maybe()
	wfRun.On("GetRunID").Return("mock-run-id").Maybe()
	f.tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, name, mock.Anything).Return(wfRun, nil)
}

// added creates an OrgApp in ADDED with the given access set.
func (f *fixture) added(t *testing.T, orgID, appID string, members ...string) *model.OrgApp {
	t.Helper()
	ctx := context.Background()
	app, err := f.svc.Orchestrator.Add(ctx, orgID, appID)
	require.NoError(t, err)
	if len(members) > 0 {
		app, err = f.svc.Access.SetAccess(ctx, orgID, appID, members)
		require.NoError(t, err)
	}
	return app
}

// running takes an OrgApp through launch and a provider "running" event.
func (f *fixture) running(t *testing.T, orgID, appID string) *model.OrgApp {
	t.Helper()
	ctx := context.Background()
	app, err := f.svc.Orchestrator.Launch(ctx, orgID, appID, LaunchOptions{})
	require.NoError(t, err)
	applied, err := f.svc.Orchestrator.HandleProgress(ctx, model.ProviderEvent{
		OrgID: orgID, AppID: appID, AttemptID: app.AttemptID,
		Stage: model.StageRunning, InstanceID: ptr("i-" + appID),
	})
	require.NoError(t, err)
	require.True(t, applied)
	app, err = f.svc.Orchestrator.Get(ctx, orgID, appID)
	require.NoError(t, err)
	require.Equal(t, model.StatusRunning, app.Status)
	return app
}

func (f *fixture) get(t *testing.T, orgID, appID string) *model.OrgApp {
	t.Helper()
	app, err := f.store.GetOrgApp(context.Background(), orgID, appID)
	require.NoError(t, err)
	return app
}

func ptr(s string) *string { return &s }
