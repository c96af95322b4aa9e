package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go4it/marketplace/internal/model"
)

type orgAppKey struct {
	orgID string
	appID string
}

// Memory is an in-process Store with the same compare-and-swap semantics as
// Postgres. It backs tests and single-process development.
type Memory struct {
	mu            sync.RWMutex
	now           func() time.Time
	orgApps       map[orgAppKey]*model.OrgApp
	hostnames     map[string]orgAppKey
	orgs          map[string]*model.Organization
	members       map[string][]model.Member
	applications  map[string]*model.Application
	generatedApps map[string]*model.GeneratedApp
	drafts        map[string]*model.DraftPreview
}

func NewMemory() *Memory {
	return &Memory{
		now:           time.Now,
		orgApps:       make(map[orgAppKey]*model.OrgApp),
		hostnames:     make(map[string]orgAppKey),
		orgs:          make(map[string]*model.Organization),
		members:       make(map[string][]model.Member),
		applications:  make(map[string]*model.Application),
		generatedApps: make(map[string]*model.GeneratedApp),
		drafts:        make(map[string]*model.DraftPreview),
	}
}

var _ Store = (*Memory)(nil)

// PutOrganization seeds an organization and its member roster.
func (s *Memory) PutOrganization(org model.Organization, members ...model.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[org.ID] = &org
	for i := range members {
		members[i].OrgID = org.ID
	}
	s.members[org.ID] = append([]model.Member(nil), members...)
}

// RemoveMember drops a member from an organization's roster.
func (s *Memory) RemoveMember(orgID, memberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster := s.members[orgID]
	for i, m := range roster {
		if m.ID == memberID {
			s.members[orgID] = append(roster[:i:i], roster[i+1:]...)
			return
		}
	}
}

// PutApplication seeds a catalog entry.
func (s *Memory) PutApplication(app model.Application) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applications[app.ID] = &app
}

// PutGeneratedApp seeds a generation artifact.
func (s *Memory) PutGeneratedApp(ga model.GeneratedApp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generatedApps[ga.ID] = &ga
}

func (s *Memory) GetOrgApp(_ context.Context, orgID, appID string) (*model.OrgApp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.orgApps[orgAppKey{orgID, appID}]
	if !ok {
		return nil, fmt.Errorf("get org app %s/%s: %w", orgID, appID, ErrNotFound)
	}
	return a.Clone(), nil
}

func (s *Memory) ListOrgAppsByOrg(_ context.Context, orgID string) ([]model.OrgApp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var apps []model.OrgApp
	for k, a := range s.orgApps {
		if k.orgID == orgID {
			apps = append(apps, *a.Clone())
		}
	}
	sort.Slice(apps, func(i, j int) bool {
		if !apps[i].AddedAt.Equal(apps[j].AddedAt) {
			return apps[i].AddedAt.Before(apps[j].AddedAt)
		}
		return apps[i].AppID < apps[j].AppID
	})
	return apps, nil
}

func (s *Memory) ListStaleDeploying(_ context.Context, before time.Time) ([]model.OrgApp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var apps []model.OrgApp
	for _, a := range s.orgApps {
		if a.Status != model.StatusDeploying {
			continue
		}
		last := a.UpdatedAt
		if a.LastProgressAt != nil {
			last = *a.LastProgressAt
		}
		if last.Before(before) {
			apps = append(apps, *a.Clone())
		}
	}
	sort.Slice(apps, func(i, j int) bool {
		if apps[i].OrgID != apps[j].OrgID {
			return apps[i].OrgID < apps[j].OrgID
		}
		return apps[i].AppID < apps[j].AppID
	})
	return apps, nil
}

func (s *Memory) CreateOrgApp(_ context.Context, app *model.OrgApp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := orgAppKey{app.OrgID, app.AppID}
	if _, ok := s.orgApps[k]; ok {
		return fmt.Errorf("insert org app %s/%s: %w", app.OrgID, app.AppID, ErrAlreadyExists)
	}
	if app.AccessMemberIDs == nil {
		app.AccessMemberIDs = []string{}
	}
	app.Version = 1
	s.orgApps[k] = app.Clone()
	return nil
}

func (s *Memory) UpdateOrgApp(_ context.Context, app *model.OrgApp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := orgAppKey{app.OrgID, app.AppID}
	cur, ok := s.orgApps[k]
	if !ok {
		return fmt.Errorf("update org app %s/%s: %w", app.OrgID, app.AppID, ErrNotFound)
	}
	if cur.Version != app.Version {
		return fmt.Errorf("update org app %s/%s: expected version %d, found %d: %w",
			app.OrgID, app.AppID, app.Version, cur.Version, ErrConflict)
	}
	if app.AccessMemberIDs == nil {
		app.AccessMemberIDs = []string{}
	}
	app.Version = cur.Version + 1
	app.UpdatedAt = s.now()
	stored := app.Clone()
	stored.NeedsUpdate = false
	s.orgApps[k] = stored
	return nil
}

func (s *Memory) DeleteOrgApp(_ context.Context, orgID, appID string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := orgAppKey{orgID, appID}
	cur, ok := s.orgApps[k]
	if !ok {
		return fmt.Errorf("delete org app %s/%s: %w", orgID, appID, ErrNotFound)
	}
	if cur.Version != version {
		return fmt.Errorf("delete org app %s/%s: expected version %d, found %d: %w",
			orgID, appID, version, cur.Version, ErrConflict)
	}
	delete(s.orgApps, k)
	for h, owner := range s.hostnames {
		if owner == k {
			delete(s.hostnames, h)
		}
	}
	return nil
}

func (s *Memory) SetLatestVersion(_ context.Context, appID, version string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, a := range s.orgApps {
		if k.appID == appID && a.LatestVersion != version {
			a.LatestVersion = version
			a.Version++
			a.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

func (s *Memory) ClaimHostname(_ context.Context, hostname, orgID, appID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := orgAppKey{orgID, appID}
	if _, ok := s.orgApps[k]; !ok {
		return fmt.Errorf("claim hostname %s: %w", hostname, ErrNotFound)
	}
	if owner, ok := s.hostnames[hostname]; ok && owner != k {
		return fmt.Errorf("claim hostname %s: %w", hostname, ErrHostnameTaken)
	}
	s.hostnames[hostname] = k
	return nil
}

func (s *Memory) ReleaseHostname(_ context.Context, hostname, orgID, appID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.hostnames[hostname]; ok && owner == (orgAppKey{orgID, appID}) {
		delete(s.hostnames, hostname)
	}
	return nil
}

// HostnameOwner returns the OrgApp holding hostname, if any.
func (s *Memory) HostnameOwner(hostname string) (orgID, appID string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.hostnames[hostname]
	return k.orgID, k.appID, ok
}

func (s *Memory) GetOrganization(_ context.Context, orgID string) (*model.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[orgID]
	if !ok {
		return nil, fmt.Errorf("get organization %s: %w", orgID, ErrNotFound)
	}
	c := *o
	return &c, nil
}

func (s *Memory) ListMembers(_ context.Context, orgID string) ([]model.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Member(nil), s.members[orgID]...), nil
}

func (s *Memory) GetApplication(_ context.Context, appID string) (*model.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.applications[appID]
	if !ok {
		return nil, fmt.Errorf("get application %s: %w", appID, ErrNotFound)
	}
	c := *a
	return &c, nil
}

func (s *Memory) UpdateApplicationVersion(_ context.Context, appID, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.applications[appID]
	if !ok {
		return fmt.Errorf("update application %s version: %w", appID, ErrNotFound)
	}
	a.LatestVersion = version
	a.UpdatedAt = s.now()
	return nil
}

func (s *Memory) GetGeneratedApp(_ context.Context, id string) (*model.GeneratedApp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.generatedApps[id]
	if !ok {
		return nil, fmt.Errorf("get generated app %s: %w", id, ErrNotFound)
	}
	c := *g
	return &c, nil
}

func (s *Memory) CreateGeneratedApp(_ context.Context, ga *model.GeneratedApp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.generatedApps[ga.ID]; ok {
		return fmt.Errorf("insert generated app %s: %w", ga.ID, ErrAlreadyExists)
	}
	c := *ga
	s.generatedApps[ga.ID] = &c
	return nil
}

func (s *Memory) GetDraftPreview(_ context.Context, generatedAppID string) (*model.DraftPreview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[generatedAppID]
	if !ok {
		return nil, fmt.Errorf("get draft preview %s: %w", generatedAppID, ErrNotFound)
	}
	c := *d
	return &c, nil
}

func (s *Memory) CreateDraftPreview(_ context.Context, d *model.DraftPreview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.drafts[d.GeneratedAppID]; ok {
		return fmt.Errorf("insert draft preview %s: %w", d.GeneratedAppID, ErrAlreadyExists)
	}
	d.Version = 1
	d.UpdatedAt = s.now()
	c := *d
	s.drafts[d.GeneratedAppID] = &c
	return nil
}

func (s *Memory) UpdateDraftPreview(_ context.Context, d *model.DraftPreview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.drafts[d.GeneratedAppID]
	if !ok {
		return fmt.Errorf("update draft preview %s: %w", d.GeneratedAppID, ErrNotFound)
	}
	if cur.Version != d.Version {
		return fmt.Errorf("update draft preview %s: expected version %d, found %d: %w",
			d.GeneratedAppID, d.Version, cur.Version, ErrConflict)
	}
	d.Version = cur.Version + 1
	d.UpdatedAt = s.now()
	c := *d
	s.drafts[d.GeneratedAppID] = &c
	return nil
}

func (s *Memory) ListDraftPreviewsByUser(_ context.Context, userID string) ([]model.DraftPreview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var drafts []model.DraftPreview
	for _, d := range s.drafts {
		if d.UserID == userID {
			drafts = append(drafts, *d)
		}
	}
	sort.Slice(drafts, func(i, j int) bool { return drafts[i].CreatedAt.After(drafts[j].CreatedAt) })
	return drafts, nil
}

func (s *Memory) ListExpiredDraftPreviews(_ context.Context, now time.Time) ([]model.DraftPreview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var drafts []model.DraftPreview
	for _, d := range s.drafts {
		if !d.ExpiresAt.After(now) {
			drafts = append(drafts, *d)
		}
	}
	sort.Slice(drafts, func(i, j int) bool { return drafts[i].ExpiresAt.Before(drafts[j].ExpiresAt) })
	return drafts, nil
}

func (s *Memory) DeleteDraftPreview(_ context.Context, generatedAppID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, generatedAppID)
	return nil
}
