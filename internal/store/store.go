// Package store persists OrgApps, their hostname index, and draft previews.
//
// Every OrgApp mutation is a whole-record compare-and-swap on OrgApp.Version:
// writers pass the version they read and get ErrConflict if someone else
// wrote in between. There are no in-process locks spanning requests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/go4it/marketplace/internal/model"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("version conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrHostnameTaken = errors.New("hostname already taken")
)

// Store is the durable state of the deployment control plane.
type Store interface {
	GetOrgApp(ctx context.Context, orgID, appID string) (*model.OrgApp, error)
	ListOrgAppsByOrg(ctx context.Context, orgID string) ([]model.OrgApp, error)
	// ListStaleDeploying returns DEPLOYING OrgApps with no progress since before.
	ListStaleDeploying(ctx context.Context, before time.Time) ([]model.OrgApp, error)
	// CreateOrgApp inserts a new record at version 1.
	CreateOrgApp(ctx context.Context, app *model.OrgApp) error
	// UpdateOrgApp writes app if the stored version equals app.Version, then
	// sets app.Version to the new version.
	UpdateOrgApp(ctx context.Context, app *model.OrgApp) error
	// DeleteOrgApp removes the record with the expected version, releasing its
	// hostname reservation and access set with it.
	DeleteOrgApp(ctx context.Context, orgID, appID string, version int64) error
	// SetLatestVersion propagates a newly published version to every OrgApp of
	// the application and returns how many were touched.
	SetLatestVersion(ctx context.Context, appID, version string) (int64, error)

	// ClaimHostname reserves hostname for the OrgApp. Claiming a hostname the
	// same OrgApp already holds succeeds; one held by any other OrgApp returns
	// ErrHostnameTaken.
	ClaimHostname(ctx context.Context, hostname, orgID, appID string) error
	// ReleaseHostname drops the reservation if the OrgApp holds it.
	ReleaseHostname(ctx context.Context, hostname, orgID, appID string) error

	GetOrganization(ctx context.Context, orgID string) (*model.Organization, error)
	ListMembers(ctx context.Context, orgID string) ([]model.Member, error)
	GetApplication(ctx context.Context, appID string) (*model.Application, error)
	UpdateApplicationVersion(ctx context.Context, appID, version string) error
	GetGeneratedApp(ctx context.Context, id string) (*model.GeneratedApp, error)
	CreateGeneratedApp(ctx context.Context, ga *model.GeneratedApp) error

	GetDraftPreview(ctx context.Context, generatedAppID string) (*model.DraftPreview, error)
	// CreateDraftPreview fails with ErrAlreadyExists when the generated app
	// already has a preview.
	CreateDraftPreview(ctx context.Context, d *model.DraftPreview) error
	// UpdateDraftPreview is a compare-and-swap on d.Version.
	UpdateDraftPreview(ctx context.Context, d *model.DraftPreview) error
	ListDraftPreviewsByUser(ctx context.Context, userID string) ([]model.DraftPreview, error)
	ListExpiredDraftPreviews(ctx context.Context, now time.Time) ([]model.DraftPreview, error)
	DeleteDraftPreview(ctx context.Context, generatedAppID string) error
}
