package model

import "time"

// OrgApp is the association of one organization to one application: a
// tenant-scoped deployable instance.
//
// Version is the compare-and-swap counter maintained by the store. AttemptID
// increments on every transition into DEPLOYING; AttemptVersion and AttemptMode
// capture what that attempt is deploying.
type OrgApp struct {
	OrgID           string     `json:"org_id" db:"org_id"`
	AppID           string     `json:"app_id" db:"app_id"`
	Status          string     `json:"status" db:"status"`
	StatusMessage   *string    `json:"status_message,omitempty" db:"status_message"`
	DeployedVersion *string    `json:"deployed_version,omitempty" db:"deployed_version"`
	LatestVersion   string     `json:"latest_version" db:"latest_version"`
	Hostname        *string    `json:"hostname,omitempty" db:"hostname"`
	AccessMemberIDs []string   `json:"access_member_ids" db:"access_member_ids"`
	GeneratedAppID  *string    `json:"generated_app_id,omitempty" db:"generated_app_id"`
	MachineID       *string    `json:"machine_id,omitempty" db:"machine_id"`
	URL             *string    `json:"url,omitempty" db:"url"`
	AttemptID       int64      `json:"attempt_id" db:"attempt_id"`
	AttemptVersion  *string    `json:"attempt_version,omitempty" db:"attempt_version"`
	AttemptMode     *string    `json:"attempt_mode,omitempty" db:"attempt_mode"`
	Version         int64      `json:"version" db:"version"`
	AddedAt         time.Time  `json:"added_at" db:"added_at"`
	DeployedAt      *time.Time `json:"deployed_at,omitempty" db:"deployed_at"`
	LastProgressAt  *time.Time `json:"last_progress_at,omitempty" db:"last_progress_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`

	// NeedsUpdate is derived on read and never stored. It is Drifted, so an
	// app that was never deployed reports false even though its missing
	// deployed version differs from LatestVersion; see VersionDiffers.
	NeedsUpdate bool `json:"needs_update" db:"-"`
}

// VersionDiffers is the raw comparison: a nil deployed version differs from
// any latest version.
func (a *OrgApp) VersionDiffers() bool {
	return a.DeployedVersion == nil || *a.DeployedVersion != a.LatestVersion
}

// Drifted reports whether the deployed version differs from the latest
// published version. Versions are compared as plain strings; an instance that
// was never deployed has nothing to update.
func (a *OrgApp) Drifted() bool {
	return a.DeployedVersion != nil && a.VersionDiffers()
}

// HasAccess reports whether at least one member may use the instance.
func (a *OrgApp) HasAccess() bool {
	return len(a.AccessMemberIDs) > 0
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (a *OrgApp) Clone() *OrgApp {
	c := *a
	c.AccessMemberIDs = append([]string(nil), a.AccessMemberIDs...)
	c.StatusMessage = clonePtr(a.StatusMessage)
	c.DeployedVersion = clonePtr(a.DeployedVersion)
	c.Hostname = clonePtr(a.Hostname)
	c.GeneratedAppID = clonePtr(a.GeneratedAppID)
	c.MachineID = clonePtr(a.MachineID)
	c.URL = clonePtr(a.URL)
	c.AttemptVersion = clonePtr(a.AttemptVersion)
	c.AttemptMode = clonePtr(a.AttemptMode)
	c.DeployedAt = clonePtr(a.DeployedAt)
	c.LastProgressAt = clonePtr(a.LastProgressAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
