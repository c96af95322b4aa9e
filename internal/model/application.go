package model

import "time"

// Application is a marketplace catalog entry.
type Application struct {
	ID             string    `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	LatestVersion  string    `json:"latest_version" db:"latest_version"`
	CreatorOrgID   *string   `json:"creator_org_id,omitempty" db:"creator_org_id"`
	GeneratedAppID *string   `json:"generated_app_id,omitempty" db:"generated_app_id"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// GeneratedApp records the lineage of a generation artifact. SourceID is set
// when the artifact was forked from another one.
type GeneratedApp struct {
	ID        string    `json:"id" db:"id"`
	OrgID     string    `json:"org_id" db:"org_id"`
	SourceID  *string   `json:"source_id,omitempty" db:"source_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
