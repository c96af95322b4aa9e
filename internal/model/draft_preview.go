package model

import (
	"math"
	"time"
)

// DraftPreview is an ephemeral deployment of an unpublished generated app.
// It is owned by the requesting user and has no OrgApp or hostname.
type DraftPreview struct {
	GeneratedAppID string    `json:"generated_app_id" db:"generated_app_id"`
	UserID         string    `json:"user_id" db:"user_id"`
	Status         string    `json:"status" db:"status"`
	StatusMessage  *string   `json:"status_message,omitempty" db:"status_message"`
	PreviewURL     *string   `json:"preview_url,omitempty" db:"preview_url"`
	InstanceID     *string   `json:"instance_id,omitempty" db:"instance_id"`
	ExpiresAt      time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
	// Version guards updates; every write bumps it.
	Version int64 `json:"version" db:"version"`
}

// DaysUntilExpiry returns ceil((ExpiresAt - now) / 1 day).
func (d *DraftPreview) DaysUntilExpiry(now time.Time) int {
	return int(math.Ceil(d.ExpiresAt.Sub(now).Hours() / 24))
}

// Expired reports whether the preview is past its expiry, whether or not the
// sweep has destroyed it yet.
func (d *DraftPreview) Expired(now time.Time) bool {
	return d.DaysUntilExpiry(now) <= 0
}

// EffectiveStatus is the stored status, or DraftStatusExpired once expired.
func (d *DraftPreview) EffectiveStatus(now time.Time) string {
	if d.Expired(now) {
		return DraftStatusExpired
	}
	return d.Status
}
