package model

import "time"

// Progress stages emitted by the control plane itself. Any other stage string
// comes from the compute provider and is relayed unchanged.
const (
	StageState        = "state"
	StageQueued       = "queued"
	StageAccepted     = "accepted"
	StageRunning      = "running"
	StagePreviewReady = "preview-ready"
	StageFailed       = "failed"
	StageRemoved      = "removed"
)

// ProgressEvent is one message on a progress subscription.
//
// Seq is the OrgApp store version after the change the event describes.
// Subscribers use it to drop events already covered by their snapshot.
type ProgressEvent struct {
	OrgID     string    `json:"org_id"`
	AppID     string    `json:"app_id"`
	AttemptID int64     `json:"attempt_id"`
	Seq       int64     `json:"seq"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Status    string    `json:"status,omitempty"`
	FlyURL    *string   `json:"flyUrl,omitempty"`
	Error     *string   `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether the event ends a subscription.
func (e ProgressEvent) Terminal() bool {
	return e.Stage == StageRemoved || IsTerminal(e.Status)
}

// ProviderEvent is a milestone pushed by the compute provider for one attempt.
type ProviderEvent struct {
	OrgID      string  `json:"org_id" validate:"required"`
	AppID      string  `json:"app_id" validate:"required"`
	AttemptID  int64   `json:"attempt_id" validate:"required,min=1"`
	Stage      string  `json:"stage" validate:"required"`
	Message    string  `json:"message"`
	FlyURL     *string `json:"flyUrl,omitempty"`
	InstanceID *string `json:"instanceId,omitempty"`
	Error      *string `json:"error,omitempty"`
}
