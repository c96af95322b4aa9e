package model

// OrgApp lifecycle states.
const (
	StatusAdded     = "ADDED"
	StatusDeploying = "DEPLOYING"
	StatusPreview   = "PREVIEW"
	StatusRunning   = "RUNNING"
	StatusStopped   = "STOPPED"
	StatusFailed    = "FAILED"
)

// Draft preview states. DraftStatusExpired is never stored; it is derived
// from ExpiresAt at read time.
const (
	DraftStatusDeploying = "deploying"
	DraftStatusReady     = "ready"
	DraftStatusFailed    = "failed"
	DraftStatusExpired   = "expired"
)

// Deploy modes requested for an attempt.
const (
	DeployModeProduction = "production"
	DeployModePreview    = "preview"
)

// IsTerminal reports whether an OrgApp status ends a deployment attempt.
func IsTerminal(status string) bool {
	switch status {
	case StatusRunning, StatusPreview, StatusFailed:
		return true
	}
	return false
}
