package model

// DeployAttempt identifies one run of the deployment state machine. It is the
// argument of the deploy workflow and every activity it calls.
type DeployAttempt struct {
	OrgID     string `json:"org_id"`
	AppID     string `json:"app_id"`
	AttemptID int64  `json:"attempt_id"`
}

// InstanceRemoval asks the worker to destroy the instance of a removed OrgApp.
type InstanceRemoval struct {
	OrgID      string `json:"org_id"`
	AppID      string `json:"app_id"`
	InstanceID string `json:"instance_id"`
}

// DraftDeploy is the argument of the draft preview workflow.
type DraftDeploy struct {
	GeneratedAppID string `json:"generated_app_id"`
	UserID         string `json:"user_id"`
}
