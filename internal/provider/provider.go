// Package provider talks to the external compute provider that runs app
// instances. Deploys are asynchronous: the provider accepts a request and
// later pushes milestones for it to the callback URL.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when the provider has no record of an instance or
// generated app.
var ErrNotFound = errors.New("provider: not found")

// Provider is the narrow surface the control plane needs from the compute
// provider.
type Provider interface {
	// Deploy starts an attempt and returns once the provider accepted it.
	Deploy(ctx context.Context, req DeployRequest) (*DeployResult, error)
	// DeployDraft starts a throwaway preview of an unpublished generated app.
	// It may return a new instance id for a redeploy; the caller destroys
	// the one it replaces.
	DeployDraft(ctx context.Context, req DraftRequest) (*DeployResult, error)
	// Instance reports the current state of an instance.
	Instance(ctx context.Context, instanceID string) (*Instance, error)
	// Destroy removes an instance. Destroying an unknown instance succeeds.
	Destroy(ctx context.Context, instanceID string) error
	// Fork clones the generation lineage of a generated app and returns the
	// id of the clone.
	Fork(ctx context.Context, generatedAppID, orgID string) (string, error)
}

type DeployRequest struct {
	Name        string `json:"name"`
	OrgID       string `json:"org_id"`
	OrgSlug     string `json:"org_slug"`
	AppID       string `json:"app_id"`
	Version     string `json:"version"`
	AttemptID   int64  `json:"attempt_id"`
	Mode        string `json:"mode"`
	Hostname    string `json:"hostname,omitempty"`
	CallbackURL string `json:"callback_url"`
}

type DraftRequest struct {
	Name           string `json:"name"`
	GeneratedAppID string `json:"generated_app_id"`
	UserID         string `json:"user_id"`
}

type DeployResult struct {
	InstanceID string `json:"instance_id"`
	URL        string `json:"url,omitempty"`
}

// Instance states reported by the provider.
const (
	InstanceStarting = "starting"
	InstanceStarted  = "started"
	InstanceFailed   = "failed"
	InstanceStopped  = "stopped"
)

type Instance struct {
	ID    string `json:"id"`
	State string `json:"state"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

// APIError is a non-success response from the provider API.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider %s: status %d: %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: status %d", e.Operation, e.StatusCode)
}

// Retryable reports whether the request may succeed if repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
