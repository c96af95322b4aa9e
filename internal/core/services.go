package core

import (
	"time"

	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/go4it/marketplace/internal/config"
	"github.com/go4it/marketplace/internal/progress"
	"github.com/go4it/marketplace/internal/provider"
	"github.com/go4it/marketplace/internal/store"
)

// TaskQueue is the Temporal task queue served by cmd/worker.
const TaskQueue = "orgapp-tasks"

// Deps are the collaborators shared by every service.
type Deps struct {
	Store       store.Store
	Temporal    temporalclient.Client
	Provider    provider.Provider
	Hub         *progress.Hub
	Policy      config.Policy
	CallbackURL string
	Logger      zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type Services struct {
	Orchestrator *Orchestrator
	Subdomains   *SubdomainAllocator
	Access       *AccessAssigner
	Versions     *VersionTracker
	Drafts       *DraftService
	Forks        *ForkCoordinator
}

func NewServices(d Deps) *Services {
	if d.Now == nil {
		d.Now = time.Now
	}
	versions := NewVersionTracker(d)
	return &Services{
		Orchestrator: NewOrchestrator(d, versions),
		Subdomains:   NewSubdomainAllocator(d),
		Access:       NewAccessAssigner(d),
		Versions:     versions,
		Drafts:       NewDraftService(d),
		Forks:        NewForkCoordinator(d),
	}
}

func (d Deps) clock() func() time.Time {
	if d.Now == nil {
		return time.Now
	}
	return d.Now
}
