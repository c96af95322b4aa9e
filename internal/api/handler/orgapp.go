package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/go4it/marketplace/internal/api/request"
	"github.com/go4it/marketplace/internal/api/response"
	"github.com/go4it/marketplace/internal/core"
	"github.com/go4it/marketplace/internal/model"
)

// OrgApp serves the per-organization app lifecycle.
type OrgApp struct {
	orch       *core.Orchestrator
	subdomains *core.SubdomainAllocator
	access     *core.AccessAssigner
	forks      *core.ForkCoordinator
}

func NewOrgApp(services *core.Services) *OrgApp {
	return &OrgApp{
		orch:       services.Orchestrator,
		subdomains: services.Subdomains,
		access:     services.Access,
		forks:      services.Forks,
	}
}

func orgAppParams(w http.ResponseWriter, r *http.Request) (orgID, appID string, ok bool) {
	orgID, err := request.RequireID(chi.URLParam(r, "orgID"))
	if err != nil {
		writeBadRequest(w, err)
		return "", "", false
	}
	appID, err = request.RequireID(chi.URLParam(r, "appID"))
	if err != nil {
		writeBadRequest(w, err)
		return "", "", false
	}
	return orgID, appID, true
}

func (h *OrgApp) List(w http.ResponseWriter, r *http.Request) {
	orgID, err := request.RequireID(chi.URLParam(r, "orgID"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	apps, err := h.orch.List(r.Context(), orgID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteList(w, apps)
}

func (h *OrgApp) Add(w http.ResponseWriter, r *http.Request) {
	orgID, err := request.RequireID(chi.URLParam(r, "orgID"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req request.AddOrgApp
	if err := request.Decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	app, err := h.orch.Add(r.Context(), orgID, req.AppID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, app)
}

func (h *OrgApp) Get(w http.ResponseWriter, r *http.Request) {
	orgID, appID, ok := orgAppParams(w, r)
	if !ok {
		return
	}
	app, err := h.orch.Get(r.Context(), orgID, appID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, app)
}

// Remove deletes the OrgApp; its instance is destroyed asynchronously.
func (h *OrgApp) Remove(w http.ResponseWriter, r *http.Request) {
	orgID, appID, ok := orgAppParams(w, r)
	if !ok {
		return
	}
	if err := h.orch.Remove(r.Context(), orgID, appID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrgApp) Launch(w http.ResponseWriter, r *http.Request) {
	orgID, appID, ok := orgAppParams(w, r)
	if !ok {
		return
	}
	var req request.LaunchOrgApp
	if err := request.DecodeOptional(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	app, err := h.orch.Launch(r.Context(), orgID, appID, core.LaunchOptions{Preview: req.Preview})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusAccepted, app)
}

func (h *OrgApp) Retry(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orch.Retry)
}

func (h *OrgApp) GoLive(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orch.GoLive)
}

func (h *OrgApp) Update(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orch.Update)
}

func (h *OrgApp) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, orgID, appID string) (*model.OrgApp, error)) {
	orgID, appID, ok := orgAppParams(w, r)
	if !ok {
		return
	}
	app, err := fn(r.Context(), orgID, appID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusAccepted, app)
}

func (h *OrgApp) SetAccess(w http.ResponseWriter, r *http.Request) {
	orgID, appID, ok := orgAppParams(w, r)
	if !ok {
		return
	}
	var req request.SetAccess
	if err := request.Decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	app, err := h.access.SetAccess(r.Context(), orgID, appID, req.MemberIDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, app)
}

func (h *OrgApp) SetSubdomain(w http.ResponseWriter, r *http.Request) {
	orgID, appID, ok := orgAppParams(w, r)
	if !ok {
		return
	}
	var req request.SetSubdomain
	if err := request.Decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	app, err := h.subdomains.Reserve(r.Context(), orgID, appID, req.Subdomain)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, app)
}

// Modify returns the generated app the organization may edit, forking it
// first when the app came from another organization.
func (h *OrgApp) Modify(w http.ResponseWriter, r *http.Request) {
	orgID, appID, ok := orgAppParams(w, r)
	if !ok {
		return
	}
	res, err := h.forks.Modify(r.Context(), orgID, appID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, res)
}
