package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/go4it/marketplace/internal/api/request"
	"github.com/go4it/marketplace/internal/api/response"
	"github.com/go4it/marketplace/internal/core"
)

type Application struct {
	versions *core.VersionTracker
}

func NewApplication(versions *core.VersionTracker) *Application {
	return &Application{versions: versions}
}

type publishResponse struct {
	AppID   string `json:"app_id"`
	Version string `json:"version"`
	OrgApps int64  `json:"org_apps"`
}

// Publish records a new latest version; installs running an older one start
// reporting needs_update.
func (h *Application) Publish(w http.ResponseWriter, r *http.Request) {
	appID, err := request.RequireID(chi.URLParam(r, "appID"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req request.PublishVersion
	if err := request.Decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	n, err := h.versions.Publish(r.Context(), appID, req.Version)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, publishResponse{AppID: appID, Version: req.Version, OrgApps: n})
}
