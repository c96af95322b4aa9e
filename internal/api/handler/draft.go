package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/go4it/marketplace/internal/api/middleware"
	"github.com/go4it/marketplace/internal/api/request"
	"github.com/go4it/marketplace/internal/api/response"
	"github.com/go4it/marketplace/internal/core"
)

// Draft serves the caller's own draft previews.
type Draft struct {
	svc *core.DraftService
}

func NewDraft(svc *core.DraftService) *Draft {
	return &Draft{svc: svc}
}

func (h *Draft) Deploy(w http.ResponseWriter, r *http.Request) {
	var req request.DeployDraft
	if err := request.Decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	handle, err := h.svc.DeployDraft(r.Context(), mw.GetUserID(r.Context()), req.GeneratedAppID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusAccepted, handle)
}

func (h *Draft) List(w http.ResponseWriter, r *http.Request) {
	drafts, err := h.svc.ListDrafts(r.Context(), mw.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteList(w, drafts)
}

func (h *Draft) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "generatedAppID"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	handle, err := h.svc.GetDraft(r.Context(), mw.GetUserID(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, handle)
}
