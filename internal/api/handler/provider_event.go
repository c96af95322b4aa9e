package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/go4it/marketplace/internal/api/request"
	"github.com/go4it/marketplace/internal/api/response"
	"github.com/go4it/marketplace/internal/core"
	"github.com/go4it/marketplace/internal/model"
)

// ProviderEvent receives deployment milestones pushed by the compute provider.
type ProviderEvent struct {
	orch *core.Orchestrator
}

func NewProviderEvent(orch *core.Orchestrator) *ProviderEvent {
	return &ProviderEvent{orch: orch}
}

// Receive answers 202 for stale events too, otherwise the provider would keep
// redelivering milestones of superseded attempts.
func (h *ProviderEvent) Receive(w http.ResponseWriter, r *http.Request) {
	var ev model.ProviderEvent
	if err := request.Decode(r, &ev); err != nil {
		writeBadRequest(w, err)
		return
	}
	applied, err := h.orch.HandleProgress(r.Context(), ev)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	zerolog.Ctx(r.Context()).Debug().Str("org_id", ev.OrgID).Str("app_id", ev.AppID).
		Int64("attempt_id", ev.AttemptID).Str("stage", ev.Stage).Bool("applied", applied).
		Msg("provider event")
	response.WriteJSON(w, http.StatusAccepted, map[string]bool{"applied": applied})
}
