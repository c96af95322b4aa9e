package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/go4it/marketplace/internal/api/response"
	"github.com/go4it/marketplace/internal/core"
)

// serviceErrors maps error kinds to HTTP statuses and stable codes. The first
// match wins, so kinds that can wrap others come first.
var serviceErrors = []struct {
	kind   error
	status int
	code   string
}{
	{core.ErrAlreadyInProgress, http.StatusConflict, "ALREADY_IN_PROGRESS"},
	{core.ErrAlreadyTaken, http.StatusConflict, "ALREADY_TAKEN"},
	{core.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
	{core.ErrConflict, http.StatusConflict, "CONFLICT"},
	{core.ErrAlreadyExists, http.StatusConflict, "ALREADY_EXISTS"},
	{core.ErrAccessRequired, http.StatusUnprocessableEntity, "ACCESS_REQUIRED"},
	{core.ErrInvalidFormat, http.StatusUnprocessableEntity, "INVALID_FORMAT"},
	{core.ErrInvalidMember, http.StatusUnprocessableEntity, "INVALID_MEMBER"},
	{core.ErrInvalidVersion, http.StatusUnprocessableEntity, "INVALID_VERSION"},
	{core.ErrNotForkable, http.StatusUnprocessableEntity, "NOT_FORKABLE"},
	{core.ErrNotOwner, http.StatusForbidden, "NOT_OWNER"},
	{core.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{core.ErrProviderError, http.StatusBadGateway, "PROVIDER_ERROR"},
	{core.ErrTimeout, http.StatusGatewayTimeout, "TIMEOUT"},
}

// writeServiceError renders a core error as {"error", "code"}. Unknown errors
// are logged and reported as 500 without leaking their text.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, e := range serviceErrors {
		if errors.Is(err, e.kind) {
			if e.status >= http.StatusInternalServerError {
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("upstream failure")
			}
			response.WriteErrorCode(w, e.status, e.code, err.Error())
			return
		}
	}
	zerolog.Ctx(r.Context()).Error().Err(err).Msg("unhandled service error")
	response.WriteErrorCode(w, http.StatusInternalServerError, "INTERNAL", "internal error")
}

func writeBadRequest(w http.ResponseWriter, err error) {
	response.WriteErrorCode(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
}
