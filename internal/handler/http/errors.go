package http

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/windfall/langodyssey/internal/errors"
	"github.com/windfall/langodyssey/pkg/response"
)

// writeError renders AppErrors with their own status; anything else is
// logged and reported as an opaque 500.
func writeError(log zerolog.Logger, w http.ResponseWriter, err error) {
	if appErr, ok := errors.As(err); ok {
		if appErr.HTTPStatus() >= http.StatusInternalServerError {
			log.Error().Err(err).Str("code", string(appErr.Code)).Msg("Request failed")
		}
		response.AppError(w, appErr)
		return
	}
	log.Error().Err(err).Msg("Internal server error")
	response.InternalError(w, "internal server error")
}
