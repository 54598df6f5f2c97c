package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/internal/agent/pipeline"
)

// pipelineError maps a pipeline failure to an HTTP error carrying the stage.
func pipelineError(err error) error {
	body := map[string]interface{}{"error": err.Error()}
	var se *core.StageError
	if errors.As(err, &se) {
		body["stage"] = se.Stage
	}
	var sre *core.SourceReadError
	switch {
	case errors.Is(err, pipeline.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, body)
	case errors.As(err, &sre):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, body)
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, body)
	case se != nil:
		return echo.NewHTTPError(http.StatusBadGateway, body)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, body)
	}
}

func unavailable(what string) error {
	return echo.NewHTTPError(http.StatusServiceUnavailable, what+" not configured")
}
