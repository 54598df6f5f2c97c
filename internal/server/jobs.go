package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/internal/queue/streams"
	"github.com/mohammad-safakhou/podcaster/internal/store"
)

// JobsHandler queues generation requests for the worker.
type JobsHandler struct {
	Store          ScriptStore
	Jobs           JobQueue
	MaxUploadBytes int64
	UploadDir      string
}

func (h *JobsHandler) Register(g *echo.Group) {
	g.POST("", h.create, middleware.BodyLimit(bodyLimit(h.MaxUploadBytes)))
	g.GET("/:id", h.get)
}

type jobRequest struct {
	Source      string `json:"source" form:"source"`
	Reference   string `json:"reference" form:"reference"`
	Instruction string `json:"instruction" form:"instruction"`
	MaxAnalysts int    `json:"max_analysts" form:"max_analysts"`
	speakerFields
}

type jobResponse struct {
	JobID    string `json:"job_id"`
	StreamID string `json:"stream_id"`
	Status   string `json:"status"`
}

// create accepts JSON for prompt and arxiv jobs and multipart (pdf_file)
// for pdf jobs; the upload is kept in the upload dir for the worker.
func (h *JobsHandler) create(c echo.Context) error {
	if h.Jobs == nil || h.Store == nil {
		return unavailable("async jobs")
	}
	var req jobRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Source = strings.ToLower(strings.TrimSpace(req.Source))
	req.Reference = strings.TrimSpace(req.Reference)

	switch core.SourceKind(req.Source) {
	case core.SourcePrompt:
		if req.Reference == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "reference (topic) is required")
		}
	case core.SourceArxiv:
		if !strings.HasPrefix(req.Reference, arxivAbsPrefix) {
			return echo.NewHTTPError(http.StatusBadRequest, "reference must start with "+arxivAbsPrefix)
		}
	case core.SourcePDF:
		fh, err := c.FormFile("pdf_file")
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "pdf jobs require a multipart pdf_file upload")
		}
		path, err := saveUpload(fh, h.UploadDir, h.MaxUploadBytes)
		if err != nil {
			return err
		}
		req.Reference = path
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "source must be prompt, pdf or arxiv")
	}
	if req.MaxAnalysts < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "max_analysts cannot be negative")
	}

	payload := streams.JobRequestedPayload{
		JobID:       uuid.NewString(),
		Source:      req.Source,
		Reference:   req.Reference,
		Instruction: req.Instruction,
		MaxAnalysts: req.MaxAnalysts,
	}
	sp := req.speakers()
	if sp.Host.Name != "" {
		payload.Host = &streams.IdentityPayload{Name: sp.Host.Name, Background: sp.Host.Background}
	}
	if sp.Guest.Name != "" {
		payload.Guest = &streams.IdentityPayload{Name: sp.Guest.Name, Background: sp.Guest.Background}
	}

	ctx := c.Request().Context()
	raw, _ := json.Marshal(payload)
	if err := h.Store.SaveJob(ctx, store.JobRecord{
		ID:        payload.JobID,
		Source:    core.SourceKind(payload.Source),
		Reference: payload.Reference,
		Status:    store.JobStatusQueued,
		Request:   raw,
	}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	streamID, err := h.Jobs.Enqueue(ctx, payload)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusAccepted, jobResponse{JobID: payload.JobID, StreamID: streamID, Status: store.JobStatusQueued})
}

func (h *JobsHandler) get(c echo.Context) error {
	if h.Store == nil {
		return unavailable("async jobs")
	}
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid job id")
	}
	job, ok, err := h.Store.GetJob(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, job)
}
