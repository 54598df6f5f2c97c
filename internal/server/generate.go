package server

import (
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/internal/agent/pipeline"
)

const arxivAbsPrefix = "https://arxiv.org/abs/"

// GenerateHandler runs the pipelines synchronously and returns the script.
type GenerateHandler struct {
	Pipelines      Pipelines
	Store          ScriptStore // optional; generated scripts are saved when set
	MaxUploadBytes int64
	UploadDir      string
	Logger         *log.Logger
}

func (h *GenerateHandler) Register(g *echo.Group) {
	g.POST("/prompt", h.prompt)
	g.POST("/pdf", h.pdf, middleware.BodyLimit(bodyLimit(h.MaxUploadBytes)))
	g.POST("/arxiv", h.arxiv)
}

type speakerFields struct {
	HostName        string `json:"host_name" form:"host_name"`
	HostBackground  string `json:"host_background" form:"host_background"`
	GuestName       string `json:"guest_name" form:"guest_name"`
	GuestBackground string `json:"guest_background" form:"guest_background"`
}

func (s speakerFields) speakers() pipeline.Speakers {
	return pipeline.Speakers{
		Host:  core.Identity{Name: strings.TrimSpace(s.HostName), Background: strings.TrimSpace(s.HostBackground)},
		Guest: core.Identity{Name: strings.TrimSpace(s.GuestName), Background: strings.TrimSpace(s.GuestBackground)},
	}
}

type promptRequest struct {
	Topic       string `json:"topic"`
	Instruction string `json:"instruction"`
	MaxAnalysts int    `json:"max_analysts"`
	Feedback    string `json:"human_analyst_feedback"`
	speakerFields
}

type arxivRequest struct {
	ArxivURL    string `json:"arxiv_url"`
	Instruction string `json:"instruction"`
	speakerFields
}

func (h *GenerateHandler) prompt(c echo.Context) error {
	var req promptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Topic) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic is required")
	}
	if req.MaxAnalysts < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "max_analysts cannot be negative")
	}
	res, err := h.Pipelines.FromPrompt(c.Request().Context(), pipeline.PromptInput{
		Topic:       req.Topic,
		Instruction: req.Instruction,
		MaxAnalysts: req.MaxAnalysts,
		Feedback:    req.Feedback,
		Speakers:    req.speakers(),
	})
	return h.respond(c, res, err)
}

func (h *GenerateHandler) pdf(c echo.Context) error {
	var fields speakerFields
	if err := c.Bind(&fields); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	fh, err := c.FormFile("pdf_file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "pdf_file is required")
	}
	path, err := saveUpload(fh, h.UploadDir, h.MaxUploadBytes)
	if err != nil {
		return err
	}
	defer os.Remove(path)

	res, err := h.Pipelines.FromPDF(c.Request().Context(), pipeline.PDFInput{
		Path:        path,
		Instruction: c.FormValue("instruction"),
		Speakers:    fields.speakers(),
	})
	if res != nil {
		res.Reference = fh.Filename
	}
	return h.respond(c, res, err)
}

func (h *GenerateHandler) arxiv(c echo.Context) error {
	var req arxivRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !strings.HasPrefix(strings.TrimSpace(req.ArxivURL), arxivAbsPrefix) {
		return echo.NewHTTPError(http.StatusBadRequest, "arxiv_url must start with "+arxivAbsPrefix)
	}
	res, err := h.Pipelines.FromArxiv(c.Request().Context(), pipeline.ArxivInput{
		URL:         strings.TrimSpace(req.ArxivURL),
		Instruction: req.Instruction,
		Speakers:    req.speakers(),
	})
	return h.respond(c, res, err)
}

func (h *GenerateHandler) respond(c echo.Context, res *core.ScriptResult, err error) error {
	if err != nil {
		return pipelineError(err)
	}
	if h.Store != nil {
		if err := h.Store.SaveScript(c.Request().Context(), res); err != nil {
			if h.Logger != nil {
				h.Logger.Printf("save script %s: %v", res.ID, err)
			}
		}
	}
	return c.JSON(http.StatusOK, res)
}

func bodyLimit(max int64) string {
	if max <= 0 {
		max = 10 * 1024 * 1024
	}
	// room for multipart framing and form fields
	return fmt.Sprintf("%dB", max+64*1024)
}

// saveUpload copies an uploaded PDF into dir and returns its path.
func saveUpload(fh *multipart.FileHeader, dir string, max int64) (string, error) {
	if !strings.EqualFold(filepath.Ext(fh.Filename), ".pdf") {
		return "", echo.NewHTTPError(http.StatusBadRequest, "only .pdf uploads are accepted")
	}
	if max > 0 && fh.Size > max {
		return "", echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("pdf exceeds %d bytes", max))
	}
	src, err := fh.Open()
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()

	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	dst, err := os.CreateTemp(dir, "upload-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("store upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}
