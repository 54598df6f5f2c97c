package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mohammad-safakhou/podcaster/internal/agent/pipeline"
	"github.com/mohammad-safakhou/podcaster/internal/runtime"
	"github.com/mohammad-safakhou/podcaster/tools/vector_store/models"
)

// ScopeReferencesWrite is required to delete references when auth is enabled.
const ScopeReferencesWrite = "references:write"

// ReferenceLibrary summarizes PDFs into the retrieval index and manages
// what it holds.
type ReferenceLibrary interface {
	AddReference(ctx context.Context, in pipeline.ReferenceInput) (models.IngestResult, error)
	References(ctx context.Context) ([]models.Reference, error)
	RemoveReference(ctx context.Context, source string) (int, error)
}

// ReferencesHandler serves the reference library. Uploaded PDFs are kept
// under <upload dir>/references so they can be downloaded again.
type ReferencesHandler struct {
	Library           ReferenceLibrary
	MaxUploadBytes    int64
	UploadDir         string
	RequireWriteScope bool
}

func (h *ReferencesHandler) Register(g *echo.Group) {
	g.POST("/upload/pdf", h.upload, middleware.BodyLimit(bodyLimit(h.MaxUploadBytes)))
	g.GET("/references", h.list)
	if h.RequireWriteScope {
		g.DELETE("/references/:name", h.delete, runtime.RequireScopes(ScopeReferencesWrite))
	} else {
		g.DELETE("/references/:name", h.delete)
	}
	g.GET("/reference/:name/pdf", h.download)
}

type referenceItem struct {
	models.Reference
	PDF string `json:"pdf,omitempty"`
}

type uploadResponse struct {
	Name     string `json:"name"`
	Title    string `json:"title"`
	Chunks   int    `json:"chunks"`
	Embedded int    `json:"embedded"`
	PDF      string `json:"pdf"`
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// referenceName reduces an uploaded filename to a safe library key.
func referenceName(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	name := strings.Trim(unsafeNameChars.ReplaceAllString(base, "_"), "._")
	if name == "" || strings.EqualFold(name, "pdf") {
		return ""
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		name += ".pdf"
	}
	return name
}

func (h *ReferencesHandler) dir() string {
	dir := h.UploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "references")
}

// pdfPath resolves a name from the URL; names that would not survive
// referenceName unchanged are rejected.
func (h *ReferencesHandler) pdfPath(name string) (string, error) {
	if name == "" || referenceName(name) != name {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid reference name")
	}
	return filepath.Join(h.dir(), name), nil
}

// upload stores the PDF, replaces any earlier reference of the same name
// and indexes the three-pass summary. No script is generated.
func (h *ReferencesHandler) upload(c echo.Context) error {
	if h.Library == nil {
		return unavailable("reference library")
	}
	fh, err := c.FormFile("pdf_file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "pdf_file is required")
	}
	name := referenceName(fh.Filename)
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "pdf_file needs a usable filename")
	}
	tmp, err := saveUpload(fh, h.dir(), h.MaxUploadBytes)
	if err != nil {
		return err
	}
	path := filepath.Join(h.dir(), name)
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("keep reference pdf: %w", err)
	}

	ctx := c.Request().Context()
	if _, err := h.Library.RemoveReference(ctx, name); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	title := strings.TrimSpace(c.FormValue("title"))
	res, err := h.Library.AddReference(ctx, pipeline.ReferenceInput{Path: path, Name: name, Title: title})
	if err != nil {
		os.Remove(path)
		if errors.Is(err, pipeline.ErrNoLibrary) {
			return unavailable("reference library")
		}
		return pipelineError(err)
	}
	if title == "" {
		title = strings.TrimSuffix(name, filepath.Ext(name))
	}
	return c.JSON(http.StatusCreated, uploadResponse{
		Name:     name,
		Title:    title,
		Chunks:   res.Chunks,
		Embedded: res.Embedded,
		PDF:      "/api/reference/" + name + "/pdf",
	})
}

func (h *ReferencesHandler) list(c echo.Context) error {
	if h.Library == nil {
		return unavailable("reference library")
	}
	refs, err := h.Library.References(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	items := make([]referenceItem, 0, len(refs))
	for _, ref := range refs {
		item := referenceItem{Reference: ref}
		if path, err := h.pdfPath(ref.Source); err == nil {
			if _, err := os.Stat(path); err == nil {
				item.PDF = "/api/reference/" + ref.Source + "/pdf"
			}
		}
		items = append(items, item)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": items})
}

func (h *ReferencesHandler) delete(c echo.Context) error {
	if h.Library == nil {
		return unavailable("reference library")
	}
	name := c.Param("name")
	path, err := h.pdfPath(name)
	if err != nil {
		return err
	}
	n, err := h.Library.RemoveReference(c.Request().Context(), name)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	removedFile := os.Remove(path) == nil
	if n == 0 && !removedFile {
		return echo.NewHTTPError(http.StatusNotFound, "reference not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ReferencesHandler) download(c echo.Context) error {
	path, err := h.pdfPath(c.Param("name"))
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return echo.NewHTTPError(http.StatusNotFound, "reference pdf not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer f.Close()
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", filepath.Base(path)))
	return c.Stream(http.StatusOK, "application/pdf", f)
}
