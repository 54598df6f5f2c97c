package server

import (
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/internal/helpers"
	"github.com/mohammad-safakhou/podcaster/internal/runtime"
	"github.com/mohammad-safakhou/podcaster/internal/store"
)

// ScopeScriptsWrite is required to delete scripts when auth is enabled.
const ScopeScriptsWrite = "scripts:write"

// ScriptsHandler exposes stored scripts.
type ScriptsHandler struct {
	Store             ScriptStore
	RequireWriteScope bool
}

func (h *ScriptsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.GET("/:id/report.html", h.report)
	if h.RequireWriteScope {
		g.DELETE("/:id", h.delete, runtime.RequireScopes(ScopeScriptsWrite))
	} else {
		g.DELETE("/:id", h.delete)
	}
}

func (h *ScriptsHandler) list(c echo.Context) error {
	if h.Store == nil {
		return unavailable("script store")
	}
	filter := store.ScriptFilter{Source: core.SourceKind(strings.ToLower(c.QueryParam("source")))}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		filter.Limit = n
	}
	if v := c.QueryParam("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "before must be RFC3339")
		}
		filter.Before = t
	}
	switch filter.Source {
	case "", core.SourcePrompt, core.SourcePDF, core.SourceArxiv:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "source must be prompt, pdf or arxiv")
	}
	items, err := h.Store.ListScripts(c.Request().Context(), filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []store.ScriptSummary{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": items})
}

func (h *ScriptsHandler) load(c echo.Context) (core.ScriptResult, error) {
	if h.Store == nil {
		return core.ScriptResult{}, unavailable("script store")
	}
	res, ok, err := h.Store.GetScript(c.Request().Context(), c.Param("id"))
	if err != nil {
		return res, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return res, echo.NewHTTPError(http.StatusNotFound, "script not found")
	}
	return res, nil
}

func (h *ScriptsHandler) get(c echo.Context) error {
	res, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// report renders the research report or summary behind a script, followed by
// the dialogue, as sanitized HTML.
func (h *ScriptsHandler) report(c echo.Context) error {
	res, err := h.load(c)
	if err != nil {
		return err
	}
	body, err := helpers.RenderMarkdownHTML(scriptMarkdown(res))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	page := fmt.Sprintf("<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>%s</title></head>\n<body>\n%s</body>\n</html>\n",
		html.EscapeString(res.Title), body)
	return c.HTML(http.StatusOK, page)
}

func (h *ScriptsHandler) delete(c echo.Context) error {
	if h.Store == nil {
		return unavailable("script store")
	}
	if err := h.Store.DeleteScript(c.Request().Context(), c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "script not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func scriptMarkdown(res core.ScriptResult) string {
	var b strings.Builder
	title := res.Title
	if title == "" {
		title = res.Reference
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	if strings.TrimSpace(res.Report) != "" {
		b.WriteString(res.Report)
		b.WriteString("\n\n")
	}
	if len(res.Dialogue) > 0 {
		b.WriteString("## Script\n\n")
		for _, line := range res.Dialogue {
			fmt.Fprintf(&b, "**%s**: %s\n\n", line.Name, line.Text)
		}
	}
	return b.String()
}
