package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mohammad-safakhou/podcaster/config"
	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/internal/agent/pipeline"
	"github.com/mohammad-safakhou/podcaster/internal/queue/streams"
	"github.com/mohammad-safakhou/podcaster/internal/runtime"
	"github.com/mohammad-safakhou/podcaster/internal/store"
	"github.com/mohammad-safakhou/podcaster/internal/tts"
)

// Pipelines runs script generation.
type Pipelines interface {
	FromPrompt(ctx context.Context, in pipeline.PromptInput) (*core.ScriptResult, error)
	FromPDF(ctx context.Context, in pipeline.PDFInput) (*core.ScriptResult, error)
	FromArxiv(ctx context.Context, in pipeline.ArxivInput) (*core.ScriptResult, error)
}

// ScriptStore persists scripts and async jobs.
type ScriptStore interface {
	SaveScript(ctx context.Context, res *core.ScriptResult) error
	GetScript(ctx context.Context, id string) (core.ScriptResult, bool, error)
	ListScripts(ctx context.Context, filter store.ScriptFilter) ([]store.ScriptSummary, error)
	DeleteScript(ctx context.Context, id string) error
	SaveJob(ctx context.Context, job store.JobRecord) error
	GetJob(ctx context.Context, id string) (store.JobRecord, bool, error)
}

// JobQueue enqueues async generation requests.
type JobQueue interface {
	Enqueue(ctx context.Context, job streams.JobRequestedPayload) (string, error)
}

// Speech synthesizes scripts to audio.
type Speech interface {
	Synthesize(ctx context.Context, script *core.ScriptResult, voices tts.Voices) (tts.Result, error)
	Stream(ctx context.Context, script *core.ScriptResult, voices tts.Voices, emit func(tts.LineAudio) error) (tts.Result, error)
	Defaults() tts.Voices
}

// Deps are the collaborators behind the HTTP API. Store, Jobs, Speech and
// Library are optional; their routes answer 503 when unset.
type Deps struct {
	Pipelines Pipelines
	Store     ScriptStore
	Jobs      JobQueue
	Speech    Speech
	Library   ReferenceLibrary
	AudioDir  string
	Metrics   http.Handler
	JWTSecret []byte
	Logger    *log.Logger
}

// New builds the echo instance with every route registered.
func New(cfg config.ServerConfig, deps Deps) *echo.Echo {
	cfg = cfg.Normalize()
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		body := map[string]interface{}{"error": err.Error()}
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			switch m := he.Message.(type) {
			case map[string]interface{}:
				body = m
			case nil:
				body["error"] = http.StatusText(code)
			default:
				body["error"] = fmt.Sprint(m)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			if req.Method == http.MethodHead {
				_ = c.NoContent(code)
				return
			}
			_ = c.JSON(code, body)
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics))
	}
	registerDocs(e)
	if deps.AudioDir != "" {
		e.Static("/audio", deps.AudioDir)
	}

	api := e.Group("/api")
	if len(deps.JWTSecret) > 0 {
		api.Use(runtime.EchoAuthMiddleware(deps.JWTSecret))
	}

	gen := &GenerateHandler{Pipelines: deps.Pipelines, Store: deps.Store, MaxUploadBytes: cfg.MaxUploadBytes, UploadDir: cfg.UploadDir, Logger: logger}
	gen.Register(api.Group("/generate/script"))

	scripts := &ScriptsHandler{Store: deps.Store, RequireWriteScope: len(deps.JWTSecret) > 0}
	scripts.Register(api.Group("/scripts"))

	jobs := &JobsHandler{Store: deps.Store, Jobs: deps.Jobs, MaxUploadBytes: cfg.MaxUploadBytes, UploadDir: cfg.UploadDir}
	jobs.Register(api.Group("/jobs"))

	refs := &ReferencesHandler{Library: deps.Library, MaxUploadBytes: cfg.MaxUploadBytes, UploadDir: cfg.UploadDir, RequireWriteScope: len(deps.JWTSecret) > 0}
	refs.Register(api)

	speech := &SpeechHandler{Speech: deps.Speech, Store: deps.Store, AudioDir: deps.AudioDir}
	speech.Register(api)

	return e
}

// Run serves the API built from app until ctx is cancelled.
func Run(ctx context.Context, app *runtime.App, metrics http.Handler) error {
	cfg := app.Config
	deps := Deps{Pipelines: app.Pipelines, Metrics: metrics}
	if app.Store != nil {
		deps.Store = app.Store
	}
	if app.Jobs != nil && app.Store != nil {
		deps.Jobs = app.Jobs
	}
	if app.Speech != nil {
		deps.Speech = app.Speech
		deps.AudioDir = cfg.TTS.Normalize().OutputDir
	}
	if app.Library != nil {
		deps.Library = app.Library
	}
	if secret, ok := runtime.LoadJWTSecret(cfg); ok {
		deps.JWTSecret = secret
	}
	e := New(cfg.Server, deps)

	addr := cfg.Server.Normalize().Address
	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
