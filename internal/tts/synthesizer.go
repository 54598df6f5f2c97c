package tts

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/podcaster/config"
	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
)

var tracer = otel.Tracer("podcaster/internal/tts")

const mergedFile = "podcast.mp3"

// LineAudio is the synthesized audio of one dialogue line.
type LineAudio struct {
	Index   int          `json:"index"`
	Speaker core.Speaker `json:"role"`
	Voice   string       `json:"voice"`
	Path    string       `json:"path"`
}

// Result lists per-line files and the merged episode.
type Result struct {
	Dir    string      `json:"dir"`
	Lines  []LineAudio `json:"lines"`
	Merged string      `json:"merged"`
}

// Synthesizer renders a script to audio files.
type Synthesizer struct {
	backend     Backend
	outputDir   string
	defaults    Voices
	concurrency int
	logger      *log.Logger
}

// New builds a Synthesizer from configuration.
func New(cfg config.TTSConfig, backend Backend, logger *log.Logger) *Synthesizer {
	cfg = cfg.Normalize()
	if logger == nil {
		logger = log.New(log.Writer(), "[TTS] ", log.LstdFlags)
	}
	return &Synthesizer{
		backend:     backend,
		outputDir:   cfg.OutputDir,
		defaults:    Voices{Host: cfg.HostVoice, Guest: cfg.GuestVoice},
		concurrency: 4,
		logger:      logger,
	}
}

// Defaults returns the configured voice assignment.
func (s *Synthesizer) Defaults() Voices { return s.defaults }

// Synthesize writes one file per line into <output_dir>/<script id>/ and a
// merged episode made by concatenating the MP3 streams in dialogue order.
// Voices are picked from each line's speaker role.
func (s *Synthesizer) Synthesize(ctx context.Context, script *core.ScriptResult, voices Voices) (Result, error) {
	return s.Stream(ctx, script, voices, nil)
}

// Stream is Synthesize with emit called once per written line, in
// completion order and never concurrently. An emit error aborts the run.
func (s *Synthesizer) Stream(ctx context.Context, script *core.ScriptResult, voices Voices, emit func(LineAudio) error) (Result, error) {
	ctx, span := tracer.Start(ctx, "tts.synthesize")
	defer span.End()

	if script == nil || len(script.Dialogue) == 0 {
		return Result{}, fmt.Errorf("script has no dialogue")
	}
	voices, err := voices.Merge(s.defaults)
	if err != nil {
		return Result{}, err
	}
	id := script.ID
	if id == "" {
		id = "script"
	}
	dir := filepath.Join(s.outputDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create audio dir: %w", err)
	}
	span.SetAttributes(attribute.String("script.id", id), attribute.Int("script.lines", len(script.Dialogue)))

	lines := make([]LineAudio, len(script.Dialogue))
	clips := make([][]byte, len(script.Dialogue))
	var emitMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, line := range script.Dialogue {
		i, line := i, line
		voice := voices.Guest
		if line.Speaker == core.SpeakerHost {
			voice = voices.Host
		}
		g.Go(func() error {
			text := strings.TrimSpace(line.Text)
			if text == "" {
				return nil
			}
			audio, err := s.backend.Speak(gctx, voice, text)
			if err != nil {
				return fmt.Errorf("line %d: %w", i, err)
			}
			path := filepath.Join(dir, fmt.Sprintf("line_%03d_%s.mp3", i, line.Speaker))
			if err := os.WriteFile(path, audio, 0o644); err != nil {
				return fmt.Errorf("write line %d: %w", i, err)
			}
			lines[i] = LineAudio{Index: i, Speaker: line.Speaker, Voice: voice, Path: path}
			clips[i] = audio
			if emit == nil {
				return nil
			}
			emitMu.Lock()
			defer emitMu.Unlock()
			return emit(lines[i])
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	res := Result{Dir: dir}
	var merged bytes.Buffer
	for i := range lines {
		if clips[i] == nil {
			continue
		}
		res.Lines = append(res.Lines, lines[i])
		merged.Write(clips[i])
	}
	res.Merged = filepath.Join(dir, mergedFile)
	if err := os.WriteFile(res.Merged, merged.Bytes(), 0o644); err != nil {
		return Result{}, fmt.Errorf("write merged audio: %w", err)
	}
	s.logger.Printf("synthesized %d lines for %s into %s", len(res.Lines), id, res.Merged)
	return res, nil
}
