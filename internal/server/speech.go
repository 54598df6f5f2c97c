package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/internal/tts"
)

// SpeechHandler turns scripts into audio.
type SpeechHandler struct {
	Speech   Speech
	Store    ScriptStore
	AudioDir string
}

func (h *SpeechHandler) Register(g *echo.Group) {
	g.POST("/synthesize", h.synthesize)
	g.POST("/synthesize/stream", h.synthesizeStream)
	g.GET("/voices", h.voices)
}

// synthesizeRequest names a stored script or carries the dialogue inline.
type synthesizeRequest struct {
	ScriptID   string       `json:"script_id"`
	Dialogue   []inlineLine `json:"dialogue"`
	HostVoice  string       `json:"host_voice"`
	GuestVoice string       `json:"guest_voice"`
}

// inlineLine keeps role as text so a missing role is told apart from host.
type inlineLine struct {
	Role    string `json:"role"`
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

func (l inlineLine) dialogueLine(i int) (core.DialogueLine, error) {
	if strings.TrimSpace(l.Role) == "" {
		return core.DialogueLine{}, fmt.Errorf("dialogue[%d]: role is required", i)
	}
	var sp core.Speaker
	if err := sp.UnmarshalText([]byte(l.Role)); err != nil {
		return core.DialogueLine{}, fmt.Errorf("dialogue[%d]: role must be host or guest", i)
	}
	return core.DialogueLine{Speaker: sp, Name: l.Speaker, Text: l.Content}, nil
}

type audioLine struct {
	core.DialogueLine
	AudioFile string `json:"audio_file,omitempty"`
}

type synthesizeResponse struct {
	ScriptID  string      `json:"script_id,omitempty"`
	Dialogue  []audioLine `json:"dialogue"`
	FullAudio string      `json:"full_audio"`
	Voices    tts.Voices  `json:"voices"`
}

// prepare resolves the script and the voice assignment of a request.
func (h *SpeechHandler) prepare(c echo.Context) (synthesizeRequest, *core.ScriptResult, tts.Voices, error) {
	var req synthesizeRequest
	if h.Speech == nil {
		return req, nil, tts.Voices{}, unavailable("speech synthesis")
	}
	if err := c.Bind(&req); err != nil {
		return req, nil, tts.Voices{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	script := &core.ScriptResult{ID: "adhoc-" + uuid.NewString()}
	for i, l := range req.Dialogue {
		line, err := l.dialogueLine(i)
		if err != nil {
			return req, nil, tts.Voices{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		script.Dialogue = append(script.Dialogue, line)
	}
	if req.ScriptID != "" {
		if h.Store == nil {
			return req, nil, tts.Voices{}, unavailable("script store")
		}
		res, ok, err := h.Store.GetScript(c.Request().Context(), req.ScriptID)
		if err != nil {
			return req, nil, tts.Voices{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if !ok {
			return req, nil, tts.Voices{}, echo.NewHTTPError(http.StatusNotFound, "script not found")
		}
		script = &res
	}
	if len(script.Dialogue) == 0 {
		return req, nil, tts.Voices{}, echo.NewHTTPError(http.StatusBadRequest, "script_id or dialogue is required")
	}

	voices, err := tts.Voices{Host: req.HostVoice, Guest: req.GuestVoice}.Merge(h.Speech.Defaults())
	if err != nil {
		return req, nil, tts.Voices{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return req, script, voices, nil
}

func (h *SpeechHandler) synthesize(c echo.Context) error {
	req, script, voices, err := h.prepare(c)
	if err != nil {
		return err
	}
	out, err := h.Speech.Synthesize(c.Request().Context(), script, voices)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	files := make(map[int]string, len(out.Lines))
	for _, l := range out.Lines {
		files[l.Index] = h.audioURL(l.Path)
	}
	resp := synthesizeResponse{ScriptID: req.ScriptID, FullAudio: h.audioURL(out.Merged), Voices: voices}
	for i, line := range script.Dialogue {
		resp.Dialogue = append(resp.Dialogue, audioLine{DialogueLine: line, AudioFile: files[i]})
	}
	return c.JSON(http.StatusOK, resp)
}

// streamedLine is one NDJSON record of /synthesize/stream.
type streamedLine struct {
	Index int `json:"index"`
	audioLine
}

type streamDone struct {
	Done      bool       `json:"done"`
	ScriptID  string     `json:"script_id,omitempty"`
	FullAudio string     `json:"full_audio"`
	Voices    tts.Voices `json:"voices"`
}

// synthesizeStream answers with newline-delimited JSON: one record per line
// as its audio is written, then a done record with the merged episode.
// Failures after the first byte arrive as an {"error": ...} record.
func (h *SpeechHandler) synthesizeStream(c echo.Context) error {
	req, script, voices, err := h.prepare(c)
	if err != nil {
		return err
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	res.Header().Set("Cache-Control", "no-cache")
	res.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(res)

	out, err := h.Speech.Stream(c.Request().Context(), script, voices, func(l tts.LineAudio) error {
		rec := streamedLine{Index: l.Index, audioLine: audioLine{DialogueLine: script.Dialogue[l.Index], AudioFile: h.audioURL(l.Path)}}
		if err := enc.Encode(rec); err != nil {
			return err
		}
		res.Flush()
		return nil
	})
	if err != nil {
		_ = enc.Encode(map[string]string{"error": err.Error()})
		res.Flush()
		return nil
	}
	if err := enc.Encode(streamDone{Done: true, ScriptID: req.ScriptID, FullAudio: h.audioURL(out.Merged), Voices: voices}); err != nil {
		return err
	}
	res.Flush()
	return nil
}

// audioURL maps a file under the audio dir to its /audio route.
func (h *SpeechHandler) audioURL(path string) string {
	if h.AudioDir == "" || path == "" {
		return path
	}
	rel, err := filepath.Rel(h.AudioDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return "/audio/" + filepath.ToSlash(rel)
}

func (h *SpeechHandler) voices(c echo.Context) error {
	resp := map[string]interface{}{"voices": tts.Catalogue}
	if h.Speech != nil {
		resp["defaults"] = h.Speech.Defaults()
	}
	return c.JSON(http.StatusOK, resp)
}
