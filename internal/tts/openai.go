package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
)

// Backend turns one line of text into encoded audio.
type Backend interface {
	Speak(ctx context.Context, voice, text string) ([]byte, error)
}

// OpenAISpeech calls the OpenAI audio speech endpoint.
type OpenAISpeech struct {
	client       openai.Client
	model        string
	instructions string
}

// NewOpenAISpeech creates a speech backend. An empty baseURL uses the public API.
func NewOpenAISpeech(apiKey, baseURL, model string, timeout time.Duration) *OpenAISpeech {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(2)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &OpenAISpeech{
		client:       openai.NewClient(opts...),
		model:        model,
		instructions: "Speak naturally, like a podcast conversation in Traditional Chinese.",
	}
}

func (o *OpenAISpeech) Speak(ctx context.Context, voice, text string) ([]byte, error) {
	params := openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(o.model),
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	}
	if o.instructions != "" {
		params.Instructions = openai.String(o.instructions)
	}
	resp, err := o.client.Audio.Speech.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &core.StatusError{Status: apiErr.StatusCode, Body: apiErr.Error()}
		}
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Body.Close()
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech body: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("openai speech returned no audio")
	}
	return audio, nil
}
