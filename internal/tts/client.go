package tts

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/lexiqai/live-translator/internal/backend"
)

const speechService = "tts"

// ErrEmptyText is returned when there is nothing to speak
var ErrEmptyText = errors.New("nothing to synthesize")

// BackendSynthesizer calls the backend's /tts endpoint
type BackendSynthesizer struct {
	client *backend.Client
}

// NewBackendSynthesizer creates a synthesizer backed by the backend service
func NewBackendSynthesizer(client *backend.Client) *BackendSynthesizer {
	return &BackendSynthesizer{client: client}
}

// Synthesize implements Synthesizer. An empty voice uses DefaultVoice.
func (s *BackendSynthesizer) Synthesize(ctx context.Context, text, voice string) (*Speech, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if voice == "" {
		voice = DefaultVoice
	}

	resp, err := s.client.PostForm(ctx, speechService, "/tts", url.Values{
		"text":  {text},
		"voice": {voice},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return nil, &backend.ServiceError{
			Service:    speechService,
			StatusCode: resp.StatusCode,
			Err:        errors.New("empty audio response"),
		}
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	return &Speech{
		Audio:       resp.Body,
		ContentType: contentType,
		Voice:       voice,
	}, nil
}
