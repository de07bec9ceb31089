package stt

import (
	"context"
	"fmt"

	"github.com/lexiqai/live-translator/internal/audio"
	"github.com/lexiqai/live-translator/internal/backend"
)

const transcriptionService = "transcription"

// BatchClient transcribes a finished recording in one request
type BatchClient struct {
	client *backend.Client
}

// NewBatchClient creates a one-shot transcription client
func NewBatchClient(client *backend.Client) *BatchClient {
	return &BatchClient{client: client}
}

// Transcribe uploads the recording as WAV. An empty lang lets the
// recognizer detect the language.
func (b *BatchClient) Transcribe(ctx context.Context, rec *audio.Recording, lang string) (Message, error) {
	wav, err := rec.WAV()
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode recording: %w", err)
	}

	fields := map[string]string{}
	if lang != "" {
		fields["lang"] = lang
	}

	resp, err := b.client.PostMultipart(ctx, transcriptionService, "/transcribe", fields, backend.File{
		Field:       "file",
		Name:        "recording.wav",
		ContentType: "audio/wav",
		Data:        wav,
	})
	if err != nil {
		return Message{}, err
	}

	msg, err := ParseMessage(resp.Body)
	if err != nil {
		return Message{}, &backend.ServiceError{Service: transcriptionService, StatusCode: resp.StatusCode, Err: err}
	}
	if msg.Error != "" {
		return Message{}, &backend.ServiceError{
			Service:    transcriptionService,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: %s", ErrRemote, msg.Error),
		}
	}
	return msg, nil
}
