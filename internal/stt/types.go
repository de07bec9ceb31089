package stt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultURL is the recognition endpoint used when none is configured.
const DefaultURL = "ws://localhost:8000/ws/transcribe"

var (
	// ErrChannel marks transport-level failures of the recognition channel.
	ErrChannel = errors.New("recognition channel error")

	// ErrMalformedMessage marks an inbound payload that is not a JSON object.
	ErrMalformedMessage = errors.New("malformed transcript message")

	// ErrRemote marks an error reported by the recognizer itself.
	ErrRemote = errors.New("recognizer reported an error")
)

// Message is one recognition result pushed by the server. Absent fields are
// nil so the transcript can tell "not sent" from "sent empty".
type Message struct {
	Text             *string
	DetectedLanguage *string
	Confidence       *float64

	// Error carries the recognizer's own failure report, if any.
	Error string
}

// HasText reports whether the message carries a text field
func (m Message) HasText() bool {
	return m.Text != nil
}

// wireMessage is the JSON shape sent by the recognizer. Unknown fields are
// ignored.
type wireMessage struct {
	Transcript   *string  `json:"transcript"`
	Text         *string  `json:"text"`
	DetectedLang *string  `json:"detected_lang"`
	Confidence   *float64 `json:"confidence"`
	Error        *string  `json:"error"`
}

// ParseMessage decodes one inbound payload. "transcript" takes precedence
// over "text" when both are present and non-empty.
func ParseMessage(data []byte) (Message, error) {
	var w *wireMessage
	if err := json.Unmarshal(bytes.TrimSpace(data), &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if w == nil {
		return Message{}, fmt.Errorf("%w: null payload", ErrMalformedMessage)
	}

	msg := Message{
		DetectedLanguage: w.DetectedLang,
		Confidence:       w.Confidence,
	}

	switch {
	case w.Transcript != nil && *w.Transcript != "":
		msg.Text = w.Transcript
	case w.Text != nil:
		msg.Text = w.Text
	default:
		msg.Text = w.Transcript
	}

	if w.Error != nil {
		msg.Error = *w.Error
	}

	return msg, nil
}

// Inbound is one event read from the recognition channel: either a parsed
// message or an error. Malformed payloads and remote errors do not end the
// stream; an ErrChannel event is always the last one.
type Inbound struct {
	Message Message
	Err     error
}
