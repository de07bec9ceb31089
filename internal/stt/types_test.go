package stt

import (
	"errors"
	"testing"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantText   *string
		wantLang   *string
		wantConf   *float64
		wantRemote string
	}{
		{
			name:     "text only",
			payload:  `{"text":"hello"}`,
			wantText: strPtr("hello"),
		},
		{
			name:     "transcript preferred over text",
			payload:  `{"transcript":"full","text":"partial"}`,
			wantText: strPtr("full"),
		},
		{
			name:     "empty transcript falls back to text",
			payload:  `{"transcript":"","text":"partial"}`,
			wantText: strPtr("partial"),
		},
		{
			name:     "empty transcript alone",
			payload:  `{"transcript":""}`,
			wantText: strPtr(""),
		},
		{
			name:     "full metadata",
			payload:  `{"text":"namaste","detected_lang":"hi","confidence":0.92,"extra":[1,2]}`,
			wantText: strPtr("namaste"),
			wantLang: strPtr("hi"),
			wantConf: floatPtr(0.92),
		},
		{
			name:     "metadata without text",
			payload:  `{"detected_lang":"en"}`,
			wantLang: strPtr("en"),
		},
		{
			name:       "server error",
			payload:    `{"error":"decoder crashed"}`,
			wantRemote: "decoder crashed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tt.payload))
			if err != nil {
				t.Fatalf("ParseMessage failed: %v", err)
			}
			if !equalStr(msg.Text, tt.wantText) {
				t.Errorf("Text: expected %v, got %v", deref(tt.wantText), deref(msg.Text))
			}
			if !equalStr(msg.DetectedLanguage, tt.wantLang) {
				t.Errorf("DetectedLanguage: expected %v, got %v", deref(tt.wantLang), deref(msg.DetectedLanguage))
			}
			if (msg.Confidence == nil) != (tt.wantConf == nil) || (msg.Confidence != nil && *msg.Confidence != *tt.wantConf) {
				t.Errorf("Confidence: expected %v, got %v", tt.wantConf, msg.Confidence)
			}
			if msg.Error != tt.wantRemote {
				t.Errorf("Error: expected %q, got %q", tt.wantRemote, msg.Error)
			}
		})
	}
}

func TestParseMessage_Malformed(t *testing.T) {
	for _, payload := range []string{"", "not json", "null", "[1,2,3]", `"text"`, `{"text":`, `{"text":42}`} {
		if _, err := ParseMessage([]byte(payload)); !errors.Is(err, ErrMalformedMessage) {
			t.Errorf("ParseMessage(%q): expected ErrMalformedMessage, got %v", payload, err)
		}
	}
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func equalStr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func deref(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}
