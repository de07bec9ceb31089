package translation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lexiqai/live-translator/internal/backend"
)

func TestPickTarget(t *testing.T) {
	tests := []struct {
		name     string
		detected string
		langA    string
		langB    string
		want     string
	}{
		{"source language goes to B", "en", "en", "hi", "hi"},
		{"regional code matches prefix", "en-US", "en", "hi", "hi"},
		{"case insensitive", "EN", "en", "hi", "hi"},
		{"other language goes to A", "hi", "en", "hi", "en"},
		{"unknown language goes to A", "fr", "en", "hi", "en"},
		{"empty detection goes to A", "", "en", "hi", "en"},
		{"defaults", "en", "", "", "hi"},
		{"custom pair", "zh-CN", "zh", "en", "en"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PickTarget(tt.detected, tt.langA, tt.langB); got != tt.want {
				t.Errorf("PickTarget(%q, %q, %q) = %q, want %q", tt.detected, tt.langA, tt.langB, got, tt.want)
			}
		})
	}
}

func TestBackendTranslator_Translate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/translate" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		r.ParseForm()
		if r.PostForm.Get("text") != "good morning" || r.PostForm.Get("target_lang") != "hi" {
			t.Errorf("Unexpected form: %v", r.PostForm)
		}
		w.Write([]byte(`{"translated":"suprabhat"}`))
	}))
	defer server.Close()

	tr := NewBackendTranslator(backend.NewClient(backend.Config{BaseURL: server.URL}))
	got, err := tr.Translate(context.Background(), "good morning", "hi")
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if got != "suprabhat" {
		t.Errorf("Expected 'suprabhat', got %q", got)
	}
}

func TestBackendTranslator_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusBadGateway, `{"detail":"upstream down"}`},
		{"missing field", http.StatusOK, `{"result":"x"}`},
		{"invalid json", http.StatusOK, `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			tr := NewBackendTranslator(backend.NewClient(backend.Config{BaseURL: server.URL}))
			_, err := tr.Translate(context.Background(), "hello", "hi")

			var se *backend.ServiceError
			if !errors.As(err, &se) || se.Service != "translation" {
				t.Fatalf("Expected translation ServiceError, got %v", err)
			}
		})
	}
}

func TestBackendTranslator_EmptyText(t *testing.T) {
	tr := NewBackendTranslator(backend.NewClient(backend.Config{BaseURL: "http://127.0.0.1:1"}))
	if _, err := tr.Translate(context.Background(), "   ", "hi"); !errors.Is(err, ErrEmptyText) {
		t.Errorf("Expected ErrEmptyText, got %v", err)
	}
}
