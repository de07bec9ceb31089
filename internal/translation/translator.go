package translation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/lexiqai/live-translator/internal/backend"
)

const translationService = "translation"

// ErrEmptyText is returned when there is nothing to translate
var ErrEmptyText = errors.New("nothing to translate")

// Translator turns text into the target language
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// BackendTranslator calls the backend's /translate endpoint
type BackendTranslator struct {
	client *backend.Client
}

// NewBackendTranslator creates a translator backed by the backend service
func NewBackendTranslator(client *backend.Client) *BackendTranslator {
	return &BackendTranslator{client: client}
}

type translateResponse struct {
	Translated *string `json:"translated"`
}

// Translate implements Translator
func (t *BackendTranslator) Translate(ctx context.Context, text, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}

	resp, err := t.client.PostForm(ctx, translationService, "/translate", url.Values{
		"text":        {text},
		"target_lang": {targetLang},
	})
	if err != nil {
		return "", err
	}

	var body translateResponse
	if err := resp.DecodeJSON(&body); err != nil {
		return "", &backend.ServiceError{Service: translationService, StatusCode: resp.StatusCode, Err: err}
	}
	if body.Translated == nil {
		return "", &backend.ServiceError{
			Service:    translationService,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("response has no translated field"),
		}
	}
	return *body.Translated, nil
}

// PickTarget chooses the translation direction for a two-way conversation:
// speech detected in langA goes to langB, anything else goes to langA.
// Empty languages default to "en" and "hi".
func PickTarget(detected, langA, langB string) string {
	if langA == "" {
		langA = "en"
	}
	if langB == "" {
		langB = "hi"
	}
	if strings.HasPrefix(strings.ToLower(detected), strings.ToLower(langA)) {
		return langB
	}
	return langA
}
