package translation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/lexiqai/live-translator/internal/backend"
	"github.com/lexiqai/live-translator/internal/observability"
	"github.com/lexiqai/live-translator/internal/resilience"
)

const (
	openAIService      = "openai"
	DefaultOpenAIModel = "gpt-4o-mini"

	systemInstructions = "You are a translation engine. Translate the user's text into the language " +
		"with the given code. Reply with the translation only, without quotes or commentary."
)

// OpenAIConfig configures an OpenAITranslator
type OpenAIConfig struct {
	APIKey  string
	Model   string // Defaults to DefaultOpenAIModel
	BaseURL string // Optional API endpoint override

	MaxFailures  int
	ResetTimeout time.Duration
}

// OpenAITranslator translates with an OpenAI chat completion model
type OpenAITranslator struct {
	client  *openai.Client
	model   string
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewOpenAITranslator creates a translator using the OpenAI API
func NewOpenAITranslator(cfg OpenAIConfig) *OpenAITranslator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}

	t := &OpenAITranslator{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		breaker: resilience.NewCircuitBreaker(openAIService, cfg.MaxFailures, cfg.ResetTimeout),
		logger:  observability.WithComponent("translation").With().Str("model", cfg.Model).Logger(),
	}
	t.breaker.OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
		t.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
	})
	return t
}

// Translate implements Translator
func (t *OpenAITranslator) Translate(ctx context.Context, text, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}

	req := openai.ChatCompletionRequest{
		Model: t.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemInstructions},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Target language: %s\n\n%s", targetLang, text)},
		},
	}

	var (
		resp      openai.ChatCompletionResponse
		rejection error
	)
	start := time.Now()
	err := t.breaker.Call(func() error {
		var callErr error
		resp, callErr = t.client.CreateChatCompletion(ctx, req)
		var apiErr *openai.APIError
		if errors.As(callErr, &apiErr) && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 {
			// The API is up; a rejected request does not trip the breaker
			rejection = callErr
			return nil
		}
		return callErr
	})
	if err == nil {
		err = rejection
	}
	observability.RecordServiceRequest(openAIService, time.Since(start), err == nil)

	if err != nil {
		t.logger.Error().Err(err).Str("target_lang", targetLang).Msg("Translation request failed")
		serviceErr := &backend.ServiceError{Service: openAIService, Err: err}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			serviceErr.StatusCode = apiErr.HTTPStatusCode
		}
		return "", serviceErr
	}
	if len(resp.Choices) == 0 {
		return "", &backend.ServiceError{Service: openAIService, Err: fmt.Errorf("completion has no choices")}
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
