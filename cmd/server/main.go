package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexiqai/live-translator/internal/api"
	"github.com/lexiqai/live-translator/internal/audio"
	"github.com/lexiqai/live-translator/internal/backend"
	"github.com/lexiqai/live-translator/internal/capture"
	"github.com/lexiqai/live-translator/internal/config"
	"github.com/lexiqai/live-translator/internal/console"
	"github.com/lexiqai/live-translator/internal/events"
	"github.com/lexiqai/live-translator/internal/observability"
	"github.com/lexiqai/live-translator/internal/playback"
	"github.com/lexiqai/live-translator/internal/stt"
	"github.com/lexiqai/live-translator/internal/transcript"
	"github.com/lexiqai/live-translator/internal/translation"
	"github.com/lexiqai/live-translator/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("backend_url", cfg.BackendURL).
		Str("recognizer_url", cfg.RecognizerURL).
		Str("translator", cfg.Translator).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Live Translator starting")

	policy, err := transcript.ParsePolicy(cfg.TranscriptMergePolicy)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid transcript merge policy")
	}

	// Collaborators share one HTTP client with a breaker per service
	client := backend.NewClient(backend.Config{
		BaseURL:      cfg.BackendURL,
		Timeout:      cfg.BackendTimeoutDuration(),
		MaxFailures:  cfg.CircuitBreakerMaxFailures,
		ResetTimeout: cfg.CircuitBreakerReset(),
	})

	var translator translation.Translator = translation.NewBackendTranslator(client)
	if cfg.Translator == "openai" {
		translator = translation.NewOpenAITranslator(translation.OpenAIConfig{
			APIKey:       cfg.OpenAIAPIKey,
			Model:        cfg.OpenAIModel,
			BaseURL:      cfg.OpenAIURL,
			MaxFailures:  cfg.CircuitBreakerMaxFailures,
			ResetTimeout: cfg.CircuitBreakerReset(),
		})
	}

	// Each capture cycle gets a fresh recognition channel
	dialer := stt.WebSocketDialer{HandshakeTimeout: cfg.HandshakeTimeout()}
	channels := func() capture.Channel {
		return stt.NewChannel(stt.Options{
			URL:       cfg.RecognizerURL,
			Dialer:    dialer,
			SendQueue: cfg.SendQueueFrames,
		})
	}

	var vad *audio.VADConfig
	if cfg.VADEnabled {
		vad = &audio.VADConfig{
			EnergyThreshold: cfg.VADEnergyThreshold,
			SilenceBlocks:   cfg.VADSilenceBlocks,
		}
	}

	sink, closeSink, err := openPlaybackSink(cfg.PlaybackDevice)
	if err != nil {
		logger.Fatal().Err(err).Str("device", cfg.PlaybackDevice).Msg("Failed to open playback device")
	}
	defer closeSink()

	publisher := events.New(&events.Config{
		Brokers: cfg.Brokers(),
		Topic:   cfg.KafkaTopic,
		Enabled: cfg.KafkaEnabled,
	})

	con := console.New(console.Options{
		Capture: capture.Options{
			Microphone: &capture.StreamMicrophone{Path: cfg.MicDevice, Rate: cfg.MicSampleRate},
			Channels:   channels,
			Aggregator: transcript.NewAggregator(policy),
			BlockSize:  cfg.BlockSize,
			VAD:        vad,
		},
		Player:      playback.NewController(&playback.BeepDecoder{Sink: sink}),
		Translator:  translator,
		Synthesizer: tts.NewBackendSynthesizer(client),
		Transcriber: stt.NewBatchClient(client),
		Publisher:   publisher,
		SourceLang:  cfg.SourceLang,
		TargetLang:  cfg.TargetLang,
		Voice:       cfg.DefaultVoice,
	})

	handler := api.NewServer(api.Options{
		Console: con,
		ReadyChecks: map[string]observability.HealthCheckFunc{
			"backend": client.Ping,
		},
		MetricsEnabled: cfg.MetricsEnabled,
	})
	if cfg.MetricsEnabled {
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. Capture start waits for the
	// recognizer handshake, so writes get more room than reads.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.BackendTimeoutDuration() + cfg.HandshakeTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("transcript_stream", fmt.Sprintf("ws://localhost:%s/transcript/stream", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stops any capture in progress and flushes pending events
	if err := con.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing console")
	}

	logger.Info().Msg("Server exited gracefully")
}

// openPlaybackSink opens the device or file that receives PCM16 playback.
// An empty path discards playback output.
func openPlaybackSink(path string) (io.Writer, func(), error) {
	if path == "" {
		return io.Discard, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
