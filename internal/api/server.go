// Package api exposes the console over a local HTTP control surface.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexiqai/live-translator/internal/backend"
	"github.com/lexiqai/live-translator/internal/capture"
	"github.com/lexiqai/live-translator/internal/console"
	"github.com/lexiqai/live-translator/internal/observability"
	"github.com/lexiqai/live-translator/internal/playback"
	"github.com/lexiqai/live-translator/internal/stt"
	"github.com/lexiqai/live-translator/internal/translation"
	"github.com/lexiqai/live-translator/internal/tts"
)

const defaultWaveformPoints = 100

// Options configures the control API
type Options struct {
	Console        *console.Console
	ReadyChecks    map[string]observability.HealthCheckFunc
	MetricsEnabled bool
}

// Server routes control requests to the console
type Server struct {
	console *console.Console
	logger  zerolog.Logger
	mux     *http.ServeMux
}

// NewServer builds the control API handler
func NewServer(opts Options) *Server {
	s := &Server{
		console: opts.Console,
		logger:  observability.WithComponent("api"),
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /capture/start", s.handleStartCapture)
	s.mux.HandleFunc("POST /capture/stop", s.handleStopCapture)
	s.mux.HandleFunc("GET /transcript", s.handleTranscript)
	s.mux.HandleFunc("GET /transcript/stream", s.handleTranscriptStream)
	s.mux.HandleFunc("POST /transcribe", s.handleRetranscribe)
	s.mux.HandleFunc("POST /playback/toggle", s.handleTogglePlayback)
	s.mux.HandleFunc("GET /playback", s.handlePlayback)
	s.mux.HandleFunc("POST /translate", s.handleTranslate)
	s.mux.HandleFunc("POST /speak", s.handleSpeak)
	s.mux.HandleFunc("GET /status", s.handleStatus)

	s.mux.HandleFunc("/health", observability.HealthCheckHandler())
	s.mux.HandleFunc("/ready", observability.ReadinessHandler(opts.ReadyChecks))

	if opts.MetricsEnabled {
		s.mux.Handle("/metrics", promhttp.Handler())
	}
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleStartCapture(w http.ResponseWriter, r *http.Request) {
	if err := s.console.StartCapture(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.console.Status())
}

func (s *Server) handleStopCapture(w http.ResponseWriter, r *http.Request) {
	rec, err := s.console.StopCapture()
	if err != nil {
		// The recording is still produced when teardown reports an error
		s.logger.Warn().Err(err).Msg("Capture stopped with errors")
	}

	resp := map[string]any{"recorded": rec != nil}
	if rec != nil {
		resp["bytes"] = rec.Len()
		resp["sample_rate"] = rec.SampleRate()
		resp["duration_seconds"] = rec.Duration().Seconds()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.console.Transcript())
}

func (s *Server) handleRetranscribe(w http.ResponseWriter, r *http.Request) {
	running, err := s.console.Retranscribe(r.Context(), r.FormValue("lang"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, running)
}

func (s *Server) handleTogglePlayback(w http.ResponseWriter, r *http.Request) {
	state, err := s.console.TogglePlayback()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": state.String()})
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	points := defaultWaveformPoints
	if v := r.URL.Query().Get("points"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "points must be a positive integer"})
			return
		}
		points = n
	}

	st := s.console.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"state":            st.Playback,
		"loaded":           st.Loaded,
		"duration_seconds": st.Duration,
		"waveform":         s.console.Waveform(points),
	})
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	result, err := s.console.Translate(r.Context(), r.FormValue("target_lang"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	speech, err := s.console.Speak(r.Context(), r.FormValue("text"), r.FormValue("lang"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", speech.ContentType)
	w.Header().Set("X-Voice", speech.Voice)
	w.WriteHeader(http.StatusOK)
	w.Write(speech.Audio)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.console.Status())
}

// statusFor maps an operation error to an HTTP status
func statusFor(err error) int {
	var se *backend.ServiceError
	switch {
	case errors.Is(err, capture.ErrSessionActive),
		errors.Is(err, playback.ErrNothingLoaded),
		errors.Is(err, console.ErrNoTranscript):
		return http.StatusConflict
	case errors.Is(err, capture.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, capture.ErrDeviceUnavailable),
		errors.Is(err, console.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, translation.ErrEmptyText),
		errors.Is(err, tts.ErrEmptyText):
		return http.StatusBadRequest
	case errors.As(err, &se), errors.Is(err, stt.ErrChannel):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
