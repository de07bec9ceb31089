package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Capture session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_translator_active_sessions",
		Help: "Number of active capture sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_translator_sessions_total",
		Help: "Total number of capture sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "live_translator_session_duration_seconds",
		Help:    "Duration of capture sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Recognition channel metrics
	framesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_translator_frames_sent_total",
		Help: "Total PCM16 frames written to the recognition channel",
	})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_translator_frames_dropped_total",
		Help: "Total PCM16 frames dropped before transmission",
	}, []string{"reason"}) // reason: "not_open" or "queue_full"

	inboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_translator_inbound_messages_total",
		Help: "Total recognition messages received",
	}, []string{"status"}) // status: "ok", "malformed" or "remote_error"

	channelErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_translator_channel_errors_total",
		Help: "Total recognition channel transport failures",
	})

	// Collaborator metrics
	serviceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_translator_service_requests_total",
		Help: "Total collaborator service requests",
	}, []string{"service", "status"})

	serviceLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "live_translator_service_latency_seconds",
		Help:    "Collaborator service latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"service"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_translator_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "live_translator_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_translator_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Transcript event metrics
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_translator_events_published_total",
		Help: "Total transcript events handed to the event publisher",
	}, []string{"status"}) // status: "success", "error" or "disabled"

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_translator_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "captured" or "sent"
)

// Metrics tracks metrics for a single capture session
type Metrics struct {
	sessionID string
	startTime time.Time
	ended     bool
	mu        sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a capture session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// SessionID returns the session this tracker belongs to
func (m *Metrics) SessionID() string {
	return m.sessionID
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session. Repeated calls are ignored.
func (m *Metrics) RecordSessionEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.ended = true
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordFrameSent counts a frame written to the recognition channel
func RecordFrameSent(bytes int) {
	framesSent.Inc()
	audioBytesProcessed.WithLabelValues("sent").Add(float64(bytes))
}

// RecordFrameDropped counts a frame the channel discarded
func RecordFrameDropped(reason string) {
	framesDropped.WithLabelValues(reason).Inc()
}

// RecordInbound counts a received recognition message by outcome
func RecordInbound(status string) {
	inboundMessages.WithLabelValues(status).Inc()
}

// RecordChannelError counts a recognition transport failure
func RecordChannelError() {
	channelErrors.Inc()
	errorsTotal.WithLabelValues("transport", "stt").Inc()
}

// RecordServiceRequest records one collaborator call
func RecordServiceRequest(service string, latency time.Duration, success bool) {
	serviceLatency.WithLabelValues(service).Observe(latency.Seconds())

	status := "success"
	if !success {
		status = "error"
	}
	serviceRequests.WithLabelValues(service, status).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

// RecordEventPublished counts a transcript event by publish outcome
func RecordEventPublished(status string) {
	eventsPublished.WithLabelValues(status).Inc()
}
