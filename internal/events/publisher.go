// Package events publishes transcript updates to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/lexiqai/live-translator/internal/observability"
	"github.com/lexiqai/live-translator/internal/transcript"
)

// Event types carried in the eventType header
const (
	EventPartial = "transcript.partial"
	EventFinal   = "transcript.final"
)

// Writer is the part of *kafka.Writer the publisher uses
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers []string
	Topic   string
	Enabled bool
}

// TranscriptEvent is the payload of a published transcript update
type TranscriptEvent struct {
	SessionID        string    `json:"session_id"`
	Type             string    `json:"type"`
	Text             string    `json:"text"`
	DetectedLanguage string    `json:"detected_lang,omitempty"`
	Confidence       *float64  `json:"confidence,omitempty"`
	Messages         int       `json:"messages"`
	Timestamp        time.Time `json:"timestamp"`
}

// Publisher publishes transcript events. When disabled it only logs.
type Publisher struct {
	writer  Writer
	topic   string
	enabled bool
	logger  zerolog.Logger
}

// New creates a publisher. A nil or disabled config, or one without
// brokers, yields a log-only publisher.
func New(cfg *Config) *Publisher {
	logger := observability.WithComponent("events")

	if cfg == nil || !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info().Msg("Kafka disabled, using log-only mode")
		p := &Publisher{logger: logger}
		if cfg != nil {
			p.topic = cfg.Topic
		}
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	// Async so a slow broker never stalls the capture loop; outcomes are
	// reported through Completion.
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
		Completion: func(messages []kafka.Message, err error) {
			for range messages {
				if err != nil {
					observability.RecordEventPublished("error")
				} else {
					observability.RecordEventPublished("success")
				}
			}
			if err != nil {
				logger.Error().Err(err).Int("messages", len(messages)).Msg("Failed to write to Kafka")
			}
		},
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writer:  writer,
		topic:   cfg.Topic,
		enabled: true,
		logger:  logger,
	}
}

// NewWithWriter creates an enabled publisher over an existing writer
func NewWithWriter(w Writer, topic string) *Publisher {
	return &Publisher{
		writer:  w,
		topic:   topic,
		enabled: w != nil,
		logger:  observability.WithComponent("events"),
	}
}

// Enabled reports whether events reach Kafka
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// PublishPartial publishes the running transcript after an update
func (p *Publisher) PublishPartial(ctx context.Context, sessionID string, running transcript.Running) error {
	return p.publish(ctx, EventPartial, sessionID, running)
}

// PublishFinal publishes the transcript of a finished capture
func (p *Publisher) PublishFinal(ctx context.Context, sessionID string, running transcript.Running) error {
	return p.publish(ctx, EventFinal, sessionID, running)
}

func (p *Publisher) publish(ctx context.Context, eventType, sessionID string, running transcript.Running) error {
	event := TranscriptEvent{
		SessionID: sessionID,
		Type:      eventType,
		Text:      running.Text,
		Messages:  running.Messages,
		Timestamp: time.Now().UTC(),
	}
	if running.HasLanguage {
		event.DetectedLanguage = running.DetectedLanguage
	}
	if running.HasConfidence {
		c := running.Confidence
		event.Confidence = &c
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", p.topic).Msg("Failed to marshal event")
		return err
	}

	p.logger.Debug().
		Str("topic", p.topic).
		Str("session_id", sessionID).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled {
		observability.RecordEventPublished("disabled")
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(sessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().
			Err(err).
			Str("topic", p.topic).
			Str("session_id", sessionID).
			Msg("Failed to write to Kafka")
		observability.RecordEventPublished("error")
		return err
	}
	return nil
}

// Close flushes and closes the writer
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		p.logger.Error().Err(err).Msg("Error closing Kafka writer")
		return err
	}
	return nil
}
