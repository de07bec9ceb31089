package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the live translator client
type Config struct {
	// Server configuration (local control API)
	Port string `envconfig:"PORT" default:"8080"`

	// Backend collaborators. The recognizer, translation and TTS endpoints
	// are served by the same backend by default.
	BackendURL              string `envconfig:"BACKEND_URL" default:"http://localhost:8000"`
	RecognizerURL           string `envconfig:"RECOGNIZER_URL" default:"ws://localhost:8000/ws/transcribe"`
	BackendTimeout          int    `envconfig:"BACKEND_TIMEOUT" default:"30"`           // seconds
	ChannelHandshakeTimeout int    `envconfig:"CHANNEL_HANDSHAKE_TIMEOUT" default:"10"` // seconds
	SendQueueFrames         int    `envconfig:"SEND_QUEUE_FRAMES" default:"8"`          // Outbound frames buffered while Open

	// Microphone configuration
	MicDevice     string `envconfig:"MIC_DEVICE" default:"-"` // Path to a float32 LE stream, "-" for stdin
	MicSampleRate int    `envconfig:"MIC_SAMPLE_RATE" default:"48000"`
	BlockSize     int    `envconfig:"BLOCK_SIZE" default:"4096"` // Samples per capture block

	// Transcript and language configuration
	TranscriptMergePolicy string `envconfig:"TRANSCRIPT_MERGE_POLICY" default:"append"` // append or replace
	SourceLang            string `envconfig:"SOURCE_LANG" default:"en"`
	TargetLang            string `envconfig:"TARGET_LANG" default:"hi"`
	DefaultVoice          string `envconfig:"DEFAULT_VOICE" default:""` // Overrides the per-language voice when set

	// Translation backend selection
	Translator   string `envconfig:"TRANSLATOR" default:"backend"` // backend or openai
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIModel  string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIURL    string `envconfig:"OPENAI_BASE_URL" default:""`

	// Transcript event publishing
	KafkaEnabled bool   `envconfig:"KAFKA_ENABLED" default:"false"`
	KafkaBrokers string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"` // Comma separated
	KafkaTopic   string `envconfig:"KAFKA_TOPIC" default:"transcripts"`

	// Playback configuration
	PlaybackDevice string `envconfig:"PLAYBACK_DEVICE" default:""` // Path receiving PCM16 output; empty discards

	// Audio processing configuration
	VADEnabled         bool    `envconfig:"VAD_ENABLED" default:"true"`
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for VAD
	VADSilenceBlocks   int     `envconfig:"VAD_SILENCE_BLOCKS" default:"6"`       // Blocks of silence to mark speech end

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks field values that envconfig cannot express
func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.BackendURL); err != nil {
		return fmt.Errorf("BACKEND_URL is invalid: %w", err)
	}

	u, err := url.Parse(c.RecognizerURL)
	if err != nil {
		return fmt.Errorf("RECOGNIZER_URL is invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("RECOGNIZER_URL must use ws or wss, got %q", u.Scheme)
	}

	if c.MicSampleRate <= 0 {
		return fmt.Errorf("MIC_SAMPLE_RATE must be positive, got %d", c.MicSampleRate)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("BLOCK_SIZE must be positive, got %d", c.BlockSize)
	}
	if c.SendQueueFrames <= 0 {
		return fmt.Errorf("SEND_QUEUE_FRAMES must be positive, got %d", c.SendQueueFrames)
	}

	switch c.TranscriptMergePolicy {
	case "append", "replace":
	default:
		return fmt.Errorf("TRANSCRIPT_MERGE_POLICY must be append or replace, got %q", c.TranscriptMergePolicy)
	}

	switch c.Translator {
	case "backend":
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when TRANSLATOR=openai")
		}
	default:
		return fmt.Errorf("TRANSLATOR must be backend or openai, got %q", c.Translator)
	}

	if c.KafkaEnabled && len(c.Brokers()) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	}

	return nil
}

// Brokers returns the configured Kafka broker addresses
func (c *Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// BackendTimeoutDuration returns the collaborator request timeout
func (c *Config) BackendTimeoutDuration() time.Duration {
	return time.Duration(c.BackendTimeout) * time.Second
}

// HandshakeTimeout returns the recognition channel handshake timeout
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.ChannelHandshakeTimeout) * time.Second
}

// CircuitBreakerReset returns the circuit breaker recovery delay
func (c *Config) CircuitBreakerReset() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
