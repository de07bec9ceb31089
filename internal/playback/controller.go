package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-translator/internal/audio"
	"github.com/lexiqai/live-translator/internal/observability"
)

// ErrNothingLoaded is returned when playback is requested with no recording
var ErrNothingLoaded = errors.New("no recording loaded")

// State is the playback state of the loaded recording
type State int

const (
	StateStopped State = iota
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Decoder prepares a recording for playback
type Decoder interface {
	Open(rec *audio.Recording) (Track, error)
}

// Track is one decoded recording. onEnd passed to Play is invoked from the
// track's own goroutine, never from inside Play; a later Play replaces it.
type Track interface {
	Play(onEnd func()) error
	Pause() error
	Duration() time.Duration
	Peaks(n int) []float64
	Close() error
}

// Controller plays back the most recent recording. Loading a new recording
// releases the previous track first, and finish notifications from a
// superseded track are discarded.
type Controller struct {
	decoder Decoder
	logger  zerolog.Logger

	loadMu sync.Mutex // serializes Load and Unload

	mu       sync.Mutex
	track    Track
	rec      *audio.Recording
	state    State
	gen      uint64
	onFinish func()
}

// NewController creates an empty controller
func NewController(decoder Decoder) *Controller {
	return &Controller{
		decoder: decoder,
		logger:  observability.WithComponent("playback"),
	}
}

// Load replaces the current track with rec. The state is always Stopped
// afterwards.
func (c *Controller) Load(rec *audio.Recording) error {
	if rec == nil {
		return fmt.Errorf("load: %w", ErrNothingLoaded)
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	c.release()

	track, err := c.decoder.Open(rec)
	if err != nil {
		return fmt.Errorf("failed to open recording for playback: %w", err)
	}

	c.mu.Lock()
	c.track = track
	c.rec = rec
	c.state = StateStopped
	c.mu.Unlock()

	c.logger.Info().
		Int("bytes", rec.Len()).
		Dur("duration", track.Duration()).
		Msg("Recording loaded")
	return nil
}

// Unload releases the current track, if any
func (c *Controller) Unload() error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	return c.release()
}

// Close releases all playback resources
func (c *Controller) Close() error {
	return c.Unload()
}

// release must be called with loadMu held. The old track is closed outside
// mu so its goroutine can still deliver a (now stale) finish.
func (c *Controller) release() error {
	c.mu.Lock()
	c.gen++
	old := c.track
	c.track = nil
	c.rec = nil
	c.state = StateStopped
	c.mu.Unlock()

	if old == nil {
		return nil
	}
	if err := old.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to release previous track")
		return fmt.Errorf("failed to release track: %w", err)
	}
	return nil
}

// TogglePlay starts or resumes playback when stopped or paused, and
// pauses it when playing. It returns the new state.
func (c *Controller) TogglePlay() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.track == nil {
		return StateStopped, ErrNothingLoaded
	}

	switch c.state {
	case StatePlaying:
		if err := c.track.Pause(); err != nil {
			return c.state, fmt.Errorf("failed to pause: %w", err)
		}
		c.state = StatePaused
	default:
		gen := c.gen
		if err := c.track.Play(func() { c.finished(gen) }); err != nil {
			return c.state, fmt.Errorf("failed to play: %w", err)
		}
		c.state = StatePlaying
	}
	return c.state, nil
}

func (c *Controller) finished(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StatePlaying {
		c.mu.Unlock()
		return
	}
	c.state = StateStopped
	fn := c.onFinish
	c.mu.Unlock()

	c.logger.Debug().Msg("Playback finished")
	if fn != nil {
		fn()
	}
}

// OnFinish registers fn to run once after each complete playthrough
func (c *Controller) OnFinish(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFinish = fn
}

// State returns the playback state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Loaded reports whether a recording is loaded
func (c *Controller) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.track != nil
}

// Recording returns the loaded recording, or nil
func (c *Controller) Recording() *audio.Recording {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec
}

// Duration returns the length of the loaded recording
func (c *Controller) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.track == nil {
		return 0
	}
	return c.track.Duration()
}

// Waveform returns n peak levels of the loaded recording for display
func (c *Controller) Waveform(n int) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.track == nil {
		return nil
	}
	return c.track.Peaks(n)
}
