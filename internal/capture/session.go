package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-translator/internal/audio"
	"github.com/lexiqai/live-translator/internal/observability"
	"github.com/lexiqai/live-translator/internal/stt"
	"github.com/lexiqai/live-translator/internal/transcript"
)

// DefaultBlockSize is the number of samples per captured block.
const DefaultBlockSize = 4096

// ErrSessionActive is returned by Start while a session is not idle.
var ErrSessionActive = errors.New("capture session already active")

// State is the lifecycle state of a capture session
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Channel is the recognition transport a session streams to.
// *stt.Channel satisfies it.
type Channel interface {
	Open(ctx context.Context) error
	Send(frame audio.Frame) bool
	Inbound() <-chan stt.Inbound
	State() stt.State
	Close() error
}

// ChannelFactory returns a fresh, unopened channel for each capture cycle
type ChannelFactory func() Channel

// Observer receives session events. Calls come from the session's own
// goroutines and must not block for long.
type Observer interface {
	OnStateChange(state State)
	OnTranscript(running transcript.Running)
	OnStatus(status string)
	OnRecorded(rec *audio.Recording)
}

// NopObserver ignores every event. Embed it to implement only some methods.
type NopObserver struct{}

func (NopObserver) OnStateChange(State)             {}
func (NopObserver) OnTranscript(transcript.Running) {}
func (NopObserver) OnStatus(string)                 {}
func (NopObserver) OnRecorded(*audio.Recording)     {}

// Options configures a Session
type Options struct {
	Microphone Microphone
	Channels   ChannelFactory
	Aggregator *transcript.Aggregator // Defaults to an append aggregator
	Observer   Observer
	BlockSize  int
	VAD        *audio.VADConfig // nil disables speech-activity reporting
}

// Session captures microphone audio, streams it to the recognizer and
// keeps a local recording. At most one capture runs at a time; a Session
// can be started again once it is back to idle.
type Session struct {
	mic       Microphone
	channels  ChannelFactory
	agg       *transcript.Aggregator
	observer  Observer
	blockSize int
	vad       *audio.VADConfig

	lastID atomic.Value // string

	mu          sync.Mutex
	state       State
	startCancel context.CancelFunc
	active      *run
	stopping    *stopOp
}

// run holds the resources of one Active capture
type run struct {
	id       string
	input    Input
	channel  Channel
	recorder *audio.Recorder
	metrics  *observability.Metrics
	logger   zerolog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// stopOp lets concurrent Stop calls share one result
type stopOp struct {
	done chan struct{}
	rec  *audio.Recording
	err  error
}

// NewSession creates an idle session
func NewSession(opts Options) *Session {
	if opts.Aggregator == nil {
		opts.Aggregator = transcript.NewAggregator(transcript.PolicyAppend)
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}

	return &Session{
		mic:       opts.Microphone,
		channels:  opts.Channels,
		agg:       opts.Aggregator,
		observer:  opts.Observer,
		blockSize: opts.BlockSize,
		vad:       opts.VAD,
		state:     StateIdle,
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID returns the correlation ID of the current capture, or of the last
// one once it has stopped. It is "" before the first Start.
func (s *Session) ID() string {
	id, _ := s.lastID.Load().(string)
	return id
}

// Transcript returns the running transcript of the current or last capture
func (s *Session) Transcript() transcript.Running {
	return s.agg.Snapshot()
}

// Aggregator returns the transcript aggregator owned by the session
func (s *Session) Aggregator() *transcript.Aggregator {
	return s.agg
}

// Start acquires the microphone and begins recording, then opens the
// recognition channel. Audio is recorded from the moment the input starts;
// frames are streamed only once the channel is open. A channel that cannot
// be opened is reported as a status and the session stays Active, recording
// locally. Start returns an error, with everything released and the session
// idle again, only when the microphone or audio input fails or Stop aborts
// the start.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrSessionActive
	}
	startCtx, cancel := context.WithCancel(ctx)
	s.startCancel = cancel
	s.state = StateStarting
	s.mu.Unlock()
	defer cancel()

	s.observer.OnStateChange(StateStarting)

	id := observability.NewCorrelationID()
	logger := observability.WithCorrelationID(id).With().Str("component", "capture").Logger()

	r, err := s.begin(startCtx, id, logger)
	if err != nil {
		s.toIdle()
		logger.Error().Err(err).Msg("Failed to start capture session")
		s.observer.OnStatus(err.Error())
		s.observer.OnStateChange(StateIdle)
		return err
	}

	openErr := r.channel.Open(startCtx)

	s.mu.Lock()
	if abortErr := startCtx.Err(); abortErr != nil {
		s.active = nil
		s.mu.Unlock()

		// Still Starting until released, so no new capture overlaps this one
		r.shutdown()
		s.toIdle()
		err = fmt.Errorf("capture start aborted: %w", abortErr)
		logger.Info().Err(err).Msg("Capture start aborted")
		s.observer.OnStatus(err.Error())
		s.observer.OnStateChange(StateIdle)
		return err
	}
	s.state = StateActive
	s.startCancel = nil
	s.mu.Unlock()

	s.observer.OnStateChange(StateActive)
	logger.Info().
		Int("sample_rate", r.input.SampleRate()).
		Int("block_size", s.blockSize).
		Bool("streaming", openErr == nil).
		Msg("Capture session active")

	if openErr != nil {
		r.metrics.RecordError("channel_open", "capture")
		logger.Warn().Err(openErr).Msg("Recognition channel unavailable; recording locally only")
		s.observer.OnStatus(fmt.Sprintf("open recognition channel: %v", openErr))
	}
	return nil
}

func (s *Session) toIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
	s.startCancel = nil
}

// begin acquires the microphone, starts the block stream and the event
// loop. The loop records every block; the channel is created but not yet
// opened.
func (s *Session) begin(ctx context.Context, id string, logger zerolog.Logger) (*run, error) {
	input, err := s.mic.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire microphone: %w", err)
	}

	blocks, err := input.Start(s.blockSize)
	if err != nil {
		input.Close()
		return nil, fmt.Errorf("start audio processing: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:       id,
		input:    input,
		channel:  s.channels(),
		recorder: audio.NewRecorder(input.SampleRate()),
		metrics:  observability.NewSessionMetrics(id),
		logger:   logger,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	r.metrics.RecordSessionStart()

	var vad *audio.VADDetector
	if s.vad != nil {
		vad = audio.NewVADDetector(s.vad)
	}

	s.lastID.Store(id)
	s.mu.Lock()
	s.agg.Reset()
	s.active = r
	s.mu.Unlock()

	go s.loop(loopCtx, r, blocks, vad)
	return r, nil
}

// shutdown stops the loop and releases the run's resources. The recording
// is returned for the caller to keep or drop.
func (r *run) shutdown() (*audio.Recording, error) {
	r.cancel()
	<-r.done

	var errs []error
	if err := r.channel.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close recognition channel: %w", err))
	}
	if err := r.input.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close audio input: %w", err))
	}
	rec := r.recorder.Finalize()
	r.metrics.RecordSessionEnd()
	return rec, errors.Join(errs...)
}

// ReplaceTranscript swaps the running transcript for the result of a single
// message, as after re-transcribing a recording. It fails with
// ErrSessionActive unless the session is idle, and holds the session lock
// throughout so a concurrent Start cannot interleave.
func (s *Session) ReplaceTranscript(msg stt.Message) (transcript.Running, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return transcript.Running{}, ErrSessionActive
	}
	s.agg.Reset()
	return s.agg.Apply(msg), nil
}

// loop is the session's event loop. It alone appends to the recorder and
// applies messages to the aggregator.
func (s *Session) loop(ctx context.Context, r *run, blocks <-chan []float32, vad *audio.VADDetector) {
	defer close(r.done)

	inbound := r.channel.Inbound()
	for {
		select {
		case <-ctx.Done():
			return

		case block, ok := <-blocks:
			if !ok {
				r.logger.Error().Msg("Audio input ended unexpectedly")
				r.metrics.RecordError("input_ended", "capture")
				s.observer.OnStatus("audio input ended; stopping capture")
				go s.Stop()
				return
			}
			s.processBlock(r, block, vad)

		case ev, ok := <-inbound:
			if !ok {
				// Channel stopped reading; keep recording locally
				inbound = nil
				continue
			}
			s.handleInbound(r, ev)
		}
	}
}

func (s *Session) processBlock(r *run, block []float32, vad *audio.VADDetector) {
	frame := audio.EncodePCM16(block)
	r.recorder.Append(frame)
	r.metrics.RecordAudioBytes("captured", int64(len(frame)))

	if vad != nil {
		if activity := vad.Process(frame); activity != audio.ActivityNone {
			r.logger.Debug().Str("activity", activity.String()).Msg("Speech activity")
			s.observer.OnStatus(activity.String())
		}
	}

	// Frames are dropped while the channel is not open
	if r.channel.State() == stt.StateOpen {
		r.channel.Send(frame)
	}
}

func (s *Session) handleInbound(r *run, ev stt.Inbound) {
	switch {
	case ev.Err == nil:
		running := s.agg.Apply(ev.Message)
		s.observer.OnTranscript(running)

	case errors.Is(ev.Err, stt.ErrMalformedMessage):
		r.metrics.RecordError("malformed_message", "capture")
		s.observer.OnStatus(ev.Err.Error())

	case errors.Is(ev.Err, stt.ErrRemote):
		r.metrics.RecordError("remote_error", "capture")
		s.observer.OnStatus(ev.Err.Error())

	default:
		r.logger.Error().Err(ev.Err).Msg("Recognition channel lost; capture continues without transcription")
		r.metrics.RecordError("channel_error", "capture")
		s.observer.OnStatus(ev.Err.Error())
	}
}

// Stop ends the capture and returns its recording. From idle it does
// nothing and returns nil. Concurrent calls wait for the same stop and get
// the same recording; the observer is told about it once.
func (s *Session) Stop() (*audio.Recording, error) {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return nil, nil
	case StateStarting:
		if s.startCancel != nil {
			s.startCancel()
		}
		s.mu.Unlock()
		return nil, nil
	case StateStopping:
		op := s.stopping
		s.mu.Unlock()
		<-op.done
		return op.rec, op.err
	}

	r := s.active
	op := &stopOp{done: make(chan struct{})}
	s.stopping = op
	s.state = StateStopping
	s.mu.Unlock()

	s.observer.OnStateChange(StateStopping)

	rec, err := r.shutdown()
	op.rec = rec
	op.err = err

	s.mu.Lock()
	s.state = StateIdle
	s.active = nil
	s.stopping = nil
	s.mu.Unlock()
	close(op.done)

	r.logger.Info().
		Int("bytes", rec.Len()).
		Dur("duration", rec.Duration()).
		Msg("Capture session stopped")

	s.observer.OnStateChange(StateIdle)
	s.observer.OnRecorded(rec)
	return op.rec, op.err
}
