// Package console coordinates a capture session with playback and the
// translation and speech collaborators, the way an interactive front end
// drives them.
package console

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-translator/internal/audio"
	"github.com/lexiqai/live-translator/internal/capture"
	"github.com/lexiqai/live-translator/internal/events"
	"github.com/lexiqai/live-translator/internal/observability"
	"github.com/lexiqai/live-translator/internal/playback"
	"github.com/lexiqai/live-translator/internal/stt"
	"github.com/lexiqai/live-translator/internal/transcript"
	"github.com/lexiqai/live-translator/internal/translation"
	"github.com/lexiqai/live-translator/internal/tts"
)

var (
	// ErrNoTranscript is returned when there is no text to translate
	ErrNoTranscript = errors.New("no transcript to translate")

	// ErrNotConfigured is returned when an operation's collaborator is missing
	ErrNotConfigured = errors.New("collaborator not configured")
)

const (
	// publishTimeout bounds a single event handoff to the publisher
	publishTimeout = 5 * time.Second

	subscriberBuffer = 16
)

// Transcriber transcribes a finished recording in one request.
// *stt.BatchClient satisfies it.
type Transcriber interface {
	Transcribe(ctx context.Context, rec *audio.Recording, lang string) (stt.Message, error)
}

// Options configures a Console
type Options struct {
	Capture     capture.Options // Observer is always the console itself
	Player      *playback.Controller
	Translator  translation.Translator
	Synthesizer tts.Synthesizer
	Transcriber Transcriber
	Publisher   *events.Publisher // Optional

	SourceLang string // Two-way pair used when no target is given
	TargetLang string
	Voice      string // Overrides the per-language voice when set
}

// Translation is the result of translating the running transcript
type Translation struct {
	Source     string `json:"source"`
	Text       string `json:"translated"`
	TargetLang string `json:"target_lang"`
}

// Status is a snapshot of the console for display
type Status struct {
	Capture   string  `json:"capture"`
	Playback  string  `json:"playback"`
	Loaded    bool    `json:"loaded"`
	Duration  float64 `json:"duration_seconds"`
	SessionID string  `json:"session_id,omitempty"`
	Message   string  `json:"message,omitempty"`
}

// Console owns the capture session and the playback controller
type Console struct {
	session     *capture.Session
	player      *playback.Controller
	translator  translation.Translator
	synthesizer tts.Synthesizer
	transcriber Transcriber
	publisher   *events.Publisher

	sourceLang string
	targetLang string
	voice      string
	logger     zerolog.Logger

	mu          sync.RWMutex
	message     string
	translation *Translation

	subMu       sync.Mutex
	subscribers map[chan transcript.Running]struct{}
}

// New creates a console and its capture session
func New(opts Options) *Console {
	c := &Console{
		player:      opts.Player,
		translator:  opts.Translator,
		synthesizer: opts.Synthesizer,
		transcriber: opts.Transcriber,
		publisher:   opts.Publisher,
		sourceLang:  opts.SourceLang,
		targetLang:  opts.TargetLang,
		voice:       opts.Voice,
		logger:      observability.WithComponent("console"),
		subscribers: make(map[chan transcript.Running]struct{}),
	}

	capOpts := opts.Capture
	capOpts.Observer = c
	c.session = capture.NewSession(capOpts)
	c.session.Aggregator().OnUpdate(func(running transcript.Running) {
		c.broadcast(running)
		c.publish(events.EventPartial, running)
	})

	if c.player != nil {
		c.player.OnFinish(func() {
			c.setMessage("playback finished")
		})
	}
	return c
}

// Session returns the capture session
func (c *Console) Session() *capture.Session {
	return c.session
}

// StartCapture starts a new capture session
func (c *Console) StartCapture(ctx context.Context) error {
	return c.session.Start(ctx)
}

// StopCapture stops the capture. The recording is loaded for playback.
func (c *Console) StopCapture() (*audio.Recording, error) {
	return c.session.Stop()
}

// Transcript returns the running transcript
func (c *Console) Transcript() transcript.Running {
	return c.session.Transcript()
}

// TogglePlayback plays or pauses the last recording
func (c *Console) TogglePlayback() (playback.State, error) {
	if c.player == nil {
		return playback.StateStopped, fmt.Errorf("playback: %w", ErrNotConfigured)
	}
	state, err := c.player.TogglePlay()
	if err != nil {
		c.setMessage(err.Error())
	}
	return state, err
}

// Translate translates the running transcript. An empty target picks the
// other side of the configured language pair from the detected language.
func (c *Console) Translate(ctx context.Context, target string) (*Translation, error) {
	if c.translator == nil {
		return nil, c.fail(fmt.Errorf("translation: %w", ErrNotConfigured))
	}

	running := c.Transcript()
	if strings.TrimSpace(running.Text) == "" {
		return nil, c.fail(ErrNoTranscript)
	}
	if target == "" {
		target = translation.PickTarget(running.DetectedLanguage, c.sourceLang, c.targetLang)
	}

	text, err := c.translator.Translate(ctx, running.Text, target)
	if err != nil {
		return nil, c.fail(err)
	}

	result := &Translation{Source: running.Text, Text: text, TargetLang: target}
	c.mu.Lock()
	c.translation = result
	c.message = ""
	c.mu.Unlock()

	c.logger.Info().Str("target_lang", target).Int("chars", len(text)).Msg("Transcript translated")
	return result, nil
}

// LastTranslation returns the most recent translation, or nil
func (c *Console) LastTranslation() *Translation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.translation
}

// Speak synthesizes text in the voice for lang. Empty text speaks the
// last translation in its target language.
func (c *Console) Speak(ctx context.Context, text, lang string) (*tts.Speech, error) {
	if c.synthesizer == nil {
		return nil, c.fail(fmt.Errorf("speech: %w", ErrNotConfigured))
	}

	if strings.TrimSpace(text) == "" {
		last := c.LastTranslation()
		if last == nil {
			return nil, c.fail(ErrNoTranscript)
		}
		text = last.Text
		if lang == "" {
			lang = last.TargetLang
		}
	}

	voice := c.voice
	if voice == "" {
		voice = tts.VoiceFor(lang)
	}

	speech, err := c.synthesizer.Synthesize(ctx, text, voice)
	if err != nil {
		return nil, c.fail(err)
	}

	c.logger.Info().Str("voice", voice).Int("bytes", len(speech.Audio)).Msg("Speech synthesized")
	return speech, nil
}

// Retranscribe sends the loaded recording for a one-shot transcription and
// replaces the running transcript with the result. It is refused while a
// capture is in progress.
func (c *Console) Retranscribe(ctx context.Context, lang string) (transcript.Running, error) {
	if c.transcriber == nil {
		return transcript.Running{}, c.fail(fmt.Errorf("transcription: %w", ErrNotConfigured))
	}
	// Checked again when the transcript is replaced
	if c.session.State() != capture.StateIdle {
		return transcript.Running{}, c.fail(capture.ErrSessionActive)
	}

	var rec *audio.Recording
	if c.player != nil {
		rec = c.player.Recording()
	}
	if rec == nil {
		return transcript.Running{}, c.fail(playback.ErrNothingLoaded)
	}

	msg, err := c.transcriber.Transcribe(ctx, rec, lang)
	if err != nil {
		return transcript.Running{}, c.fail(err)
	}

	running, err := c.session.ReplaceTranscript(msg)
	if err != nil {
		return transcript.Running{}, c.fail(err)
	}
	c.publish(events.EventFinal, running)
	return running, nil
}

// Subscribe returns a stream of transcript updates and a function that
// ends the subscription. Updates are dropped for subscribers that fall
// behind.
func (c *Console) Subscribe() (<-chan transcript.Running, func()) {
	ch := make(chan transcript.Running, subscriberBuffer)

	c.subMu.Lock()
	c.subscribers[ch] = struct{}{}
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subscribers, ch)
			c.subMu.Unlock()
			close(ch)
		})
	}
}

func (c *Console) broadcast(running transcript.Running) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subscribers {
		select {
		case ch <- running:
		default:
			c.logger.Warn().Msg("Transcript subscriber behind, dropping update")
		}
	}
}

// Waveform returns n peak amplitudes of the loaded recording, or nil
func (c *Console) Waveform(n int) []float64 {
	if c.player == nil {
		return nil
	}
	return c.player.Waveform(n)
}

// Status returns a snapshot of capture and playback state
func (c *Console) Status() Status {
	st := Status{Capture: c.session.State().String(), SessionID: c.session.ID()}
	if c.player != nil {
		st.Playback = c.player.State().String()
		st.Loaded = c.player.Loaded()
		st.Duration = c.player.Duration().Seconds()
	}

	c.mu.RLock()
	st.Message = c.message
	c.mu.RUnlock()
	return st
}

// Close stops any capture and releases playback and the publisher
func (c *Console) Close() error {
	_, stopErr := c.session.Stop()

	var errs []error
	if stopErr != nil {
		errs = append(errs, stopErr)
	}
	if c.player != nil {
		if err := c.player.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close playback: %w", err))
		}
	}
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	return errors.Join(errs...)
}

// OnStateChange implements capture.Observer
func (c *Console) OnStateChange(state capture.State) {
	if state == capture.StateActive {
		c.mu.Lock()
		c.message = ""
		c.mu.Unlock()
	}
	c.logger.Debug().Str("state", state.String()).Msg("Capture state changed")
}

// OnTranscript implements capture.Observer. Updates are published from
// the aggregator hook.
func (c *Console) OnTranscript(running transcript.Running) {
	c.logger.Debug().Int("messages", running.Messages).Msg("Transcript updated")
}

// OnStatus implements capture.Observer
func (c *Console) OnStatus(status string) {
	c.setMessage(status)
}

// OnRecorded implements capture.Observer
func (c *Console) OnRecorded(rec *audio.Recording) {
	c.publish(events.EventFinal, c.session.Transcript())

	if c.player == nil {
		return
	}
	if err := c.player.Load(rec); err != nil {
		c.logger.Error().Err(err).Msg("Failed to load recording for playback")
		c.setMessage(err.Error())
	}
}

func (c *Console) publish(eventType string, running transcript.Running) {
	if c.publisher == nil {
		return
	}

	id := c.session.ID()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	var err error
	if eventType == events.EventFinal {
		err = c.publisher.PublishFinal(ctx, id, running)
	} else {
		err = c.publisher.PublishPartial(ctx, id, running)
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("event_type", eventType).Msg("Transcript event not published")
	}
}

// fail records err as the user-visible status and returns it
func (c *Console) fail(err error) error {
	c.setMessage(err.Error())
	c.logger.Warn().Err(err).Msg("Operation abandoned")
	return err
}

func (c *Console) setMessage(msg string) {
	c.mu.Lock()
	c.message = msg
	c.mu.Unlock()
}
