package console

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/lexiqai/live-translator/internal/audio"
	"github.com/lexiqai/live-translator/internal/backend"
	"github.com/lexiqai/live-translator/internal/capture"
	"github.com/lexiqai/live-translator/internal/events"
	"github.com/lexiqai/live-translator/internal/playback"
	"github.com/lexiqai/live-translator/internal/stt"
	"github.com/lexiqai/live-translator/internal/tts"
)

type fakeInput struct {
	blocks chan []float32
}

func (f *fakeInput) SampleRate() int { return 16000 }

func (f *fakeInput) Start(blockSize int) (<-chan []float32, error) { return f.blocks, nil }

func (f *fakeInput) Close() error { return nil }

type fakeMic struct{ input *fakeInput }

func (m *fakeMic) Acquire(ctx context.Context) (capture.Input, error) { return m.input, nil }

type fakeChannel struct {
	mu      sync.Mutex
	state   stt.State
	inbound chan stt.Inbound
}

func (c *fakeChannel) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = stt.StateOpen
	return nil
}

func (c *fakeChannel) Send(frame audio.Frame) bool { return true }

func (c *fakeChannel) Inbound() <-chan stt.Inbound { return c.inbound }

func (c *fakeChannel) State() stt.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = stt.StateClosed
	return nil
}

type fakeTrack struct{}

func (fakeTrack) Play(onEnd func()) error { return nil }
func (fakeTrack) Pause() error            { return nil }
func (fakeTrack) Duration() time.Duration { return time.Second }
func (fakeTrack) Peaks(n int) []float64   { return make([]float64, n) }
func (fakeTrack) Close() error            { return nil }

type fakeDecoder struct{}

func (fakeDecoder) Open(rec *audio.Recording) (playback.Track, error) { return fakeTrack{}, nil }

type fakeTranslator struct {
	mu     sync.Mutex
	text   string
	target string
	err    error
}

func (f *fakeTranslator) Translate(ctx context.Context, text, targetLang string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text, f.target = text, targetLang
	if f.err != nil {
		return "", f.err
	}
	return "translated:" + text, nil
}

type fakeSynthesizer struct {
	text  string
	voice string
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text, voice string) (*tts.Speech, error) {
	f.text, f.voice = text, voice
	return &tts.Speech{Audio: []byte{1, 2, 3}, ContentType: "audio/mpeg", Voice: voice}, nil
}

type fakeTranscriber struct {
	lang string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, rec *audio.Recording, lang string) (stt.Message, error) {
	f.lang = lang
	return stt.ParseMessage([]byte(`{"text":"namaste","detected_lang":"hi"}`))
}

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) keys() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var keys []string
	for _, m := range w.messages {
		keys = append(keys, string(m.Key))
	}
	return keys
}

func (w *fakeWriter) eventTypes() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var types []string
	for _, m := range w.messages {
		types = append(types, string(m.Headers[0].Value))
	}
	return types
}

type harness struct {
	console     *Console
	input       *fakeInput
	channel     *fakeChannel
	translator  *fakeTranslator
	synthesizer *fakeSynthesizer
	transcriber *fakeTranscriber
	writer      *fakeWriter
}

func newHarness() *harness {
	h := &harness{
		input:       &fakeInput{blocks: make(chan []float32)},
		channel:     &fakeChannel{state: stt.StateConnecting, inbound: make(chan stt.Inbound, 4)},
		translator:  &fakeTranslator{},
		synthesizer: &fakeSynthesizer{},
		transcriber: &fakeTranscriber{},
		writer:      &fakeWriter{},
	}
	h.console = New(Options{
		Capture: capture.Options{
			Microphone: &fakeMic{input: h.input},
			Channels:   func() capture.Channel { return h.channel },
			BlockSize:  4,
		},
		Player:      playback.NewController(fakeDecoder{}),
		Translator:  h.translator,
		Synthesizer: h.synthesizer,
		Transcriber: h.transcriber,
		Publisher:   events.NewWithWriter(h.writer, "transcripts"),
		SourceLang:  "en",
		TargetLang:  "hi",
	})
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func inbound(t *testing.T, raw string) stt.Inbound {
	t.Helper()
	msg, err := stt.ParseMessage([]byte(raw))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	return stt.Inbound{Message: msg}
}

func TestConsole_CaptureTranslateSpeak(t *testing.T) {
	h := newHarness()
	c := h.console
	defer c.Close()

	if err := c.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	if st := c.Status(); st.Capture != "active" || st.SessionID == "" {
		t.Errorf("Expected active status with a session ID, got %+v", st)
	}

	h.input.blocks <- []float32{0.1, 0.2, 0.3, 0.4}
	h.channel.inbound <- inbound(t, `{"text":"good morning","detected_lang":"en"}`)
	waitFor(t, "transcript", func() bool { return c.Transcript().Text == "good morning" })

	rec, err := c.StopCapture()
	if err != nil {
		t.Fatalf("StopCapture failed: %v", err)
	}
	if rec.Len() != 8 {
		t.Errorf("Expected 8 recorded bytes, got %d", rec.Len())
	}

	st := c.Status()
	if st.Capture != "idle" || !st.Loaded || st.Playback != "stopped" {
		t.Errorf("Expected idle with a loaded recording, got %+v", st)
	}

	// Detected English goes to the other side of the pair
	tr, err := c.Translate(context.Background(), "")
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if tr.TargetLang != "hi" || h.translator.text != "good morning" {
		t.Errorf("Unexpected translation request: %q to %q", h.translator.text, tr.TargetLang)
	}

	speech, err := c.Speak(context.Background(), "", "")
	if err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if h.synthesizer.text != tr.Text || speech.Voice != "hi-IN-SwaraNeural" {
		t.Errorf("Expected last translation in the Hindi voice, got %q in %s", h.synthesizer.text, speech.Voice)
	}

	state, err := c.TogglePlayback()
	if err != nil || state != playback.StatePlaying {
		t.Errorf("Expected playing, got %s (%v)", state, err)
	}

	types := h.writer.eventTypes()
	if len(types) != 2 || types[0] != events.EventPartial || types[1] != events.EventFinal {
		t.Errorf("Expected partial then final events, got %v", types)
	}
	keys := h.writer.keys()
	if len(keys) != 2 || keys[0] == "" || keys[0] != keys[1] {
		t.Errorf("Expected both events keyed by the session ID, got %q", keys)
	}
}

func TestConsole_EventsKeyedBySessionFromFirstPartial(t *testing.T) {
	h := newHarness()
	c := h.console
	defer c.Close()

	if err := c.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	id := c.Status().SessionID
	h.channel.inbound <- inbound(t, `{"text":"one"}`)
	waitFor(t, "first event", func() bool { return len(h.writer.keys()) == 1 })
	c.StopCapture()

	for i, key := range h.writer.keys() {
		if key != id {
			t.Errorf("Event %d keyed %q, expected %q", i, key, id)
		}
	}
}

func TestConsole_RetranscribeRacesStart(t *testing.T) {
	h := newHarness()
	c := h.console
	defer c.Close()

	c.StartCapture(context.Background())
	h.input.blocks <- []float32{0.5, 0.5, 0.5, 0.5}
	c.StopCapture()

	for i := 0; i < 50; i++ {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Retranscribe(context.Background(), "hi")
		}()
		if err := c.StartCapture(context.Background()); err != nil {
			t.Fatalf("StartCapture failed: %v", err)
		}
		wg.Wait()

		// A re-transcription either lands before the capture began or is
		// refused; it never overwrites the live transcript.
		if got := c.Transcript().Text; got != "" {
			t.Fatalf("Iteration %d: live transcript overwritten with %q", i, got)
		}

		h.input.blocks <- []float32{0.5, 0.5, 0.5, 0.5}
		c.StopCapture()
	}
}

func TestConsole_Retranscribe(t *testing.T) {
	h := newHarness()
	c := h.console
	defer c.Close()

	if _, err := c.Retranscribe(context.Background(), "hi"); !errors.Is(err, playback.ErrNothingLoaded) {
		t.Fatalf("Expected ErrNothingLoaded, got %v", err)
	}

	c.StartCapture(context.Background())
	h.input.blocks <- []float32{0.5, 0.5, 0.5, 0.5}

	if _, err := c.Retranscribe(context.Background(), "hi"); !errors.Is(err, capture.ErrSessionActive) {
		t.Errorf("Expected ErrSessionActive during capture, got %v", err)
	}

	c.StopCapture()

	running, err := c.Retranscribe(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Retranscribe failed: %v", err)
	}
	if running.Text != "namaste" || running.DetectedLanguage != "hi" || h.transcriber.lang != "hi" {
		t.Errorf("Unexpected transcript %+v", running)
	}
	if c.Transcript().Text != "namaste" {
		t.Errorf("Expected running transcript replaced, got %q", c.Transcript().Text)
	}

	// Hindi detected: translation goes back to English
	tr, err := c.Translate(context.Background(), "")
	if err != nil || tr.TargetLang != "en" {
		t.Errorf("Expected translation to en, got %+v (%v)", tr, err)
	}
}

func TestConsole_FailuresBecomeStatus(t *testing.T) {
	h := newHarness()
	c := h.console
	defer c.Close()

	if _, err := c.Translate(context.Background(), "hi"); !errors.Is(err, ErrNoTranscript) {
		t.Errorf("Expected ErrNoTranscript, got %v", err)
	}
	if c.Status().Message != ErrNoTranscript.Error() {
		t.Errorf("Expected status message, got %q", c.Status().Message)
	}

	if _, err := c.Speak(context.Background(), "", "en"); !errors.Is(err, ErrNoTranscript) {
		t.Errorf("Expected ErrNoTranscript from Speak, got %v", err)
	}

	if _, err := c.TogglePlayback(); !errors.Is(err, playback.ErrNothingLoaded) {
		t.Errorf("Expected ErrNothingLoaded, got %v", err)
	}

	c.StartCapture(context.Background())
	h.channel.inbound <- inbound(t, `{"text":"hello"}`)
	waitFor(t, "transcript", func() bool { return c.Transcript().Text == "hello" })
	c.StopCapture()

	h.translator.err = &backend.ServiceError{Service: "translation", StatusCode: 502, Err: errors.New("upstream down")}
	if _, err := c.Translate(context.Background(), "fr"); err == nil {
		t.Fatal("Expected translation failure")
	}
	if msg := c.Status().Message; !strings.Contains(msg, "upstream down") {
		t.Errorf("Expected service failure in status, got %q", msg)
	}
	if c.LastTranslation() != nil {
		t.Error("Expected no translation recorded after failure")
	}
}

func TestConsole_MissingCollaborators(t *testing.T) {
	c := New(Options{Capture: capture.Options{Microphone: &fakeMic{}}})
	defer c.Close()

	if _, err := c.Translate(context.Background(), "hi"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured from Translate, got %v", err)
	}
	if _, err := c.Speak(context.Background(), "hi", "en"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured from Speak, got %v", err)
	}
	if _, err := c.Retranscribe(context.Background(), ""); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured from Retranscribe, got %v", err)
	}
	if _, err := c.TogglePlayback(); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured from TogglePlayback, got %v", err)
	}
	if st := c.Status(); st.Capture != "idle" || st.Loaded {
		t.Errorf("Unexpected status %+v", st)
	}
}

func TestConsole_Subscribe(t *testing.T) {
	h := newHarness()
	c := h.console
	defer c.Close()

	updates, cancel := c.Subscribe()
	c.StartCapture(context.Background())
	h.channel.inbound <- inbound(t, `{"text":"hello"}`)
	h.channel.inbound <- inbound(t, `{"text":"world"}`)

	for _, want := range []string{"hello", "hello world"} {
		select {
		case got := <-updates:
			if got.Text != want {
				t.Errorf("Expected %q, got %q", want, got.Text)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for %q", want)
		}
	}

	cancel()
	cancel()
	if _, ok := <-updates; ok {
		t.Error("Expected the subscription to be closed")
	}
}
