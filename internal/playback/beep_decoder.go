package playback

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"

	"github.com/lexiqai/live-translator/internal/audio"
)

const defaultQuantum = 20 * time.Millisecond

var errTrackClosed = errors.New("track closed")

// BeepDecoder decodes recordings with beep and plays them in real time
// into Sink as PCM16 little-endian mono. Each track is backed by a
// temporary WAV file that is removed when the track is closed.
type BeepDecoder struct {
	Sink    io.Writer     // nil discards output
	TempDir string        // "" uses the system default
	Quantum time.Duration // Pacing interval of the output pump
}

// Open implements Decoder
func (d *BeepDecoder) Open(rec *audio.Recording) (Track, error) {
	data, err := rec.WAV()
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(d.TempDir, "playback-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create playback buffer: %w", err)
	}
	cleanup := func() {
		f.Close()
		os.Remove(f.Name())
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to write playback buffer: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to rewind playback buffer: %w", err)
	}

	streamer, format, err := wav.Decode(f)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to decode recording: %w", err)
	}

	sink := d.Sink
	if sink == nil {
		sink = io.Discard
	}
	quantum := d.Quantum
	if quantum <= 0 {
		quantum = defaultQuantum
	}

	t := &beepTrack{
		rec:      rec,
		file:     f,
		streamer: streamer,
		format:   format,
		sink:     sink,
		quantum:  quantum,
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	t.ctrl = &beep.Ctrl{Streamer: t.sequence(), Paused: true}

	go t.pump()
	return t, nil
}

type beepTrack struct {
	rec      *audio.Recording
	file     *os.File
	streamer beep.StreamSeekCloser
	format   beep.Format
	sink     io.Writer
	quantum  time.Duration

	mu    sync.Mutex
	ctrl  *beep.Ctrl
	ended bool // set by the end-of-stream callback while mu is held
	onEnd func()

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// sequence plays the recording once and then flags the end.
func (t *beepTrack) sequence() beep.Streamer {
	return beep.Seq(t.streamer, beep.Callback(func() {
		t.ended = true
	}))
}

func (t *beepTrack) Play(onEnd func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.closed:
		return errTrackClosed
	default:
	}
	t.onEnd = onEnd
	t.ctrl.Paused = false
	return nil
}

func (t *beepTrack) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.closed:
		return errTrackClosed
	default:
	}
	t.ctrl.Paused = true
	return nil
}

func (t *beepTrack) Duration() time.Duration {
	return t.format.SampleRate.D(t.streamer.Len())
}

func (t *beepTrack) Peaks(n int) []float64 {
	return t.rec.Peaks(n)
}

func (t *beepTrack) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		<-t.done

		t.streamer.Close()
		t.file.Close()
		if rmErr := os.Remove(t.file.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = fmt.Errorf("failed to remove playback buffer: %w", rmErr)
		}
	})
	return err
}

// pump pulls one quantum of audio per tick while playing, so output runs
// at the recording's own sample rate.
func (t *beepTrack) pump() {
	defer close(t.done)

	ticker := time.NewTicker(t.quantum)
	defer ticker.Stop()

	n := t.format.SampleRate.N(t.quantum)
	if n < 1 {
		n = 1
	}
	buf := make([][2]float64, n)
	samples := make([]float32, n)

	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
		}

		t.mu.Lock()
		if t.ctrl.Paused {
			t.mu.Unlock()
			continue
		}

		filled, _ := t.ctrl.Stream(buf)
		for i := 0; i < filled; i++ {
			samples[i] = float32(buf[i][0])
		}

		var onEnd func()
		if t.ended {
			// Rewind so the next Play starts from the beginning
			t.ended = false
			if err := t.streamer.Seek(0); err == nil {
				t.ctrl.Streamer = t.sequence()
			}
			t.ctrl.Paused = true
			onEnd = t.onEnd
			t.onEnd = nil
		}
		t.mu.Unlock()

		if filled > 0 {
			t.sink.Write(audio.EncodePCM16(samples[:filled]))
		}
		if onEnd != nil {
			onEnd()
		}
	}
}
