package audio

import (
	"sync"
	"time"
)

// Recorder accumulates the PCM16 frames of one capture session.
// Append and Finalize may be called from different goroutines.
type Recorder struct {
	mu         sync.Mutex
	buf        []byte
	blocks     int
	sampleRate int
}

// NewRecorder creates an empty recorder for audio at the given sample rate.
func NewRecorder(sampleRate int) *Recorder {
	return &Recorder{sampleRate: sampleRate}
}

// Append copies a frame onto the end of the recording.
func (r *Recorder) Append(frame Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf = append(r.buf, frame...)
	r.blocks++
}

// Len returns the number of bytes recorded so far.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Blocks returns the number of frames appended so far.
func (r *Recorder) Blocks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blocks
}

// Finalize hands the accumulated audio over as an immutable Recording and
// resets the recorder.
func (r *Recorder) Finalize() *Recording {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := &Recording{data: r.buf, sampleRate: r.sampleRate}
	r.buf = nil
	r.blocks = 0
	return rec
}

// Recording is a finished capture: the concatenation of every frame
// captured during one session, in capture order. It is never mutated.
type Recording struct {
	data       []byte
	sampleRate int
}

// NewRecording copies pcm into a new Recording.
func NewRecording(pcm []byte, sampleRate int) *Recording {
	data := make([]byte, len(pcm))
	copy(data, pcm)
	return &Recording{data: data, sampleRate: sampleRate}
}

// Bytes returns a copy of the PCM16 data.
func (r *Recording) Bytes() []byte {
	out := make([]byte, len(r.data))
	copy(out, r.data)
	return out
}

// Len returns the size of the PCM16 data in bytes.
func (r *Recording) Len() int {
	return len(r.data)
}

// SampleRate returns the capture sample rate in Hz.
func (r *Recording) SampleRate() int {
	return r.sampleRate
}

// Samples returns the number of 16-bit samples.
func (r *Recording) Samples() int {
	return len(r.data) / 2
}

// Duration returns the playback length of the recording.
func (r *Recording) Duration() time.Duration {
	if r.sampleRate <= 0 {
		return 0
	}
	return time.Duration(r.Samples()) * time.Second / time.Duration(r.sampleRate)
}

// Peaks returns normalized peak levels for drawing a waveform.
func (r *Recording) Peaks(buckets int) []float64 {
	samples, err := DecodePCM16(r.data)
	if err != nil {
		return nil
	}
	return Peaks(samples, buckets)
}

// WAV wraps the recording in a RIFF/WAVE container.
func (r *Recording) WAV() ([]byte, error) {
	return EncodeWAV(r.data, r.sampleRate)
}
