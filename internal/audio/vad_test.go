package audio

import (
	"testing"
)

func constantBlock(value int16, n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func TestVADDetector_SpeechStarts(t *testing.T) {
	vad := NewVADDetector(&VADConfig{EnergyThreshold: 500.0, SilenceBlocks: 3})

	loud := constantBlock(5000, 256)
	for i := 0; i < 5; i++ {
		got := vad.ProcessSamples(loud)
		if i == 0 && got != ActivityStarted {
			t.Errorf("Expected speech to start on first block, got %s", got)
		}
		if i > 0 && got != ActivityNone {
			t.Errorf("Expected no transition on block %d, got %s", i, got)
		}
	}
	if !vad.IsSpeaking() {
		t.Error("Expected detector to report speaking")
	}
}

func TestVADDetector_SilenceNeverStarts(t *testing.T) {
	vad := NewVADDetector(&VADConfig{EnergyThreshold: 500.0, SilenceBlocks: 3})

	quiet := constantBlock(10, 256)
	for i := 0; i < 10; i++ {
		if got := vad.ProcessSamples(quiet); got != ActivityNone {
			t.Errorf("Expected no transition on block %d, got %s", i, got)
		}
	}
}

func TestVADDetector_SpeechToSilence(t *testing.T) {
	vad := NewVADDetector(&VADConfig{EnergyThreshold: 500.0, SilenceBlocks: 3})

	vad.ProcessSamples(constantBlock(5000, 256))

	quiet := constantBlock(10, 256)
	var events []Activity
	for i := 0; i < 3; i++ {
		events = append(events, vad.ProcessSamples(quiet))
	}

	if events[0] != ActivityNone || events[1] != ActivityNone {
		t.Errorf("Expected speech to continue through short silence, got %v", events)
	}
	if events[2] != ActivityEnded {
		t.Errorf("Expected speech to end after 3 quiet blocks, got %s", events[2])
	}
	if vad.IsSpeaking() {
		t.Error("Expected detector to report not speaking")
	}
}

func TestVADDetector_ProcessFrame(t *testing.T) {
	vad := NewVADDetector(nil)

	loud := make([]float32, 512)
	for i := range loud {
		loud[i] = 0.5
	}
	if got := vad.Process(EncodePCM16(loud)); got != ActivityStarted {
		t.Errorf("Expected speech_started, got %s", got)
	}

	// Odd-length frames are ignored
	if got := vad.Process(Frame{1, 2, 3}); got != ActivityNone {
		t.Errorf("Expected no transition for malformed frame, got %s", got)
	}
}

func TestVADDetector_Reset(t *testing.T) {
	vad := NewVADDetector(nil)
	vad.ProcessSamples(constantBlock(5000, 256))
	if !vad.IsSpeaking() {
		t.Fatal("Expected speech to be detected")
	}

	vad.Reset()
	if vad.IsSpeaking() {
		t.Error("Expected speech state to be false after reset")
	}
}

func TestDefaultVADConfig(t *testing.T) {
	config := DefaultVADConfig()
	if config.EnergyThreshold != 500.0 {
		t.Errorf("Expected default EnergyThreshold 500.0, got %f", config.EnergyThreshold)
	}
	if config.SilenceBlocks != 6 {
		t.Errorf("Expected default SilenceBlocks 6, got %d", config.SilenceBlocks)
	}
}

func TestDetectSilence(t *testing.T) {
	if DetectSilence([]int16{5000, 5000, 5000}, 1000.0) {
		t.Error("Expected high energy samples to not be silence")
	}
	if !DetectSilence([]int16{10, 10, 10}, 1000.0) {
		t.Error("Expected low energy samples to be silence")
	}
}

func TestActivityString(t *testing.T) {
	if ActivityStarted.String() != "speech_started" || ActivityEnded.String() != "speech_ended" {
		t.Errorf("Unexpected activity names: %s, %s", ActivityStarted, ActivityEnded)
	}
}
