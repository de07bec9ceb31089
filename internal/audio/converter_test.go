package audio

import (
	"encoding/binary"
	"math"
	"math/rand"
	"testing"
)

func TestEncodePCM16(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1, -1}
	frame := EncodePCM16(samples)

	if len(frame) != len(samples)*2 {
		t.Fatalf("Expected frame length %d, got %d", len(samples)*2, len(frame))
	}
	if frame.Samples() != len(samples) {
		t.Errorf("Expected %d samples, got %d", len(samples), frame.Samples())
	}

	expected := []int16{0, 16384, -16384, 32767, -32767}
	for i, want := range expected {
		got := int16(binary.LittleEndian.Uint16(frame[i*2:]))
		if got != want {
			t.Errorf("Sample %d: expected %d, got %d", i, want, got)
		}
	}
}

func TestEncodePCM16_Empty(t *testing.T) {
	frame := EncodePCM16(nil)
	if len(frame) != 0 {
		t.Errorf("Expected empty frame, got %d bytes", len(frame))
	}
}

func TestEncodeSample_UpperClampOnly(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"above one clamps", 1.7, 32767},
		{"exactly one", 1.0, 32767},
		{"minus one", -1.0, -32767},
		// -1.5 * 32767 = -49150.5, rounded to -49151, wraps to 16385.
		{"below minus one wraps", -1.5, 16385},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EncodeSample(tt.in); got != tt.want {
				t.Errorf("EncodeSample(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestEncodePCM16_MatchesRoundedScale(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for block := 0; block < 50; block++ {
		n := rng.Intn(4096) + 1
		samples := make([]float32, n)
		for i := range samples {
			// Spread inputs beyond [-1, 1] on both sides
			samples[i] = float32(rng.Float64()*4 - 2)
		}

		frame := EncodePCM16(samples)
		if frame.Samples() != n {
			t.Fatalf("Expected %d samples, got %d", n, frame.Samples())
		}

		for i, s := range samples {
			want := int16(int64(math.Round(math.Min(1, float64(s)) * 32767)))
			got := int16(binary.LittleEndian.Uint16(frame[i*2:]))
			if got != want {
				t.Fatalf("Block %d sample %d (%v): expected %d, got %d", block, i, s, want, got)
			}
		}
	}
}

func TestDecodePCM16(t *testing.T) {
	frame := EncodePCM16([]float32{0.25, -0.25, 1})

	samples, err := DecodePCM16(frame)
	if err != nil {
		t.Fatalf("DecodePCM16 failed: %v", err)
	}
	expected := []int16{8192, -8192, 32767}
	for i, want := range expected {
		if samples[i] != want {
			t.Errorf("Sample %d: expected %d, got %d", i, want, samples[i])
		}
	}

	if _, err := DecodePCM16([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for odd-length PCM data")
	}
}

func TestCalculateRMS(t *testing.T) {
	// Silence
	if rms := CalculateRMS(make([]int16, 100)); rms != 0.0 {
		t.Errorf("Expected RMS 0.0 for silence, got %f", rms)
	}

	// Constant amplitude
	samples := []int16{1000, -1000, 1000, -1000}
	if rms := CalculateRMS(samples); rms < 999 || rms > 1001 {
		t.Errorf("Expected RMS around 1000, got %f", rms)
	}

	if rms := CalculateRMS(nil); rms != 0.0 {
		t.Errorf("Expected RMS 0.0 for empty samples, got %f", rms)
	}
}

func TestPeaks(t *testing.T) {
	samples := []int16{0, 100, -32767, 0, 16384, 0, 0, 0}

	peaks := Peaks(samples, 4)
	if len(peaks) != 4 {
		t.Fatalf("Expected 4 peaks, got %d", len(peaks))
	}
	if peaks[1] != 1.0 {
		t.Errorf("Expected full-scale peak in bucket 1, got %f", peaks[1])
	}
	if peaks[3] != 0.0 {
		t.Errorf("Expected silent bucket 3, got %f", peaks[3])
	}

	if got := Peaks(samples, 100); len(got) != len(samples) {
		t.Errorf("Expected bucket count capped at %d, got %d", len(samples), len(got))
	}
	if got := Peaks(nil, 10); got != nil {
		t.Errorf("Expected nil peaks for empty input, got %v", got)
	}
}
