package audio

import (
	"fmt"
	"math"
)

// pcm16Scale maps a full-scale float sample onto the positive int16 range.
const pcm16Scale = 32767

// Frame is one block of PCM16 audio (signed 16-bit, little-endian, mono)
// ready for transmission. Frames are not modified after encoding.
type Frame []byte

// Samples returns the number of 16-bit samples carried by the frame.
func (f Frame) Samples() int {
	return len(f) / 2
}

// EncodePCM16 converts floating-point samples into a PCM16 frame.
// Output length is always 2*len(samples) bytes, in input order.
func EncodePCM16(samples []float32) Frame {
	frame := make(Frame, len(samples)*2)
	for i, s := range samples {
		v := EncodeSample(s)
		// Little-endian 16-bit signed integer
		frame[i*2] = byte(v)
		frame[i*2+1] = byte(uint16(v) >> 8)
	}
	return frame
}

// EncodeSample converts one float sample to PCM16.
//
// Only the upper bound is clamped. A sample below -1 is scaled as-is and the
// result keeps its low 16 bits, so it wraps instead of saturating.
func EncodeSample(s float32) int16 {
	x := float64(s)
	if x > 1.0 {
		x = 1.0
	}
	return int16(int64(math.Round(x * pcm16Scale)))
}

// DecodePCM16 converts little-endian PCM16 bytes back to samples.
func DecodePCM16(pcmData []byte) ([]int16, error) {
	if len(pcmData)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d", len(pcmData))
	}

	samples := make([]int16, len(pcmData)/2)
	for i := range samples {
		samples[i] = int16(pcmData[i*2]) | int16(pcmData[i*2+1])<<8
	}
	return samples, nil
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
// Useful for detecting audio levels and silence
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// Peaks reduces samples to at most buckets normalized peak levels in [0, 1],
// suitable for drawing a waveform.
func Peaks(samples []int16, buckets int) []float64 {
	if buckets <= 0 || len(samples) == 0 {
		return nil
	}
	if buckets > len(samples) {
		buckets = len(samples)
	}

	peaks := make([]float64, buckets)
	for b := 0; b < buckets; b++ {
		start := b * len(samples) / buckets
		end := (b + 1) * len(samples) / buckets

		var peak int32
		for _, s := range samples[start:end] {
			v := int32(s)
			if v < 0 {
				v = -v
			}
			if v > peak {
				peak = v
			}
		}
		peaks[b] = math.Min(float64(peak)/pcm16Scale, 1.0)
	}
	return peaks
}
