package capture

import (
	"context"
	"errors"
)

var (
	// ErrDeviceUnavailable means no usable audio input exists.
	ErrDeviceUnavailable = errors.New("audio input device unavailable")

	// ErrPermissionDenied means the audio input exists but may not be opened.
	ErrPermissionDenied = errors.New("audio input permission denied")
)

// Microphone hands out exclusive access to an audio input
type Microphone interface {
	// Acquire opens the input. Errors wrap ErrDeviceUnavailable or
	// ErrPermissionDenied.
	Acquire(ctx context.Context) (Input, error)
}

// Input is an acquired audio input
type Input interface {
	// SampleRate is the native capture rate in Hz
	SampleRate() int

	// Start wires the processing graph and returns a stream of mono
	// float32 blocks of blockSize samples (the last one may be shorter).
	// The stream closes when the input ends or is closed.
	Start(blockSize int) (<-chan []float32, error)

	// Close releases the device handle and the processing graph
	Close() error
}
