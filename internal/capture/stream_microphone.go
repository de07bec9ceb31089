package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
)

// StreamMicrophone reads raw float32 little-endian mono samples from a
// device node, FIFO or file, or from stdin when Path is "-". It pairs with
// tools such as `arecord -t raw -f FLOAT_LE -c1 -r48000`.
//
// Stdin cannot be reopened or interrupted, so one reader serves every
// input acquired from the same StreamMicrophone. Bytes a closed input did
// not deliver go to the next one.
type StreamMicrophone struct {
	Path       string
	Rate       int
	Stdin      io.Reader // Defaults to os.Stdin
	BlockQueue int       // Blocks buffered between reader and consumer

	stdinOnce sync.Once
	stdin     *byteSource
}

// Acquire implements Microphone
func (m *StreamMicrophone) Acquire(ctx context.Context) (Input, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Rate <= 0 {
		return nil, fmt.Errorf("%w: invalid sample rate %d", ErrDeviceUnavailable, m.Rate)
	}

	switch m.Path {
	case "":
		return nil, fmt.Errorf("%w: no input device configured", ErrDeviceUnavailable)
	case "-":
		m.stdinOnce.Do(func() {
			stdin := m.Stdin
			if stdin == nil {
				stdin = os.Stdin
			}
			m.stdin = newByteSource(stdin, nil)
		})
		return newStreamInput(m.stdin, nil, m.Rate, m.BlockQueue), nil
	}

	f, err := os.Open(m.Path)
	switch {
	case err == nil:
		in := newStreamInput(nil, f, m.Rate, m.BlockQueue)
		in.src = newByteSource(f, in.closed)
		return in, nil
	case errors.Is(err, os.ErrPermission):
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
}

const readChunk = 4096

var errInputClosed = errors.New("input closed")

// byteSource reads its underlying reader on one goroutine, started by the
// first consumer, and hands out chunks in order.
type byteSource struct {
	r    io.Reader
	stop <-chan struct{}

	startOnce sync.Once
	chunks    chan []byte

	mu      sync.Mutex
	pending []byte
}

func newByteSource(r io.Reader, stop <-chan struct{}) *byteSource {
	return &byteSource{r: r, stop: stop, chunks: make(chan []byte)}
}

func (s *byteSource) fill() {
	defer close(s.chunks)
	for {
		buf := make([]byte, readChunk)
		n, err := s.r.Read(buf)
		if n > 0 {
			select {
			case s.chunks <- buf[:n]:
			case <-s.stop:
				return
			}
		}
		if err != nil {
			// io.EOF ends the stream; anything else is a device failure.
			// Either way consumers see the close.
			return
		}
	}
}

// next returns bytes pushed back by an earlier consumer, else the next
// chunk. It fails with io.EOF once the reader is exhausted, or with
// errInputClosed when closed fires first.
func (s *byteSource) next(closed <-chan struct{}) ([]byte, error) {
	s.startOnce.Do(func() { go s.fill() })

	s.mu.Lock()
	if len(s.pending) > 0 {
		p := s.pending
		s.pending = nil
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	select {
	case chunk, ok := <-s.chunks:
		if !ok {
			return nil, io.EOF
		}
		return chunk, nil
	case <-closed:
		return nil, errInputClosed
	}
}

// unread pushes undelivered bytes back to the front of the stream
func (s *byteSource) unread(b []byte) {
	if len(b) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(append([]byte(nil), b...), s.pending...)
}

type streamInput struct {
	src    *byteSource
	closer io.Closer
	rate   int
	queue  int

	mu      sync.Mutex
	started bool

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

func newStreamInput(src *byteSource, closer io.Closer, rate, queue int) *streamInput {
	if queue <= 0 {
		queue = 4
	}
	return &streamInput{
		src:    src,
		closer: closer,
		rate:   rate,
		queue:  queue,
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (in *streamInput) SampleRate() int {
	return in.rate
}

func (in *streamInput) Start(blockSize int) (<-chan []float32, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", blockSize)
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.started {
		return nil, errors.New("input already started")
	}
	select {
	case <-in.closed:
		return nil, fmt.Errorf("%w: input closed", ErrDeviceUnavailable)
	default:
	}
	in.started = true

	blocks := make(chan []float32, in.queue)
	go in.pump(blockSize, blocks)
	return blocks, nil
}

func (in *streamInput) pump(blockSize int, blocks chan<- []float32) {
	defer close(in.done)
	defer close(blocks)

	need := blockSize * 4
	var buf []byte
	for {
		chunk, err := in.src.next(in.closed)
		if errors.Is(err, errInputClosed) {
			in.src.unread(buf)
			return
		}
		if err != nil {
			// A trailing short block is still delivered
			if n := len(buf) / 4 * 4; n > 0 {
				select {
				case blocks <- decodeFloat32LE(buf[:n]):
				case <-in.closed:
				}
			}
			return
		}

		buf = append(buf, chunk...)
		for len(buf) >= need {
			select {
			case blocks <- decodeFloat32LE(buf[:need]):
				buf = buf[need:]
			case <-in.closed:
				in.src.unread(buf)
				return
			}
		}
	}
}

func decodeFloat32LE(b []byte) []float32 {
	block := make([]float32, len(b)/4)
	for i := range block {
		block[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return block
}

// Close stops the input. A file-backed input waits for its reader to
// exit; a stdin reader outlives the input and serves the next one.
func (in *streamInput) Close() error {
	var err error
	in.closeOnce.Do(func() {
		close(in.closed)
		if in.closer != nil {
			err = in.closer.Close()
		}

		in.mu.Lock()
		started := in.started
		in.mu.Unlock()
		if started {
			<-in.done
		}
	})
	return err
}
