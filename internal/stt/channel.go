package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/live-translator/internal/audio"
	"github.com/lexiqai/live-translator/internal/observability"
)

const (
	// DefaultSendQueue is the number of frames buffered while the channel is open.
	DefaultSendQueue = 8

	defaultCloseTimeout = 2 * time.Second
	inboundBuffer       = 32
)

// State is the lifecycle state of a recognition channel
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
	StateError // Terminal; a fresh channel is needed to recover
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Conn is the message transport under a channel. *websocket.Conn satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens a Conn to the recognizer
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials the recognizer with gorilla/websocket
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	Header           http.Header
}

// Dial implements Dialer
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// Options configures a Channel
type Options struct {
	URL          string        // Defaults to DefaultURL
	Dialer       Dialer        // Defaults to WebSocketDialer
	SendQueue    int           // Defaults to DefaultSendQueue
	CloseTimeout time.Duration // Deadline for the close handshake frame
	Logger       *zerolog.Logger
}

// Channel is a duplex connection to the recognizer. Frames go out in
// Send-call order through a single writer goroutine; parsed messages come
// back on Inbound in arrival order. A channel is opened at most once.
type Channel struct {
	url          string
	dialer       Dialer
	closeTimeout time.Duration
	logger       zerolog.Logger

	mu         sync.Mutex
	state      State
	opened     bool
	conn       Conn
	err        error
	cancelDial context.CancelFunc

	outbox  chan audio.Frame
	closing chan struct{}
	inbound chan Inbound

	wg          sync.WaitGroup
	closeOnce   sync.Once
	inboundOnce sync.Once
}

// NewChannel creates a channel in the Connecting state
func NewChannel(opts Options) *Channel {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer{HandshakeTimeout: 10 * time.Second}
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = DefaultSendQueue
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = defaultCloseTimeout
	}

	logger := observability.WithComponent("stt")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Channel{
		url:          opts.URL,
		dialer:       opts.Dialer,
		closeTimeout: opts.CloseTimeout,
		logger:       logger.With().Str("url", opts.URL).Logger(),
		state:        StateConnecting,
		outbox:       make(chan audio.Frame, opts.SendQueue),
		closing:      make(chan struct{}),
		inbound:      make(chan Inbound, inboundBuffer),
	}
}

// Open dials the recognizer and starts the read and write pumps. It blocks
// until the connection is established, ctx ends or Close is called.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.opened {
		c.mu.Unlock()
		return fmt.Errorf("%w: channel already opened", ErrChannel)
	}
	c.opened = true
	if c.state != StateConnecting {
		c.mu.Unlock()
		return fmt.Errorf("%w: channel closed before open", ErrChannel)
	}
	dialCtx, cancel := context.WithCancel(ctx)
	c.cancelDial = cancel
	c.mu.Unlock()
	defer cancel()

	conn, err := c.dialer.Dial(dialCtx, c.url)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnecting {
		// Close won the race; the late connection is released here
		if conn != nil {
			conn.Close()
		}
		return fmt.Errorf("%w: channel closed while connecting", ErrChannel)
	}
	if err != nil {
		c.state = StateError
		c.err = fmt.Errorf("%w: %v", ErrChannel, err)
		observability.RecordChannelError()
		c.logger.Error().Err(err).Msg("Failed to open recognition channel")
		return c.err
	}

	c.conn = conn
	c.state = StateOpen
	c.wg.Add(2)
	go c.writePump(conn)
	go c.readPump(conn)

	c.logger.Info().Msg("Recognition channel open")
	return nil
}

// Send queues a frame for transmission. Frames are dropped, not errored,
// while the channel is not open or when the outbox is full. It reports
// whether the frame was queued.
func (c *Channel) Send(frame audio.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		observability.RecordFrameDropped("not_open")
		return false
	}

	select {
	case c.outbox <- frame:
		return true
	default:
		observability.RecordFrameDropped("queue_full")
		c.logger.Warn().Int("bytes", len(frame)).Msg("Send queue full, dropping frame")
		return false
	}
}

// Inbound returns the stream of inbound events. It is closed once the
// channel has stopped reading.
func (c *Channel) Inbound() <-chan Inbound {
	return c.inbound
}

// State returns the current lifecycle state
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the failure that moved the channel to StateError, if any
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close shuts the channel down. It sends a best-effort close frame, then
// always releases the transport, whether or not the peer answers. Safe to
// call more than once and before Open.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.close()
	})
	return err
}

func (c *Channel) close() error {
	c.mu.Lock()
	failed := c.state == StateError
	if !failed {
		c.state = StateClosing
	}
	close(c.closing)
	if c.cancelDial != nil {
		c.cancelDial()
	}
	conn := c.conn
	c.mu.Unlock()

	var closeErr error
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		deadline := time.Now().Add(c.closeTimeout)
		if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !failed {
			c.logger.Debug().Err(err).Msg("Close frame not delivered")
		}
		if err := conn.Close(); err != nil && !failed {
			closeErr = fmt.Errorf("close recognition channel: %w", err)
		}
	}

	c.wg.Wait()
	c.closeInbound()

	for dropped := len(c.outbox); dropped > 0; dropped-- {
		<-c.outbox
		observability.RecordFrameDropped("closed")
	}

	c.mu.Lock()
	if c.state != StateError {
		c.state = StateClosed
	}
	c.mu.Unlock()

	c.logger.Info().Msg("Recognition channel closed")
	return closeErr
}

func (c *Channel) closeInbound() {
	c.inboundOnce.Do(func() {
		close(c.inbound)
	})
}

// fail moves the channel to StateError and releases the transport. It
// returns the error to report, or nil when the channel is being closed on
// purpose.
func (c *Channel) fail(cause error) error {
	c.mu.Lock()
	switch c.state {
	case StateClosing, StateClosed:
		c.mu.Unlock()
		return nil
	case StateError:
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.state = StateError
	c.err = fmt.Errorf("%w: %v", ErrChannel, cause)
	err := c.err
	conn := c.conn
	c.mu.Unlock()

	// Unblocks the other pump
	conn.Close()

	observability.RecordChannelError()
	c.logger.Error().Err(cause).Msg("Recognition channel failed")
	return err
}

func (c *Channel) writePump(conn Conn) {
	defer c.wg.Done()

	for {
		select {
		case <-c.closing:
			return
		case frame := <-c.outbox:
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				c.fail(err)
				return
			}
			observability.RecordFrameSent(len(frame))
		}
	}
}

func (c *Channel) readPump(conn Conn) {
	defer c.wg.Done()
	defer c.closeInbound()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if failure := c.fail(err); failure != nil {
				c.emit(Inbound{Err: failure})
			}
			return
		}

		msg, err := ParseMessage(data)
		var ev Inbound
		switch {
		case err != nil:
			observability.RecordInbound("malformed")
			c.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Dropping malformed transcript message")
			ev = Inbound{Err: err}
		case msg.Error != "":
			observability.RecordInbound("remote_error")
			c.logger.Warn().Str("remote_error", msg.Error).Msg("Recognizer reported an error")
			ev = Inbound{Message: msg, Err: fmt.Errorf("%w: %s", ErrRemote, msg.Error)}
		default:
			observability.RecordInbound("ok")
			ev = Inbound{Message: msg}
		}

		if !c.emit(ev) {
			return
		}
	}
}

// emit delivers an inbound event unless the channel is closing.
func (c *Channel) emit(ev Inbound) bool {
	select {
	case c.inbound <- ev:
		return true
	case <-c.closing:
		return false
	}
}

// IsTransportError reports whether err ended the channel.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrChannel)
}
