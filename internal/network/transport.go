// Package network implements the engine API transport and the port
// allocation used by networked matches.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// APIPath is where the engine serves its websocket API.
	APIPath = "/sc2api"

	DefaultRetryInterval  = 1 * time.Second
	DefaultConnectTimeout = 100 * time.Second

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// TransportConfig holds the endpoint and retry budget of one transport.
type TransportConfig struct {
	Address string
	Port    int

	// RetryInterval is the constant delay between connection attempts.
	RetryInterval time.Duration
	// ConnectTimeout bounds the total time spent retrying.
	ConnectTimeout time.Duration
}

// Transport owns one persistent websocket connection to one engine
// endpoint. Frames are sent and received whole, as binary messages.
type Transport struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	url    string
	port   int
	dialer *websocket.Dialer
	logger zerolog.Logger

	retryInterval  time.Duration
	connectTimeout time.Duration

	closed bool
}

// NewTransport creates an unconnected transport for the endpoint.
func NewTransport(cfg TransportConfig) *Transport {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1"
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port)),
		Path:   APIPath,
	}

	return &Transport{
		url:            u.String(),
		port:           cfg.Port,
		retryInterval:  cfg.RetryInterval,
		connectTimeout: cfg.ConnectTimeout,
		dialer: &websocket.Dialer{
			Proxy:            nil,
			HandshakeTimeout: handshakeTimeout,
		},
		logger: log.With().
			Str("component", "transport").
			Int("port", cfg.Port).
			Logger(),
	}
}

// URL returns the websocket URL of the endpoint.
func (t *Transport) URL() string {
	return t.url
}

// Connect establishes the connection, retrying refused or dropped dials at
// a constant interval until ConnectTimeout has elapsed. A rejected
// handshake is not retried.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return &ConnectionError{URL: t.url, Err: ErrClosed}
	}
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	start := time.Now()
	attempts := 0

	for {
		attempts++
		conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
		if err == nil {
			return t.attach(conn, attempts)
		}

		elapsed := time.Since(start)
		connErr := &ConnectionError{URL: t.url, Attempts: attempts, Elapsed: elapsed, Err: err}

		if ctx.Err() != nil {
			connErr.Err = ctx.Err()
			return connErr
		}
		if !retryable(err) {
			t.logger.Error().Err(err).Msg("engine API rejected the connection")
			return connErr
		}
		if elapsed+t.retryInterval > t.connectTimeout {
			t.logger.Error().
				Err(err).
				Int("attempts", attempts).
				Dur("elapsed", elapsed).
				Msg("failed to connect to engine API, giving up")
			return connErr
		}

		t.logger.Debug().
			Err(err).
			Int("attempt", attempts).
			Msg("failed to connect to engine API, retrying")

		select {
		case <-ctx.Done():
			connErr.Err = ctx.Err()
			return connErr
		case <-time.After(t.retryInterval):
		}
	}
}

func (t *Transport) attach(conn *websocket.Conn, attempts int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		conn.Close()
		return &ConnectionError{URL: t.url, Attempts: attempts, Err: ErrClosed}
	}

	t.conn = conn

	t.logger.Info().
		Str("url", t.url).
		Int("attempts", attempts).
		Msg("connected to engine API")
	return nil
}

// retryable reports whether a dial failure looks like the engine's
// listener is not up yet.
func retryable(err error) bool {
	if errors.Is(err, websocket.ErrBadHandshake) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Send writes one binary frame.
func (t *Transport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return &TransportError{Op: "send", Err: ErrClosed}
	}
	if t.conn == nil {
		return &TransportError{Op: "send", Err: ErrNotConnected}
	}

	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := t.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return &TransportError{Op: "send", Err: err}
	}

	t.logger.Trace().Int("bytes", len(frame)).Msg("frame sent")
	return nil
}

// Receive blocks until one whole frame arrives. Cancelling ctx aborts the
// wait and leaves the connection unusable.
func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	conn, closed := t.conn, t.closed
	t.mu.Unlock()

	if closed {
		return nil, &TransportError{Op: "receive", Err: ErrClosed}
	}
	if conn == nil {
		return nil, &TransportError{Op: "receive", Err: ErrNotConnected}
	}

	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &TransportError{Op: "receive", Err: err}
	}

	t.logger.Trace().Int("bytes", len(data)).Msg("frame received")
	return data, nil
}

// Close closes the connection. It is safe to call more than once and on a
// transport that never connected.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if t.conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))

	t.logger.Info().Msg("connection closed")
	if err := t.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

// IsConnected reports whether Connect succeeded and Close has not been called.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil && !t.closed
}

