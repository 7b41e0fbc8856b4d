package network

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// echoHandler writes every received binary message back unchanged.
func echoHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(mt, data); err != nil {
			return
		}
	}
}

// silentHandler accepts the connection and never writes.
func silentHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func hostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func connectedTransport(t *testing.T, handler http.HandlerFunc) *Transport {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	host, port := hostPort(t, srv.Listener.Addr().String())
	tr := NewTransport(TransportConfig{Address: host, Port: port, RetryInterval: 10 * time.Millisecond})
	require.NoError(t, tr.Connect(context.Background()))
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestTransportURL(t *testing.T) {
	tr := NewTransport(TransportConfig{Address: "127.0.0.1", Port: 5000})
	assert.Equal(t, "ws://127.0.0.1:5000/sc2api", tr.URL())
}

func TestTransportPreservesFrames(t *testing.T) {
	tr := connectedTransport(t, echoHandler)

	big := make([]byte, 1<<20)
	for i := range big {
		big[i] = byte(i)
	}
	frames := [][]byte{{0x00}, {0xff, 0x00, 0x0a}, big}

	for _, frame := range frames {
		require.NoError(t, tr.Send(frame))
		got, err := tr.Receive(context.Background())
		require.NoError(t, err)
		assert.Equal(t, frame, got)
	}
	assert.True(t, tr.IsConnected())
}

func TestTransportSendBeforeConnect(t *testing.T) {
	tr := NewTransport(TransportConfig{Port: 1})

	err := tr.Send([]byte{1})

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = tr.Receive(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestTransportCloseIsIdempotent(t *testing.T) {
	never := NewTransport(TransportConfig{Port: 1})
	assert.NoError(t, never.Close())
	assert.NoError(t, never.Close())

	tr := connectedTransport(t, echoHandler)
	assert.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())
	assert.False(t, tr.IsConnected())
	assert.ErrorIs(t, tr.Send([]byte{1}), ErrClosed)
}

func TestTransportReceiveHonoursContext(t *testing.T) {
	tr := connectedTransport(t, silentHandler)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := tr.Receive(ctx)

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTransportReceiveAfterPeerCloses(t *testing.T) {
	closer := func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}
	tr := connectedTransport(t, closer)

	_, err := tr.Receive(context.Background())

	var terr *TransportError
	assert.True(t, errors.As(err, &terr))
}

func TestTransportConnectGivesUpAfterBudget(t *testing.T) {
	port, err := PickUnusedPort()
	require.NoError(t, err)

	tr := NewTransport(TransportConfig{
		Address:        "127.0.0.1",
		Port:           port,
		RetryInterval:  20 * time.Millisecond,
		ConnectTimeout: 150 * time.Millisecond,
	})

	err = tr.Connect(context.Background())

	var cerr *ConnectionError
	require.True(t, errors.As(err, &cerr), "expected ConnectionError, got %v", err)
	assert.Greater(t, cerr.Attempts, 1)
	assert.False(t, tr.IsConnected())
}

func TestTransportConnectRetriesUntilListenerIsUp(t *testing.T) {
	port, err := PickUnusedPort()
	require.NoError(t, err)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	srv := &http.Server{Handler: http.HandlerFunc(echoHandler)}
	t.Cleanup(func() { srv.Close() })

	go func() {
		time.Sleep(200 * time.Millisecond)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return
		}
		srv.Serve(ln)
	}()

	tr := NewTransport(TransportConfig{
		Address:        "127.0.0.1",
		Port:           port,
		RetryInterval:  25 * time.Millisecond,
		ConnectTimeout: 5 * time.Second,
	})
	t.Cleanup(func() { tr.Close() })

	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Send([]byte("ping")))
	got, err := tr.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), got)
}

func TestTransportConnectStopsOnCancel(t *testing.T) {
	port, err := PickUnusedPort()
	require.NoError(t, err)

	tr := NewTransport(TransportConfig{
		Address:        "127.0.0.1",
		Port:           port,
		RetryInterval:  20 * time.Millisecond,
		ConnectTimeout: time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = tr.Connect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
