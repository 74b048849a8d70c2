package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/pixelsync/pkg/protocol"
)

const transportWriteWait = 5 * time.Second

// FrameHandler receives every inbound text frame in arrival order.
type FrameHandler func(frame []byte)

// Transport manages the websocket connection to the server.
type Transport struct {
	ws      *websocket.Conn
	mu      sync.Mutex // one writer at a time
	handler FrameHandler
	done    chan struct{}
	once    sync.Once
}

// DialTransport connects to endpoint, retrying with exponential backoff up
// to retries times. Each attempt is bounded by timeout.
func DialTransport(ctx context.Context, endpoint string, retries int, timeout time.Duration) (*Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	var ws *websocket.Conn
	attempt := 0
	operation := func() error {
		attempt++
		dctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		conn, _, err := dialer.DialContext(dctx, endpoint, nil)
		if err != nil {
			return err
		}
		ws = conn
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(max(retries, 0))), ctx)

	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		slog.Debug("dial failed, retrying", "endpoint", endpoint, "attempt", attempt, "wait", wait, "err", err)
	})
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", endpoint, err)
	}

	ws.SetReadLimit(protocol.MaxFrameSize)
	return &Transport{ws: ws, done: make(chan struct{})}, nil
}

// SetFrameHandler sets the callback for inbound frames. Call before
// StartReceiving.
func (t *Transport) SetFrameHandler(handler FrameHandler) {
	t.handler = handler
}

// Send writes one text frame.
func (t *Transport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.ws.SetWriteDeadline(time.Now().Add(transportWriteWait))
	if err := t.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("client: write: %w", err)
	}
	return nil
}

// StartReceiving starts a goroutine that reads inbound frames and passes
// them to the frame handler. Done is closed when it stops.
func (t *Transport) StartReceiving() {
	go func() {
		defer close(t.done)
		for {
			kind, data, err := t.ws.ReadMessage()
			if err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) || errors.Is(err, websocket.ErrCloseSent) {
					slog.Debug("websocket closed", "err", err)
				} else {
					slog.Debug("websocket read error", "err", err)
				}
				return
			}
			if kind != websocket.TextMessage {
				continue
			}
			if t.handler != nil {
				t.handler(data)
			}
		}
	}()
}

// Close sends a close frame and closes the socket. Safe to call more than once.
func (t *Transport) Close() error {
	var err error
	t.once.Do(func() {
		t.mu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		t.mu.Unlock()
		err = t.ws.Close()
	})
	return err
}

// Done returns a channel that's closed when the connection is lost.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}
