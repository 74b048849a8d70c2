package server

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrSlowConsumer is returned by Conn.Send when the outbound queue is
	// full. The connection is closed.
	ErrSlowConsumer = errors.New("server: slow consumer")
	// ErrConnClosed is returned by Conn.Send after Close.
	ErrConnClosed = errors.New("server: connection closed")
)

// Conn is the server's handle on one client connection. Send must not block.
type Conn interface {
	Send(frame []byte) error
	Close() error
	RemoteAddr() string
}

const writeWait = 5 * time.Second

// wsConn queues outbound frames for a single writer goroutine.
type wsConn struct {
	ws     *websocket.Conn
	out    chan []byte
	done   chan struct{}
	once   sync.Once
	remote string
}

func newWSConn(ws *websocket.Conn, queue int) *wsConn {
	return &wsConn{
		ws:     ws,
		out:    make(chan []byte, queue),
		done:   make(chan struct{}),
		remote: ws.RemoteAddr().String(),
	}
}

func (c *wsConn) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.out <- frame:
		return nil
	default:
		_ = c.Close()
		return ErrSlowConsumer
	}
}

// Close stops accepting frames. The writer flushes what is already queued,
// sends a close frame and closes the socket.
func (c *wsConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *wsConn) RemoteAddr() string {
	return c.remote
}

func (c *wsConn) writeLoop() {
	defer func() { _ = c.ws.Close() }()
	for {
		select {
		case frame := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			for {
				select {
				case frame := <-c.out:
					if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
						return
					}
				default:
					msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
					_ = c.ws.WriteMessage(websocket.CloseMessage, msg)
					return
				}
			}
		}
	}
}
