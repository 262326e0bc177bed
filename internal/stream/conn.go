package stream

import (
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrDisconnected marks a normal end of session: close frame, EOF or reset.
	ErrDisconnected = errors.New("client disconnected")
	// ErrIdleTimeout is returned when no frame arrives within the idle timeout.
	ErrIdleTimeout = errors.New("idle timeout")
	// ErrNotBinary is returned for a message that is not a binary frame.
	ErrNotBinary = errors.New("non-binary message")
)

// Conn is the duplex transport a session runs over.
type Conn interface {
	// ReadFrame blocks until the next binary message arrives.
	ReadFrame() ([]byte, error)
	WriteJSON(v interface{}) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// WSConn adapts a gorilla websocket connection to Conn.
type WSConn struct {
	conn *websocket.Conn
}

// NewWSConn wraps conn. A positive maxFrameBytes bounds the size of one message.
func NewWSConn(conn *websocket.Conn, maxFrameBytes int64) *WSConn {
	if maxFrameBytes > 0 {
		conn.SetReadLimit(maxFrameBytes)
	}
	return &WSConn{conn: conn}
}

// ReadFrame reads one message and maps transport errors onto the stream sentinels.
func (c *WSConn) ReadFrame() ([]byte, error) {
	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, classifyReadError(err)
	}
	if messageType != websocket.BinaryMessage {
		return nil, ErrNotBinary
	}
	return data, nil
}

// WriteJSON sends v as a text message.
func (c *WSConn) WriteJSON(v interface{}) error {
	return c.conn.WriteJSON(v)
}

// SetReadDeadline sets the deadline for the next ReadFrame. The zero value blocks forever.
func (c *WSConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close sends a close frame when possible and closes the connection.
func (c *WSConn) Close() error {
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}

func classifyReadError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return ErrDisconnected
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrIdleTimeout
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) {
		return ErrDisconnected
	}
	return err
}
