package obd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// HeaderSize is the fixed length of the ASCII length header that
	// precedes every emulator message.
	HeaderSize = 64
	// DisconnectMsg ends an emulator session.
	DisconnectMsg = "!disconnect"
)

// EmulatorClient talks to the driving simulator's OBD emulation server.
// Requests are the decimal PID, replies a JSON value.
type EmulatorClient struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
}

// DialEmulator connects to the emulation server at addr.
func DialEmulator(ctx context.Context, addr string) (*EmulatorClient, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to emulator: %w", err)
	}
	return NewEmulatorClient(conn), nil
}

// NewEmulatorClient wraps an open connection.
func NewEmulatorClient(conn net.Conn) *EmulatorClient {
	return &EmulatorClient{conn: conn, timeout: 5 * time.Second}
}

// WriteMessage frames msg with its padded length header.
func WriteMessage(w io.Writer, msg string) error {
	header := strconv.Itoa(len(msg))
	if len(header) > HeaderSize {
		return fmt.Errorf("message too long: %d bytes", len(msg))
	}
	header += strings.Repeat(" ", HeaderSize-len(header))

	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	_, err := io.WriteString(w, msg)
	return err
}

// ReadMessage reads one framed message. An empty header or a closed stream
// means the peer has gone and is reported as ErrDisconnected.
func ReadMessage(r io.Reader) (string, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return "", ErrDisconnected
		}
		return "", err
	}

	lenStr := strings.TrimSpace(string(header))
	if lenStr == "" {
		return "", ErrDisconnected
	}
	n, err := strconv.Atoi(lenStr)
	if err != nil || n < 0 {
		return "", fmt.Errorf("invalid message header %q", lenStr)
	}

	msg := make([]byte, n)
	if _, err := io.ReadFull(r, msg); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return "", ErrDisconnected
		}
		return "", err
	}
	return string(msg), nil
}

// Query requests one PID value.
func (c *EmulatorClient) Query(ctx context.Context, pid PID) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	if err := WriteMessage(c.conn, strconv.Itoa(int(pid))); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	reply, err := ReadMessage(c.conn)
	if err != nil {
		return 0, err
	}

	var v any
	if err := json.Unmarshal([]byte(reply), &v); err != nil {
		return 0, fmt.Errorf("invalid reply for %s: %w", pid, err)
	}
	switch v := v.(type) {
	case float64:
		return v, nil
	case string:
		if v == "unsupported" {
			return 0, fmt.Errorf("%w: %s", ErrUnsupportedPID, pid)
		}
	}
	return 0, fmt.Errorf("unexpected reply for %s: %s", pid, reply)
}

// Close ends the session and closes the connection.
func (c *EmulatorClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	WriteMessage(c.conn, DisconnectMsg)
	return c.conn.Close()
}
