package obd

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// PortOptions describes the serial connection to an ELM327 adapter.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 38400
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	switch parity {
	case "", "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	opts.Parity = parity
	return opts, nil
}

// SerialMode converts the options into the mode go.bug.st/serial opens
// ports with.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}

	return mode, nil
}

// ELM327 queries a vehicle through an ELM327 compatible adapter.
type ELM327 struct {
	mu     sync.Mutex
	port   io.ReadWriteCloser
	reader *bufio.Reader
}

// OpenELM327 opens the adapter on a serial port and initialises it.
func OpenELM327(ctx context.Context, path string, opts PortOptions) (*ELM327, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	if err := port.SetReadTimeout(5 * time.Second); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	e := NewELM327(port)
	if err := e.Init(ctx); err != nil {
		port.Close()
		return nil, err
	}
	log.Printf("ELM327: connected on %s at %d baud", path, mode.BaudRate)
	return e, nil
}

// NewELM327 wraps an already open adapter connection.
func NewELM327(port io.ReadWriteCloser) *ELM327 {
	return &ELM327{port: port, reader: bufio.NewReader(port)}
}

// Init resets the adapter, turns off echo, linefeeds and spaces and lets
// it detect the vehicle protocol.
func (e *ELM327) Init(ctx context.Context) error {
	for _, cmd := range []string{"ATZ", "ATE0", "ATL0", "ATS0", "ATSP0"} {
		if _, err := e.command(ctx, cmd); err != nil {
			return fmt.Errorf("elm327 %s: %w", cmd, err)
		}
	}
	return nil
}

// command sends cmd and returns the response lines up to the prompt.
func (e *ELM327) command(ctx context.Context, cmd string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := io.WriteString(e.port, cmd+"\r"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	raw, err := e.reader.ReadString('>')
	if err != nil {
		if err == io.EOF {
			return nil, ErrDisconnected
		}
		return nil, err
	}

	var lines []string
	for _, line := range strings.FieldsFunc(raw, func(r rune) bool { return r == '\r' || r == '\n' || r == '>' }) {
		line = strings.TrimSpace(line)
		if line == "" || line == cmd {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// Query requests a mode 01 PID and decodes the reply.
func (e *ELM327) Query(ctx context.Context, pid PID) (float64, error) {
	lines, err := e.command(ctx, fmt.Sprintf("01%02X", byte(pid)))
	if err != nil {
		return 0, err
	}

	for _, line := range lines {
		switch {
		case line == "NO DATA":
			return 0, fmt.Errorf("%w: %s", ErrUnsupportedPID, pid)
		case strings.Contains(line, "UNABLE TO CONNECT"), strings.Contains(line, "CAN ERROR"):
			return 0, ErrDisconnected
		case strings.HasPrefix(line, "SEARCHING"):
			continue
		}

		data, err := hex.DecodeString(strings.ReplaceAll(line, " ", ""))
		if err != nil || len(data) < 3 || data[0] != 0x41 || PID(data[1]) != pid {
			continue
		}
		return decodePID(pid, data[2:])
	}
	return 0, fmt.Errorf("no valid response for %s: %q", pid, lines)
}

// decodePID applies the SAE J1979 scaling of a PID's data bytes.
func decodePID(pid PID, b []byte) (float64, error) {
	switch pid {
	case PIDRPM:
		if len(b) < 2 {
			return 0, fmt.Errorf("short response for %s", pid)
		}
		return float64(int(b[0])*256+int(b[1])) / 4, nil
	case PIDSpeed:
		return float64(b[0]), nil
	case PIDBaroPressure:
		return float64(b[0]) * 1000, nil
	case PIDThrottle, PIDFuelLevel:
		return float64(b[0]) * 100 / 255, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedPID, pid)
}

// Close closes the serial port.
func (e *ELM327) Close() error {
	return e.port.Close()
}
