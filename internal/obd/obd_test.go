package obd

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"eco-drive-assistant/internal/models"
	"eco-drive-assistant/internal/units"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestAltitude(t *testing.T) {
	assert.InDelta(t, 0, Altitude(101325), 2)
	assert.InDelta(t, 250, Altitude(Pressure(250)), 1e-3)
	assert.Greater(t, Altitude(90000), Altitude(100000))
}

func TestPortOptions(t *testing.T) {
	mode, err := PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{BaudRate: 38400, DataBits: 8, StopBits: serial.OneStopBit, Parity: serial.NoParity}, mode)

	mode, err = PortOptions{BaudRate: 9600, StopBits: 2, Parity: "even"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)

	_, err = PortOptions{DataBits: 9}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{StopBits: 3}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{Parity: "X"}.Normalize()
	assert.Error(t, err)
}

func TestFraming(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, "13"))
	assert.Equal(t, HeaderSize+2, buf.Len())
	assert.Equal(t, "2"+strings.Repeat(" ", HeaderSize-1), buf.String()[:HeaderSize])

	msg, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, "13", msg)

	_, err = ReadMessage(&buf)
	assert.ErrorIs(t, err, ErrDisconnected)

	_, err = ReadMessage(strings.NewReader(strings.Repeat(" ", HeaderSize)))
	assert.ErrorIs(t, err, ErrDisconnected)
}

// serveEmulator answers PID requests on conn from values until the client
// disconnects or n requests were served.
func serveEmulator(conn net.Conn, values map[PID]string, n int) {
	defer conn.Close()
	for i := 0; i < n; i++ {
		msg, err := ReadMessage(conn)
		if err != nil || msg == DisconnectMsg {
			return
		}
		pid, _ := strconv.Atoi(msg)
		reply, ok := values[PID(pid)]
		if !ok {
			reply = `"unsupported"`
		}
		if err := WriteMessage(conn, reply); err != nil {
			return
		}
	}
}

func TestEmulatorSource(t *testing.T) {
	server, client := net.Pipe()
	values := map[PID]string{
		PIDBaroPressure: strconv.FormatFloat(Pressure(120), 'f', -1, 64),
		PIDRPM:          "2150.5",
		PIDSpeed:        "48.25",
		PIDThrottle:     "35",
		PIDFuelLevel:    "62.5",
	}
	go serveEmulator(server, values, 100)

	src := NewQuerySource(NewEmulatorClient(client))
	now := time.Date(2022, 2, 1, 8, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return now }

	s, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now, s.Timestamp)
	assert.True(t, s.EngineOn)
	assert.Equal(t, 2150.5, s.EngineRPM)
	assert.Equal(t, units.Kmh(48.25), s.Speed)
	assert.Equal(t, 35.0, s.Throttle)
	assert.Equal(t, 62.5, s.FuelLevel)
	assert.InDelta(t, 120, s.Altitude, 1e-3)
	assert.Nil(t, s.GSIIndicating)

	require.NoError(t, src.Close())
}

func TestEmulatorUnsupported(t *testing.T) {
	server, client := net.Pipe()
	go serveEmulator(server, map[PID]string{}, 1)

	c := NewEmulatorClient(client)
	defer c.Close()

	_, err := c.Query(context.Background(), PIDSpeed)
	assert.ErrorIs(t, err, ErrUnsupportedPID)
}

func TestEmulatorDisconnect(t *testing.T) {
	server, client := net.Pipe()
	go serveEmulator(server, map[PID]string{PIDSpeed: "10"}, 1)

	c := NewEmulatorClient(client)
	defer c.Close()

	v, err := c.Query(context.Background(), PIDSpeed)
	require.NoError(t, err)
	assert.Equal(t, 10.0, v)

	_, err = c.Query(context.Background(), PIDSpeed)
	assert.ErrorIs(t, err, ErrDisconnected)
}

// fakeAdapter is a scripted ELM327.
type fakeAdapter struct {
	replies map[string]string
	out     bytes.Buffer
	sent    []string
	closed  bool
}

func (f *fakeAdapter) Write(p []byte) (int, error) {
	cmd := strings.TrimSuffix(string(p), "\r")
	f.sent = append(f.sent, cmd)
	reply, ok := f.replies[cmd]
	if !ok {
		reply = "?"
	}
	f.out.WriteString(reply + "\r\r>")
	return len(p), nil
}

func (f *fakeAdapter) Read(p []byte) (int, error) { return f.out.Read(p) }

func (f *fakeAdapter) Close() error {
	f.closed = true
	return nil
}

func TestELM327(t *testing.T) {
	adapter := &fakeAdapter{replies: map[string]string{
		"ATZ":   "ELM327 v1.5",
		"ATE0":  "OK",
		"ATL0":  "OK",
		"ATS0":  "OK",
		"ATSP0": "OK",
		"010C":  "SEARCHING...\r410C1AF8",
		"010D":  "410D30",
		"0111":  "41 11 80",
		"012F":  "412FFF",
		"0133":  "413365",
	}}

	e := NewELM327(adapter)
	require.NoError(t, e.Init(context.Background()))
	assert.Equal(t, []string{"ATZ", "ATE0", "ATL0", "ATS0", "ATSP0"}, adapter.sent)

	tests := []struct {
		pid  PID
		want float64
	}{
		{PIDRPM, 1726},
		{PIDSpeed, 48},
		{PIDThrottle, 128.0 * 100 / 255},
		{PIDFuelLevel, 100},
		{PIDBaroPressure, 101000},
	}
	for _, tt := range tests {
		t.Run(tt.pid.String(), func(t *testing.T) {
			got, err := e.Query(context.Background(), tt.pid)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	require.NoError(t, e.Close())
	assert.True(t, adapter.closed)
}

func TestELM327Errors(t *testing.T) {
	adapter := &fakeAdapter{replies: map[string]string{
		"010D": "NO DATA",
		"010C": "UNABLE TO CONNECT",
	}}
	e := NewELM327(adapter)

	_, err := e.Query(context.Background(), PIDSpeed)
	assert.ErrorIs(t, err, ErrUnsupportedPID)

	_, err = e.Query(context.Background(), PIDRPM)
	assert.ErrorIs(t, err, ErrDisconnected)

	_, err = e.Query(context.Background(), PIDFuelLevel)
	assert.Error(t, err)
}

func TestReplay(t *testing.T) {
	at := time.Date(2022, 2, 1, 8, 0, 0, 0, time.UTC)
	indicating := true
	r := NewReplay([]models.TelemetrySample{
		{ID: 4, TripID: "old", Timestamp: at, Speed: 10, GSIIndicating: &indicating},
		{Timestamp: at.Add(time.Second), Speed: 12},
	})
	assert.Equal(t, 2, r.Remaining())

	s, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, at, s.Timestamp)
	assert.True(t, s.EngineOn)
	assert.Empty(t, s.TripID)
	assert.Zero(t, s.ID)
	assert.Nil(t, s.GSIIndicating)

	s, err = r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, units.Kmh(12), s.Speed)

	_, err = r.Read(context.Background())
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestSimulate(t *testing.T) {
	start := time.Date(2022, 2, 1, 8, 0, 0, 0, time.UTC)
	samples := Simulate(start, time.Second, 100, UrbanCycle)

	var total time.Duration
	for _, p := range UrbanCycle {
		total += p.Duration
	}
	require.Len(t, samples, int(total/time.Second))

	assert.Equal(t, start, samples[0].Timestamp)
	assert.Equal(t, units.Kmh(0), samples[0].Speed)
	assert.Equal(t, 800.0, samples[0].EngineRPM)
	for i := 1; i < len(samples); i++ {
		assert.Equal(t, time.Second, samples[i].Timestamp.Sub(samples[i-1].Timestamp))
		assert.GreaterOrEqual(t, samples[i].Speed, units.Kmh(0))
		assert.LessOrEqual(t, samples[i].FuelLevel, samples[i-1].FuelLevel)
	}
}
