package sensor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pulse.klederson.com/internal/state"
)

func TestParseMeasurement(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		bpm     int
		contact *bool
		energy  *int
		rr      []float64
	}{
		{name: "uint8", data: []byte{0x00, 72}, bpm: 72},
		{name: "uint16", data: []byte{0x01, 0x2C, 0x01}, bpm: 300},
		{name: "contact supported, not detected", data: []byte{0x04, 60}, bpm: 60, contact: ptr(false)},
		{name: "contact detected", data: []byte{0x06, 60}, bpm: 60, contact: ptr(true)},
		{name: "energy", data: []byte{0x08, 80, 0x10, 0x00}, bpm: 80, energy: ptr(16)},
		{name: "rr", data: []byte{0x10, 75, 0x00, 0x04, 0x00, 0x02}, bpm: 75, rr: []float64{1000, 500}},
		{name: "rr odd trailing byte ignored", data: []byte{0x10, 75, 0x00, 0x04, 0x01}, bpm: 75, rr: []float64{1000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseMeasurement(tt.data)
			require.NoError(t, err)
			require.Equal(t, tt.bpm, m.BPM)
			require.Equal(t, tt.contact, m.Contact)
			require.Equal(t, tt.energy, m.Energy)
			require.Equal(t, tt.rr, m.RR)
		})
	}
}

func TestParseMeasurement_Errors(t *testing.T) {
	_, err := ParseMeasurement(nil)
	require.ErrorIs(t, err, ErrEmptyMeasurement)

	_, err = ParseMeasurement([]byte{0x00})
	require.ErrorIs(t, err, ErrShortMeasurement)

	_, err = ParseMeasurement([]byte{0x01, 0x40})
	require.ErrorIs(t, err, ErrShortMeasurement)

	_, err = ParseMeasurement([]byte{0x08, 70, 0x01})
	require.ErrorIs(t, err, ErrShortMeasurement)
}

func TestEncodeMeasurementRoundTrip(t *testing.T) {
	in := Measurement{BPM: 65, Contact: ptr(true), Energy: ptr(12), RR: []float64{1000}}
	out, err := ParseMeasurement(EncodeMeasurement(in))
	require.NoError(t, err)
	require.Equal(t, in, out)

	out, err = ParseMeasurement(EncodeMeasurement(Measurement{BPM: 260}))
	require.NoError(t, err)
	require.Equal(t, 260, out.BPM)
}

func TestDisplayName(t *testing.T) {
	require.Equal(t, "Polar H10", DisplayName("Polar H10", "AA:BB:CC:DD:EE:FF"))
	require.Equal(t, "Polar EE:FF", DisplayName("", "AA:BB:CC:DD:EE:FF", 0xFFFF, 0x006B))
	require.Equal(t, "Unknown", DisplayName("", "AA:BB:CC:DD:EE:FF", 0xFFFF))
}

func TestMatchName(t *testing.T) {
	require.True(t, MatchName("Polar H10 1A2B", ""))
	require.True(t, MatchName("Polar H10 1A2B", "polar"))
	require.False(t, MatchName("Garmin HRM-Pro", "polar"))
}

func ptr[T any](v T) *T { return &v }

type recordSink struct {
	mu       sync.Mutex
	readings []Reading
	statuses []state.Phase
	devices  []string
}

func (s *recordSink) Reading(r Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, r)
}

func (s *recordSink) Status(p state.Phase, device string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, p)
	s.devices = append(s.devices, device)
}

func (s *recordSink) snapshot() ([]Reading, []state.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Reading(nil), s.readings...), append([]state.Phase(nil), s.statuses...)
}

type fakePeripheral struct {
	mu           sync.Mutex
	fn           func([]byte)
	disconnected bool
}

func (p *fakePeripheral) Name() string { return "Test Strap" }

func (p *fakePeripheral) Subscribe(fn func([]byte)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fn = fn
	return nil
}

func (p *fakePeripheral) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = true
	return nil
}

func (p *fakePeripheral) notify(b []byte) {
	p.mu.Lock()
	fn := p.fn
	p.mu.Unlock()
	fn(b)
}

type fakeConnector struct {
	mu       sync.Mutex
	failures int
	calls    int
	peers    []*fakePeripheral
}

func (c *fakeConnector) Connect(context.Context) (Peripheral, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.failures {
		return nil, errors.New("not in range")
	}
	p := &fakePeripheral{}
	c.peers = append(c.peers, p)
	return p, nil
}

func (c *fakeConnector) peer(i int) *fakePeripheral {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.peers) {
		return nil
	}
	return c.peers[i]
}

func testMonitor(c Connector, sink Sink) *Monitor {
	m := NewMonitor(c, sink, nil)
	m.minDelay = time.Millisecond
	m.maxDelay = 4 * time.Millisecond
	m.silence = 50 * time.Millisecond
	m.poll = 5 * time.Millisecond
	return m
}

func TestMonitor_RetriesThenStreams(t *testing.T) {
	c := &fakeConnector{failures: 2}
	sink := &recordSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := testMonitor(c, sink)
	m.silence = time.Minute
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return c.peer(0) != nil }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		_, st := sink.snapshot()
		return len(st) > 0 && st[len(st)-1] == state.Connected
	}, time.Second, time.Millisecond)

	c.peer(0).notify([]byte{0x10, 72, 0x00, 0x04})
	c.peer(0).notify([]byte{0xFF})

	readings, statuses := sink.snapshot()
	require.Len(t, readings, 1)
	require.Equal(t, 72, readings[0].BPM)
	require.Equal(t, []float64{1000}, readings[0].RR)
	require.Equal(t, []state.Phase{
		state.Connecting, state.Disconnected,
		state.Connecting, state.Disconnected,
		state.Connecting, state.Connected,
	}, statuses)

	cancel()
	<-done
	p := c.peer(0)
	p.mu.Lock()
	defer p.mu.Unlock()
	require.True(t, p.disconnected)
}

func TestMonitor_SilenceReconnects(t *testing.T) {
	c := &fakeConnector{}
	sink := &recordSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go testMonitor(c, sink).Run(ctx)

	require.Eventually(t, func() bool { return c.peer(1) != nil }, 2*time.Second, time.Millisecond)
	c.peer(0).mu.Lock()
	require.True(t, c.peer(0).disconnected)
	c.peer(0).mu.Unlock()
}

func TestMock_ProducesParseableNotifications(t *testing.T) {
	m := NewMock()
	m.Interval = time.Millisecond
	m.DropoutRate = 0

	p, err := m.Connect(context.Background())
	require.NoError(t, err)

	got := make(chan []byte, 8)
	require.NoError(t, p.Subscribe(func(b []byte) {
		select {
		case got <- b:
		default:
		}
	}))
	defer p.Disconnect()

	meas, err := ParseMeasurement(<-got)
	require.NoError(t, err)
	require.Greater(t, meas.BPM, 30)
	require.Less(t, meas.BPM, 120)
	require.NotNil(t, meas.Contact)
	require.Len(t, meas.RR, 1)
}

func TestBLE_FindRescansUntilSensorAppears(t *testing.T) {
	var phases []state.Phase
	scans := 0
	b := &BLE{
		scanTimeout: time.Millisecond,
		nameFilter:  "polar",
		logger:      zap.NewNop(),
		Progress:    func(p state.Phase, _ string) { phases = append(phases, p) },
	}
	b.scan = func(_ context.Context, timeout time.Duration) ([]Found, error) {
		require.Equal(t, time.Millisecond, timeout)
		scans++
		if scans < 3 {
			return nil, nil
		}
		return []Found{{Address: "AA", Name: "Polar H10", RSSI: -50}, {Address: "BB", Name: "Polar OH1", RSSI: -70}}, nil
	}

	got, err := b.find(context.Background())
	require.NoError(t, err)
	require.Equal(t, "AA", got.Address)
	require.Equal(t, 3, scans)
	require.Equal(t, []state.Phase{state.Scanning}, phases)
}

func TestBLE_FindMatchesAddress(t *testing.T) {
	b := &BLE{scanTimeout: time.Millisecond, address: "bb", logger: zap.NewNop()}
	scans := 0
	b.scan = func(context.Context, time.Duration) ([]Found, error) {
		scans++
		if scans == 1 {
			return []Found{{Address: "AA", RSSI: -40}}, nil
		}
		return []Found{{Address: "AA", RSSI: -40}, {Address: "BB", RSSI: -80}}, nil
	}

	got, err := b.find(context.Background())
	require.NoError(t, err)
	require.Equal(t, "BB", got.Address)
	require.Equal(t, 2, scans)
}

func TestBLE_FindStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &BLE{scanTimeout: time.Millisecond, logger: zap.NewNop()}
	b.scan = func(ctx context.Context, _ time.Duration) ([]Found, error) {
		cancel()
		return nil, ctx.Err()
	}

	_, err := b.find(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMonitor_Backoff(t *testing.T) {
	m := NewMonitor(&fakeConnector{}, &recordSink{}, nil)
	m.Backoff(2*time.Second, 45*time.Second)
	require.Equal(t, 2*time.Second, m.minDelay)
	require.Equal(t, 45*time.Second, m.maxDelay)

	m.Backoff(0, time.Second)
	require.Equal(t, 2*time.Second, m.minDelay)
	require.Equal(t, 45*time.Second, m.maxDelay)
}
