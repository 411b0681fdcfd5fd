package sensor

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

var mockSensorNames = []string{
	"Polar H10",
	"Polar Verity Sense",
	"Garmin HRM-Pro",
	"Wahoo TICKR",
	"Coospo H808S",
	"Suunto Smart Sensor",
}

// Mock is a demo Connector producing a plausible heart-rate signal: a slow
// sinusoid around a resting rate plus noise, with occasional dropouts that
// exercise the reconnect path.
type Mock struct {
	Interval    time.Duration
	DropoutRate float64 // chance per notification that the strap goes quiet

	mu   sync.Mutex
	rnd  *rand.Rand
	name string
	base float64
}

func NewMock() *Mock {
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Mock{
		Interval:    time.Second,
		DropoutRate: 0.002,
		rnd:         rnd,
		name:        fmt.Sprintf("%s %04X", mockSensorNames[rnd.Intn(len(mockSensorNames))], rnd.Intn(0x10000)),
		base:        62 + rnd.Float64()*12,
	}
}

func (m *Mock) Connect(ctx context.Context) (Peripheral, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &mockPeripheral{m: m, stop: make(chan struct{})}, nil
}

func (m *Mock) float() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rnd.Float64()
}

// sample returns the measurement for t seconds into the session.
func (m *Mock) sample(t float64) Measurement {
	bpm := m.base + 14*math.Sin(t/40) + 6*math.Sin(t/7) + (m.float()-0.5)*4
	bpm = math.Round(bpm)
	contact := true
	return Measurement{
		BPM:     int(bpm),
		Contact: &contact,
		RR:      []float64{60000 / bpm},
	}
}

type mockPeripheral struct {
	m    *Mock
	once sync.Once
	stop chan struct{}
}

func (p *mockPeripheral) Name() string { return p.m.name }

func (p *mockPeripheral) Subscribe(fn func([]byte)) error {
	go func() {
		ticker := time.NewTicker(p.m.Interval)
		defer ticker.Stop()
		t := 0.0
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				if p.m.float() < p.m.DropoutRate {
					// strap lost skin contact; go quiet until disconnected
					<-p.stop
					return
				}
				t += p.m.Interval.Seconds()
				fn(EncodeMeasurement(p.m.sample(t)))
			}
		}
	}()
	return nil
}

func (p *mockPeripheral) Disconnect() error {
	p.once.Do(func() { close(p.stop) })
	return nil
}
