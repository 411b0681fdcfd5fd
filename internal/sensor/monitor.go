// Package sensor talks to heart-rate straps: it scans for the standard Heart
// Rate service over BLE, holds a connection with reconnect backoff, and
// decodes measurement notifications into readings.
package sensor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pulse.klederson.com/internal/config"
	"pulse.klederson.com/internal/state"
)

// Reading is one decoded heart-rate notification.
type Reading struct {
	BPM       int
	RR        []float64 // ms
	Timestamp int64     // ms since epoch, stamped on receipt
}

// Sink receives readings and link status from a Monitor.
type Sink interface {
	Reading(r Reading)
	Status(phase state.Phase, device string)
}

// Peripheral is one connected sensor.
type Peripheral interface {
	Name() string
	// Subscribe enables measurement notifications; fn receives raw
	// characteristic values.
	Subscribe(fn func([]byte)) error
	Disconnect() error
}

// Connector finds and connects to a sensor.
type Connector interface {
	Connect(ctx context.Context) (Peripheral, error)
}

// ErrSilent means no notification arrived for the silence timeout.
var ErrSilent = errors.New("sensor went silent")

// Monitor keeps one sensor connected, reconnecting with exponential backoff.
type Monitor struct {
	connector Connector
	sink      Sink
	logger    *zap.Logger

	minDelay time.Duration
	maxDelay time.Duration
	silence  time.Duration
	poll     time.Duration
	now      func() time.Time
}

func NewMonitor(c Connector, sink Sink, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		connector: c,
		sink:      sink,
		logger:    logger.Named("sensor"),
		minDelay:  config.SensorReconnectInitial,
		maxDelay:  config.SensorReconnectMax,
		silence:   config.NotifySilenceTimeout,
		poll:      500 * time.Millisecond,
		now:       time.Now,
	}
}

// Backoff sets the reconnect delay range. Non-positive values keep the
// defaults.
func (m *Monitor) Backoff(minDelay, maxDelay time.Duration) *Monitor {
	if minDelay > 0 {
		m.minDelay = minDelay
	}
	if maxDelay >= m.minDelay {
		m.maxDelay = maxDelay
	}
	return m
}

// Run loops until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	delay := m.minDelay
	for {
		if ctx.Err() != nil {
			return nil
		}

		m.sink.Status(state.Connecting, "")
		p, err := m.connector.Connect(ctx)
		if err != nil {
			m.logger.Warn("connection failed", zap.Error(err))
		} else {
			delay = m.minDelay
			if err := m.hold(ctx, p); err != nil {
				m.logger.Warn("sensor link lost", zap.String("device", p.Name()), zap.Error(err))
			}
		}
		if ctx.Err() != nil {
			m.sink.Status(state.Disconnected, "")
			return nil
		}

		m.sink.Status(state.Disconnected, "")
		m.logger.Info("reconnecting", zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, m.maxDelay)
	}
}

// hold streams notifications from p until ctx ends or p goes silent.
func (m *Monitor) hold(ctx context.Context, p Peripheral) error {
	defer func() {
		if err := p.Disconnect(); err != nil {
			m.logger.Debug("disconnect", zap.Error(err))
		}
	}()

	var last atomic.Int64
	last.Store(m.now().UnixNano())

	err := p.Subscribe(func(b []byte) {
		meas, err := ParseMeasurement(b)
		if err != nil {
			m.logger.Warn("malformed heart rate packet", zap.Error(err))
			return
		}
		t := m.now()
		last.Store(t.UnixNano())
		m.logger.Debug("heart rate", zap.Int("bpm", meas.BPM), zap.Float64s("rr_ms", meas.RR))
		m.sink.Reading(Reading{BPM: meas.BPM, RR: meas.RR, Timestamp: t.UnixMilli()})
	})
	if err != nil {
		return err
	}

	m.logger.Info("connected", zap.String("device", p.Name()))
	m.sink.Status(state.Connected, p.Name())

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if m.now().Sub(time.Unix(0, last.Load())) > m.silence {
				return ErrSilent
			}
		}
	}
}
