package sensor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"pulse.klederson.com/internal/config"
	"pulse.klederson.com/internal/state"
)

var ErrNoSensor = errors.New("no heart rate sensor found")

// Found is one heart-rate sensor seen during a scan.
type Found struct {
	Address string
	Name    string
	RSSI    int16

	addr bluetooth.Address
}

// BLE finds and connects to heart-rate straps over Bluetooth Low Energy.
type BLE struct {
	adapter     *bluetooth.Adapter
	address     string
	nameFilter  string
	scanTimeout time.Duration
	logger      *zap.Logger

	// Progress, if set, hears scanning when a scan starts and connecting
	// once a sensor is picked.
	Progress func(phase state.Phase, device string)

	scan func(ctx context.Context, timeout time.Duration) ([]Found, error)

	enableOnce sync.Once
	enableErr  error
}

// NewBLE targets the sensor at address if set, else the strongest sensor
// whose name contains nameFilter. Each scan lasts scanTimeout.
func NewBLE(address, nameFilter string, scanTimeout time.Duration, logger *zap.Logger) *BLE {
	if logger == nil {
		logger = zap.NewNop()
	}
	if scanTimeout <= 0 {
		scanTimeout = config.ScanTimeout
	}
	b := &BLE{
		adapter:     bluetooth.DefaultAdapter,
		address:     address,
		nameFilter:  nameFilter,
		scanTimeout: scanTimeout,
		logger:      logger.Named("ble"),
	}
	b.scan = b.Scan
	return b
}

func (b *BLE) enable() error {
	b.enableOnce.Do(func() {
		if err := b.adapter.Enable(); err != nil {
			b.enableErr = fmt.Errorf("failed to enable BLE adapter: %w (try running with sudo or setcap cap_net_admin+ep)", err)
		}
	})
	return b.enableErr
}

// Scan listens for Heart Rate service advertisements for timeout and returns
// the matching sensors, strongest signal first. Results are deduplicated by
// address.
func (b *BLE) Scan(ctx context.Context, timeout time.Duration) ([]Found, error) {
	if err := b.enable(); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	seen := make(map[string]Found)

	done := make(chan error, 1)
	go func() {
		done <- b.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !result.HasServiceUUID(bluetooth.ServiceUUIDHeartRate) {
				return
			}
			addr := result.Address.String()

			mu.Lock()
			defer mu.Unlock()
			if _, ok := seen[addr]; ok {
				return
			}

			var ids []uint16
			for _, m := range result.ManufacturerData() {
				ids = append(ids, m.CompanyID)
			}
			name := DisplayName(result.LocalName(), addr, ids...)
			if !MatchName(name, b.nameFilter) {
				return
			}
			b.logger.Debug("discovered", zap.String("name", name), zap.String("address", addr))
			seen[addr] = Found{Address: addr, Name: name, RSSI: result.RSSI, addr: result.Address}
		})
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
	}
	_ = b.adapter.StopScan()

	mu.Lock()
	defer mu.Unlock()
	out := make([]Found, 0, len(seen))
	for _, f := range seen {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RSSI > out[j].RSSI })
	b.logger.Debug("scan complete", zap.Int("found", len(out)))
	return out, ctx.Err()
}

// Connect scans until a matching sensor shows up, then connects to it.
// Empty scans are not failures: it keeps scanning every scanTimeout until
// ctx ends.
func (b *BLE) Connect(ctx context.Context) (Peripheral, error) {
	target, err := b.find(ctx)
	if err != nil {
		return nil, err
	}
	b.logger.Info("connecting", zap.String("name", target.Name), zap.String("address", target.Address))
	b.progress(state.Connecting, target.Name)

	dev, err := b.adapter.Connect(target.addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", target.Address, err)
	}
	return &blePeripheral{
		name: target.Name,
		discover: func() ([]bluetooth.DeviceService, error) {
			return dev.DiscoverServices([]bluetooth.UUID{bluetooth.ServiceUUIDHeartRate})
		},
		disconnect: dev.Disconnect,
	}, nil
}

func (b *BLE) find(ctx context.Context) (Found, error) {
	b.progress(state.Scanning, "")
	for {
		found, err := b.scan(ctx, b.scanTimeout)
		if err != nil {
			return Found{}, err
		}
		if target, ok := b.pick(found); ok {
			return target, nil
		}
		b.logger.Info("no heart rate sensor found, scanning again",
			zap.String("name_filter", b.nameFilter),
			zap.String("address", b.address),
			zap.Int("seen", len(found)))
		if ctx.Err() != nil {
			return Found{}, ErrNoSensor
		}
	}
}

func (b *BLE) progress(p state.Phase, device string) {
	if b.Progress != nil {
		b.Progress(p, device)
	}
}

func (b *BLE) pick(found []Found) (Found, bool) {
	if b.address == "" {
		if len(found) == 0 {
			return Found{}, false
		}
		return found[0], true
	}
	for _, f := range found {
		if strings.EqualFold(f.Address, b.address) {
			return f, true
		}
	}
	return Found{}, false
}

type blePeripheral struct {
	name       string
	discover   func() ([]bluetooth.DeviceService, error)
	disconnect func() error
}

func (p *blePeripheral) Name() string { return p.name }

func (p *blePeripheral) Subscribe(fn func([]byte)) error {
	services, err := p.discover()
	if err != nil {
		return fmt.Errorf("discover services: %w", err)
	}
	if len(services) == 0 {
		return errors.New("heart rate service not found")
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{bluetooth.CharacteristicUUIDHeartRateMeasurement})
	if err != nil {
		return fmt.Errorf("discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return errors.New("heart rate measurement characteristic not found")
	}
	return chars[0].EnableNotifications(fn)
}

func (p *blePeripheral) Disconnect() error {
	return p.disconnect()
}
