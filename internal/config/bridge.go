package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// BridgeFileName is looked up in the working directory, then under
// $XDG_CONFIG_HOME/pulse.
const BridgeFileName = "bridge.yaml"

// Bridge holds the tunables of `pulse bridge`. Durations are seconds so the
// file reads like `scan_timeout: 5`.
type Bridge struct {
	Server BridgeServer `yaml:"server"`
	BLE    BridgeBLE    `yaml:"ble"`
	Device BridgeDevice `yaml:"device"`
}

type BridgeServer struct {
	Host             string  `yaml:"host"`
	Port             int     `yaml:"port"`
	BroadcastTimeout float64 `yaml:"broadcast_timeout"`
	LogLevel         string  `yaml:"log_level"`
}

type BridgeBLE struct {
	ScanTimeout  float64 `yaml:"scan_timeout"`
	ReconnectMin float64 `yaml:"reconnect_min"`
	ReconnectMax float64 `yaml:"reconnect_max"`
}

type BridgeDevice struct {
	Address    string `yaml:"address"`
	NameFilter string `yaml:"name_filter"`
}

// DefaultBridge returns the built-in bridge tunables.
func DefaultBridge() Bridge {
	return Bridge{
		Server: BridgeServer{
			Host:             BridgeHost,
			Port:             BridgePort,
			BroadcastTimeout: BroadcastTimeout.Seconds(),
			LogLevel:         "info",
		},
		BLE: BridgeBLE{
			ScanTimeout:  ScanTimeout.Seconds(),
			ReconnectMin: SensorReconnectInitial.Seconds(),
			ReconnectMax: SensorReconnectMax.Seconds(),
		},
	}
}

func (b BridgeServer) Timeout() time.Duration { return seconds(b.BroadcastTimeout) }
func (b BridgeBLE) Scan() time.Duration       { return seconds(b.ScanTimeout) }
func (b BridgeBLE) MinDelay() time.Duration   { return seconds(b.ReconnectMin) }
func (b BridgeBLE) MaxDelay() time.Duration   { return seconds(b.ReconnectMax) }

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// BridgePaths lists the bridge config locations in lookup order.
func BridgePaths() []string {
	return []string{
		BridgeFileName,
		filepath.Join(filepath.Dir(DefaultSettingsPath()), BridgeFileName),
	}
}

// LoadBridge reads the first existing file in paths over the defaults. Keys
// missing from the file keep their default. A file that fails to parse
// yields the defaults together with the parse error so the caller can warn;
// the returned path names the file that was used or rejected.
func LoadBridge(paths []string) (Bridge, string, error) {
	cfg := DefaultBridge()
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return cfg, path, fmt.Errorf("read %s: %w", path, err)
		}

		parsed := DefaultBridge()
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return cfg, path, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := parsed.validate(); err != nil {
			return cfg, path, fmt.Errorf("%s: %w", path, err)
		}
		return parsed, path, nil
	}
	return cfg, "", nil
}

func (b Bridge) validate() error {
	switch {
	case b.Server.Port <= 0 || b.Server.Port > 65535:
		return fmt.Errorf("server.port %d out of range", b.Server.Port)
	case b.Server.BroadcastTimeout <= 0:
		return errors.New("server.broadcast_timeout must be positive")
	case b.BLE.ScanTimeout <= 0:
		return errors.New("ble.scan_timeout must be positive")
	case b.BLE.ReconnectMin <= 0 || b.BLE.ReconnectMax < b.BLE.ReconnectMin:
		return errors.New("ble.reconnect_min must be positive and not above reconnect_max")
	}
	return nil
}
