package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"pulse.klederson.com/internal/bridge"
	"pulse.klederson.com/internal/config"
	"pulse.klederson.com/internal/logging"
	"pulse.klederson.com/internal/metrics"
	"pulse.klederson.com/internal/sensor"
	"pulse.klederson.com/internal/settings"
)

const settingsPollInterval = time.Second

// addConfigFlags registers the process flags shared by every command. Flags
// win over PULSE_* variables, which win over defaults.
func addConfigFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("log-level", "", "Log level: debug, info, warn, error")
	f.String("log-format", "", "Log format: console or json")
	f.String("log-file", "", "Log file (HUD default: next to the settings file)")
	f.String("settings", "", "Settings file (default $XDG_CONFIG_HOME/pulse/settings.yaml)")
	f.String("redis-addr", "", "Share settings through Redis at this address instead of the file")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address")
}

func loadConfig(cmd *cobra.Command) config.Config {
	cfg := config.Default()
	cfg.LoadFromEnv()

	flags := cmd.Flags()
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	str("log-level", &cfg.LogLevel)
	str("log-format", &cfg.LogFormat)
	str("log-file", &cfg.LogFile)
	str("settings", &cfg.SettingsFile)
	str("redis-addr", &cfg.Redis.Addr)
	str("metrics-addr", &cfg.MetricsAddr)
	return cfg
}

// openSettings picks the Redis store when an address is configured, else the
// YAML file, and starts watching it for changes made elsewhere.
func openSettings(ctx context.Context, cfg config.Config, logger *zap.Logger) (settings.Store, error) {
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		store := settings.NewRedisStore(client, cfg.Redis.Key, logger)
		go func() {
			if err := store.Watch(ctx); err != nil {
				logger.Warn("settings watch stopped", zap.Error(err))
			}
			client.Close()
		}()
		return store, nil
	}

	store := settings.NewFileStore(cfg.SettingsFile, logger)
	go store.Watch(ctx, settingsPollInterval)
	return store, nil
}

// startMetrics serves /metrics on addr until ctx ends. An empty addr returns
// the no-op collector.
func startMetrics(ctx context.Context, addr string, logger *zap.Logger) (metrics.Collector, error) {
	if addr == "" {
		return metrics.NewNop(), nil
	}
	reg := prometheus.NewRegistry()
	c, err := metrics.NewPrometheus(reg, "pulse")
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	logger.Info("metrics enabled", zap.String("addr", addr))
	return c, nil
}

func bridgeCmd() *cobra.Command {
	var (
		demo       bool
		verbose    bool
		configPath string
		host       string
		port       int
		address    string
		name       string
	)
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Stream a Bluetooth heart rate strap to HUD clients over WebSocket",
		Long: `The bridge scans for devices advertising the Heart Rate service, connects
to one, and broadcasts every measurement as JSON to all WebSocket clients.

Tunables are read from ./bridge.yaml, then $XDG_CONFIG_HOME/pulse/bridge.yaml
(sections server, ble, device). Flags win over the file.

Requires sudo or CAP_NET_ADMIN capability for real Bluetooth scanning.
Use --demo for a synthetic signal without Bluetooth hardware.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadConfig(cmd)
			paths := config.BridgePaths()
			if configPath != "" {
				paths = []string{configPath}
			}
			bcfg, bpath, fileErr := config.LoadBridge(paths)
			resolveBridge(cmd, &cfg, &bcfg)
			if verbose {
				cfg.LogLevel = "debug"
			}

			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile, "bridge")
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logger.Sync()
			if fileErr != nil {
				logger.Warn("bridge config unusable, using defaults", zap.String("path", bpath), zap.Error(fileErr))
			} else if bpath != "" {
				logger.Info("bridge config loaded", zap.String("path", bpath))
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			srv := bridge.New(net.JoinHostPort(bcfg.Server.Host, strconv.Itoa(bcfg.Server.Port)), logger)
			srv.SetBroadcastTimeout(bcfg.Server.Timeout())
			if cfg.MetricsAddr != "" {
				reg := prometheus.NewRegistry()
				c, err := metrics.NewPrometheus(reg, "bridge")
				if err != nil {
					return err
				}
				srv.SetMetrics(c)
				srv.Handle("/metrics", metrics.Handler(reg))
			}

			var connector sensor.Connector
			if demo {
				connector = sensor.NewMock()
			} else {
				ble := sensor.NewBLE(bcfg.Device.Address, bcfg.Device.NameFilter, bcfg.BLE.Scan(), logger)
				ble.Progress = srv.Status
				connector = ble
			}

			mon := sensor.NewMonitor(connector, srv, logger).Backoff(bcfg.BLE.MinDelay(), bcfg.BLE.MaxDelay())
			go mon.Run(ctx)
			return srv.ListenAndServe(ctx)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&demo, "demo", false, "Synthetic heart rate instead of Bluetooth")
	f.BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	f.StringVar(&configPath, "config", "", "Bridge config file (default ./bridge.yaml, then $XDG_CONFIG_HOME/pulse/bridge.yaml)")
	f.StringVarP(&host, "host", "H", config.BridgeHost, "Listen host")
	f.IntVarP(&port, "port", "p", config.BridgePort, "Listen port")
	f.StringVarP(&address, "address", "d", "", "Connect only to the sensor with this address")
	f.StringVarP(&name, "name", "n", "", "Connect to the strongest sensor whose name contains this (case-insensitive)")
	return cmd
}

// resolveBridge layers changed flags over the bridge file. The file's
// log_level applies only when neither the flag nor PULSE_LOG_LEVEL set one.
func resolveBridge(cmd *cobra.Command, cfg *config.Config, b *config.Bridge) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		b.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		b.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("address") {
		b.Device.Address, _ = flags.GetString("address")
	}
	if flags.Changed("name") {
		b.Device.NameFilter, _ = flags.GetString("name")
	}
	if !flags.Changed("log-level") && os.Getenv(config.EnvLogLevel) == "" && b.Server.LogLevel != "" {
		cfg.LogLevel = strings.ToLower(b.Server.LogLevel)
	}
}

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the shared HUD settings",
	}

	// edit applies fn through the configured store so running HUDs pick up
	// the change, then prints the result.
	edit := func(cmd *cobra.Command, fn func(settings.Settings) (settings.Settings, error)) error {
		cfg := loadConfig(cmd)
		logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile, "settings")
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		store, err := openSettings(ctx, cfg, logger)
		if err != nil {
			return err
		}

		next, err := settings.TryUpdate(ctx, store, fn)
		if err != nil {
			return err
		}
		return printSettings(cmd, next)
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadConfig(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			store, err := openSettings(ctx, cfg, zap.NewNop())
			if err != nil {
				return err
			}
			s, err := store.Load(ctx)
			if err != nil {
				return err
			}
			return printSettings(cmd, s)
		},
	}

	set := &cobra.Command{
		Use:       "set <key> <value>",
		Short:     "Change one setting",
		Args:      cobra.ExactArgs(2),
		ValidArgs: settings.Keys,
		RunE: func(cmd *cobra.Command, args []string) error {
			return edit(cmd, func(s settings.Settings) (settings.Settings, error) {
				return settings.Set(s, args[0], args[1])
			})
		},
	}

	override := &cobra.Command{
		Use:   "override <origin> <on|off|inherit>",
		Short: "Force the HUD on or off for one origin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := settings.ParseOverride(args[1])
			if err != nil {
				return err
			}
			return edit(cmd, func(s settings.Settings) (settings.Settings, error) {
				return s.WithOverride(args[0], o), nil
			})
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Restore default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return edit(cmd, func(settings.Settings) (settings.Settings, error) {
				return settings.Default(), nil
			})
		},
	}

	cmd.AddCommand(show, set, override, reset)
	return cmd
}

func printSettings(cmd *cobra.Command, s settings.Settings) error {
	out, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
