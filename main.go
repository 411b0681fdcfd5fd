package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pulse.klederson.com/internal/app"
	"pulse.klederson.com/internal/bus"
	"pulse.klederson.com/internal/config"
	"pulse.klederson.com/internal/conn"
	"pulse.klederson.com/internal/logging"
	"pulse.klederson.com/internal/settings"
	"pulse.klederson.com/internal/state"
)

var (
	flagOrigins   []string
	flagExportDir string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pulse",
		Short: "PULSE - live heart rate HUD for the terminal",
		Long: `PULSE connects to a heart rate stream over WebSocket and shows the live
value on one overlay panel per page, with a rolling graph.

Run "pulse bridge" next to it to stream from a Bluetooth heart rate strap,
or "pulse bridge --demo" for a synthetic signal without hardware.`,
		SilenceUsage: true,
		RunE:         runHUD,
	}

	addConfigFlags(rootCmd)
	rootCmd.Flags().StringSliceVar(&flagOrigins, "origin", []string{config.DefaultOrigin}, "Page origin to host a surface for (repeatable)")
	rootCmd.Flags().StringVar(&flagExportDir, "export-dir", ".", "Directory for graph PNG exports")

	rootCmd.AddCommand(bridgeCmd(), settingsCmd())
	return rootCmd
}

func runHUD(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig(cmd)
	// The HUD owns the terminal; logs always go to a file.
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(filepath.Dir(cfg.SettingsFile), "pulse.log")
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile, "hud")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := openSettings(ctx, cfg, logger)
	if err != nil {
		return err
	}
	initial := loadInitial(ctx, store, logger)

	collector, err := startMetrics(ctx, cfg.MetricsAddr, logger)
	if err != nil {
		return err
	}

	states := state.NewStore()
	b := bus.New(config.BusBuffer, collector)
	mgr := conn.NewManager(states, b, initial, conn.Options{
		Liveness: cfg.LivenessInterval,
		Metrics:  collector,
		Logger:   logger,
	})
	runErr := make(chan error, 1)
	go func() { runErr <- mgr.Run(ctx) }()
	stopFollow := mgr.Follow(ctx, store)
	defer stopFollow()

	model := app.New(ctx, app.Deps{
		Settings:  store,
		States:    states,
		Bus:       b,
		Conn:      mgr,
		Logger:    logger,
		Origins:   flagOrigins,
		ExportDir: flagExportDir,
	})

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithFPS(config.TargetFPS),
		tea.WithContext(ctx),
	)
	model.Start(p)

	logger.Info("hud started", zap.Strings("origins", flagOrigins), zap.String("stream", initial.StreamURL))
	_, err = p.Run()
	cancel()
	if rerr := <-runErr; rerr != nil && !errors.Is(rerr, context.Canceled) {
		logger.Warn("connection manager stopped", zap.Error(rerr))
	}
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

// loadInitial reads the starting settings. An unreadable store is not fatal:
// the HUD starts on defaults and picks up the store once it is fixed.
func loadInitial(ctx context.Context, store settings.Store, logger *zap.Logger) settings.Settings {
	s, err := store.Load(ctx)
	if err != nil {
		logger.Warn("settings unreadable, using defaults", zap.Error(err))
		return settings.Default()
	}
	return s
}
