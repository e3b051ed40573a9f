package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"sevcal/internal/calendar"
	"sevcal/internal/config"
	appLog "sevcal/internal/log"
	"sevcal/internal/metrics"
	"sevcal/internal/store"
)

const defaultConfigPath = "/etc/sevcal/config.yaml"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sevcal",
	Short: "Personal booking and availability calendar",
	Long: `sevcal tracks vendor and performer bookings per date, blackout dates and
subscribed holiday feeds, and serves them over a small web UI.`,
	SilenceUsage: true,
}

func init() {
	// serve is the default command.
	rootCmd.RunE = runServe
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to config file (or SEVCAL_CONFIG)")
}

// Execute runs the root command; serve is the default.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		appLog.Error("sevcal failed", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, applies env overrides and configures
// logging.
func loadConfig() (*config.Config, error) {
	// .env is loaded in main, after flag defaults are set.
	if v := os.Getenv("SEVCAL_CONFIG"); v != "" && !rootCmd.PersistentFlags().Changed("config") {
		configPath = v
	}
	conf, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	conf.ApplyEnv()
	conf.Normalize()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.SetFormat(conf.LogFormat)
	return conf, nil
}

func location(conf *config.Config) *time.Location {
	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		appLog.Warn("unknown timezone, using local time", "timezone", conf.Timezone)
		return time.Local
	}
	return loc
}

// app is the wiring shared by every command: config, store and a loaded
// calendar.
type app struct {
	conf     *config.Config
	store    store.Store
	cal      *calendar.Calendar
	metrics  *metrics.Metrics
	registry *prometheus.Registry
}

func openApp(ctx context.Context) (*app, error) {
	conf, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s, err := store.Open(ctx, conf.Storage)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	cal := calendar.New(s, calendar.WithMetrics(m), calendar.WithIDFunc(uuid.NewString))
	if err := cal.Load(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return &app{conf: conf, store: s, cal: cal, metrics: m, registry: reg}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		appLog.Error("failed to close store", err)
	}
}
