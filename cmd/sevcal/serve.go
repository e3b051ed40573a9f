package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sevcal/internal/cloudsync"
	"sevcal/internal/ics"
	appLog "sevcal/internal/log"
	"sevcal/internal/store"
	"sevcal/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web UI, storage sync and feed refresh",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	conf := a.conf
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"backend", conf.Storage.Backend,
		"read_only", conf.Storage.ReadOnly,
		"sync", conf.Sync.Enabled,
		"feed_count", len(conf.Feeds),
	)

	if conf.Sync.Enabled {
		if w, ok := store.AsWatcher(a.store); ok {
			poller := cloudsync.New(w, a.cal, conf.Sync.Schedule, a.metrics)
			if err := poller.Start(ctx); err != nil {
				return err
			}
			defer poller.Stop()
		} else {
			appLog.Warn("sync enabled but storage backend cannot be watched", "backend", conf.Storage.Backend)
		}
	}

	sources := make([]ics.Source, 0, len(conf.Feeds))
	for _, f := range conf.Feeds {
		sources = append(sources, ics.Source{ID: f.ID, Name: f.Name, URL: f.URL})
	}
	refresher := ics.NewRefresher(ics.NewFetcher(conf.FeedCacheDir, nil), a.cal, ics.RefresherConfig{
		Sources:     sources,
		HorizonDays: conf.FeedHorizonDays,
		Location:    location(conf),
		Metrics:     a.metrics,
	})
	if err := refresher.Start(ctx, conf.FeedRefresh); err != nil {
		return err
	}
	defer refresher.Stop()

	srv := web.NewServer(conf, a.cal, web.Options{Metrics: a.metrics, Gatherer: a.registry})
	defer srv.Close()

	if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("sevcal exiting")
	return nil
}
