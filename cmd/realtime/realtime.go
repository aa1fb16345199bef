// Package realtime implements the long-running monitoring command.
package realtime

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sodav/monitor/internal/conf"
	"github.com/sodav/monitor/internal/datastore"
	"github.com/sodav/monitor/internal/errors"
	"github.com/sodav/monitor/internal/events"
	"github.com/sodav/monitor/internal/logging"
	"github.com/sodav/monitor/internal/notification"
	"github.com/sodav/monitor/internal/observability"
	"github.com/sodav/monitor/internal/supervisor"
)

// Command creates the realtime monitoring command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "realtime",
		Short: "Monitor the configured stations until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), settings)
		},
	}
}

func run(ctx context.Context, settings *conf.Settings) error {
	log := logging.ForService("realtime")

	store := datastore.New(settings)
	if store == nil {
		return errors.Newf("no database output enabled, enable output.sqlite or output.mysql").
			Component("main").
			Category(errors.CategoryConfig).
			Build()
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("closing datastore", "error", err)
		}
	}()

	metrics := observability.NewMetrics()

	bus := events.NewBus(settings.Notification.QueueSize,
		events.WithDropHandler(func(subscriber string) {
			metrics.EventBusDrops.WithLabelValues(subscriber).Inc()
		}))
	defer bus.Close()

	bus.Subscribe(notification.NewLogSink())
	if settings.Notification.MQTT.Enabled {
		publisher, err := notification.NewMQTTPublisher(settings)
		if err != nil {
			log.Error("mqtt publisher unavailable, continuing without it", "error", err)
		} else {
			bus.Subscribe(publisher)
			defer publisher.Close()
		}
	}

	if server := observability.NewServer(settings, metrics); server != nil {
		go server.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error("stopping telemetry endpoint", "error", err)
			}
		}()
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting realtime monitoring", "node", settings.Main.Name)
	err := supervisor.New(store, bus, metrics, settings).Run(runCtx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("realtime monitoring stopped")
	return err
}
