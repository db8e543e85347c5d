package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"fleetalert/internal/bucket"
	"fleetalert/internal/catalog"
	"fleetalert/internal/config"
	"fleetalert/internal/engine"
	"fleetalert/internal/metrics"
	"fleetalert/internal/modem"
	"fleetalert/internal/notify"
	"fleetalert/internal/schedule"
	"fleetalert/internal/state"
	"fleetalert/internal/storage"
	"fleetalert/internal/threshold"
	"fleetalert/internal/version"
)

func main() {
	configPath := flag.String("config", os.Getenv("FLEETALERT_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	logrus.WithFields(logrus.Fields{
		"version": version.Version,
		"config":  *configPath,
	}).Info("fleetalert starting")

	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		logrus.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()

	gate, err := schedule.New(cfg.Timezone, cfg.Hours.Weekday.Window(), cfg.Hours.Saturday.Window())
	if err != nil {
		logrus.WithError(err).Fatal("invalid working hours")
	}

	transports, err := buildTransports(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("failed to configure transports")
	}
	if len(transports) == 0 {
		logrus.Warn("no notification transports enabled, alerts will be dropped")
	}

	history := notify.NewHistory(db)
	dispatcher := notify.NewDispatcher(transports, history, cfg.Alerts.MaxDetailedEntries, gate.Location())

	eng := engine.New(engine.Options{
		Catalog:          catalog.NewStore(db),
		States:           state.NewStore(db),
		Tracker:          threshold.NewTracker(cfg.Alerts.EscalationStreak),
		Buckets:          bucket.NewStore(gate.Location()),
		Dispatcher:       dispatcher,
		Gate:             gate,
		Recorder:         metrics.NewRecorder(),
		History:          history,
		HistoryRetention: cfg.Alerts.HistoryRetention,
		StreakMaxIdle:    cfg.Alerts.StreakMaxIdle,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engineDone := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(engineDone)
	}()

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: newRouter(eng, history),
	}
	go func() {
		logrus.WithField("addr", srv.Addr).Info("diagnostics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("diagnostics server failed")
		}
	}()

	<-ctx.Done()
	logrus.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("diagnostics server shutdown failed")
	}
	<-engineDone

	// Deliver anything still queued for past windows before exiting.
	eng.ForceProcess()
	logrus.Info("fleetalert stopped")
}

func buildTransports(cfg config.Config) ([]notify.Transport, error) {
	var transports []notify.Transport

	if cfg.Email.Enabled {
		transports = append(transports, notify.Transport{
			Channel: notify.NewEmailChannel(cfg.Email.URL, nil),
			Recipients: notify.Recipients{
				Connection:  cfg.Email.Recipients.ForConnection(),
				Temperature: cfg.Email.Recipients.ForTemperature(),
			},
		})
	}

	if cfg.SMS.Enabled {
		client, err := modem.New(modem.Config{
			BaseURL:        cfg.SMS.ModemURL,
			SendTimeout:    cfg.SMS.SendTimeout,
			TokenTimeout:   cfg.SMS.TokenTimeout,
			SendBackoff:    cfg.SMS.SendBackoff,
			NetworkRetries: cfg.SMS.NetworkRetries,
			NetworkBackoff: cfg.SMS.NetworkBackoff,
			RecipientDelay: cfg.SMS.RecipientDelay,
		})
		if err != nil {
			return nil, err
		}
		transports = append(transports, notify.Transport{
			Channel: client,
			Recipients: notify.Recipients{
				Connection:  cfg.SMS.Recipients.ForConnection(),
				Temperature: cfg.SMS.Recipients.ForTemperature(),
			},
			CharBudget: cfg.SMS.CharBudget,
		})
	}

	return transports, nil
}
