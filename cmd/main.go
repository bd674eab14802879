package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"collection-tracker/internal/alert"
	"collection-tracker/internal/backend"
	"collection-tracker/internal/config"
	"collection-tracker/internal/handler"
	"collection-tracker/internal/metrics"
	"collection-tracker/internal/model"
	"collection-tracker/internal/platform"
	"collection-tracker/internal/service"
	"collection-tracker/internal/session"
	"collection-tracker/internal/throttle"
	"collection-tracker/internal/watcher"
)

func main() {
	logger := logrus.New()

	if err := config.LoadDotEnv(); err != nil {
		logger.WithError(err).Fatal("failed to read .env")
	}
	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.WithError(err).Warn("unknown LOG_LEVEL, keeping info")
	}

	// the role is decided once here and never re-read
	sess, err := session.Resolve(cfg.AccessToken)
	if err != nil {
		logger.WithError(err).Fatal("failed to resolve session")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	src, closeSrc, err := buildSource(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize location source")
	}
	defer closeSrc()

	geoWatcher := watcher.New(src, watcher.Options{
		EnableHighAccuracy: cfg.Geo.HighAccuracy,
		Timeout:            cfg.Geo.Timeout,
		MaximumAge:         cfg.Geo.MaximumAge,
	}, logger)

	api := backend.NewClient(cfg.APIBaseURL, sess.Token, &http.Client{Timeout: 15 * time.Second})
	sessLogger := logger.WithField("session_id", sess.ID.String())

	deps := service.TrackerDeps{
		Session:      sess,
		Watcher:      geoWatcher,
		PollInterval: cfg.PollInterval,
		Metrics:      m,
		Logger:       logger,
	}

	var emitter *alert.Emitter
	switch sess.Role {
	case model.RoleCollector:
		deps.Reporter = service.NewLocationReporter(api, throttle.New(cfg.ReportEvery), sess, m, sessLogger)
	case model.RoleCitizen:
		deps.Poller = service.NewCollectorPoller(api, cfg.PollTimeout, m, sessLogger)
		mode, err := alert.ParseMode(cfg.Alert.Mode)
		if err != nil {
			logger.WithError(err).Fatal("invalid alert mode")
		}
		player, err := buildPlayer(cfg.Alert)
		if err != nil {
			logger.WithError(err).Fatal("failed to initialize alert player")
		}
		emitter = alert.New(player, mode, logger, m)
		deps.Emitter = emitter
	}

	hub := handler.NewHub(logger, handler.DefaultMarkerStyle())
	deps.Presenter = hub
	tracker := service.NewTracker(deps)

	h := handler.NewHandler(logger, hub, metrics.Handler(reg))
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tracker.Run(gctx)
	})
	g.Go(func() error {
		logger.WithFields(logrus.Fields{
			"addr":       cfg.HTTPAddr,
			"role":       sess.Role,
			"session_id": sess.ID.String(),
		}).Info("map server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		hub.Close()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("tracker stopped with error")
	} else {
		logger.Info("tracker stopped gracefully")
	}
	if emitter != nil {
		emitter.Close()
	}
}

func buildSource(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (watcher.Source, func(), error) {
	switch cfg.Source {
	case "redis":
		client, err := platform.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.WithError(err).Warn("redis close error")
			}
		}
		return platform.NewRedisSource(client, cfg.Redis.Channel, logger), closeFn, nil
	case "mqtt":
		client, err := platform.NewMQTTClient(cfg.MQTT)
		if err != nil {
			return nil, nil, err
		}
		return platform.NewMQTTSource(client, cfg.MQTT.Topic, logger), func() { client.Disconnect(250) }, nil
	default:
		track, err := platform.LoadTrack(cfg.ReplayFile)
		if err != nil {
			return nil, nil, err
		}
		return platform.NewReplaySource(track), func() {}, nil
	}
}

func buildPlayer(cfg config.AlertConfig) (alert.Player, error) {
	if cfg.PlayerCmd == "" {
		return &alert.BellPlayer{W: os.Stdout}, nil
	}
	return alert.NewCommandPlayer(cfg.PlayerCmd, cfg.Sound)
}
