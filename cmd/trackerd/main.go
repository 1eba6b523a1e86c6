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

	"github.com/SherClockHolmes/webpush-go"

	"geofence-tracker-backend/config"
	"geofence-tracker-backend/internal/api"
	"geofence-tracker-backend/internal/broadcast"
	"geofence-tracker-backend/internal/db"
	"geofence-tracker-backend/internal/ingest"
	"geofence-tracker-backend/internal/logging"
	"geofence-tracker-backend/internal/monitor"
	"geofence-tracker-backend/internal/mqtt"
	"geofence-tracker-backend/internal/notification"
	"geofence-tracker-backend/internal/settings"
	"geofence-tracker-backend/internal/store"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log).With().Str("service", "trackerd").Logger()
	logger.Info().Str("path", configPath).Msg("configuration loaded")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	gormDB, err := db.Init(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}

	appStore := store.NewGormStore(gormDB, store.RetryPolicy{
		Retries: cfg.Database.RetryAttempts,
		Delay:   cfg.Database.RetryDelay,
	}, logger)

	hub := broadcast.NewHub(cfg.Broadcast.Location(), logger)
	pipeline := ingest.NewPipeline(appStore, hub, logger)
	settingsSvc := settings.New(gormDB, logger)

	var mqttClient *mqtt.RealClient
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("broker", cfg.MQTT.Broker).Msg("failed to connect to MQTT broker")
		}
		defer mqttClient.Close()

		if err := ingest.SubscribeUplinks(ctx, mqttClient, cfg.MQTT.UplinkTopic, cfg.MQTT.QOS, pipeline, logger); err != nil {
			logger.Fatal().Err(err).Msg("failed to subscribe to uplink topic")
		}
	}

	var webpushOptions *webpush.Options
	alerters := notification.Multi{notification.LogAlerter{Log: logger.With().Str("module", "alert").Logger()}}
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewPushAlerter(cfg.WorkerPool.Size, gormDB, webpushOptions, logger)
		pool.Start(ctx)
		alerters = append(alerters, pool)
	} else {
		logger.Warn().Msg("VAPID keys not configured, web push alerts disabled")
	}
	if mqttClient != nil {
		alerters = append(alerters, mqtt.NewAlertPublisher(mqttClient, cfg.MQTT.AlertTopic, cfg.MQTT.QOS))
	}

	deps := api.Deps{
		Uplink:         pipeline,
		Store:          appStore,
		Settings:       settingsSvc,
		Hub:            hub,
		Viewer:         broadcast.ViewerOptions{Buffer: cfg.Broadcast.ViewerBuffer, WriteTimeout: cfg.Broadcast.WriteTimeout},
		Webpush:        webpushOptions,
		UplinkMaxBytes: cfg.Server.UplinkMaxBytes,
		Log:            logger,
	}

	if !cfg.Alarm.Disabled {
		initial, err := settingsSvc.Current(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load alarm settings")
		}
		mon := monitor.New(initial, alerters, monitor.Options{
			Buffer:       cfg.Broadcast.ViewerBuffer,
			TickInterval: cfg.Alarm.TickInterval,
			Location:     cfg.Broadcast.Location(),
		}, logger)
		settingsSvc.Subscribe(mon.Reconfigure)
		hub.Subscribe(mon)
		go mon.Run(ctx)
		deps.Monitor = mon
	}

	// Initialize router
	router := api.NewRouter(api.NewHandler(deps), cfg.Server, logger)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server ListenAndServe")
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	sig := <-stop
	logger.Info().Str("signal", sig.String()).Msg("shutdown signal received, stopping services")

	// Create a deadline to wait for.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server Shutdown")
	}
	cancel()

	if sqlDB, err := gormDB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close database")
		}
	}
	logger.Info().Msg("server gracefully stopped")
}
