package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nerio-ai/cascade/checkpoint"
	"github.com/nerio-ai/cascade/example/coordinator"
	"github.com/nerio-ai/cascade/session"
	"github.com/nerio-ai/cascade/signal"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	cfg, err := coordinator.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx := context.Background()
	st, err := coordinator.BuildStore(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize store")
	}
	log.Info().Str("backend", cfg.Store.Backend).Msg("Coordination store initialized")

	sessions := session.NewManager(st, session.WithLogger(log.Logger))
	checkpoints := checkpoint.NewManager(st,
		checkpoint.WithLogger(log.Logger),
		checkpoint.WithSessions(sessions),
	)

	signalOpts := []signal.Option{
		signal.WithLogger(log.Logger),
		signal.WithSessions(sessions),
		signal.WithSweepInterval(time.Duration(cfg.Sweep.IntervalSeconds) * time.Second),
	}

	var listener *signal.CallbackListener
	if cfg.Listener.Enabled {
		listener = signal.NewCallbackListener(
			signal.WithListenerLogger(log.Logger),
			signal.WithAdvertisedHost(cfg.Listener.AdvertisedHost),
			signal.WithBindAddress(cfg.Listener.Bind),
		)
		signalOpts = append(signalOpts, signal.WithListener(listener))
	}
	signals := signal.NewManager(st, signalOpts...)

	if listener != nil {
		if err := listener.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start callback listener")
		}
		log.Info().Int("port", listener.Port()).Msg("Callback listener started")
	}

	signals.StartSweeper()

	// Zombie reaping loop
	reapCtx, stopReaper := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.Sweep.IntervalSeconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				reaped, err := sessions.CleanupZombies(reapCtx, cfg.Sweep.GraceSeconds)
				if err != nil {
					log.Error().Err(err).Msg("Zombie cleanup failed")
				} else if reaped > 0 {
					log.Info().Int("reaped", reaped).Msg("Orphaned zombie executions")
				}
			case <-reapCtx.Done():
				return
			}
		}
	}()

	// Overdue checkpoint sweep
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.Sweep.IntervalSeconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := checkpoints.ExpireOverdue(reapCtx); err != nil {
					log.Error().Err(err).Msg("Checkpoint expiry sweep failed")
				}
			case <-reapCtx.Done():
				return
			}
		}
	}()

	api := &coordinator.API{
		Sessions:    sessions,
		Checkpoints: checkpoints,
		Signals:     signals,
		Logger:      log.Logger,
	}

	app := fiber.New()
	api.RegisterRoutes(app)

	go func() {
		log.Info().Str("address", cfg.Server.Addr).Msg("Starting coordination API")
		if err := app.Listen(cfg.Server.Addr); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	ossignal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	stopReaper()
	signals.StopSweeper()
	if listener != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := listener.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Callback listener shutdown failed")
		}
		cancel()
	}
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Coordinator stopped")
}
