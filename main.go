package main

import (
	"context"
	"errors"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"hypogate/internal"
	"hypogate/internal/api"
	"hypogate/internal/config"
	"hypogate/internal/container"
	"hypogate/internal/scheduler"
)

func main() {
	// Load environment variables from .env file
	envErr := godotenv.Load()

	appConfig, err := config.Load()
	if err != nil {
		bootLogger := internal.NewDefaultLogger()
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := internal.NewLogger(appConfig.LogLevel, os.Stdout)
	if envErr != nil {
		logger.Debug().Msg("no .env file found, using system environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appContainer, err := container.New(appConfig, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create application container")
	}
	if err := appContainer.Init(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize container")
	}
	defer appContainer.Shutdown()

	var runner *scheduler.Runner
	if appConfig.Scheduler.Enabled {
		runner = scheduler.New(ctx, appContainer.Gate, appConfig.Scheduler.RunTimeout, logger)
		if _, err := runner.Schedule(appConfig.Scheduler.Spec); err != nil {
			logger.Fatal().Err(err).Str("spec", appConfig.Scheduler.Spec).Msg("invalid batch schedule")
		}
		runner.Start()
	}

	server := api.NewServer(api.Deps{
		Registry: appContainer.Registry,
		Ledger:   appContainer.Ledger,
		Gate:     appContainer.Gate,
		Store:    appContainer.Store,
		Metrics:  appContainer.Metrics,
		Logger:   logger,
		Health:   appContainer.Health,
	}, api.Config{
		IntakeRateLimit: appConfig.Server.IntakeRateLimit,
		IntakeBurst:     appConfig.Server.IntakeBurst,
	})
	httpServer := &http.Server{
		Addr:    ":" + appConfig.Server.Port,
		Handler: server.Handler(),
	}

	// Start pprof server for performance profiling
	if appConfig.Profiling.Enabled {
		go func() {
			logger.Info().Str("port", appConfig.Profiling.Port).Msg("profiling server starting")
			if err := http.ListenAndServe(":"+appConfig.Profiling.Port, nil); err != nil {
				logger.Error().Err(err).Msg("pprof server failed")
			}
		}()
	}

	go func() {
		logger.Info().Str("port", appConfig.Server.Port).Str("store", appConfig.Store).Msg("starting hypogate server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown failed")
	}
	if runner != nil {
		runner.Stop()
	}
}
