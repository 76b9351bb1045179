// Package main is the entry point for the quantum portfolio optimization
// engine. It wires configuration, the event bus, the quantum backend
// resource manager, the variational optimizer and the HTTP API, then runs
// until interrupted.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantfolio/quantum-trader/internal/clients/runtime"
	"github.com/quantfolio/quantum-trader/internal/config"
	"github.com/quantfolio/quantum-trader/internal/events"
	"github.com/quantfolio/quantum-trader/internal/modules/optimization"
	"github.com/quantfolio/quantum-trader/internal/scheduler"
	"github.com/quantfolio/quantum-trader/internal/server"
	"github.com/quantfolio/quantum-trader/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not up yet; this is the one bare print in the binary.
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Int("port", cfg.Port).
		Bool("dev_mode", cfg.DevMode).
		Bool("prefer_hardware", cfg.PreferHardware).
		Msg("Starting quantum portfolio engine")

	bus := events.NewBus(log)

	// A runtime client is only constructed when a token is configured.
	// Without one the backend manager stays on the local simulator tier.
	var runtimeClient *runtime.Client
	if cfg.QuantumToken != "" {
		runtimeClient = runtime.NewClient(
			cfg.QuantumRuntimeURL,
			cfg.QuantumToken,
			cfg.QuantumChannel,
			cfg.QuantumInstance,
			log,
		)
	}

	backend := optimization.NewManager(optimization.ManagerConfig{
		Credentials:       runtimeClient,
		PreferHardware:    cfg.PreferHardware,
		EnableManagedSim:  cfg.EnableManagedSim,
		ManagedSimBackend: cfg.ManagedSimBackend,
		MaxRetries:        cfg.MaxRetries,
		PricePerShot:      cfg.PricePerShot,
		PollInterval:      cfg.JobPollInterval,
		PollTimeout:       cfg.JobPollTimeout,
		Bus:               bus,
		Log:               log,
	})

	optimizer, err := optimization.NewOptimizer(optimization.OptimizerConfig{
		RiskAversion:  cfg.RiskAversion,
		Layers:        cfg.QAOALayers,
		MaxIterations: cfg.MaxIterations,
	}, backend, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid optimizer configuration")
	}

	optService := optimization.NewService(optimizer, backend, bus, log)

	sched := scheduler.New(log)
	if cfg.RebalanceSchedule != "" {
		rebalance := scheduler.NewRebalanceJob(optService, log)
		if err := sched.AddJob(cfg.RebalanceSchedule, rebalance); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.RebalanceSchedule).Msg("Invalid rebalance schedule")
		}
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:                 log,
		Config:              cfg,
		Bus:                 bus,
		OptimizationService: optService,
		Port:                cfg.Port,
		DevMode:             cfg.DevMode,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server failed")
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}
