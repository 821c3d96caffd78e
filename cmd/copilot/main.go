package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/spf13/pflag"

	"github.com/ent0n29/copilot/internal/app"
	"github.com/ent0n29/copilot/internal/config"
	"github.com/ent0n29/copilot/internal/logging"
)

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	bindAddr := cli.StringP("addr", "a", "", "Listen address (overrides APP_BIND_ADDR)")
	logLevel := cli.StringP("log", "l", "", "Log level (overrides APP_LOG_LEVEL)")
	profilePath := cli.StringP("vehicle", "v", "", "Vehicle profile YAML (overrides COPILOT_VEHICLE_PROFILE)")
	relayURL := cli.String("speech-relay", "", "Speech relay URL (overrides COPILOT_SPEECH_RELAY_URL)")
	muted := cli.Bool("muted", false, "Start sessions with spoken responses muted")
	cli.Parse()

	bootLog := logging.New(os.Stderr, logging.ParseLevel(*logLevel))

	if err := config.LoadEnvFile(*envFile); err != nil {
		bootLog.Error("Failed to load env file", "path", *envFile, "err", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		bootLog.Error("Config error", "err", err)
		os.Exit(1)
	}
	if *bindAddr != "" {
		cfg.BindAddr = *bindAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *profilePath != "" {
		cfg.VehicleProfilePath = *profilePath
	}
	if *relayURL != "" {
		cfg.SpeechRelayURL = *relayURL
	}
	if cli.CommandLine.Changed("muted") {
		cfg.Muted = *muted
	}
	if err := cfg.Validate(); err != nil {
		bootLog.Error("Config error", "err", err)
		os.Exit(1)
	}

	log := logging.Install(os.Stderr, logging.ParseLevel(cfg.LogLevel))
	log.Info("Booting up", "addr", cfg.BindAddr, "always_listening", cfg.AlwaysListening)

	built, err := app.Build(cfg, nil, log)
	if err != nil {
		log.Error("Build failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			log.Warn("Cleanup failed", "err", err)
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	built.Sessions.StartJanitor(runCtx, 5*time.Second)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("Shutdown signal received", "signal", sig.String())
	case err := <-serveErr:
		log.Error("Listen error", "err", err)
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Graceful shutdown failed", "err", err)
		_ = httpServer.Close()
	}

	log.Info("Shutdown complete")
}
