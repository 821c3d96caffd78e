package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ent0n29/copilot/internal/config"
	"github.com/ent0n29/copilot/internal/dialogue"
	"github.com/ent0n29/copilot/internal/httpapi"
	"github.com/ent0n29/copilot/internal/logging"
	"github.com/ent0n29/copilot/internal/observability"
	"github.com/ent0n29/copilot/internal/session"
	"github.com/ent0n29/copilot/internal/vehicle"
	"github.com/ent0n29/copilot/internal/voice"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Orchestrator *voice.Orchestrator
	Metrics      *observability.Metrics
	Profile      vehicle.Profile

	// Cleanup should be called on shutdown to release every session runtime.
	Cleanup func() error
}

// Build wires the service from cfg. metrics may be nil to build one from
// cfg.MetricsNamespace.
func Build(cfg config.Config, metrics *observability.Metrics, logger *slog.Logger) (*BuildResult, error) {
	log := logging.OrDefault(logger)
	if metrics == nil {
		metrics = observability.NewMetrics(cfg.MetricsNamespace)
	}

	profile := vehicle.DefaultProfile()
	if path := strings.TrimSpace(cfg.VehicleProfilePath); path != "" {
		p, err := vehicle.LoadProfile(path)
		if err != nil {
			return nil, fmt.Errorf("vehicle profile init failed: %w", err)
		}
		profile = p
		log.Info("vehicle profile loaded", "path", path, "diagnostic_codes", len(profile.Diagnostics))
	}

	// A nil *RelaySink stored in the interface would not compare equal to nil.
	var relay dialogue.Speaker
	if url := strings.TrimSpace(cfg.SpeechRelayURL); url != "" {
		sink, err := voice.NewRelaySink(voice.RelayConfig{
			URL:      url,
			Timeout:  cfg.SpeechRelayTimeout,
			Attempts: cfg.SpeechRelayAttempts,
			Metrics:  metrics,
			Logger:   log,
		})
		if err != nil {
			return nil, fmt.Errorf("speech relay init failed: %w", err)
		}
		relay = sink
		log.Info("speech relay enabled", "url", url)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)

	orchestrator := voice.NewOrchestrator(
		sessions,
		metrics,
		log,
		voice.RuntimeConfig{
			Profile:           profile,
			HistoryLimit:      cfg.HistoryLimit,
			RestartDelay:      cfg.RestartDelay,
			ErrorRestartDelay: cfg.ErrorRestartDelay,
			SpeechTimeout:     cfg.SpeechTimeout,
			QueueFinals:       cfg.QueueFinals,
		},
		relay,
		false,
	)

	sessions.SetExpireHook(func(s *session.Session) {
		orchestrator.Release(s.ID)
		metrics.ObserveSessionEvent("expired")
		metrics.SetActiveSessions(sessions.ActiveCount())
		log.Info("session expired", "session_id", s.ID)
	})

	api := httpapi.New(cfg, sessions, orchestrator, metrics, log)

	cleanup := func() error {
		orchestrator.Shutdown()
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Profile:      profile,
		Cleanup:      cleanup,
	}, nil
}
