package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ent0n29/copilot/internal/config"
	"github.com/ent0n29/copilot/internal/observability"
	"github.com/ent0n29/copilot/internal/session"
)

func testConfig() config.Config {
	return config.Config{
		BindAddr:                 ":0",
		SessionInactivityTimeout: time.Minute,
		AlwaysListening:          true,
		RestartDelay:             500 * time.Millisecond,
		ErrorRestartDelay:        time.Second,
		SpeechTimeout:            30 * time.Second,
		HistoryLimit:             10,
	}
}

func testMetrics(name string) *observability.Metrics {
	return observability.NewMetrics(fmt.Sprintf("test_app_%s_%d", name, time.Now().UnixNano()))
}

func TestBuildDefaults(t *testing.T) {
	res, err := Build(testConfig(), testMetrics("defaults"), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer res.Cleanup()

	if res.Profile.Climate.DriverF != 72 {
		t.Fatalf("DriverF = %d, want default 72", res.Profile.Climate.DriverF)
	}

	ts := httptest.NewServer(res.API.Router())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestBuildLoadsVehicleProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vehicle.yaml")
	if err := os.WriteFile(path, []byte("climate:\n  driver_f: 68\n"), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	cfg := testConfig()
	cfg.VehicleProfilePath = path

	res, err := Build(cfg, testMetrics("profile"), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer res.Cleanup()
	if res.Profile.Climate.DriverF != 68 {
		t.Fatalf("DriverF = %d, want 68", res.Profile.Climate.DriverF)
	}
}

func TestBuildRejectsMissingProfile(t *testing.T) {
	cfg := testConfig()
	cfg.VehicleProfilePath = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := Build(cfg, testMetrics("missing"), nil); err == nil {
		t.Fatalf("Build() error = nil, want profile error")
	}
}

func TestEndedSessionRuntimeIsReleased(t *testing.T) {
	res, err := Build(testConfig(), testMetrics("expire"), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer res.Cleanup()

	s := res.Sessions.Create("driver", session.Preferences{})
	rt, err := res.Orchestrator.Runtime(s.ID)
	if err != nil {
		t.Fatalf("Runtime() error = %v", err)
	}
	if _, err := res.Sessions.End(s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	res.Orchestrator.Release(s.ID)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := rt.Listening.Start(ctx); err == nil {
		t.Fatalf("Start() on released runtime error = nil, want error")
	}
}
