package main

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/copilot/internal/app"
	"github.com/ent0n29/copilot/internal/config"
	"github.com/ent0n29/copilot/internal/observability"
)

func startService(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Config{
		BindAddr:                 ":0",
		SessionInactivityTimeout: time.Minute,
		RestartDelay:             20 * time.Millisecond,
		ErrorRestartDelay:        40 * time.Millisecond,
		SpeechTimeout:            time.Second,
		HistoryLimit:             10,
	}
	metrics := observability.NewMetrics(fmt.Sprintf("test_console_%d", time.Now().UnixNano()))
	built, err := app.Build(cfg, metrics, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	ts := httptest.NewServer(built.API.Router())
	t.Cleanup(func() {
		ts.Close()
		_ = built.Cleanup()
	})
	return ts
}

func runConsole(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSayPrintsReplies(t *testing.T) {
	ts := startService(t)
	out, err := runConsole(t, "--base-url", ts.URL, "say", "I'm freezing | pause music")
	if err != nil {
		t.Fatalf("say error = %v\n%s", err, out)
	}
	for _, want := range []string{
		"you: I'm freezing",
		"copilot: I've increased your temperature to 77°F to warm you up.",
		"copilot: Music paused",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSayCancelsConfirmationByDefault(t *testing.T) {
	ts := startService(t)
	out, err := runConsole(t, "--base-url", ts.URL, "say", "clear engine codes")
	if err != nil {
		t.Fatalf("say error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "you: no") || !strings.Contains(out, "copilot: cancelled") {
		t.Fatalf("output = %s, want cancelled confirmation", out)
	}
}

func TestSayConfirmsAndAcknowledgesSpeech(t *testing.T) {
	ts := startService(t)
	out, err := runConsole(t, "--base-url", ts.URL, "say", "--confirm", "--speak", "clear engine codes")
	if err != nil {
		t.Fatalf("say error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "copilot: Cleared 2 diagnostic codes. The check engine light has been reset.") {
		t.Fatalf("output = %s, want cleared codes", out)
	}
}

func TestInterpretAndIntentsCommands(t *testing.T) {
	ts := startService(t)

	out, err := runConsole(t, "--base-url", ts.URL, "interpret", "navigate", "to", "Golden", "Gate", "Park")
	if err != nil {
		t.Fatalf("interpret error = %v", err)
	}
	if !strings.Contains(out, "action:     plan_route") || !strings.Contains(out, "param:      destination=Golden Gate Park") {
		t.Fatalf("interpret output = %s", out)
	}

	out, err = runConsole(t, "--base-url", ts.URL, "intents")
	if err != nil {
		t.Fatalf("intents error = %v", err)
	}
	if !strings.Contains(out, "clear_codes") || !strings.Contains(out, "NAME") {
		t.Fatalf("intents output = %s", out)
	}
}

func TestSplitUtterances(t *testing.T) {
	got := splitUtterances(" play music | | pause music ")
	if len(got) != 2 || got[0] != "play music" || got[1] != "pause music" {
		t.Fatalf("splitUtterances() = %q", got)
	}
}

func TestWSURL(t *testing.T) {
	c, err := newClient("https://car.local:8443/", time.Second)
	if err != nil {
		t.Fatalf("newClient() error = %v", err)
	}
	got, err := c.wsURL("abc")
	if err != nil {
		t.Fatalf("wsURL() error = %v", err)
	}
	if got != "wss://car.local:8443/v1/copilot/session/ws?session_id=abc" {
		t.Fatalf("wsURL() = %q", got)
	}
}
