package listening

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSource struct {
	mu       sync.Mutex
	starts   int
	stops    int
	startErr error
}

func (f *fakeSource) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeSource) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type turnRecorder struct {
	mu    sync.Mutex
	texts []string
	speak bool
	gate  chan struct{}
}

func (r *turnRecorder) handle(_ context.Context, text string) bool {
	r.mu.Lock()
	r.texts = append(r.texts, text)
	gate := r.gate
	speak := r.speak
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return speak
}

func (r *turnRecorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func newTestSession(src Source, rec *turnRecorder, always bool) *Session {
	return New(Options{
		Source:            src,
		Handler:           rec.handle,
		AlwaysListening:   always,
		RestartDelay:      20 * time.Millisecond,
		ErrorRestartDelay: 40 * time.Millisecond,
		SpeechTimeout:     time.Second,
	})
}

func TestFinalTranscriptRunsTurnAndRestarts(t *testing.T) {
	src := &fakeSource{}
	rec := &turnRecorder{}
	s := newTestSession(src, rec, true)
	defer s.Close()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := s.State(); got != StateListening {
		t.Fatalf("State() = %q, want listening", got)
	}
	s.HandleEvent(Event{Kind: EventFinal, Text: "  play music "})

	waitFor(t, "restart", func() bool { return src.Starts() == 2 && s.State() == StateListening })
	if texts := rec.Texts(); len(texts) != 1 || texts[0] != "play music" {
		t.Fatalf("handled texts = %v", texts)
	}
}

func TestNoRestartWithoutAlwaysListening(t *testing.T) {
	src := &fakeSource{}
	rec := &turnRecorder{}
	s := newTestSession(src, rec, false)
	defer s.Close()

	_ = s.Start(context.Background())
	s.HandleEvent(Event{Kind: EventFinal, Text: "pause"})
	waitFor(t, "idle", func() bool { return s.State() == StateIdle && len(rec.Texts()) == 1 })

	time.Sleep(80 * time.Millisecond)
	if got := src.Starts(); got != 1 {
		t.Fatalf("source starts = %d, want 1", got)
	}
}

func TestEmptyFinalIsIgnored(t *testing.T) {
	src := &fakeSource{}
	rec := &turnRecorder{}
	s := newTestSession(src, rec, true)
	defer s.Close()

	_ = s.Start(context.Background())
	s.HandleEvent(Event{Kind: EventFinal, Text: "   "})
	if got := s.State(); got != StateListening {
		t.Fatalf("State() = %q, want listening", got)
	}
	if len(rec.Texts()) != 0 {
		t.Fatalf("handler called for empty final")
	}
}

func TestFinalsDuringTurnAreDropped(t *testing.T) {
	src := &fakeSource{}
	rec := &turnRecorder{gate: make(chan struct{})}
	s := newTestSession(src, rec, false)
	defer s.Close()

	_ = s.Start(context.Background())
	s.HandleEvent(Event{Kind: EventFinal, Text: "first"})
	if got := s.State(); got != StateProcessing {
		t.Fatalf("State() = %q, want processing", got)
	}
	s.HandleEvent(Event{Kind: EventFinal, Text: "second"})
	close(rec.gate)

	waitFor(t, "idle", func() bool { return s.State() == StateIdle })
	time.Sleep(30 * time.Millisecond)
	if texts := rec.Texts(); len(texts) != 1 || texts[0] != "first" {
		t.Fatalf("handled texts = %v, want [first]", texts)
	}
}

func TestQueuedFinalRunsAfterTurn(t *testing.T) {
	src := &fakeSource{}
	rec := &turnRecorder{gate: make(chan struct{})}
	s := New(Options{
		Source:       src,
		Handler:      rec.handle,
		QueueFinals:  true,
		RestartDelay: 20 * time.Millisecond,
	})
	defer s.Close()

	_ = s.Start(context.Background())
	s.HandleEvent(Event{Kind: EventFinal, Text: "first"})
	s.HandleEvent(Event{Kind: EventFinal, Text: "second"})
	s.HandleEvent(Event{Kind: EventFinal, Text: "third"})
	close(rec.gate)

	waitFor(t, "queued turn", func() bool { return len(rec.Texts()) == 2 && s.State() == StateIdle })
	if texts := rec.Texts(); texts[1] != "third" {
		t.Fatalf("handled texts = %v, want latest final queued", texts)
	}
}

func TestTerminalErrorDisablesAlwaysListening(t *testing.T) {
	src := &fakeSource{}
	var (
		mu   sync.Mutex
		errs []*CaptureError
	)
	s := New(Options{
		Source:          src,
		AlwaysListening: true,
		RestartDelay:    10 * time.Millisecond,
		OnError: func(err *CaptureError) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		},
	})
	defer s.Close()

	_ = s.Start(context.Background())
	s.HandleEvent(Event{Kind: EventError, ErrorCode: "not-allowed"})

	if s.AlwaysListening() {
		t.Fatalf("AlwaysListening() = true after terminal error")
	}
	if got := s.State(); got != StateIdle {
		t.Fatalf("State() = %q, want idle", got)
	}
	time.Sleep(60 * time.Millisecond)
	if got := src.Starts(); got != 1 {
		t.Fatalf("source starts = %d, want 1", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 || !errs[0].Terminal {
		t.Fatalf("errors = %+v, want one terminal error", errs)
	}
}

func TestTransientErrorRestartsAfterErrorDelay(t *testing.T) {
	src := &fakeSource{}
	surfaced := make(chan *CaptureError, 4)
	s := New(Options{
		Source:            src,
		AlwaysListening:   true,
		RestartDelay:      10 * time.Millisecond,
		ErrorRestartDelay: 50 * time.Millisecond,
		OnError:           func(err *CaptureError) { surfaced <- err },
	})
	defer s.Close()

	_ = s.Start(context.Background())
	s.HandleEvent(Event{Kind: EventError, ErrorCode: "no-speech"})
	if got := s.State(); got != StateIdle {
		t.Fatalf("State() = %q, want idle", got)
	}
	time.Sleep(20 * time.Millisecond)
	if got := src.Starts(); got != 1 {
		t.Fatalf("restarted before error delay: starts = %d", got)
	}
	waitFor(t, "restart after error", func() bool { return src.Starts() == 2 })
	select {
	case err := <-surfaced:
		t.Fatalf("no-speech surfaced: %+v", err)
	default:
	}

	s.HandleEvent(Event{Kind: EventError, ErrorCode: "network", Detail: "offline"})
	select {
	case err := <-surfaced:
		if err.Terminal || err.Code != "network" {
			t.Fatalf("surfaced error = %+v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("network error not surfaced")
	}
}

func TestStopCancelsPendingRestart(t *testing.T) {
	src := &fakeSource{}
	rec := &turnRecorder{}
	s := New(Options{
		Source:          src,
		Handler:         rec.handle,
		AlwaysListening: true,
		RestartDelay:    60 * time.Millisecond,
	})
	defer s.Close()

	_ = s.Start(context.Background())
	s.HandleEvent(Event{Kind: EventFinal, Text: "fuel economy"})
	waitFor(t, "turn end", func() bool { return s.State() == StateIdle && len(rec.Texts()) == 1 })
	s.Stop()

	time.Sleep(120 * time.Millisecond)
	if got := src.Starts(); got != 1 {
		t.Fatalf("source starts = %d, want 1 after Stop", got)
	}
}

func TestStopDuringProcessingSuppressesRestart(t *testing.T) {
	src := &fakeSource{}
	rec := &turnRecorder{gate: make(chan struct{})}
	s := newTestSession(src, rec, true)
	defer s.Close()

	_ = s.Start(context.Background())
	s.HandleEvent(Event{Kind: EventFinal, Text: "trip summary"})
	s.Stop()
	close(rec.gate)

	waitFor(t, "idle", func() bool { return s.State() == StateIdle })
	time.Sleep(60 * time.Millisecond)
	if got := src.Starts(); got != 1 {
		t.Fatalf("source starts = %d, want 1", got)
	}
	if !s.AlwaysListening() {
		t.Fatalf("Stop should not change the always-listening preference")
	}
}

func TestDisableAlwaysListeningMidTurn(t *testing.T) {
	src := &fakeSource{}
	rec := &turnRecorder{gate: make(chan struct{})}
	s := newTestSession(src, rec, true)
	defer s.Close()

	_ = s.Start(context.Background())
	s.HandleEvent(Event{Kind: EventFinal, Text: "play music"})
	s.SetAlwaysListening(false)
	if got := s.State(); got != StateProcessing {
		t.Fatalf("State() = %q, want processing to continue", got)
	}
	close(rec.gate)

	waitFor(t, "idle", func() bool { return s.State() == StateIdle })
	time.Sleep(60 * time.Millisecond)
	if got := src.Starts(); got != 1 {
		t.Fatalf("source starts = %d, want 1", got)
	}

	s.SetAlwaysListening(true)
	if got := s.State(); got != StateListening {
		t.Fatalf("State() = %q, want listening after re-enable", got)
	}
}

func TestSpeakingWaitsForSpeechDone(t *testing.T) {
	src := &fakeSource{}
	rec := &turnRecorder{speak: true}
	s := newTestSession(src, rec, true)
	defer s.Close()

	_ = s.Start(context.Background())
	s.HandleEvent(Event{Kind: EventFinal, Text: "car wash"})
	waitFor(t, "speaking", func() bool { return s.State() == StateSpeaking })

	s.HandleEvent(Event{Kind: EventFinal, Text: "echo of the reply"})
	time.Sleep(40 * time.Millisecond)
	if got := src.Starts(); got != 1 {
		t.Fatalf("capture restarted while speaking")
	}

	s.SpeechDone()
	waitFor(t, "restart after speech", func() bool { return src.Starts() == 2 && s.State() == StateListening })
	if got := len(rec.Texts()); got != 1 {
		t.Fatalf("handled %d turns, want 1", got)
	}
}

func TestSpeechDoneBeforeHandlerReturns(t *testing.T) {
	src := &fakeSource{}
	rec := &turnRecorder{speak: true, gate: make(chan struct{})}
	s := newTestSession(src, rec, false)
	defer s.Close()

	_ = s.Start(context.Background())
	s.HandleEvent(Event{Kind: EventFinal, Text: "pause"})
	s.SpeechDone()
	close(rec.gate)

	waitFor(t, "idle", func() bool { return s.State() == StateIdle })
}

func TestSpeechWatchdogEndsTurn(t *testing.T) {
	src := &fakeSource{}
	rec := &turnRecorder{speak: true}
	s := New(Options{
		Source:          src,
		Handler:         rec.handle,
		AlwaysListening: true,
		RestartDelay:    10 * time.Millisecond,
		SpeechTimeout:   30 * time.Millisecond,
	})
	defer s.Close()

	_ = s.Start(context.Background())
	s.HandleEvent(Event{Kind: EventFinal, Text: "play music"})
	waitFor(t, "restart after watchdog", func() bool { return src.Starts() == 2 })
}

func TestCaptureEndRestarts(t *testing.T) {
	src := &fakeSource{}
	s := newTestSession(src, &turnRecorder{}, true)
	defer s.Close()

	_ = s.Start(context.Background())
	s.HandleEvent(Event{Kind: EventEnd})
	if got := s.State(); got != StateIdle {
		t.Fatalf("State() = %q, want idle", got)
	}
	waitFor(t, "restart after end", func() bool { return src.Starts() == 2 })
}

func TestStartFailureIsClassified(t *testing.T) {
	src := &fakeSource{startErr: &CaptureError{Code: "audio-capture"}}
	var got *CaptureError
	s := New(Options{
		Source:          src,
		AlwaysListening: true,
		OnError:         func(err *CaptureError) { got = err },
	})
	defer s.Close()

	err := s.Start(context.Background())
	var capErr *CaptureError
	if !errors.As(err, &capErr) {
		t.Fatalf("Start() error = %v, want *CaptureError", err)
	}
	if got == nil || !got.Terminal {
		t.Fatalf("OnError got %+v, want terminal", got)
	}
	if s.State() != StateIdle || s.AlwaysListening() {
		t.Fatalf("status = %+v, want idle without always-listening", s.Status())
	}
}

func TestClosedSessionRejectsStart(t *testing.T) {
	s := New(Options{Source: &fakeSource{}})
	s.Close()
	if err := s.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Start() error = %v, want ErrClosed", err)
	}
}

func TestStateCallbackReportsTransitions(t *testing.T) {
	var states []State
	s := New(Options{
		Source:  &fakeSource{},
		OnState: func(st State, _ bool) { states = append(states, st) },
	})
	defer s.Close()

	_ = s.Start(context.Background())
	s.Stop()
	if len(states) != 2 || states[0] != StateListening || states[1] != StateIdle {
		t.Fatalf("states = %v, want [listening idle]", states)
	}
}

func (f *fakeSource) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func TestRunTurnSuspendsCaptureWhileSpeaking(t *testing.T) {
	src := &fakeSource{}
	rec := &turnRecorder{}
	s := newTestSession(src, rec, true)
	defer s.Close()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var stopsDuring int
	if err := s.RunTurn(func() bool {
		stopsDuring = src.Stops()
		return true
	}); err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if stopsDuring != 1 {
		t.Fatalf("source stops before turn body = %d, want 1", stopsDuring)
	}
	if got := s.State(); got != StateSpeaking {
		t.Fatalf("State() after RunTurn = %q, want speaking", got)
	}

	// The reply echoed back by the recognizer must not become a turn.
	s.HandleEvent(Event{Kind: EventFinal, Text: "Now playing Midnight City by M83"})
	time.Sleep(40 * time.Millisecond)
	if texts := rec.Texts(); len(texts) != 0 {
		t.Fatalf("handled texts = %v, want none while speaking", texts)
	}
	if got := src.Starts(); got != 1 {
		t.Fatalf("source starts while speaking = %d, want 1", got)
	}

	s.SpeechDone()
	waitFor(t, "capture restart", func() bool { return src.Starts() == 2 && s.State() == StateListening })
}

func TestRunTurnResumesManualCapture(t *testing.T) {
	src := &fakeSource{}
	rec := &turnRecorder{}
	s := newTestSession(src, rec, false)
	defer s.Close()

	_ = s.Start(context.Background())
	if err := s.RunTurn(func() bool { return false }); err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	waitFor(t, "capture resumed", func() bool { return src.Starts() == 2 && s.State() == StateListening })

	idle := newTestSession(&fakeSource{}, rec, false)
	defer idle.Close()
	if err := idle.RunTurn(func() bool { return false }); err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if got := idle.State(); got != StateIdle {
		t.Fatalf("State() = %q, want idle when capture was off", got)
	}
}

func TestRunTurnRejectedWhileProcessing(t *testing.T) {
	src := &fakeSource{}
	rec := &turnRecorder{gate: make(chan struct{})}
	s := newTestSession(src, rec, false)
	defer s.Close()

	_ = s.Start(context.Background())
	s.HandleEvent(Event{Kind: EventFinal, Text: "play music"})
	waitFor(t, "processing", func() bool { return s.State() == StateProcessing && len(rec.Texts()) == 1 })

	ran := false
	err := s.RunTurn(func() bool {
		ran = true
		return false
	})
	if !errors.Is(err, ErrTurnInProgress) {
		t.Fatalf("RunTurn() error = %v, want ErrTurnInProgress", err)
	}
	if ran {
		t.Fatalf("turn body ran while another turn was processing")
	}
	close(rec.gate)
	waitFor(t, "idle", func() bool { return s.State() == StateIdle })

	s.Close()
	if err := s.RunTurn(func() bool { return false }); !errors.Is(err, ErrClosed) {
		t.Fatalf("RunTurn() after Close error = %v, want ErrClosed", err)
	}
}

func TestRunTurnSupersedesSpokenReply(t *testing.T) {
	src := &fakeSource{}
	rec := &turnRecorder{}
	s := newTestSession(src, rec, false)
	defer s.Close()

	_ = s.RunTurn(func() bool { return true })
	if got := s.State(); got != StateSpeaking {
		t.Fatalf("State() = %q, want speaking", got)
	}
	if err := s.RunTurn(func() bool { return false }); err != nil {
		t.Fatalf("RunTurn() while speaking error = %v", err)
	}
	if got := s.State(); got != StateIdle {
		t.Fatalf("State() = %q, want idle", got)
	}
}
