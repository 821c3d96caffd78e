package voice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/copilot/internal/protocol"
)

func TestClientSinkWaitsForSpeechDone(t *testing.T) {
	sent := make(chan any, 1)
	sink := NewClientSink("s1", func(msg any) bool {
		sent <- msg
		return true
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- sink.Speak(context.Background(), "t1", "Now playing Midnight City by M83")
	}()

	msg := (<-sent).(protocol.Speak)
	if msg.TurnID != "t1" || msg.Text != "Now playing Midnight City by M83" {
		t.Fatalf("speak message = %+v", msg)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Speak() returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	sink.Done("t1")
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Speak() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Speak() did not return after Done")
	}
}

func TestClientSinkWithoutClient(t *testing.T) {
	sink := NewClientSink("s1", func(any) bool { return false })
	if err := sink.Speak(context.Background(), "t1", "Music paused"); !errors.Is(err, ErrClientUnavailable) {
		t.Fatalf("Speak() error = %v, want ErrClientUnavailable", err)
	}
}

func TestClientSinkHonorsContext(t *testing.T) {
	sink := NewClientSink("s1", func(any) bool { return true })
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sink.Speak(ctx, "t1", "Music paused"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Speak() error = %v, want deadline exceeded", err)
	}
}

func TestFailoverSpeakerUsesFallback(t *testing.T) {
	primary := NewMockSpeaker()
	primary.Err = errors.New("relay down")
	fallback := NewMockSpeaker()

	sp := newFailoverSpeaker(primary, fallback)
	if err := sp.Speak(context.Background(), "t1", "Music paused"); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if len(primary.Spoken()) != 1 || len(fallback.Spoken()) != 1 {
		t.Fatalf("primary=%v fallback=%v", primary.Spoken(), fallback.Spoken())
	}
	if newFailoverSpeaker(nil, fallback) != fallback {
		t.Fatalf("nil primary should collapse to fallback")
	}
}

func TestRelaySinkPostsSanitizedText(t *testing.T) {
	var got relayRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink, err := NewRelaySink(RelayConfig{URL: srv.URL, Attempts: 1})
	if err != nil {
		t.Fatalf("NewRelaySink() error = %v", err)
	}
	if err := sink.Speak(context.Background(), "t1", "I've decreased your temperature to 67°F to cool you down."); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if got.TurnID != "t1" || got.Text != "I've decreased your temperature to 67 degrees to cool you down." {
		t.Fatalf("relay request = %+v", got)
	}
}

func TestRelaySinkRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink, err := NewRelaySink(RelayConfig{URL: srv.URL, Attempts: 2, BaseBackoff: time.Millisecond})
	if err != nil {
		t.Fatalf("NewRelaySink() error = %v", err)
	}
	if err := sink.Speak(context.Background(), "t1", "Music paused"); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("relay calls = %d, want 2", calls.Load())
	}
}

func TestRelaySinkDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sink, _ := NewRelaySink(RelayConfig{URL: srv.URL, Attempts: 3, BaseBackoff: time.Millisecond})
	if err := sink.Speak(context.Background(), "t1", "Music paused"); err == nil {
		t.Fatalf("Speak() error = nil, want status error")
	}
	if calls.Load() != 1 {
		t.Fatalf("relay calls = %d, want 1", calls.Load())
	}
}

func TestRelaySinkBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink, _ := NewRelaySink(RelayConfig{URL: srv.URL, Attempts: 1})
	for i := 0; i < 3; i++ {
		_ = sink.Speak(context.Background(), "t1", "Music paused")
	}
	if err := sink.Speak(context.Background(), "t2", "Music paused"); !errors.Is(err, ErrRelayUnavailable) {
		t.Fatalf("Speak() error = %v, want ErrRelayUnavailable", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("relay calls = %d, want 3 before the breaker opened", calls.Load())
	}
}

func TestNewRelaySinkRequiresURL(t *testing.T) {
	if _, err := NewRelaySink(RelayConfig{URL: "  "}); err == nil {
		t.Fatalf("NewRelaySink() error = nil, want error")
	}
}

func TestCompletionSpeakerSkipsSupersededReplies(t *testing.T) {
	release := make(chan struct{})
	var done []string
	var mu sync.Mutex
	slow := &blockingSpeaker{release: release}
	sp := &completionSpeaker{next: slow, onDone: func(turnID string) {
		mu.Lock()
		done = append(done, turnID)
		mu.Unlock()
	}}

	first := make(chan error, 1)
	go func() { first <- sp.Speak(context.Background(), "t1", "Now playing Midnight City by M83") }()
	for slow.started.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	second := make(chan error, 1)
	go func() { second <- sp.Speak(context.Background(), "t2", "Music paused") }()
	for slow.started.Load() < 2 {
		time.Sleep(time.Millisecond)
	}

	close(release)
	<-first
	<-second
	mu.Lock()
	defer mu.Unlock()
	if len(done) != 1 || done[0] != "t2" {
		t.Fatalf("completions = %v, want only t2", done)
	}
}

type blockingSpeaker struct {
	started atomic.Int32
	release chan struct{}
}

func (b *blockingSpeaker) Speak(ctx context.Context, _, _ string) error {
	b.started.Add(1)
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
