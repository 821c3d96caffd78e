package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ent0n29/copilot/internal/logging"
	"github.com/ent0n29/copilot/internal/observability"
	"github.com/ent0n29/copilot/internal/reliability"
)

var ErrRelayUnavailable = errors.New("speech relay unavailable")

type RelayConfig struct {
	URL         string
	Timeout     time.Duration
	Attempts    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	HTTPClient  *http.Client
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// RelaySink posts text to an external speech service, typically the head
// unit's text-to-speech endpoint. The service answers once playback is done.
// Calls go through a circuit breaker shared by every session.
type RelaySink struct {
	url      string
	client   *http.Client
	attempts int
	backoff  time.Duration
	maxWait  time.Duration
	breaker  *gobreaker.CircuitBreaker
	metrics  *observability.Metrics
	log      *slog.Logger
}

type relayRequest struct {
	TurnID string `json:"turn_id"`
	Text   string `json:"text"`
}

type relayStatusError struct {
	code int
	body string
}

func (e *relayStatusError) Error() string {
	return fmt.Sprintf("speech relay status %d: %s", e.code, e.body)
}

func NewRelaySink(cfg RelayConfig) (*RelaySink, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("speech relay url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 150 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	log := logging.OrDefault(cfg.Logger)
	metrics := cfg.Metrics

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "speech-relay",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen {
				metrics.ObserveSpeechRelayError("breaker_open")
			}
		},
	})

	return &RelaySink{
		url:      url,
		client:   client,
		attempts: cfg.Attempts,
		backoff:  cfg.BaseBackoff,
		maxWait:  cfg.MaxBackoff,
		breaker:  breaker,
		metrics:  metrics,
		log:      log,
	}, nil
}

// Speak posts the sanitized text, retrying retryable statuses with backoff.
// An open breaker fails fast with ErrRelayUnavailable.
func (r *RelaySink) Speak(ctx context.Context, turnID, text string) error {
	text = sanitizeSpeechText(text)
	if text == "" {
		return nil
	}
	body, err := json.Marshal(relayRequest{TurnID: turnID, Text: text})
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, r.backoff, r.maxWait)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		_, err := r.breaker.Execute(func() (interface{}, error) {
			return nil, r.post(ctx, body)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %v", ErrRelayUnavailable, err)
		}
		lastErr = err
		if !retryableRelayError(err) || ctx.Err() != nil {
			break
		}
	}
	return lastErr
}

func (r *RelaySink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.metrics.ObserveSpeechRelayError("transport")
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	r.metrics.ObserveSpeechRelayError(strconv.Itoa(resp.StatusCode))
	return &relayStatusError{code: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
}

func retryableRelayError(err error) bool {
	var statusErr *relayStatusError
	if errors.As(err, &statusErr) {
		return reliability.IsRetryableHTTPStatus(statusErr.code)
	}
	// Transport failures are worth one more try.
	return true
}
