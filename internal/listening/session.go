// Package listening drives speech capture for one cabin session: when to
// listen, when a finished transcript becomes a dialogue turn, and when capture
// resumes after the assistant has answered.
package listening

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/copilot/internal/logging"
	"github.com/ent0n29/copilot/internal/observability"
	"github.com/ent0n29/copilot/internal/reliability"
)

type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateSpeaking   State = "speaking"
)

type EventKind string

const (
	EventInterim EventKind = "interim"
	EventFinal   EventKind = "final"
	EventError   EventKind = "error"
	EventEnd     EventKind = "end"
)

// Event is one fragment reported by the capture source.
type Event struct {
	Kind       EventKind
	Text       string
	Confidence float64
	ErrorCode  string
	Detail     string
	Timestamp  time.Time
}

// Source is the speech recognizer. Start and Stop may be called from inside
// the session lock and must not call back into the session synchronously.
type Source interface {
	Start(ctx context.Context) error
	Stop() error
}

// TurnHandler processes one final transcript. It reports whether the reply
// is being spoken, in which case the session waits for SpeechDone.
type TurnHandler func(ctx context.Context, text string) (speak bool)

// CaptureError is a classified recognizer failure.
type CaptureError struct {
	Code     string
	Kind     reliability.CaptureErrorKind
	Terminal bool
	Detail   string
}

func (e *CaptureError) Error() string {
	if e.Detail == "" {
		return "capture error: " + e.Code
	}
	return fmt.Sprintf("capture error: %s: %s", e.Code, e.Detail)
}

var (
	ErrClosed         = errors.New("listening session closed")
	ErrTurnInProgress = errors.New("listening: a turn is already being processed")
)

const (
	defaultRestartDelay      = 500 * time.Millisecond
	defaultErrorRestartDelay = time.Second
	defaultSpeechTimeout     = 30 * time.Second
)

type Options struct {
	Source            Source
	Handler           TurnHandler
	AlwaysListening   bool
	RestartDelay      time.Duration
	ErrorRestartDelay time.Duration
	SpeechTimeout     time.Duration
	// QueueFinals keeps the latest final that arrives mid-turn and runs it
	// next instead of dropping it.
	QueueFinals bool
	Logger      *slog.Logger
	Metrics     *observability.Metrics

	// Callbacks run with the session lock held.
	OnState   func(state State, alwaysListening bool)
	OnError   func(err *CaptureError)
	OnInterim func(evt Event)
}

// Status is a point-in-time view of the session.
type Status struct {
	State           State `json:"state"`
	AlwaysListening bool  `json:"always_listening"`
}

type Session struct {
	opts   Options
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	state  State
	always bool
	closed bool

	gen          uint64
	restart      *time.Timer
	restartSince time.Time

	turnGen       uint64
	watchdog      *time.Timer
	speakingSince time.Time
	earlyDone     int
	queued        string
	hasQueued     bool
	stopRequested bool
	resume        bool
}

func New(opts Options) *Session {
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = defaultRestartDelay
	}
	if opts.ErrorRestartDelay <= 0 {
		opts.ErrorRestartDelay = defaultErrorRestartDelay
	}
	if opts.SpeechTimeout <= 0 {
		opts.SpeechTimeout = defaultSpeechTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		opts:   opts,
		log:    logging.OrDefault(opts.Logger),
		ctx:    ctx,
		cancel: cancel,
		state:  StateIdle,
		always: opts.AlwaysListening,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) AlwaysListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.always
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{State: s.state, AlwaysListening: s.always}
}

// Start begins capture. During a turn it instead asks for capture to resume
// once the turn is over.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	switch s.state {
	case StateIdle:
		return s.startCaptureLocked(ctx)
	case StateProcessing, StateSpeaking:
		s.stopRequested = false
		s.resume = true
	}
	return nil
}

// Stop ends capture and cancels any scheduled restart. A turn that is still
// being processed completes, but capture does not resume after it.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.cancelRestartLocked()
	switch s.state {
	case StateListening:
		s.stopSourceLocked()
		s.setStateLocked(StateIdle)
	case StateProcessing:
		s.stopRequested = true
		s.resume = false
		s.clearQueueLocked()
	case StateSpeaking:
		s.turnGen++
		s.stopWatchdogLocked()
		s.clearQueueLocked()
		s.setStateLocked(StateIdle)
	}
}

// SetAlwaysListening toggles automatic restarts. Turning it off never
// interrupts a turn in progress; turning it on while idle starts capture.
func (s *Session) SetAlwaysListening(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.always == on {
		return
	}
	s.always = on
	if !on {
		s.cancelRestartLocked()
		s.resume = false
		s.notifyLocked()
		return
	}
	if s.state == StateIdle {
		// Failures are reported through OnError.
		_ = s.startCaptureLocked(s.ctx)
		return
	}
	s.notifyLocked()
}

// HandleEvent feeds one recognizer event into the state machine.
func (s *Session) HandleEvent(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	switch evt.Kind {
	case EventInterim:
		if s.state == StateListening && s.opts.OnInterim != nil {
			s.opts.OnInterim(evt)
		}
	case EventFinal:
		s.handleFinalLocked(strings.TrimSpace(evt.Text))
	case EventError:
		s.handleErrorLocked(evt.ErrorCode, evt.Detail)
	case EventEnd:
		if s.state != StateListening {
			return
		}
		s.setStateLocked(StateIdle)
		if s.always {
			s.scheduleRestartLocked(s.opts.RestartDelay, "capture_end")
		}
	}
}

// RunTurn runs a turn that did not come from capture, such as typed input or
// a confirmation answer, through the same states as a spoken one. Capture is
// stopped before fn runs, and when fn reports speech it stays off until
// SpeechDone so the reply is never picked up as a new utterance. A reply
// still being spoken is superseded. fn runs on the calling goroutine without
// the session lock held.
func (s *Session) RunTurn(fn func() (speak bool)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	switch s.state {
	case StateProcessing:
		s.mu.Unlock()
		return ErrTurnInProgress
	case StateListening:
		s.stopSourceLocked()
		s.resume = true
	case StateSpeaking:
		s.stopWatchdogLocked()
	}
	s.cancelRestartLocked()
	s.turnGen++
	turnGen := s.turnGen
	s.earlyDone = 0
	s.setStateLocked(StateProcessing)
	s.mu.Unlock()

	s.completeTurn(turnGen, s.guard(fn))
	return nil
}

// SpeechDone reports that playback of the current reply finished.
func (s *Session) SpeechDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	switch s.state {
	case StateSpeaking:
		s.opts.Metrics.ObserveTurnStage(observability.StageSpeech, time.Since(s.speakingSince))
		s.finishTurnLocked()
	case StateProcessing:
		// Playback can finish before the handler has returned.
		s.earlyDone++
	}
}

// Close stops capture and timers. The session cannot be restarted.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancelRestartLocked()
	s.turnGen++
	s.stopWatchdogLocked()
	if s.state == StateListening {
		s.stopSourceLocked()
	}
	s.state = StateIdle
	s.cancel()
}

func (s *Session) handleFinalLocked(text string) {
	if text == "" {
		s.opts.Metrics.ObserveFinalNotProcessed("empty")
		return
	}
	switch s.state {
	case StateListening:
		s.beginTurnLocked(text)
	case StateProcessing, StateSpeaking:
		if s.opts.QueueFinals && !s.stopRequested {
			s.queued = text
			s.hasQueued = true
			s.opts.Metrics.ObserveFinalNotProcessed("queued")
			return
		}
		s.opts.Metrics.ObserveFinalNotProcessed("dropped")
		s.log.Debug("final transcript dropped during turn", "state", s.state)
	default:
		s.opts.Metrics.ObserveFinalNotProcessed("dropped")
	}
}

func (s *Session) beginTurnLocked(text string) {
	s.cancelRestartLocked()
	if s.state == StateListening {
		s.stopSourceLocked()
	}
	s.turnGen++
	s.earlyDone = 0
	s.setStateLocked(StateProcessing)
	go s.runTurn(s.turnGen, text)
}

func (s *Session) runTurn(turnGen uint64, text string) {
	speak := false
	if s.opts.Handler != nil {
		speak = s.guard(func() bool { return s.opts.Handler(s.ctx, text) })
	}
	s.completeTurn(turnGen, speak)
}

// completeTurn moves a processed turn on to speaking or ends it.
func (s *Session) completeTurn(turnGen uint64, speak bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || turnGen != s.turnGen || s.state != StateProcessing {
		return
	}
	if speak && s.earlyDone == 0 {
		s.setStateLocked(StateSpeaking)
		s.speakingSince = time.Now()
		s.armWatchdogLocked(turnGen)
		return
	}
	s.finishTurnLocked()
}

// guard runs one turn body. A panic counts as a turn without speech.
func (s *Session) guard(fn func() bool) (speak bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("turn handler panicked", "panic", r)
			speak = false
		}
	}()
	return fn()
}

func (s *Session) armWatchdogLocked(turnGen uint64) {
	s.stopWatchdogLocked()
	s.watchdog = time.AfterFunc(s.opts.SpeechTimeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || turnGen != s.turnGen || s.state != StateSpeaking {
			return
		}
		s.log.Warn("speech completion not reported, resuming", "timeout", s.opts.SpeechTimeout)
		s.finishTurnLocked()
	})
}

func (s *Session) stopWatchdogLocked() {
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
}

func (s *Session) finishTurnLocked() {
	s.stopWatchdogLocked()
	if s.hasQueued && !s.stopRequested {
		text := s.queued
		s.clearQueueLocked()
		s.beginTurnLocked(text)
		return
	}
	s.clearQueueLocked()
	restart := !s.stopRequested && (s.always || s.resume)
	s.stopRequested = false
	s.resume = false
	s.setStateLocked(StateIdle)
	if restart {
		s.scheduleRestartLocked(s.opts.RestartDelay, "turn_end")
	}
}

func (s *Session) handleErrorLocked(code, detail string) {
	kind := reliability.ClassifyCaptureError(code)
	terminal := reliability.IsTerminalCaptureError(kind)
	s.opts.Metrics.ObserveCaptureError(string(kind), terminal)
	capErr := &CaptureError{Code: code, Kind: kind, Terminal: terminal, Detail: detail}

	if terminal {
		s.log.Warn("capture disabled", "code", code, "kind", kind)
		s.always = false
		s.resume = false
		s.cancelRestartLocked()
		if s.state == StateListening {
			s.setStateLocked(StateIdle)
		} else {
			s.notifyLocked()
		}
		if s.opts.OnError != nil {
			s.opts.OnError(capErr)
		}
		return
	}

	if s.state != StateListening {
		s.log.Debug("capture error outside listening ignored", "code", code, "state", s.state)
		return
	}
	s.setStateLocked(StateIdle)
	if s.always {
		s.scheduleRestartLocked(s.opts.ErrorRestartDelay, "error")
	}
	if reliability.ShouldSurfaceCaptureError(kind) && s.opts.OnError != nil {
		s.opts.OnError(capErr)
	}
}

func (s *Session) startCaptureLocked(ctx context.Context) error {
	s.cancelRestartLocked()
	if s.opts.Source == nil {
		return errors.New("listening: no capture source")
	}
	if err := s.opts.Source.Start(ctx); err != nil {
		code := string(reliability.CaptureUnknown)
		var capErr *CaptureError
		if errors.As(err, &capErr) {
			code = capErr.Code
		}
		s.state = StateListening
		s.handleErrorLocked(code, err.Error())
		return err
	}
	s.setStateLocked(StateListening)
	return nil
}

func (s *Session) stopSourceLocked() {
	if s.opts.Source == nil {
		return
	}
	if err := s.opts.Source.Stop(); err != nil {
		s.log.Debug("capture stop failed", "err", err)
	}
}

// scheduleRestartLocked arms a single restart timer. Timers from an older
// generation find s.gen moved on and do nothing.
func (s *Session) scheduleRestartLocked(delay time.Duration, reason string) {
	s.cancelRestartLocked()
	gen := s.gen
	s.restartSince = time.Now()
	s.restart = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || gen != s.gen || s.state != StateIdle {
			return
		}
		s.opts.Metrics.ObserveListeningRestart(reason)
		s.opts.Metrics.ObserveTurnStage(observability.StageCaptureRestart, time.Since(s.restartSince))
		_ = s.startCaptureLocked(s.ctx)
	})
}

func (s *Session) cancelRestartLocked() {
	s.gen++
	if s.restart != nil {
		s.restart.Stop()
		s.restart = nil
	}
}

func (s *Session) clearQueueLocked() {
	s.queued = ""
	s.hasQueued = false
}

func (s *Session) setStateLocked(next State) {
	if s.state != next {
		s.opts.Metrics.ObserveListeningTransition(string(next))
	}
	s.state = next
	s.notifyLocked()
}

func (s *Session) notifyLocked() {
	if s.opts.OnState != nil {
		s.opts.OnState(s.state, s.always)
	}
}
