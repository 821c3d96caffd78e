package voice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/copilot/internal/dialogue"
	"github.com/ent0n29/copilot/internal/listening"
	"github.com/ent0n29/copilot/internal/logging"
	"github.com/ent0n29/copilot/internal/observability"
	"github.com/ent0n29/copilot/internal/protocol"
	"github.com/ent0n29/copilot/internal/reliability"
	"github.com/ent0n29/copilot/internal/session"
	"github.com/ent0n29/copilot/internal/vehicle"
)

// RuntimeConfig holds the per-session settings every runtime is built with.
type RuntimeConfig struct {
	Profile           vehicle.Profile
	HistoryLimit      int
	RestartDelay      time.Duration
	ErrorRestartDelay time.Duration
	SpeechTimeout     time.Duration
	QueueFinals       bool
}

// Orchestrator owns one Runtime per live session and bridges the realtime
// connection to it.
type Orchestrator struct {
	sessions       *session.Manager
	metrics        *observability.Metrics
	log            *slog.Logger
	cfg            RuntimeConfig
	relay          dialogue.Speaker
	strictOutbound bool

	mu       sync.Mutex
	runtimes map[string]*Runtime
}

const criticalSendTimeout = 600 * time.Millisecond

// NewOrchestrator wires sessions to runtimes. relay may be nil, in which case
// speech always goes through the connected client.
func NewOrchestrator(
	sessions *session.Manager,
	metrics *observability.Metrics,
	logger *slog.Logger,
	cfg RuntimeConfig,
	relay dialogue.Speaker,
	strictOutbound bool,
) *Orchestrator {
	return &Orchestrator{
		sessions:       sessions,
		metrics:        metrics,
		log:            logging.OrDefault(logger),
		cfg:            cfg,
		relay:          relay,
		strictOutbound: strictOutbound,
		runtimes:       make(map[string]*Runtime),
	}
}

// Runtime returns the runtime for an active session, creating it on first use.
func (o *Orchestrator) Runtime(sessionID string) (*Runtime, error) {
	s, err := o.sessions.GetActive(sessionID)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if rt, ok := o.runtimes[sessionID]; ok {
		return rt, nil
	}
	rt := o.newRuntime(s)
	o.runtimes[sessionID] = rt
	return rt, nil
}

// Controller returns the dialogue controller of an active session.
func (o *Orchestrator) Controller(sessionID string) (*dialogue.Controller, error) {
	rt, err := o.Runtime(sessionID)
	if err != nil {
		return nil, err
	}
	return rt.Controller, nil
}

// Utterance runs typed input as a turn of the session. Capture is suspended
// until the reply has been spoken.
func (o *Orchestrator) Utterance(ctx context.Context, sessionID, text string, origin dialogue.Origin) (dialogue.Turn, error) {
	rt, err := o.Runtime(sessionID)
	if err != nil {
		return dialogue.Turn{}, err
	}
	return rt.runTurn(func() (dialogue.Turn, error) {
		return rt.Controller.HandleUtterance(ctx, text, origin)
	})
}

// Confirm executes the session's pending command as a turn.
func (o *Orchestrator) Confirm(ctx context.Context, sessionID string) (dialogue.Turn, error) {
	rt, err := o.Runtime(sessionID)
	if err != nil {
		return dialogue.Turn{}, err
	}
	return rt.runTurn(func() (dialogue.Turn, error) {
		return rt.Controller.Confirm(ctx)
	})
}

// Release closes and forgets the runtime of an ended session.
func (o *Orchestrator) Release(sessionID string) {
	o.mu.Lock()
	rt, ok := o.runtimes[sessionID]
	delete(o.runtimes, sessionID)
	o.mu.Unlock()
	if ok {
		rt.Close()
	}
}

// Shutdown releases every runtime.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	runtimes := o.runtimes
	o.runtimes = make(map[string]*Runtime)
	o.mu.Unlock()
	for _, rt := range runtimes {
		rt.Close()
	}
}

// RunConnection serves one realtime connection until ctx ends or inbound
// closes. Messages for the client go to outbound.
func (o *Orchestrator) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	rt, err := o.Runtime(s.ID)
	if err != nil {
		o.send(outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: s.ID,
			Code:      "session_unavailable",
			Source:    "session",
			Detail:    err.Error(),
		})
		return err
	}
	rt.attach(outbound)
	defer rt.detach(outbound)

	status := rt.Listening.Status()
	o.send(outbound, protocol.ListeningState{
		Type:            protocol.TypeListeningState,
		SessionID:       s.ID,
		State:           string(status.State),
		AlwaysListening: status.AlwaysListening,
	})
	o.send(outbound, protocol.MuteState{Type: protocol.TypeMuteState, SessionID: s.ID, Muted: rt.Controller.Muted()})
	o.send(outbound, protocol.VehicleState{Type: protocol.TypeVehicleState, SessionID: s.ID, State: rt.Store.Snapshot()})

	if status.AlwaysListening {
		if err := rt.Listening.Start(ctx); err != nil {
			o.log.Debug("initial capture start failed", "session_id", s.ID, "err", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			_ = o.sessions.Touch(s.ID)
			o.handleInbound(ctx, rt, outbound, msg)
		}
	}
}

func (o *Orchestrator) handleInbound(ctx context.Context, rt *Runtime, outbound chan<- any, msg any) {
	switch m := msg.(type) {
	case protocol.ClientTranscript:
		kind := listening.EventInterim
		if m.Final {
			kind = listening.EventFinal
		}
		rt.Listening.HandleEvent(listening.Event{
			Kind:       kind,
			Text:       m.Text,
			Confidence: m.Confidence,
			Timestamp:  time.Now().UTC(),
		})
	case protocol.ClientCaptureError:
		rt.Listening.HandleEvent(listening.Event{
			Kind:      listening.EventError,
			ErrorCode: m.Code,
			Detail:    m.Detail,
			Timestamp: time.Now().UTC(),
		})
	case protocol.ClientCaptureEnd:
		rt.Listening.HandleEvent(listening.Event{Kind: listening.EventEnd, Timestamp: time.Now().UTC()})
	case protocol.ClientText:
		text := strings.TrimSpace(m.Text)
		_, err := rt.runTurn(func() (dialogue.Turn, error) {
			return rt.Controller.HandleUtterance(ctx, text, dialogue.OriginText)
		})
		if err != nil {
			o.sendDialogueError(outbound, rt.SessionID, err)
		}
	case protocol.ClientControl:
		o.handleControl(ctx, rt, outbound, m)
	default:
		o.metrics.ObserveSessionEvent("inbound_unknown")
	}
}

func (o *Orchestrator) handleControl(ctx context.Context, rt *Runtime, outbound chan<- any, m protocol.ClientControl) {
	o.metrics.ObserveClientControl(m.Action)
	switch m.Action {
	case protocol.ActionStart:
		if err := rt.Listening.Start(ctx); err != nil {
			o.log.Debug("capture start failed", "session_id", rt.SessionID, "err", err)
		}
	case protocol.ActionStop:
		rt.Listening.Stop()
	case protocol.ActionAlwaysListeningOn, protocol.ActionAlwaysListeningOff:
		on := m.Action == protocol.ActionAlwaysListeningOn
		rt.Listening.SetAlwaysListening(on)
		o.syncPreferences(rt)
	case protocol.ActionConfirm:
		_, err := rt.runTurn(func() (dialogue.Turn, error) {
			return rt.Controller.Confirm(ctx)
		})
		if err != nil {
			o.sendDialogueError(outbound, rt.SessionID, err)
		}
	case protocol.ActionCancel:
		if _, err := rt.Controller.Cancel(); err != nil {
			o.sendDialogueError(outbound, rt.SessionID, err)
		}
	case protocol.ActionMute, protocol.ActionUnmute:
		rt.Controller.SetMuted(m.Action == protocol.ActionMute)
	case protocol.ActionSpeechDone:
		rt.client.Done(m.TurnID)
	}
}

func (o *Orchestrator) syncPreferences(rt *Runtime) {
	_ = o.sessions.SetPreferences(rt.SessionID, session.Preferences{
		AlwaysListening: rt.Listening.AlwaysListening(),
		Muted:           rt.Controller.Muted(),
	})
}

func (o *Orchestrator) sendDialogueError(outbound chan<- any, sessionID string, err error) {
	code := "dialogue_error"
	switch {
	case errors.Is(err, dialogue.ErrConfirmationPending):
		code = "confirmation_pending"
	case errors.Is(err, dialogue.ErrNoPendingConfirmation):
		code = "no_pending_confirmation"
	case errors.Is(err, listening.ErrTurnInProgress):
		code = "turn_in_progress"
	}
	o.send(outbound, protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    "dialogue",
		Retryable: true,
		Detail:    err.Error(),
	})
}

func (o *Orchestrator) newRuntime(s *session.Session) *Runtime {
	rt := &Runtime{
		SessionID: s.ID,
		Store:     vehicle.NewStore(o.cfg.Profile),
	}
	send := func(msg any) bool { return rt.emit(o, msg) }
	rt.client = NewClientSink(s.ID, send)

	speaker := &completionSpeaker{
		next: newFailoverSpeaker(o.relay, rt.client),
		onDone: func(string) {
			rt.Listening.SpeechDone()
		},
	}
	rt.Controller = dialogue.New(dialogue.Options{
		Store:        rt.Store,
		Speaker:      speaker,
		HistoryLimit: o.cfg.HistoryLimit,
		Muted:        s.Muted,
		SpeakTimeout: o.cfg.SpeechTimeout,
		Logger:       o.log.With("session_id", s.ID),
		Metrics:      o.metrics,
	})
	rt.Listening = listening.New(listening.Options{
		Source:            NewRemoteCapture(s.ID, send),
		Handler:           o.voiceTurnHandler(rt),
		AlwaysListening:   s.AlwaysListening,
		RestartDelay:      o.cfg.RestartDelay,
		ErrorRestartDelay: o.cfg.ErrorRestartDelay,
		SpeechTimeout:     o.cfg.SpeechTimeout,
		QueueFinals:       o.cfg.QueueFinals,
		Logger:            o.log.With("session_id", s.ID),
		Metrics:           o.metrics,
		OnState: func(state listening.State, always bool) {
			send(protocol.ListeningState{
				Type:            protocol.TypeListeningState,
				SessionID:       s.ID,
				State:           string(state),
				AlwaysListening: always,
			})
		},
		OnError: func(err *listening.CaptureError) {
			if err.Terminal {
				_ = o.sessions.SetAlwaysListening(s.ID, false)
			}
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: s.ID,
				Code:      string(err.Kind),
				Source:    "capture",
				Retryable: !err.Terminal,
				Terminal:  err.Terminal,
				Detail:    captureErrorDetail(err),
			})
		},
		OnInterim: func(evt listening.Event) {
			send(protocol.TranscriptPartial{
				Type:       protocol.TypeTranscriptPartial,
				SessionID:  s.ID,
				Text:       evt.Text,
				Confidence: evt.Confidence,
			})
		},
	})

	events, unsubscribe := rt.Controller.Subscribe()
	rt.unsubscribe = unsubscribe
	rt.eventsDone = make(chan struct{})
	go o.forwardDialogueEvents(rt, events, send)
	return rt
}

// voiceTurnHandler runs a final transcript through the dialogue controller.
func (o *Orchestrator) voiceTurnHandler(rt *Runtime) listening.TurnHandler {
	return func(ctx context.Context, text string) bool {
		turn, err := rt.Controller.HandleUtterance(ctx, text, dialogue.OriginVoice)
		if err != nil {
			rt.emit(o, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: rt.SessionID,
				Code:      "confirmation_pending",
				Source:    "dialogue",
				Retryable: true,
				Detail:    err.Error(),
			})
			return false
		}
		return turn.Spoken
	}
}

func (o *Orchestrator) forwardDialogueEvents(rt *Runtime, events <-chan dialogue.Event, send Sender) {
	defer close(rt.eventsDone)
	for evt := range events {
		switch evt.Type {
		case dialogue.EventUserUtterance:
			_ = o.sessions.StartTurn(rt.SessionID, evt.Turn.ID)
		case dialogue.EventConfirmationRequired:
			send(protocol.ConfirmationRequired{
				Type:      protocol.TypeConfirmationRequired,
				SessionID: rt.SessionID,
				TurnID:    evt.Turn.ID,
				Intent:    evt.Turn.Command.Intent,
				Action:    evt.Turn.Command.Action,
				Prompt:    evt.Turn.Prompt,
			})
		case dialogue.EventTurnCompleted, dialogue.EventTurnFailed, dialogue.EventTurnCancelled:
			_ = o.sessions.FinishTurn(rt.SessionID, evt.Turn.ID)
			send(protocol.DialogueTurn{Type: protocol.TypeDialogueTurn, SessionID: rt.SessionID, Turn: evt.Turn})
			send(protocol.VehicleState{Type: protocol.TypeVehicleState, SessionID: rt.SessionID, State: rt.Store.Snapshot()})
		case dialogue.EventMuteChanged:
			o.syncPreferences(rt)
			send(protocol.MuteState{Type: protocol.TypeMuteState, SessionID: rt.SessionID, Muted: evt.Muted})
		}
	}
}

func captureErrorDetail(err *listening.CaptureError) string {
	switch err.Kind {
	case reliability.CapturePermissionDenied:
		return "Microphone access was denied. Allow microphone access to use voice commands."
	case reliability.CaptureNoMicrophone:
		return "No microphone is available. Voice commands are disabled."
	case reliability.CaptureNetwork:
		return "Speech recognition lost its network connection. Retrying."
	}
	if err.Detail != "" {
		return err.Detail
	}
	return err.Code
}

func (o *Orchestrator) send(outbound chan<- any, msg any) bool {
	msgType, critical := outboundMessageMeta(msg)
	record := func(result string) {
		o.metrics.ObserveOutboundMessage(msgType, result)
	}

	if critical || o.strictOutbound {
		timer := time.NewTimer(criticalSendTimeout)
		defer timer.Stop()
		select {
		case outbound <- msg:
			record("delivered")
			return true
		case <-timer.C:
			record("timeout")
			o.metrics.ObserveSessionEvent("outbound_drop")
			return false
		}
	}

	select {
	case outbound <- msg:
		record("delivered")
		return true
	default:
		record("dropped")
		o.metrics.ObserveSessionEvent("outbound_drop")
		return false
	}
}

// outboundMessageMeta names a message and says whether it must not be
// dropped under backpressure. Partials and state snapshots are replaceable.
func outboundMessageMeta(msg any) (msgType string, critical bool) {
	switch m := msg.(type) {
	case protocol.CaptureCommand:
		return string(m.Type), true
	case protocol.Speak:
		return string(m.Type), true
	case protocol.DialogueTurn:
		return string(m.Type), true
	case protocol.ConfirmationRequired:
		return string(m.Type), true
	case protocol.ErrorEvent:
		return string(m.Type), true
	case protocol.SystemEvent:
		return string(m.Type), true
	case protocol.ListeningState:
		return string(m.Type), true
	case protocol.MuteState:
		return string(m.Type), false
	case protocol.VehicleState:
		return string(m.Type), false
	case protocol.TranscriptPartial:
		return string(m.Type), false
	default:
		return "unknown", false
	}
}
