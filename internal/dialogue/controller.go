package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/copilot/internal/intent"
	"github.com/ent0n29/copilot/internal/logging"
	"github.com/ent0n29/copilot/internal/observability"
	"github.com/ent0n29/copilot/internal/policy"
	"github.com/ent0n29/copilot/internal/vehicle"
)

const defaultSpeakTimeout = 30 * time.Second

type Options struct {
	Store        *vehicle.Store
	Speaker      Speaker
	HistoryLimit int
	Muted        bool
	SpeakTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *observability.Metrics
	// Actions overrides or extends the built-in action table.
	Actions map[string]ActionFunc
	// Now is used for timestamps; defaults to time.Now.
	Now func() time.Time
}

// Controller sequences dialogue turns for one session. Turns are serialized:
// at most one utterance is interpreted and executed at a time.
type Controller struct {
	turnMu sync.Mutex

	mu          sync.Mutex
	history     []Entry
	pending     *PendingConfirmation
	muted       bool
	subscribers map[int]chan Event
	nextSubID   int

	store        *vehicle.Store
	speaker      Speaker
	actions      map[string]ActionFunc
	limit        int
	speakTimeout time.Duration
	log          *slog.Logger
	metrics      *observability.Metrics
	now          func() time.Time
}

func New(opts Options) *Controller {
	store := opts.Store
	if store == nil {
		store = vehicle.NewStore(vehicle.DefaultProfile())
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = 10
	}
	speakTimeout := opts.SpeakTimeout
	if speakTimeout <= 0 {
		speakTimeout = defaultSpeakTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	actions := DefaultActions()
	for name, fn := range opts.Actions {
		actions[name] = fn
	}
	return &Controller{
		muted:        opts.Muted,
		subscribers:  make(map[int]chan Event),
		store:        store,
		speaker:      opts.Speaker,
		actions:      actions,
		limit:        limit,
		speakTimeout: speakTimeout,
		log:          logging.OrDefault(opts.Logger),
		metrics:      opts.Metrics,
		now:          func() time.Time { return now().UTC() },
	}
}

// Store exposes the vehicle state this controller acts on.
func (c *Controller) Store() *vehicle.Store { return c.store }

// HandleUtterance runs one turn. Commands that need confirmation come back
// with StatusAwaitingConfirmation and nothing executed. While a command is
// pending, a plain yes/no answer confirms or cancels it and any other input
// is rejected with ErrConfirmationPending.
func (c *Controller) HandleUtterance(ctx context.Context, text string, origin Origin) (Turn, error) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	if p, ok := c.Pending(); ok {
		reply := policy.ClassifyReply(text)
		if reply == policy.ReplyOther {
			return Turn{ID: p.TurnID, Status: StatusAwaitingConfirmation, Prompt: p.Prompt, Command: p.Command.Clone()}, ErrConfirmationPending
		}
		c.appendEntry(Entry{
			TurnID:    p.TurnID,
			Role:      RoleUser,
			Text:      text,
			Origin:    origin,
			Timestamp: c.now(),
		})
		if reply == policy.ReplyAffirmative {
			return c.confirmLocked(ctx)
		}
		return c.cancelLocked()
	}

	started := c.now()
	turn := Turn{
		ID:        uuid.NewString(),
		Utterance: text,
		Origin:    origin,
		StartedAt: started,
	}
	c.appendEntry(Entry{
		TurnID:    turn.ID,
		Role:      RoleUser,
		Text:      text,
		Origin:    origin,
		Timestamp: started,
	})
	c.publish(Event{Type: EventUserUtterance, Turn: turn, Text: text})

	interpretStart := time.Now()
	turn.Command = intent.Interpret(text)
	c.metrics.ObserveTurnStage(observability.StageInterpret, time.Since(interpretStart))

	c.log.Debug("utterance interpreted",
		"turn_id", turn.ID,
		"origin", origin,
		"utterance", policy.Redact(text),
		"intent", turn.Command.Intent,
		"action", turn.Command.Action,
		"confidence", turn.Command.Confidence,
	)

	if turn.Command.RequiresConfirmation {
		turn.Status = StatusAwaitingConfirmation
		turn.Prompt = policy.ConfirmationPrompt(turn.Command.Action)
		c.mu.Lock()
		c.pending = &PendingConfirmation{
			TurnID:    turn.ID,
			Utterance: text,
			Origin:    origin,
			Command:   turn.Command.Clone(),
			Prompt:    turn.Prompt,
			CreatedAt: started,
		}
		c.mu.Unlock()
		c.metrics.ObserveConfirmation("requested")
		c.publish(Event{Type: EventConfirmationRequired, Turn: turn, Text: turn.Prompt})
		turn.Spoken = c.speak(turn.ID, turn.Prompt)
		return turn, nil
	}

	return c.execute(ctx, turn), nil
}

// Confirm executes the pending command.
func (c *Controller) Confirm(ctx context.Context) (Turn, error) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	return c.confirmLocked(ctx)
}

// Cancel drops the pending command without running it. Nothing is added to
// the history beyond the original user entry.
func (c *Controller) Cancel() (Turn, error) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	return c.cancelLocked()
}

func (c *Controller) confirmLocked(ctx context.Context) (Turn, error) {
	p, ok := c.takePending()
	if !ok {
		return Turn{}, ErrNoPendingConfirmation
	}
	c.metrics.ObserveConfirmation("confirmed")
	turn := Turn{
		ID:        p.TurnID,
		Utterance: p.Utterance,
		Origin:    p.Origin,
		Command:   p.Command,
		StartedAt: p.CreatedAt,
	}
	return c.execute(ctx, turn), nil
}

func (c *Controller) cancelLocked() (Turn, error) {
	p, ok := c.takePending()
	if !ok {
		return Turn{}, ErrNoPendingConfirmation
	}
	c.metrics.ObserveConfirmation("cancelled")
	c.metrics.ObserveTurn(p.Command.Intent, string(StatusCancelled), c.now().Sub(p.CreatedAt))
	turn := Turn{
		ID:          p.TurnID,
		Utterance:   p.Utterance,
		Origin:      p.Origin,
		Command:     p.Command,
		Status:      StatusCancelled,
		StartedAt:   p.CreatedAt,
		CompletedAt: c.now(),
	}
	c.log.Info("confirmation declined", "turn_id", turn.ID, "action", turn.Command.Action)
	c.publish(Event{Type: EventTurnCancelled, Turn: turn})
	return turn, nil
}

func (c *Controller) takePending() (PendingConfirmation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return PendingConfirmation{}, false
	}
	p := *c.pending
	c.pending = nil
	return p, true
}

// Pending returns the command awaiting confirmation, if any.
func (c *Controller) Pending() (PendingConfirmation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return PendingConfirmation{}, false
	}
	p := *c.pending
	p.Command = p.Command.Clone()
	return p, true
}

func (c *Controller) execute(ctx context.Context, turn Turn) Turn {
	execStart := time.Now()
	result, err := c.runAction(ctx, turn.Command)
	c.metrics.ObserveTurnStage(observability.StageExecute, time.Since(execStart))

	turn.CompletedAt = c.now()
	if err != nil {
		turn.Status = StatusFailed
		turn.Error = userMessage(err)
		turn.ResultText = turn.Error
		c.log.Warn("action failed", "turn_id", turn.ID, "action", turn.Command.Action, "err", err)
	} else {
		turn.Status = StatusCompleted
		turn.ResultText = result
	}

	cmd := turn.Command.Clone()
	c.appendEntry(Entry{
		TurnID:    turn.ID,
		Role:      RoleAssistant,
		Text:      turn.ResultText,
		Command:   &cmd,
		Status:    turn.Status,
		Error:     turn.Error,
		Timestamp: turn.CompletedAt,
	})
	c.metrics.ObserveTurn(turn.Command.Intent, string(turn.Status), turn.CompletedAt.Sub(turn.StartedAt))

	evtType := EventTurnCompleted
	if turn.Status == StatusFailed {
		evtType = EventTurnFailed
	}
	turn.Spoken = c.speak(turn.ID, turn.ResultText)
	c.publish(Event{Type: evtType, Turn: turn, Text: turn.ResultText})
	return turn
}

// runAction never panics out: a panicking action becomes an error.
func (c *Controller) runAction(ctx context.Context, cmd intent.ParsedCommand) (result string, err error) {
	fn, ok := c.actions[cmd.Action]
	if !ok {
		return "", &UserError{Message: "Sorry, I can't do that yet.", Err: fmt.Errorf("%w: %s", ErrUnsupportedAction, cmd.Action)}
	}
	defer func() {
		if r := recover(); r != nil {
			result = ""
			err = fmt.Errorf("action %s panicked: %v", cmd.Action, r)
		}
	}()
	return fn(ctx, c.store, cmd.Clone())
}

func userMessage(err error) string {
	var ue *UserError
	if errors.As(err, &ue) && ue.Message != "" {
		return ue.Message
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "Sorry, that took too long. Please try again."
	}
	return "Sorry, I couldn't complete that request."
}

// speak hands text to the speaker without waiting. It reports whether speech
// was requested.
func (c *Controller) speak(turnID, text string) bool {
	c.mu.Lock()
	muted := c.muted
	c.mu.Unlock()
	if muted || c.speaker == nil || text == "" {
		return false
	}
	c.publish(Event{Type: EventSpeakRequested, Turn: Turn{ID: turnID}, Text: text})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.speakTimeout)
		defer cancel()
		if err := c.speaker.Speak(ctx, turnID, text); err != nil {
			c.log.Warn("speech output failed", "turn_id", turnID, "err", err)
		}
	}()
	return true
}

func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	changed := c.muted != muted
	c.muted = muted
	c.mu.Unlock()
	if changed {
		c.publish(Event{Type: EventMuteChanged, Muted: muted})
	}
}

func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// History returns the bounded, insertion-ordered dialogue history.
func (c *Controller) History() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.history))
	for i, e := range c.history {
		if e.Command != nil {
			cmd := e.Command.Clone()
			e.Command = &cmd
		}
		out[i] = e
	}
	return out
}

func (c *Controller) appendEntry(e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, e)
	if over := len(c.history) - c.limit; over > 0 {
		c.history = append([]Entry(nil), c.history[over:]...)
	}
}
