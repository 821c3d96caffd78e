package dialogue

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/copilot/internal/intent"
)

type Origin string

const (
	OriginVoice Origin = "voice"
	OriginText  Origin = "text"
)

// ParseOrigin defaults anything unrecognized to text.
func ParseOrigin(v string) Origin {
	if Origin(v) == OriginVoice {
		return OriginVoice
	}
	return OriginText
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type TurnStatus string

const (
	StatusCompleted            TurnStatus = "completed"
	StatusFailed               TurnStatus = "failed"
	StatusAwaitingConfirmation TurnStatus = "awaiting_confirmation"
	StatusCancelled            TurnStatus = "cancelled"
)

var (
	ErrNoPendingConfirmation = errors.New("no command awaiting confirmation")
	ErrConfirmationPending   = errors.New("a command is awaiting confirmation")
	ErrUnsupportedAction     = errors.New("unsupported action")
)

// FallbackResponse is the reply for utterances that match no trigger.
const FallbackResponse = "I understand. How can I help you with your vehicle today?"

// Turn is one utterance and its outcome.
type Turn struct {
	ID          string               `json:"turn_id"`
	Utterance   string               `json:"utterance"`
	Origin      Origin               `json:"origin"`
	Command     intent.ParsedCommand `json:"command"`
	Status      TurnStatus           `json:"status"`
	ResultText  string               `json:"result_text,omitempty"`
	Error       string               `json:"error,omitempty"`
	Prompt      string               `json:"prompt,omitempty"`
	Spoken      bool                 `json:"spoken"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt time.Time            `json:"completed_at,omitempty"`
}

// Entry is one line of the dialogue history.
type Entry struct {
	ID        string                `json:"id"`
	TurnID    string                `json:"turn_id"`
	Role      Role                  `json:"role"`
	Text      string                `json:"text"`
	Origin    Origin                `json:"origin,omitempty"`
	Command   *intent.ParsedCommand `json:"command,omitempty"`
	Status    TurnStatus            `json:"status,omitempty"`
	Error     string                `json:"error,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// PendingConfirmation is a command held until the driver confirms or cancels.
type PendingConfirmation struct {
	TurnID    string               `json:"turn_id"`
	Utterance string               `json:"utterance"`
	Origin    Origin               `json:"origin"`
	Command   intent.ParsedCommand `json:"command"`
	Prompt    string               `json:"prompt"`
	CreatedAt time.Time            `json:"created_at"`
}

// Speaker plays text aloud. Speak returns once playback finished or failed.
type Speaker interface {
	Speak(ctx context.Context, turnID, text string) error
}

// UserError carries a message that is safe to show and speak to the driver.
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *UserError) Unwrap() error { return e.Err }
