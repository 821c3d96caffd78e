package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/copilot/internal/dialogue"
	"github.com/ent0n29/copilot/internal/vehicle"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientTranscript   MessageType = "client_transcript"
	TypeClientCaptureError MessageType = "client_capture_error"
	TypeClientCaptureEnd   MessageType = "client_capture_end"
	TypeClientText         MessageType = "client_text"
	TypeClientControl      MessageType = "client_control"

	TypeListeningState       MessageType = "listening_state"
	TypeCaptureCommand       MessageType = "capture_command"
	TypeTranscriptPartial    MessageType = "transcript_partial"
	TypeDialogueTurn         MessageType = "dialogue_turn"
	TypeConfirmationRequired MessageType = "confirmation_required"
	TypeSpeak                MessageType = "speak"
	TypeMuteState            MessageType = "mute_state"
	TypeVehicleState         MessageType = "vehicle_state"
	TypeSystemEvent          MessageType = "system_event"
	TypeErrorEvent           MessageType = "error_event"
)

// Client control actions.
const (
	ActionStart              = "start"
	ActionStop               = "stop"
	ActionAlwaysListeningOn  = "always_listening_on"
	ActionAlwaysListeningOff = "always_listening_off"
	ActionConfirm            = "confirm"
	ActionCancel             = "cancel"
	ActionMute               = "mute"
	ActionUnmute             = "unmute"
	ActionSpeechDone         = "speech_done"
)

var controlActions = map[string]bool{
	ActionStart:              true,
	ActionStop:               true,
	ActionAlwaysListeningOn:  true,
	ActionAlwaysListeningOff: true,
	ActionConfirm:            true,
	ActionCancel:             true,
	ActionMute:               true,
	ActionUnmute:             true,
	ActionSpeechDone:         true,
}

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientTranscript struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Text       string      `json:"text"`
	Final      bool        `json:"final"`
	Confidence float64     `json:"confidence"`
	TSMs       int64       `json:"ts_ms,omitempty"`
}

type ClientCaptureError struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ClientCaptureEnd struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

// ClientText is typed input. It bypasses capture entirely.
type ClientText struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	TurnID    string      `json:"turn_id,omitempty"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

type ListeningState struct {
	Type            MessageType `json:"type"`
	SessionID       string      `json:"session_id"`
	State           string      `json:"state"`
	AlwaysListening bool        `json:"always_listening"`
}

// CaptureCommand asks the client recognizer to start or stop.
type CaptureCommand struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

type TranscriptPartial struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
}

type DialogueTurn struct {
	Type      MessageType   `json:"type"`
	SessionID string        `json:"session_id"`
	Turn      dialogue.Turn `json:"turn"`
}

type ConfirmationRequired struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Intent    string      `json:"intent"`
	Action    string      `json:"action"`
	Prompt    string      `json:"prompt"`
}

// Speak carries text for the client to play. The client answers with a
// client_control speech_done once playback ends.
type Speak struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Text      string      `json:"text"`
}

type MuteState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Muted     bool        `json:"muted"`
}

type VehicleState struct {
	Type      MessageType   `json:"type"`
	SessionID string        `json:"session_id"`
	State     vehicle.State `json:"state"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Terminal  bool        `json:"terminal"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientTranscript:
		var msg ClientTranscript
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid client_transcript")
		}
		return msg, nil
	case TypeClientCaptureError:
		var msg ClientCaptureError
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || strings.TrimSpace(msg.Code) == "" {
			return nil, errors.New("invalid client_capture_error")
		}
		return msg, nil
	case TypeClientCaptureEnd:
		var msg ClientCaptureEnd
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid client_capture_end")
		}
		return msg, nil
	case TypeClientText:
		var msg ClientText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid client_text")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		if !controlActions[msg.Action] {
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
