package voice

import (
	"context"

	"github.com/ent0n29/copilot/internal/listening"
	"github.com/ent0n29/copilot/internal/protocol"
)

// RemoteCapture drives the recognizer running in the client. Start and Stop
// become capture_command messages; results come back as client_transcript,
// client_capture_error and client_capture_end.
type RemoteCapture struct {
	sessionID string
	send      Sender
}

func NewRemoteCapture(sessionID string, send Sender) *RemoteCapture {
	return &RemoteCapture{sessionID: sessionID, send: send}
}

func (c *RemoteCapture) Start(context.Context) error {
	if !c.send(protocol.CaptureCommand{
		Type:      protocol.TypeCaptureCommand,
		SessionID: c.sessionID,
		Action:    protocol.ActionStart,
	}) {
		// With no client there is no microphone to listen on.
		return &listening.CaptureError{Code: "audio-capture", Detail: "no client attached"}
	}
	return nil
}

func (c *RemoteCapture) Stop() error {
	c.send(protocol.CaptureCommand{
		Type:      protocol.TypeCaptureCommand,
		SessionID: c.sessionID,
		Action:    protocol.ActionStop,
	})
	return nil
}
