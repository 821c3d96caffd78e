package voice

import (
	"github.com/ent0n29/copilot/internal/dialogue"
	"github.com/ent0n29/copilot/internal/listening"
)

// Sender delivers one server message to the attached client. It reports
// false when nothing is attached or the message was dropped.
type Sender func(msg any) bool

var (
	_ listening.Source = (*RemoteCapture)(nil)
	_ listening.Source = (*MockCapture)(nil)
	_ dialogue.Speaker = (*ClientSink)(nil)
	_ dialogue.Speaker = (*RelaySink)(nil)
	_ dialogue.Speaker = (*MockSpeaker)(nil)
	_ dialogue.Speaker = (*failoverSpeaker)(nil)
)
