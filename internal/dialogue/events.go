package dialogue

import "time"

type EventType string

const (
	EventUserUtterance        EventType = "user_utterance"
	EventConfirmationRequired EventType = "confirmation_required"
	EventTurnCompleted        EventType = "turn_completed"
	EventTurnFailed           EventType = "turn_failed"
	EventTurnCancelled        EventType = "turn_cancelled"
	EventSpeakRequested       EventType = "speak_requested"
	EventMuteChanged          EventType = "mute_changed"
)

type Event struct {
	Type      EventType `json:"type"`
	Turn      Turn      `json:"turn"`
	Text      string    `json:"text,omitempty"`
	Muted     bool      `json:"muted"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscribe returns a buffered event channel and a cancel func. Delivery is
// best effort: a subscriber that stops draining misses events.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	c.mu.Lock()
	c.nextSubID++
	id := c.nextSubID
	c.subscribers[id] = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(sub)
		}
	}
}

func (c *Controller) publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = c.now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}
