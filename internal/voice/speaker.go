package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ent0n29/copilot/internal/dialogue"
	"github.com/ent0n29/copilot/internal/protocol"
)

var ErrClientUnavailable = errors.New("no client attached for speech")

// ClientSink speaks through the client: it sends a speak message and blocks
// until the client reports speech_done for that turn.
type ClientSink struct {
	sessionID string
	send      Sender

	mu      sync.Mutex
	waiters map[string]chan struct{}
}

func NewClientSink(sessionID string, send Sender) *ClientSink {
	return &ClientSink{
		sessionID: sessionID,
		send:      send,
		waiters:   make(map[string]chan struct{}),
	}
}

func (c *ClientSink) Speak(ctx context.Context, turnID, text string) error {
	text = sanitizeSpeechText(text)
	if text == "" {
		return nil
	}
	done := make(chan struct{})
	c.mu.Lock()
	if prev, ok := c.waiters[turnID]; ok {
		close(prev)
	}
	c.waiters[turnID] = done
	c.mu.Unlock()

	if !c.send(protocol.Speak{
		Type:      protocol.TypeSpeak,
		SessionID: c.sessionID,
		TurnID:    turnID,
		Text:      text,
	}) {
		c.release(turnID, done)
		return ErrClientUnavailable
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		c.release(turnID, done)
		return ctx.Err()
	}
}

// Done marks playback for turnID as finished. An empty turnID finishes every
// outstanding request.
func (c *ClientSink) Done(turnID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if turnID == "" {
		for id, ch := range c.waiters {
			close(ch)
			delete(c.waiters, id)
		}
		return
	}
	if ch, ok := c.waiters[turnID]; ok {
		close(ch)
		delete(c.waiters, turnID)
	}
}

// Close releases every waiting Speak call.
func (c *ClientSink) Close() { c.Done("") }

func (c *ClientSink) release(turnID string, ch chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.waiters[turnID]; ok && cur == ch {
		delete(c.waiters, turnID)
	}
}

// failoverSpeaker prefers the primary speaker and uses the fallback when the
// primary fails. The error from the fallback wins.
type failoverSpeaker struct {
	primary  dialogue.Speaker
	fallback dialogue.Speaker
}

func newFailoverSpeaker(primary, fallback dialogue.Speaker) dialogue.Speaker {
	switch {
	case primary == nil:
		return fallback
	case fallback == nil:
		return primary
	}
	return &failoverSpeaker{primary: primary, fallback: fallback}
}

func (f *failoverSpeaker) Speak(ctx context.Context, turnID, text string) error {
	prErr := f.primary.Speak(ctx, turnID, text)
	if prErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return prErr
	}
	if fbErr := f.fallback.Speak(ctx, turnID, text); fbErr != nil {
		return fmt.Errorf("primary speaker failed: %v; fallback speaker failed: %w", prErr, fbErr)
	}
	return nil
}

// completionSpeaker reports the end of a Speak call, successful or not,
// unless a later call has started since. A superseded reply finishing late
// must not end the turn that replaced it.
type completionSpeaker struct {
	next   dialogue.Speaker
	onDone func(turnID string)

	mu  sync.Mutex
	seq uint64
}

func (c *completionSpeaker) Speak(ctx context.Context, turnID, text string) error {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		latest := seq == c.seq
		c.mu.Unlock()
		if latest {
			c.onDone(turnID)
		}
	}()
	return c.next.Speak(ctx, turnID, text)
}
