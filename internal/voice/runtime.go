package voice

import (
	"errors"
	"sync"

	"github.com/ent0n29/copilot/internal/dialogue"
	"github.com/ent0n29/copilot/internal/listening"
	"github.com/ent0n29/copilot/internal/vehicle"
)

// Runtime is the live state of one session: its vehicle, dialogue and
// listening loop. It outlives individual connections; a reconnecting client
// picks up the same history and vehicle state.
type Runtime struct {
	SessionID  string
	Store      *vehicle.Store
	Controller *dialogue.Controller
	Listening  *listening.Session

	client      *ClientSink
	unsubscribe func()
	eventsDone  chan struct{}

	// mu is held for reading while a message is in flight so detach never
	// returns with a send still pending on the old channel.
	mu  sync.RWMutex
	out chan<- any

	closeOnce sync.Once
}

var errTurnAborted = errors.New("turn aborted")

// runTurn runs fn as a listening turn, so capture stays off while its reply
// is spoken.
func (rt *Runtime) runTurn(fn func() (dialogue.Turn, error)) (dialogue.Turn, error) {
	turn, err := dialogue.Turn{}, errTurnAborted
	if lerr := rt.Listening.RunTurn(func() bool {
		turn, err = fn()
		return err == nil && turn.Spoken
	}); lerr != nil {
		return dialogue.Turn{}, lerr
	}
	return turn, err
}

func (rt *Runtime) attach(out chan<- any) {
	rt.mu.Lock()
	rt.out = out
	rt.mu.Unlock()
}

// detach drops the connection if it is still the attached one. Capture stops
// and outstanding client playback is released.
func (rt *Runtime) detach(out chan<- any) {
	rt.mu.Lock()
	if rt.out != out {
		rt.mu.Unlock()
		return
	}
	rt.out = nil
	rt.mu.Unlock()

	rt.Listening.Stop()
	rt.client.Close()
}

func (rt *Runtime) emit(o *Orchestrator, msg any) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if rt.out == nil {
		return false
	}
	return o.send(rt.out, msg)
}

// Connected reports whether a realtime client is attached.
func (rt *Runtime) Connected() bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.out != nil
}

func (rt *Runtime) Close() {
	rt.closeOnce.Do(func() {
		rt.mu.Lock()
		rt.out = nil
		rt.mu.Unlock()

		rt.Listening.Close()
		rt.client.Close()
		rt.unsubscribe()
		<-rt.eventsDone
	})
}
