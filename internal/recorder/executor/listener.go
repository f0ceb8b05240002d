package executor

import (
	"fmt"
	"sync"

	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
)

// Event identifies a lifecycle notification.
type Event int

const (
	EventStart Event = iota
	EventStop
	EventStopping
	EventCrash
)

func (ev Event) String() string {
	switch ev {
	case EventStart:
		return "start"
	case EventStop:
		return "stop"
	case EventStopping:
		return "stopping"
	case EventCrash:
		return "crash"
	default:
		return "unknown"
	}
}

// Listener observes executor lifecycle events. Delivery is synchronous and
// best-effort: a listener that panics is logged and the remaining listeners
// still run.
type Listener interface {
	OnEvent(e *Executor, ev Event)
}

// ListenerFuncs adapts optional callbacks to a Listener.
type ListenerFuncs struct {
	Start    func(e *Executor)
	Stop     func(e *Executor)
	Stopping func(e *Executor)
	Crash    func(e *Executor)
}

// OnEvent dispatches ev to the matching callback.
func (f ListenerFuncs) OnEvent(e *Executor, ev Event) {
	var fn func(*Executor)
	switch ev {
	case EventStart:
		fn = f.Start
	case EventStop:
		fn = f.Stop
	case EventStopping:
		fn = f.Stopping
	case EventCrash:
		fn = f.Crash
	}
	if fn != nil {
		fn(e)
	}
}

type listenerEntry struct {
	id uint64
	l  Listener
}

type listenerSet struct {
	mu      sync.Mutex
	nextID  uint64
	entries []listenerEntry
}

func (s *listenerSet) add(l Listener) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.entries = append(s.entries, listenerEntry{id: id, l: l})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, entry := range s.entries {
			if entry.id == id {
				s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
				return
			}
		}
	}
}

func (s *listenerSet) snapshot() []Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Listener, len(s.entries))
	for i, entry := range s.entries {
		out[i] = entry.l
	}
	return out
}

func (s *listenerSet) notify(e *Executor, ev Event) {
	for _, l := range s.snapshot() {
		if err := deliver(l, e, ev); err != nil {
			fields := []recorderlog.Field{
				recorderlog.String("event", ev.String()),
				recorderlog.Error(err),
			}
			if ev == EventCrash {
				fields = append(fields, recorderlog.Any("last_crash", e.LastCrash()))
			}
			e.logger.Warn("Exception in listener", fields...)
		}
	}
}

func deliver(l Listener, e *Executor, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	l.OnEvent(e, ev)
	return nil
}
