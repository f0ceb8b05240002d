package device

import (
	"fmt"
	"sync"

	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
)

// RecordListener observes session lifecycles of a device.
type RecordListener interface {
	OnRecord(d *Device, r Reason)
	OnStop(d *Device, r Reason)
	OnCrash(d *Device, r Reason, err error)
}

// RecordListenerFuncs adapts optional callbacks to a RecordListener.
type RecordListenerFuncs struct {
	Record func(d *Device, r Reason)
	Stop   func(d *Device, r Reason)
	Crash  func(d *Device, r Reason, err error)
}

func (f RecordListenerFuncs) OnRecord(d *Device, r Reason) {
	if f.Record != nil {
		f.Record(d, r)
	}
}

func (f RecordListenerFuncs) OnStop(d *Device, r Reason) {
	if f.Stop != nil {
		f.Stop(d, r)
	}
}

func (f RecordListenerFuncs) OnCrash(d *Device, r Reason, err error) {
	if f.Crash != nil {
		f.Crash(d, r, err)
	}
}

type recordListeners struct {
	mu     sync.Mutex
	nextID uint64
	items  map[uint64]RecordListener
	order  []uint64
}

func (s *recordListeners) add(l RecordListener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items == nil {
		s.items = make(map[uint64]RecordListener)
	}
	id := s.nextID
	s.nextID++
	s.items[id] = l
	s.order = append(s.order, id)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.items, id)
	}
}

func (s *recordListeners) snapshot() []RecordListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordListener, 0, len(s.items))
	kept := s.order[:0]
	for _, id := range s.order {
		if l, ok := s.items[id]; ok {
			out = append(out, l)
			kept = append(kept, id)
		}
	}
	s.order = kept
	return out
}

func (s *recordListeners) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.items)
	s.order = nil
}

// each calls fn for every listener, isolating panics.
func (s *recordListeners) each(logger recorderlog.Logger, event string, fn func(RecordListener)) {
	for _, l := range s.snapshot() {
		func() {
			defer func() {
				if p := recover(); p != nil {
					logger.Warn("Record listener failed",
						recorderlog.String("event", event),
						recorderlog.Error(fmt.Errorf("panic: %v", p)))
				}
			}()
			fn(l)
		}()
	}
}
