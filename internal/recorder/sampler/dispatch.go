package sampler

import (
	"fmt"
	"runtime/debug"

	"github.com/mikeyg42/camrecorder/internal/recorder/fifo"
	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
)

// SampleHandler receives samples produced by a Sampler.
type SampleHandler interface {
	OnSample(s *Sample)
}

// SampleHandlerFunc adapts a function to a SampleHandler.
type SampleHandlerFunc func(s *Sample)

func (f SampleHandlerFunc) OnSample(s *Sample) { f(s) }

// newDispatcher hands samples to the current handler on its own goroutine,
// one at a time and in submission order, so a slow handler never blocks
// draining.
func newDispatcher(handler func() SampleHandler, logger recorderlog.Logger) *fifo.Worker[*Sample] {
	return fifo.Start(func(s *Sample) {
		h := handler()
		if h == nil {
			return
		}
		if err := Deliver(h, s); err != nil {
			logger.Warn("Error in sample handler", recorderlog.String("file", s.File()), recorderlog.Error(err))
		}
	})
}

// Deliver calls h.OnSample and converts a panic into an error.
func Deliver(h SampleHandler, s *Sample) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sample handler panicked: %v\n%s", r, debug.Stack())
		}
	}()
	h.OnSample(s)
	return nil
}
