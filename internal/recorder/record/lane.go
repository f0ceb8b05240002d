package record

import (
	"context"

	"github.com/mikeyg42/camrecorder/internal/recorder/fifo"
	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
	"github.com/mikeyg42/camrecorder/internal/recorder/sampler"
)

// Lane is the single consumer in front of a sample handler. Samples pushed
// from any goroutine reach the handler one at a time, in push order.
type Lane struct {
	w      *fifo.Worker[*sampler.Sample]
	logger recorderlog.Logger
}

// NewLane starts a lane that feeds h.
func NewLane(h sampler.SampleHandler, logger recorderlog.Logger) *Lane {
	if logger == nil {
		logger = recorderlog.L()
	}
	l := &Lane{logger: logger.Named("lane")}
	l.w = fifo.Start(func(s *sampler.Sample) {
		if err := sampler.Deliver(h, s); err != nil {
			l.logger.Warn("Error in sample handler", recorderlog.String("file", s.File()), recorderlog.Error(err))
		}
	})
	return l
}

// OnSample implements sampler.SampleHandler.
func (l *Lane) OnSample(s *sampler.Sample) {
	if !l.w.Push(s) {
		l.logger.Warn("Lane is closed, sample dropped", recorderlog.String("file", s.File()))
	}
}

// Pending returns the number of samples not yet handled.
func (l *Lane) Pending() int { return l.w.Len() }

// Close stops accepting samples and waits until queued ones are handled.
func (l *Lane) Close(ctx context.Context) error {
	return l.w.CloseAndWait(ctx)
}
