package record

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
	"github.com/mikeyg42/camrecorder/internal/recorder/sampler"
)

// RecordHandler receives the samples a Recorder keeps.
type RecordHandler interface {
	OnRecord(s *sampler.Sample)
	// OnRecordStop is called when an open window closes.
	OnRecordStop()
}

// RecordHandlerFuncs adapts optional functions to a RecordHandler.
type RecordHandlerFuncs struct {
	Record func(s *sampler.Sample)
	Stop   func()
}

func (f RecordHandlerFuncs) OnRecord(s *sampler.Sample) {
	if f.Record != nil {
		f.Record(s)
	}
}

func (f RecordHandlerFuncs) OnRecordStop() {
	if f.Stop != nil {
		f.Stop()
	}
}

// Discarder is told about skipped samples that can no longer be recorded.
type Discarder func(s *sampler.Sample)

// Recorder keeps the samples that fall into windows opened by its triggers.
// Samples outside any window are held back and recorded later if a window
// opened by a following sample reaches back over them.
//
// OnSample must not be called concurrently; feed it through a Lane when
// samples arrive from more than one goroutine.
type Recorder struct {
	triggers  []Trigger
	handler   RecordHandler
	discard   Discarder
	logger    recorderlog.Logger
	maxBefore time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	enabled atomic.Bool

	begin, end time.Time
	hasWindow  bool
	recording  bool
	skipped    []*sampler.Sample
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithDiscarder sets the hook for pruned samples.
func WithDiscarder(d Discarder) Option {
	return func(r *Recorder) { r.discard = d }
}

// WithLogger sets the recorder logger.
func WithLogger(l recorderlog.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRecorder returns an enabled recorder.
func NewRecorder(handler RecordHandler, triggers []Trigger, opts ...Option) *Recorder {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Recorder{
		triggers: append([]Trigger(nil), triggers...),
		handler:  handler,
		logger:   recorderlog.L(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("recorder")
	for _, t := range r.triggers {
		r.maxBefore = max(r.maxBefore, t.DurationBefore())
	}
	r.enabled.Store(true)
	return r
}

// Triggers returns a copy of the trigger list.
func (r *Recorder) Triggers() []Trigger {
	return append([]Trigger(nil), r.triggers...)
}

// SetEnabled pauses or resumes recording. A disabled recorder closes its
// open window on the next sample and discards every sample it receives.
func (r *Recorder) SetEnabled(v bool) { r.enabled.Store(v) }

// Enabled reports whether the recorder accepts samples.
func (r *Recorder) Enabled() bool { return r.enabled.Load() }

// Recording reports whether a window is open.
func (r *Recorder) Recording() bool { return r.recording }

// Skipped returns the held samples in arrival order.
func (r *Recorder) Skipped() []*sampler.Sample {
	return append([]*sampler.Sample(nil), r.skipped...)
}

// OnSample advances the window state with one sample.
func (r *Recorder) OnSample(s *sampler.Sample) {
	if !r.Enabled() {
		r.stopRecording()
		r.discardSample(s)
		return
	}

	r.checkTriggers(s)

	if !r.hasWindow || s.Begin().After(r.end) {
		r.stopRecording()
		r.skipped = append(r.skipped, s)
	} else {
		r.recording = true
		// The window may have grown backwards; recover held samples it covers.
		kept := r.skipped[:0]
		for _, held := range r.skipped {
			if held.End().Before(r.begin) {
				kept = append(kept, held)
				continue
			}
			r.record(held)
		}
		clear(r.skipped[len(kept):])
		r.skipped = kept
		r.record(s)
	}

	r.pruneSkipped(s.End())
}

func (r *Recorder) checkTriggers(s *sampler.Sample) {
	var before, after time.Duration
	fired := false
	for _, t := range r.triggers {
		if !t.MediaType().IsCompatible(s.MediaType()) {
			continue
		}
		ok, err := t.Check(r.ctx, s)
		if err != nil {
			r.logger.Warn("Trigger check failed", recorderlog.String("file", s.File()), recorderlog.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if !fired {
			before, after = t.DurationBefore(), t.DurationAfter()
			fired = true
			continue
		}
		before = max(before, t.DurationBefore())
		after = max(after, t.DurationAfter())
	}
	if fired {
		r.begin = s.Begin().Add(-before)
		r.end = s.Begin().Add(after)
		r.hasWindow = true
	}
}

// pruneSkipped drops held samples that no future window can reach.
func (r *Recorder) pruneSkipped(from time.Time) {
	if len(r.skipped) == 0 {
		return
	}
	limit := from.Add(-r.maxBefore)
	kept := r.skipped[:0]
	var dropped []*sampler.Sample
	for _, held := range r.skipped {
		if held.End().Before(limit) {
			dropped = append(dropped, held)
			continue
		}
		kept = append(kept, held)
	}
	clear(r.skipped[len(kept):])
	r.skipped = kept
	for _, s := range dropped {
		r.discardSample(s)
	}
}

func (r *Recorder) record(s *sampler.Sample) {
	if r.handler != nil {
		r.handler.OnRecord(s)
	}
}

func (r *Recorder) stopRecording() {
	if !r.recording {
		return
	}
	r.recording = false
	if r.handler != nil {
		r.handler.OnRecordStop()
	}
}

func (r *Recorder) discardSample(s *sampler.Sample) {
	if r.discard != nil {
		r.discard(s)
	}
}

// Close ends an open window, discards every held sample and cancels
// running trigger checks.
func (r *Recorder) Close() {
	r.cancel()
	r.stopRecording()
	for _, s := range r.skipped {
		r.discardSample(s)
	}
	r.skipped = nil
}
