// Package metrics provides Prometheus metrics for the recording pipeline.
// Labels stay at device and reason granularity; session ids and file names
// are never used as labels.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SamplesTotal counts samples produced by samplers.
	SamplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camrec_samples_total",
		Help: "Total number of samples produced, by device and reason.",
	}, []string{"device", "reason"})

	// ChunksTotal counts chunk files completed by the chunkers.
	ChunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camrec_chunks_total",
		Help: "Total number of raw chunks written, by device.",
	}, []string{"device"})

	// ChunksDroppedTotal counts raw chunks that failed conversion.
	ChunksDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camrec_chunks_dropped_total",
		Help: "Total number of raw chunks deleted because they could not be probed.",
	}, []string{"device", "reason"})

	// SamplesRecordedTotal counts samples handed to the archiver.
	SamplesRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camrec_samples_recorded_total",
		Help: "Total number of samples recorded inside a trigger window.",
	}, []string{"device", "reason"})

	// SamplesDiscardedTotal counts samples no window ever reached.
	SamplesDiscardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camrec_samples_discarded_total",
		Help: "Total number of samples discarded outside any trigger window.",
	}, []string{"device", "reason"})

	// ArchiveErrorsTotal counts failed conversions, uploads and catalog writes.
	ArchiveErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camrec_archive_errors_total",
		Help: "Total number of archive failures, by device and stage.",
	}, []string{"device", "stage"})

	// CrashesTotal counts session crashes.
	CrashesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camrec_session_crashes_total",
		Help: "Total number of recording session crashes.",
	}, []string{"device", "reason"})

	// ActiveSessions tracks running recording sessions.
	ActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "camrec_active_sessions",
		Help: "Current number of active recording sessions, by device.",
	}, []string{"device"})

	// UploadsTotal counts archive uploads by result.
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camrec_uploads_total",
		Help: "Total number of archive uploads to object storage, by result.",
	}, []string{"result"})

	// UploadBytesTotal counts uploaded archive bytes.
	UploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camrec_upload_bytes_total",
		Help: "Total number of archive bytes uploaded to object storage.",
	})

	// UploadDuration observes successful uploads including retries.
	UploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "camrec_upload_duration_seconds",
		Help:    "Time spent uploading an archive, retries included.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	// ActiveUploads tracks uploads in flight.
	ActiveUploads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camrec_active_uploads",
		Help: "Current number of archive uploads in flight.",
	})

	// ConvertDuration observes chunk conversion time.
	ConvertDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "camrec_convert_duration_seconds",
		Help:    "Time spent converting a chunk into the archive container.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"device"})
)

func RecordChunk(device string)           { ChunksTotal.WithLabelValues(device).Inc() }
func RecordSample(device, reason string)   { SamplesTotal.WithLabelValues(device, reason).Inc() }
func RecordDrop(device, reason string)     { ChunksDroppedTotal.WithLabelValues(device, reason).Inc() }
func RecordRecorded(device, reason string) { SamplesRecordedTotal.WithLabelValues(device, reason).Inc() }
func RecordDiscard(device, reason string)  { SamplesDiscardedTotal.WithLabelValues(device, reason).Inc() }
func RecordCrash(device, reason string)    { CrashesTotal.WithLabelValues(device, reason).Inc() }

// RecordArchiveError counts a failure in stage ("convert", "upload", "catalog").
func RecordArchiveError(device, stage string) {
	ArchiveErrorsTotal.WithLabelValues(device, stage).Inc()
}

// ObserveConvert records one conversion.
func ObserveConvert(device string, d time.Duration) {
	ConvertDuration.WithLabelValues(device).Observe(d.Seconds())
}

// SetActiveSessions sets the session gauge for device.
func SetActiveSessions(device string, n int) {
	ActiveSessions.WithLabelValues(device).Set(float64(n))
}

// RecordUpload records a successful upload of size bytes.
func RecordUpload(size int64, d time.Duration) {
	UploadsTotal.WithLabelValues("ok").Inc()
	UploadBytesTotal.Add(float64(size))
	UploadDuration.Observe(d.Seconds())
}

func RecordUploadError() { UploadsTotal.WithLabelValues("error").Inc() }
