package triage

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultHistoryBuffer is the number of records the recorder can hold
// before it starts dropping.
const DefaultHistoryBuffer = 1024

const (
	historyWriteTimeout = 5 * time.Second
	historyFlushTimeout = 10 * time.Second
)

// Recorder persists patient records in the background so that a slow or
// failing store never delays an admission.
type Recorder struct {
	repo    HistoryRepository
	queue   chan *PatientRecord
	logger  zerolog.Logger
	metrics *Metrics
}

// NewRecorder creates a recorder with the given buffer size.
func NewRecorder(repo HistoryRepository, buffer int, logger zerolog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = DefaultHistoryBuffer
	}
	return &Recorder{
		repo:   repo,
		queue:  make(chan *PatientRecord, buffer),
		logger: logger.With().Str("component", "history_recorder").Logger(),
	}
}

// SetMetrics attaches optional metrics.
func (r *Recorder) SetMetrics(m *Metrics) {
	r.metrics = m
}

// Enqueue hands a record to the background writer without blocking. It
// returns false when the buffer is full and the record was dropped.
func (r *Recorder) Enqueue(rec *PatientRecord) bool {
	select {
	case r.queue <- rec:
		return true
	default:
		r.metrics.historyWrite("dropped")
		r.logger.Warn().
			Str("patient_id", rec.PatientID).
			Str("session_id", rec.SessionID).
			Msg("history buffer full, record dropped")
		return false
	}
}

// Pending returns the number of buffered records.
func (r *Recorder) Pending() int {
	return len(r.queue)
}

// Run writes records until ctx is cancelled, then flushes what is still
// buffered with a bounded deadline.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-r.queue:
			r.write(ctx, rec)
		case <-ctx.Done():
			r.flush()
			return nil
		}
	}
}

func (r *Recorder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), historyFlushTimeout)
	defer cancel()
	for {
		select {
		case rec := <-r.queue:
			r.write(ctx, rec)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, rec *PatientRecord) {
	ctx, cancel := context.WithTimeout(ctx, historyWriteTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, rec); err != nil {
		r.metrics.historyWrite("error")
		r.logger.Error().Err(err).
			Str("patient_id", rec.PatientID).
			Str("session_id", rec.SessionID).
			Msg("failed to persist patient record")
		return
	}
	r.metrics.historyWrite("ok")
}
