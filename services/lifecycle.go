package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"legal-ingest-platform/internal/metrics"
	"legal-ingest-platform/models"
)

// ErrInvalidTransition is returned for a status change the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid status transition")

const defaultCleanupTimeout = 30 * time.Second

var transitions = map[string][]string{
	models.StatusPending:    {models.StatusProcessing, models.StatusFailed},
	models.StatusProcessing: {models.StatusCompleted, models.StatusFailed},
	models.StatusCompleted:  {models.StatusProcessing},
	models.StatusFailed:     {models.StatusProcessing},
}

// CanTransition reports whether a document may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Tracker owns the status field of document records. It is the only
// component that writes status.
type Tracker struct {
	statuses       StatusStore
	chunks         ChunkStore
	log            *zap.Logger
	cleanupTimeout time.Duration
	now            func() time.Time
}

// NewTracker returns a lifecycle tracker over the given stores.
func NewTracker(statuses StatusStore, chunks ChunkStore, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		statuses:       statuses,
		chunks:         chunks,
		log:            log,
		cleanupTimeout: defaultCleanupTimeout,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Run is one processing cycle of a document.
type Run struct {
	tracker    *Tracker
	DocumentID string
	RunID      string
	state      string
	started    time.Time
}

// State returns the run's current status.
func (r *Run) State() string { return r.state }

// Begin starts a fresh cycle: the record is created if missing, moved to
// processing, and chunks from any earlier cycle are deleted. A document in
// any prior status may begin again; callers serialize runs per document.
func (t *Tracker) Begin(ctx context.Context, doc models.DocumentRecord) (*Run, error) {
	doc.Status = models.StatusPending
	doc.UpdatedAt = t.now()
	if err := t.statuses.EnsureDocument(ctx, &doc); err != nil {
		return nil, fmt.Errorf("ensure document: %w", err)
	}

	run := &Run{
		tracker:    t,
		DocumentID: doc.ID,
		RunID:      uuid.NewString(),
		state:      models.StatusPending,
		started:    t.now(),
	}
	if err := run.transition(ctx, models.StatusProcessing, models.StatusUpdate{Progress: 0}); err != nil {
		return nil, err
	}

	deleted, err := t.chunks.DeleteChunks(ctx, doc.ID)
	if err != nil {
		cause := fmt.Errorf("delete previous chunks: %w", err)
		run.Fail(ctx, cause)
		return nil, cause
	}
	if deleted > 0 {
		t.log.Info("Deleted chunks from previous run",
			zap.String("document_id", doc.ID),
			zap.Int64("deleted", deleted))
	}
	return run, nil
}

// Progress records intermediate progress while processing.
func (r *Run) Progress(ctx context.Context, percent int, note string) error {
	if r.state != models.StatusProcessing {
		return fmt.Errorf("%w: progress in %s", ErrInvalidTransition, r.state)
	}
	return r.tracker.statuses.UpdateStatus(ctx, r.DocumentID, models.StatusUpdate{
		Status:   models.StatusProcessing,
		Progress: percent,
		RunID:    r.RunID,
		Notes:    note,
		At:       r.tracker.now(),
	})
}

// Complete marks the run completed with its provenance summary.
func (r *Run) Complete(ctx context.Context, summary *models.ProcessingSummary, notes string) error {
	err := r.transition(ctx, models.StatusCompleted, models.StatusUpdate{
		Progress: 100,
		Notes:    notes,
		Summary:  summary,
	})
	if err == nil {
		metrics.DocumentsTotal.WithLabelValues(models.StatusCompleted).Inc()
	}
	return err
}

// Fail marks the run failed and deletes its chunks. Store errors are logged
// and never returned; only a forbidden transition is reported.
func (r *Run) Fail(ctx context.Context, cause error) error {
	if !CanTransition(r.state, models.StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, models.StatusFailed)
	}
	log := r.tracker.log.With(zap.String("document_id", r.DocumentID), zap.String("run_id", r.RunID))

	// The run context is often the reason for failing; cleanup needs its own.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.tracker.cleanupTimeout)
	defer cancel()

	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	if err := r.tracker.statuses.UpdateStatus(cleanupCtx, r.DocumentID, models.StatusUpdate{
		Status: models.StatusFailed,
		RunID:  r.RunID,
		Error:  msg,
		At:     r.tracker.now(),
	}); err != nil {
		log.Error("Failed to record failed status", zap.Error(err), zap.NamedError("cause", cause))
	}
	r.state = models.StatusFailed
	metrics.DocumentsTotal.WithLabelValues(models.StatusFailed).Inc()

	if deleted, err := r.tracker.chunks.DeleteChunks(cleanupCtx, r.DocumentID); err != nil {
		log.Error("Failed to clean up chunks after failure", zap.Error(err))
	} else if deleted > 0 {
		log.Info("Cleaned up chunks after failure", zap.Int64("deleted", deleted))
	}
	return nil
}

// transition writes the new status and only then updates local state.
func (r *Run) transition(ctx context.Context, to string, update models.StatusUpdate) error {
	if !CanTransition(r.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, to)
	}
	update.Status = to
	update.RunID = r.RunID
	update.At = r.tracker.now()
	if err := r.tracker.statuses.UpdateStatus(ctx, r.DocumentID, update); err != nil {
		return fmt.Errorf("update status to %s: %w", to, err)
	}
	r.state = to
	return nil
}

// FailStale fails documents stuck in processing since before cutoff and
// removes the stalled run's chunks. A document that moved on to another run
// or status after it was found is left alone. It returns how many documents
// were failed.
func (t *Tracker) FailStale(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := t.statuses.FindStale(ctx, models.StatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stale documents: %w", err)
	}

	failed := 0
	for _, doc := range stale {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		log := t.log.With(zap.String("document_id", doc.ID), zap.String("run_id", doc.RunID))
		since := "unknown"
		if doc.StartedAt != nil {
			since = doc.StartedAt.Format(time.RFC3339)
		}

		err := t.statuses.UpdateStatus(ctx, doc.ID, models.StatusUpdate{
			Status:  models.StatusFailed,
			RunID:   doc.RunID,
			Error:   fmt.Sprintf("processing stalled since %s", since),
			At:      t.now(),
			IfRunID: doc.RunID,
		})
		if errors.Is(err, ErrRunSuperseded) {
			log.Info("Stale run already superseded")
			continue
		}
		if err != nil {
			log.Error("Failed to record stalled run", zap.Error(err))
			continue
		}
		failed++
		metrics.DocumentsTotal.WithLabelValues(models.StatusFailed).Inc()

		if deleted, err := t.chunks.DeleteRunChunks(ctx, doc.ID, doc.RunID); err != nil {
			log.Error("Failed to clean up chunks of stalled run", zap.Error(err))
		} else if deleted > 0 {
			log.Info("Cleaned up chunks of stalled run", zap.Int64("deleted", deleted))
		}
	}
	return failed, nil
}
