package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"legal-ingest-platform/models"
	"legal-ingest-platform/services"
)

const (
	TaskProcessDocument = "document:process"
	QueueCritical       = "critical"
)

// DefaultTaskTimeout bounds one task run when no timeout is configured.
const DefaultTaskTimeout = 10 * time.Minute

// NewProcessDocumentTask builds a document task. The task id is derived from
// the document id so a document cannot be queued twice at once.
func NewProcessDocumentTask(req models.ProcessRequest, timeout time.Duration) (*asynq.Task, error) {
	if err := services.ValidateRequest(req); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}

	return asynq.NewTask(
		TaskProcessDocument,
		payload,
		asynq.TaskID(ProcessDocumentTaskID(req.DocumentID)),
		asynq.MaxRetry(3),
		asynq.Timeout(timeout),
		asynq.Queue(QueueCritical),
	), nil
}

// ProcessDocumentTaskID is the queue-wide task id of a document's task.
func ProcessDocumentTaskID(documentID string) string {
	return "document:" + documentID
}

// Enqueuer submits document tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskInspector looks up and removes tasks that still hold a task id.
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
}

// EnqueueProcessDocument queues req for a worker. Archived and completed
// tasks keep their id in Redis until retention expires; when inspector is
// set such a leftover is deleted so the document can be resubmitted.
func EnqueueProcessDocument(ctx context.Context, client Enqueuer, inspector TaskInspector, req models.ProcessRequest, timeout time.Duration) (*asynq.TaskInfo, error) {
	task, err := NewProcessDocumentTask(req, timeout)
	if err != nil {
		return nil, err
	}
	info, err := client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) && inspector != nil {
		if clearFinishedTask(inspector, ProcessDocumentTaskID(req.DocumentID)) {
			info, err = client.EnqueueContext(ctx, task)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", TaskProcessDocument, err)
	}
	return info, nil
}

// clearFinishedTask deletes id when it belongs to a task that will never run
// again. Pending, scheduled, retrying and active tasks are left alone.
func clearFinishedTask(inspector TaskInspector, id string) bool {
	info, err := inspector.GetTaskInfo(QueueCritical, id)
	switch {
	case errors.Is(err, asynq.ErrTaskNotFound):
		return true
	case err != nil:
		return false
	}
	if info.State != asynq.TaskStateArchived && info.State != asynq.TaskStateCompleted {
		return false
	}
	err = inspector.DeleteTask(QueueCritical, id)
	return err == nil || errors.Is(err, asynq.ErrTaskNotFound)
}

// Processor runs a document end to end.
type Processor interface {
	ProcessDocument(ctx context.Context, req models.ProcessRequest) (*models.ProcessResponse, error)
}

// TaskHandler executes document tasks on a worker.
type TaskHandler struct {
	processor Processor
	log       *zap.Logger
}

func NewTaskHandler(processor Processor, log *zap.Logger) *TaskHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &TaskHandler{processor: processor, log: log}
}

// ProcessDocument handles TaskProcessDocument. Failures that a retry cannot
// change are wrapped with asynq.SkipRetry.
func (h *TaskHandler) ProcessDocument(ctx context.Context, t *asynq.Task) error {
	var req models.ProcessRequest
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		return fmt.Errorf("unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	retry, _ := asynq.GetRetryCount(ctx)
	h.log.Info("Processing document task",
		zap.String("document_id", req.DocumentID),
		zap.String("client_id", req.ClientID),
		zap.Int("retry", retry))

	resp, err := h.processor.ProcessDocument(ctx, req)
	if err != nil {
		var perr *services.ProcessingError
		if errors.As(err, &perr) {
			switch perr.Reason {
			case services.ReasonInvalidRequest, services.ReasonNoChunks:
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
		}
		return err
	}

	h.log.Info("Document task completed",
		zap.String("document_id", resp.DocumentID),
		zap.String("method", resp.ExtractionMethod),
		zap.Int("chunks", resp.ChunksCreated))
	return nil
}

// Register installs the handlers on mux.
func (h *TaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskProcessDocument, h.ProcessDocument)
}
