package routes

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"legal-ingest-platform/internal/logger"
	"legal-ingest-platform/internal/queue"
	"legal-ingest-platform/models"
	"legal-ingest-platform/services"
	"legal-ingest-platform/utils"
)

// DocumentReader serves stored status records and chunks.
type DocumentReader interface {
	GetDocument(ctx context.Context, documentID string) (*models.DocumentRecord, error)
	ListChunks(ctx context.Context, documentID string) ([]models.DocumentChunk, error)
}

// DocumentHandler exposes document processing over HTTP.
type DocumentHandler struct {
	processor   queue.Processor
	reader      DocumentReader
	enqueuer    queue.Enqueuer
	inspector   queue.TaskInspector
	syncTimeout time.Duration
	taskTimeout time.Duration
}

// NewDocumentHandler builds the handler. enqueuer may be nil, in which case
// async processing is rejected. inspector lets a finished task be replaced.
func NewDocumentHandler(processor queue.Processor, reader DocumentReader, enqueuer queue.Enqueuer, inspector queue.TaskInspector, syncTimeout, taskTimeout time.Duration) *DocumentHandler {
	if syncTimeout <= 0 {
		syncTimeout = queue.DefaultTaskTimeout
	}
	return &DocumentHandler{
		processor:   processor,
		reader:      reader,
		enqueuer:    enqueuer,
		inspector:   inspector,
		syncTimeout: syncTimeout,
		taskTimeout: taskTimeout,
	}
}

// SetupDocumentRoutes registers the document API.
func SetupDocumentRoutes(router *gin.Engine, h *DocumentHandler) {
	docs := router.Group("/api/v1/documents")
	{
		docs.POST("/:id/process", h.Process)
		docs.GET("/:id", h.Get)
		docs.GET("/:id/chunks", h.Chunks)
	}
}

// Process runs a document synchronously, or queues it with ?async=true.
func (h *DocumentHandler) Process(c *gin.Context) {
	var req models.ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondWithBadRequest(c, "Invalid process request", err.Error())
		return
	}
	req.DocumentID = c.Param("id")
	if err := services.ValidateRequest(req); err != nil {
		utils.RespondWithBadRequest(c, err.Error(), nil)
		return
	}

	if c.Query("async") == "true" {
		h.enqueue(c, req)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.syncTimeout)
	defer cancel()

	resp, err := h.processor.ProcessDocument(ctx, req)
	if err != nil {
		respondProcessingError(c, req.DocumentID, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *DocumentHandler) enqueue(c *gin.Context, req models.ProcessRequest) {
	if h.enqueuer == nil {
		utils.RespondWithError(c, http.StatusServiceUnavailable, "queue_unavailable",
			"Async processing is not configured", nil)
		return
	}

	info, err := queue.EnqueueProcessDocument(c.Request.Context(), h.enqueuer, h.inspector, req, h.taskTimeout)
	switch {
	case errors.Is(err, asynq.ErrTaskIDConflict), errors.Is(err, asynq.ErrDuplicateTask):
		utils.RespondWithError(c, http.StatusConflict, "already_queued",
			"Document is already queued for processing", gin.H{"document_id": req.DocumentID})
		return
	case err != nil:
		logger.FromContext(c.Request.Context()).Error("Failed to enqueue document",
			zap.String("document_id", req.DocumentID), zap.Error(err))
		utils.RespondWithInternalError(c, "Failed to queue document", nil)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success":     true,
		"document_id": req.DocumentID,
		"task_id":     info.ID,
		"queue":       info.Queue,
		"status":      models.StatusPending,
	})
}

func respondProcessingError(c *gin.Context, documentID string, err error) {
	var perr *services.ProcessingError
	if !errors.As(err, &perr) {
		logger.FromContext(c.Request.Context()).Error("Unexpected processing error",
			zap.String("document_id", documentID), zap.Error(err))
		utils.RespondWithInternalError(c, "Document processing failed", nil)
		return
	}

	status := http.StatusUnprocessableEntity
	switch perr.Reason {
	case services.ReasonInvalidRequest:
		status = http.StatusBadRequest
	case services.ReasonAlreadyProcessing:
		status = http.StatusConflict
	case services.ReasonFetchFailed:
		status = http.StatusBadGateway
	case services.ReasonCancelled:
		status = http.StatusGatewayTimeout
	case services.ReasonLockFailed, services.ReasonBeginFailed, services.ReasonStatusFailed:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, models.FailureResponse{
		Success:    false,
		Error:      perr.Error(),
		DocumentID: perr.DocumentID,
	})
}

// Get returns the status record with its provenance summary.
func (h *DocumentHandler) Get(c *gin.Context) {
	ctx, cancel := utils.WithTimeout(c.Request.Context())
	defer cancel()

	doc, err := h.reader.GetDocument(ctx, c.Param("id"))
	if errors.Is(err, services.ErrDocumentNotFound) {
		utils.RespondWithNotFound(c, "Document not found")
		return
	}
	if err != nil {
		utils.RespondWithInternalError(c, "Failed to load document", nil)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// Chunks returns the stored chunks in index order.
func (h *DocumentHandler) Chunks(c *gin.Context) {
	ctx, cancel := utils.WithLongTimeout(c.Request.Context())
	defer cancel()

	id := c.Param("id")
	if _, err := h.reader.GetDocument(ctx, id); errors.Is(err, services.ErrDocumentNotFound) {
		utils.RespondWithNotFound(c, "Document not found")
		return
	}
	chunks, err := h.reader.ListChunks(ctx, id)
	if err != nil {
		utils.RespondWithInternalError(c, "Failed to load chunks", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"document_id": id,
		"count":       len(chunks),
		"chunks":      chunks,
	})
}
