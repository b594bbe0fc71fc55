package models

import (
	"time"
)

// DocumentRecord is the status record of an ingested document
type DocumentRecord struct {
	ID              string             `bson:"_id" json:"id"`
	ClientID        string             `bson:"client_id" json:"client_id"`
	CaseID          string             `bson:"case_id,omitempty" json:"case_id,omitempty"`
	FileName        string             `bson:"file_name" json:"file_name"`
	SourceURL       string             `bson:"source_url,omitempty" json:"source_url,omitempty"`
	Status          string             `bson:"status" json:"status"` // pending, processing, completed, failed
	Progress        int                `bson:"progress" json:"progress"`
	RunID           string             `bson:"run_id,omitempty" json:"run_id,omitempty"`
	ErrorMessage    string             `bson:"error_message,omitempty" json:"error_message,omitempty"`
	ProcessingNotes string             `bson:"processing_notes,omitempty" json:"processing_notes,omitempty"`
	Summary         *ProcessingSummary `bson:"summary,omitempty" json:"summary,omitempty"`
	StartedAt       *time.Time         `bson:"started_at,omitempty" json:"started_at,omitempty"`
	ProcessedAt     *time.Time         `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
	UpdatedAt       time.Time          `bson:"updated_at" json:"updated_at"`
}

// ProcessingSummary is stored on a completed document
type ProcessingSummary struct {
	ExtractionMethod string  `bson:"extraction_method" json:"extraction_method"`
	Quality          float64 `bson:"quality" json:"quality"`
	Confidence       float64 `bson:"confidence" json:"confidence"`
	PageCount        int     `bson:"page_count" json:"page_count"`
	IsScanned        bool    `bson:"is_scanned" json:"is_scanned"`
	ContentType      string  `bson:"content_type" json:"content_type"`
	TextLength       int     `bson:"text_length" json:"text_length"`
	ChunksCreated    int     `bson:"chunks_created" json:"chunks_created"`
	ChunksEmbedded   int     `bson:"chunks_embedded" json:"chunks_embedded"`
}

// StatusUpdate is one write to a document's status field
type StatusUpdate struct {
	Status   string
	Progress int
	RunID    string
	Notes    string
	Error    string
	Summary  *ProcessingSummary
	At       time.Time
	// IfRunID makes the update conditional: it applies only while the
	// document is still processing under this run.
	IfRunID string
}

// Document processing status constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ProcessRequest is the inbound ProcessDocument invocation
type ProcessRequest struct {
	DocumentID string `json:"document_id"`
	ClientID   string `json:"client_id" binding:"required"`
	CaseID     string `json:"case_id,omitempty"`
	FileName   string `json:"file_name" binding:"required"`
	SourceURL  string `json:"source_url" binding:"required"`
}

// ProcessResponse is returned after a successful run
type ProcessResponse struct {
	Success          bool    `json:"success"`
	DocumentID       string  `json:"document_id"`
	ChunksCreated    int     `json:"chunks_created"`
	ChunksEmbedded   int     `json:"chunks_embedded"`
	TextLength       int     `json:"text_length"`
	ExtractionMethod string  `json:"extraction_method"`
	Quality          float64 `json:"quality"`
	Confidence       float64 `json:"confidence"`
	PageCount        int     `json:"page_count"`
	IsScanned        bool    `json:"is_scanned"`
	ContentType      string  `json:"content_type"`
	ProcessingNotes  string  `json:"processing_notes"`
}

// FailureResponse is the structured failure payload
type FailureResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	DocumentID string `json:"document_id"`
}
