package models

import "time"

// ContentType is the coarse structural class of a text span
type ContentType string

const (
	ContentTypeEmail      ContentType = "email"
	ContentTypeLegal      ContentType = "legal_document"
	ContentTypeForm       ContentType = "form"
	ContentTypeStructured ContentType = "structured_list"
	ContentTypeGeneric    ContentType = "generic"
)

// DocumentChunk is one persisted, retrievable span of a document.
// Chunks are never updated; reprocessing deletes and recreates them.
type DocumentChunk struct {
	ID           string                 `bson:"_id" json:"id"`
	DocumentID   string                 `bson:"document_id" json:"document_id"`
	ClientID     string                 `bson:"client_id" json:"client_id"`
	RunID        string                 `bson:"run_id" json:"run_id"`
	Index        int                    `bson:"index" json:"index"`
	Content      string                 `bson:"content" json:"content"`
	Embedding    []float32              `bson:"embedding,omitempty" json:"-"`
	QualityScore float64                `bson:"quality_score" json:"quality_score"`
	ContentType  ContentType            `bson:"content_type" json:"content_type"`
	Metadata     map[string]interface{} `bson:"metadata" json:"metadata"`
	CreatedAt    time.Time              `bson:"created_at" json:"created_at"`
}

// HasEmbedding reports whether the chunk carries a vector
func (c *DocumentChunk) HasEmbedding() bool {
	return len(c.Embedding) > 0
}
