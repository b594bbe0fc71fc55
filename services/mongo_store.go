package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"legal-ingest-platform/internal/config"
	"legal-ingest-platform/models"
)

// MongoStore keeps documents and chunks in MongoDB.
type MongoStore struct {
	client    *mongo.Client
	documents *mongo.Collection
	chunks    *mongo.Collection
}

// NewMongoStore uses the configured collections of db.
func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	db := client.Database(dbName)
	return &MongoStore{
		client:    client,
		documents: db.Collection(config.DocumentsCollection),
		chunks:    db.Collection(config.ChunksCollection),
	}
}

func (s *MongoStore) InsertChunk(ctx context.Context, chunk *models.DocumentChunk) error {
	if _, err := s.chunks.InsertOne(ctx, chunk); err != nil {
		return fmt.Errorf("insert chunk %d: %w", chunk.Index, err)
	}
	return nil
}

func (s *MongoStore) DeleteChunks(ctx context.Context, documentID string) (int64, error) {
	res, err := s.chunks.DeleteMany(ctx, bson.M{"document_id": documentID})
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) DeleteRunChunks(ctx context.Context, documentID, runID string) (int64, error) {
	res, err := s.chunks.DeleteMany(ctx, bson.M{"document_id": documentID, "run_id": runID})
	if err != nil {
		return 0, fmt.Errorf("delete run chunks: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) ListChunks(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	cursor, err := s.chunks.Find(ctx,
		bson.M{"document_id": documentID},
		options.Find().SetSort(bson.D{{Key: "index", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find chunks: %w", err)
	}
	defer cursor.Close(ctx)

	chunks := []models.DocumentChunk{}
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, fmt.Errorf("decode chunks: %w", err)
	}
	return chunks, nil
}

func (s *MongoStore) EnsureDocument(ctx context.Context, doc *models.DocumentRecord) error {
	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"client_id":  doc.ClientID,
			"case_id":    doc.CaseID,
			"file_name":  doc.FileName,
			"source_url": doc.SourceURL,
		},
		"$setOnInsert": bson.M{
			"status":     models.StatusPending,
			"progress":   0,
			"updated_at": now,
		},
	}
	_, err := s.documents.UpdateOne(ctx, bson.M{"_id": doc.ID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

func (s *MongoStore) UpdateStatus(ctx context.Context, documentID string, u models.StatusUpdate) error {
	at := u.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	set := bson.M{
		"status":     u.Status,
		"progress":   u.Progress,
		"updated_at": at,
	}
	unset := bson.M{}
	if u.RunID != "" {
		set["run_id"] = u.RunID
	}
	if u.Notes != "" {
		set["processing_notes"] = u.Notes
	}
	if u.Error != "" {
		set["error_message"] = u.Error
	}
	if u.Summary != nil {
		set["summary"] = u.Summary
	}

	switch u.Status {
	case models.StatusProcessing:
		if u.Progress == 0 {
			// a new cycle clears the previous outcome
			set["started_at"] = at
			unset["processed_at"] = ""
			for _, field := range []string{"error_message", "processing_notes", "summary"} {
				if _, ok := set[field]; !ok {
					unset[field] = ""
				}
			}
		}
	case models.StatusCompleted, models.StatusFailed:
		set["processed_at"] = at
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	filter := bson.M{"_id": documentID}
	if u.IfRunID != "" {
		filter["status"] = models.StatusProcessing
		filter["run_id"] = u.IfRunID
	}
	res, err := s.documents.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if res.MatchedCount == 0 {
		if u.IfRunID != "" {
			return ErrRunSuperseded
		}
		return ErrDocumentNotFound
	}
	return nil
}

func (s *MongoStore) GetDocument(ctx context.Context, documentID string) (*models.DocumentRecord, error) {
	var doc models.DocumentRecord
	err := s.documents.FindOne(ctx, bson.M{"_id": documentID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find document: %w", err)
	}
	return &doc, nil
}

func (s *MongoStore) FindStale(ctx context.Context, status string, cutoff time.Time) ([]models.DocumentRecord, error) {
	cursor, err := s.documents.Find(ctx, bson.M{
		"status":     status,
		"updated_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return nil, fmt.Errorf("find stale documents: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []models.DocumentRecord
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}
	return docs, nil
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
