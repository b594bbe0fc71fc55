package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"legal-ingest-platform/internal/config"
	"legal-ingest-platform/models"
)

var errStoreDown = errors.New("store unavailable")

// memStore is an in-memory DocumentStore with failure injection.
type memStore struct {
	mu          sync.Mutex
	docs        map[string]models.DocumentRecord
	chunks      map[string][]models.DocumentChunk
	insertCalls int
	statusLog   []string

	failInsertOn map[int]bool // 1-based insert call numbers
	failDelete   error
	failUpdateTo map[string]error // by target status
}

func newMemStore() *memStore {
	return &memStore{
		docs:         make(map[string]models.DocumentRecord),
		chunks:       make(map[string][]models.DocumentChunk),
		failInsertOn: make(map[int]bool),
		failUpdateTo: make(map[string]error),
	}
}

func (m *memStore) InsertChunk(ctx context.Context, c *models.DocumentChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	if m.failInsertOn[m.insertCalls] {
		return fmt.Errorf("insert call %d: %w", m.insertCalls, errStoreDown)
	}
	for _, existing := range m.chunks[c.DocumentID] {
		if existing.Index == c.Index {
			return fmt.Errorf("duplicate chunk index %d", c.Index)
		}
	}
	m.chunks[c.DocumentID] = append(m.chunks[c.DocumentID], *c)
	return nil
}

func (m *memStore) DeleteChunks(_ context.Context, documentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete != nil {
		return 0, m.failDelete
	}
	n := int64(len(m.chunks[documentID]))
	delete(m.chunks, documentID)
	return n, nil
}

func (m *memStore) DeleteRunChunks(_ context.Context, documentID, runID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete != nil {
		return 0, m.failDelete
	}
	var kept []models.DocumentChunk
	for _, c := range m.chunks[documentID] {
		if c.RunID != runID {
			kept = append(kept, c)
		}
	}
	n := int64(len(m.chunks[documentID]) - len(kept))
	m.chunks[documentID] = kept
	return n, nil
}

func (m *memStore) ListChunks(_ context.Context, documentID string) ([]models.DocumentChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]models.DocumentChunk(nil), m.chunks[documentID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (m *memStore) EnsureDocument(_ context.Context, doc *models.DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.docs[doc.ID]
	if !ok {
		d := *doc
		d.Status = models.StatusPending
		m.docs[doc.ID] = d
		return nil
	}
	existing.ClientID, existing.CaseID = doc.ClientID, doc.CaseID
	existing.FileName, existing.SourceURL = doc.FileName, doc.SourceURL
	m.docs[doc.ID] = existing
	return nil
}

func (m *memStore) UpdateStatus(_ context.Context, documentID string, u models.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failUpdateTo[u.Status]; err != nil {
		return err
	}
	doc, ok := m.docs[documentID]
	if !ok {
		return ErrDocumentNotFound
	}
	if u.IfRunID != "" && (doc.Status != models.StatusProcessing || doc.RunID != u.IfRunID) {
		return ErrRunSuperseded
	}
	doc.Status = u.Status
	doc.Progress = u.Progress
	doc.UpdatedAt = u.At
	if u.RunID != "" {
		doc.RunID = u.RunID
	}
	if u.Notes != "" {
		doc.ProcessingNotes = u.Notes
	}
	if u.Status == models.StatusProcessing && u.Progress == 0 {
		doc.ErrorMessage, doc.Summary = "", nil
	}
	if u.Error != "" {
		doc.ErrorMessage = u.Error
	}
	if u.Summary != nil {
		doc.Summary = u.Summary
	}
	m.docs[documentID] = doc
	m.statusLog = append(m.statusLog, u.Status)
	return nil
}

func (m *memStore) GetDocument(_ context.Context, documentID string) (*models.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentID]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return &doc, nil
}

func (m *memStore) FindStale(_ context.Context, status string, cutoff time.Time) ([]models.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DocumentRecord
	for _, d := range m.docs {
		if d.Status == status && d.UpdatedAt.Before(cutoff) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memStore) Close(context.Context) error { return nil }

func (m *memStore) chunkCount(documentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks[documentID])
}

func (m *memStore) status(documentID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[documentID].Status
}

// fakeEmbedder returns a fixed vector, or err, or panics.
type fakeEmbedder struct {
	mu     sync.Mutex
	calls  int
	err    error
	panics bool
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.panics {
		panic("embedder exploded")
	}
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (e *fakeEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func testScoring() config.ChunkScoring {
	return config.DefaultScoringConfig().Chunk
}

func newTestPipeline(store ChunkStore, embedder Embedder) *ChunkPipeline {
	cfg := testScoring()
	return NewChunkPipeline(store, embedder, NewChunkCleaner(DefaultMaxChunkChars), NewQualityScorer(cfg),
		PipelineOptions{MinScore: cfg.MinScore, EmbedMinScore: cfg.EmbedMinScore}, nil)
}

// legalSpan is a span that clears both the store and embed thresholds.
func legalSpan(i int) string {
	return fmt.Sprintf("Section %d. The Client shall pay the Firm all fees within thirty days of "+
		"each invoice. The Firm shall keep accurate records of all services rendered under this "+
		"Agreement and provide them to the Client on written request.", i)
}
