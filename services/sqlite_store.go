package services

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"legal-ingest-platform/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id               TEXT PRIMARY KEY,
	client_id        TEXT NOT NULL,
	case_id          TEXT NOT NULL DEFAULT '',
	file_name        TEXT NOT NULL DEFAULT '',
	source_url       TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	progress         INTEGER NOT NULL DEFAULT 0,
	run_id           TEXT NOT NULL DEFAULT '',
	error_message    TEXT NOT NULL DEFAULT '',
	processing_notes TEXT NOT NULL DEFAULT '',
	summary          TEXT,
	started_at       INTEGER,
	processed_at     INTEGER,
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status, updated_at);

CREATE TABLE IF NOT EXISTS document_chunks (
	id            TEXT PRIMARY KEY,
	document_id   TEXT NOT NULL,
	client_id     TEXT NOT NULL,
	run_id        TEXT NOT NULL,
	chunk_index   INTEGER NOT NULL,
	content       TEXT NOT NULL,
	embedding     BLOB,
	quality_score REAL NOT NULL,
	content_type  TEXT NOT NULL,
	metadata      TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	UNIQUE(document_id, chunk_index)
);
`

// SQLiteStore is an embedded single-node DocumentStore.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (and migrates) the database at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) InsertChunk(ctx context.Context, chunk *models.DocumentChunk) error {
	meta, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO document_chunks
			(id, document_id, client_id, run_id, chunk_index, content, embedding, quality_score, content_type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chunk.ID, chunk.DocumentID, chunk.ClientID, chunk.RunID, chunk.Index, chunk.Content,
		encodeEmbedding(chunk.Embedding), chunk.QualityScore, string(chunk.ContentType), string(meta),
		chunk.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert chunk %d: %w", chunk.Index, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteChunks(ctx context.Context, documentID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) DeleteRunChunks(ctx context.Context, documentID, runID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM document_chunks WHERE document_id = ? AND run_id = ?`, documentID, runID)
	if err != nil {
		return 0, fmt.Errorf("delete run chunks: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) ListChunks(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, client_id, run_id, chunk_index, content, embedding, quality_score, content_type, metadata, created_at
		FROM document_chunks WHERE document_id = ? ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	chunks := []models.DocumentChunk{}
	for rows.Next() {
		var (
			c         models.DocumentChunk
			embedding []byte
			ct, meta  string
			created   int64
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ClientID, &c.RunID, &c.Index, &c.Content,
			&embedding, &c.QualityScore, &ct, &meta, &created); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.ContentType = models.ContentType(ct)
		c.Embedding = decodeEmbedding(embedding)
		c.CreatedAt = time.Unix(0, created).UTC()
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStore) EnsureDocument(ctx context.Context, doc *models.DocumentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, client_id, case_id, file_name, source_url, status, progress, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_id = excluded.client_id,
			case_id = excluded.case_id,
			file_name = excluded.file_name,
			source_url = excluded.source_url`,
		doc.ID, doc.ClientID, doc.CaseID, doc.FileName, doc.SourceURL, models.StatusPending,
		time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, documentID string, u models.StatusUpdate) error {
	at := u.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	sets := []string{"status = ?", "progress = ?", "updated_at = ?"}
	args := []interface{}{u.Status, u.Progress, at.UnixNano()}
	add := func(clause string, v interface{}) {
		sets = append(sets, clause)
		args = append(args, v)
	}
	if u.RunID != "" {
		add("run_id = ?", u.RunID)
	}
	if u.Notes != "" {
		add("processing_notes = ?", u.Notes)
	}
	if u.Error != "" {
		add("error_message = ?", u.Error)
	}
	if u.Summary != nil {
		summary, err := json.Marshal(u.Summary)
		if err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
		add("summary = ?", string(summary))
	}
	switch u.Status {
	case models.StatusProcessing:
		if u.Progress == 0 {
			add("started_at = ?", at.UnixNano())
			sets = append(sets, "processed_at = NULL")
			if u.Error == "" {
				sets = append(sets, "error_message = ''")
			}
			if u.Notes == "" {
				sets = append(sets, "processing_notes = ''")
			}
			if u.Summary == nil {
				sets = append(sets, "summary = NULL")
			}
		}
	case models.StatusCompleted, models.StatusFailed:
		add("processed_at = ?", at.UnixNano())
	}

	where := "id = ?"
	args = append(args, documentID)
	if u.IfRunID != "" {
		where += " AND status = ? AND run_id = ?"
		args = append(args, models.StatusProcessing, u.IfRunID)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET `+strings.Join(sets, ", ")+` WHERE `+where, args...)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if u.IfRunID != "" {
			return ErrRunSuperseded
		}
		return ErrDocumentNotFound
	}
	return nil
}

const documentColumns = `id, client_id, case_id, file_name, source_url, status, progress, run_id,
	error_message, processing_notes, summary, started_at, processed_at, updated_at`

func (s *SQLiteStore) GetDocument(ctx context.Context, documentID string) (*models.DocumentRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, documentID)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *SQLiteStore) FindStale(ctx context.Context, status string, cutoff time.Time) ([]models.DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE status = ? AND updated_at < ?`,
		status, cutoff.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("find stale documents: %w", err)
	}
	defer rows.Close()

	var docs []models.DocumentRecord
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close(context.Context) error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*models.DocumentRecord, error) {
	var (
		doc                models.DocumentRecord
		summary            sql.NullString
		started, processed sql.NullInt64
		updated            int64
	)
	if err := row.Scan(&doc.ID, &doc.ClientID, &doc.CaseID, &doc.FileName, &doc.SourceURL, &doc.Status,
		&doc.Progress, &doc.RunID, &doc.ErrorMessage, &doc.ProcessingNotes, &summary,
		&started, &processed, &updated); err != nil {
		return nil, err
	}
	doc.UpdatedAt = time.Unix(0, updated).UTC()
	if started.Valid {
		t := time.Unix(0, started.Int64).UTC()
		doc.StartedAt = &t
	}
	if processed.Valid {
		t := time.Unix(0, processed.Int64).UTC()
		doc.ProcessedAt = &t
	}
	if summary.Valid && summary.String != "" {
		doc.Summary = &models.ProcessingSummary{}
		if err := json.Unmarshal([]byte(summary.String), doc.Summary); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
	}
	return &doc, nil
}

// encodeEmbedding stores a vector as little-endian float32 values.
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
