// Package audit persists an auditable trail of every question/answer
// exchange, independent of backend success or failure.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"

	"github.com/medquery/assistant/internal/dispatch"
	"github.com/medquery/assistant/internal/shared/metrics"
)

// excerptMax is the stored excerpt truncation length, in characters.
const excerptMax = 1000

// truncateExcerpt cuts on a rune boundary; slicing bytes could split a
// multi-byte character and Postgres rejects invalid UTF-8 outright.
func truncateExcerpt(s string) string {
	runes := []rune(s)
	if len(runes) <= excerptMax {
		return s
	}
	return string(runes[:excerptMax])
}

// DB is the connection surface the recorder needs; *pgxpool.Pool
// satisfies it.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Recorder writes exchanges to the audit tables. Persistence failures
// are logged and swallowed: the audit trail must never break the
// user-facing answer path.
type Recorder struct {
	pool DB
}

// NewRecorder creates an audit recorder over the given pool.
func NewRecorder(pool DB) *Recorder {
	return &Recorder{pool: pool}
}

// Record persists one exchange and its citations as a single atomic
// unit. The parent row and its citation rows commit together or not at
// all; a parent insert that yields no generated identifier aborts the
// whole unit so citation rows can never be orphaned.
func (r *Recorder) Record(ctx context.Context, ex Exchange) {
	if err := r.record(ctx, ex); err != nil {
		metrics.RecordAuditWrite("error")
		log.Printf("warning: failed to save audit record for subject %d: %v", ex.SubjectID, err)
		return
	}
	metrics.RecordAuditWrite("ok")
}

func (r *Recorder) record(ctx context.Context, ex Exchange) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin audit transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var sessionID *string
	if ex.SessionToken != "" {
		sessionID = &ex.SessionToken
	}

	references := dispatch.FlattenReferences(ex.Citations)

	var queryID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO kb_queries
			(subject_id, query_text, response_text, session_id,
			response_time_ms, citation_count, query_type, success,
			error_message, model_arn)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING query_id
	`,
		ex.SubjectID, ex.Question, ex.Answer, sessionID,
		ex.ResponseTimeMs, len(references), string(ex.QueryType), ex.Success,
		ex.ErrorMessage, ex.ModelARN,
	).Scan(&queryID)
	if err != nil {
		return fmt.Errorf("insert audit query: %w", err)
	}
	if queryID == 0 {
		return fmt.Errorf("audit query insert returned no identifier")
	}

	// Citation rows are written only for successful exchanges.
	if ex.Success {
		for _, ref := range references {
			metadata, err := json.Marshal(map[string]string{
				"s3_uri":         ref.SourceURI,
				"reference_type": ref.ReferenceType,
			})
			if err != nil {
				return fmt.Errorf("marshal citation metadata: %w", err)
			}

			excerpt := truncateExcerpt(ref.ExcerptText)

			_, err = tx.Exec(ctx, `
				INSERT INTO kb_citations
					(query_id, source_document, excerpt_text, metadata)
				VALUES ($1, $2, $3, $4)
			`, queryID, ref.SourceDocument, excerpt, metadata)
			if err != nil {
				return fmt.Errorf("insert audit citation: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit audit transaction: %w", err)
	}
	return nil
}

// QueriesBySubject returns persisted exchanges for one subject,
// newest first.
func (r *Recorder) QueriesBySubject(ctx context.Context, subjectID int64, limit int) ([]QueryRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT query_id, subject_id, query_text, response_text, session_id,
			response_time_ms, citation_count, query_type, success,
			error_message, model_arn, created_at
		FROM kb_queries
		WHERE subject_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []QueryRecord
	for rows.Next() {
		var q QueryRecord
		if err := rows.Scan(
			&q.QueryID, &q.SubjectID, &q.QueryText, &q.ResponseText, &q.SessionID,
			&q.ResponseTimeMs, &q.CitationCount, &q.QueryType, &q.Success,
			&q.ErrorMessage, &q.ModelARN, &q.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// CitationsByQuery returns the citation rows under one audit record.
func (r *Recorder) CitationsByQuery(ctx context.Context, queryID int64) ([]CitationRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT citation_id, query_id, source_document, excerpt_text, metadata, created_at
		FROM kb_citations
		WHERE query_id = $1
		ORDER BY citation_id
	`, queryID)
	if err != nil {
		return nil, fmt.Errorf("query audit citations: %w", err)
	}
	defer rows.Close()

	var out []CitationRecord
	for rows.Next() {
		var c CitationRecord
		var metadataJSON []byte
		if err := rows.Scan(
			&c.CitationID, &c.QueryID, &c.SourceDocument, &c.ExcerptText,
			&metadataJSON, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit citation: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &c.Metadata); err != nil {
				c.Metadata = nil
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
