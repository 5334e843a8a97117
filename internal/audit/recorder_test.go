package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medquery/assistant/internal/classify"
	"github.com/medquery/assistant/internal/dispatch"
)

type execCall struct {
	sql  string
	args []any
}

// fakeTx implements pgx.Tx over in-memory state so the transactional
// write path can be exercised without a live database.
type fakeTx struct {
	queryID    int64
	insertErr  error
	execErr    error
	inserts    []execCall
	execs      []execCall
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	t.inserts = append(t.inserts, execCall{sql: sql, args: args})
	return &fakeRow{id: t.queryID, err: t.insertErr}
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.execErr != nil {
		return pgconn.CommandTag{}, t.execErr
	}
	t.execs = append(t.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (t *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}

func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return nil
}

func (t *fakeTx) LargeObjects() pgx.LargeObjects {
	return pgx.LargeObjects{}
}

func (t *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not implemented")
}

func (t *fakeTx) Conn() *pgx.Conn { return nil }

type fakeRow struct {
	id  int64
	err error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.id
	return nil
}

type fakeDB struct {
	tx       *fakeTx
	beginErr error
}

func (f *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return f.tx, nil
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func successExchange(citations []dispatch.CitationGroup) Exchange {
	answer := "the answer"
	return Exchange{
		SubjectID:      10000032,
		Question:       "What is PHI?",
		Answer:         &answer,
		Citations:      citations,
		SessionToken:   "session-abc",
		ResponseTimeMs: 120,
		QueryType:      classify.General,
		Success:        true,
		ModelARN:       "arn:test",
	}
}

func TestRecordSuccessWithCitations(t *testing.T) {
	tx := &fakeTx{queryID: 7}
	r := NewRecorder(&fakeDB{tx: tx})

	r.Record(context.Background(), successExchange([]dispatch.CitationGroup{
		{References: []dispatch.Reference{
			{SourceURI: "s3://bucket/a.pdf", SourceDocument: "a.pdf", ExcerptText: "excerpt a", ReferenceType: "S3"},
			{SourceURI: "s3://bucket/b.pdf", SourceDocument: "b.pdf", ExcerptText: "excerpt b", ReferenceType: "S3"},
		}},
		{References: []dispatch.Reference{
			{SourceURI: "s3://bucket/c.pdf", SourceDocument: "c.pdf", ExcerptText: "excerpt c", ReferenceType: "S3"},
		}},
	}))

	if !tx.committed {
		t.Fatal("transaction not committed")
	}
	if tx.rolledBack {
		t.Fatal("committed transaction was rolled back")
	}
	if len(tx.inserts) != 1 {
		t.Fatalf("parent inserts = %d, want 1", len(tx.inserts))
	}
	// Three references across two groups become three child rows.
	if len(tx.execs) != 3 {
		t.Fatalf("citation rows = %d, want 3", len(tx.execs))
	}
	for i, doc := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		if tx.execs[i].args[1] != doc {
			t.Errorf("citation %d source = %v, want %s", i, tx.execs[i].args[1], doc)
		}
		if tx.execs[i].args[0] != int64(7) {
			t.Errorf("citation %d query_id = %v, want 7", i, tx.execs[i].args[0])
		}
	}
	// citation_count on the parent row is the flattened reference count.
	if tx.inserts[0].args[5] != 3 {
		t.Errorf("citation_count = %v, want 3", tx.inserts[0].args[5])
	}
	metadata, ok := tx.execs[0].args[3].([]byte)
	if !ok || !strings.Contains(string(metadata), "s3://bucket/a.pdf") {
		t.Errorf("metadata = %v", tx.execs[0].args[3])
	}
}

func TestRecordFailureWritesNoCitations(t *testing.T) {
	tx := &fakeTx{queryID: 8}
	r := NewRecorder(&fakeDB{tx: tx})

	errMsg := "ThrottlingException: Rate exceeded"
	r.Record(context.Background(), Exchange{
		SubjectID:    10000032,
		Question:     "What is PHI?",
		QueryType:    classify.General,
		Success:      false,
		ErrorMessage: &errMsg,
		Citations: []dispatch.CitationGroup{
			{References: []dispatch.Reference{{SourceDocument: "stale.pdf"}}},
		},
	})

	if !tx.committed {
		t.Fatal("failed exchange not persisted")
	}
	if len(tx.inserts) != 1 {
		t.Fatalf("parent inserts = %d, want 1", len(tx.inserts))
	}
	if len(tx.execs) != 0 {
		t.Errorf("citation rows = %d for failed exchange, want 0", len(tx.execs))
	}
}

func TestRecordZeroIdentifierAborts(t *testing.T) {
	tx := &fakeTx{queryID: 0}
	r := NewRecorder(&fakeDB{tx: tx})

	err := r.record(context.Background(), successExchange([]dispatch.CitationGroup{
		{References: []dispatch.Reference{{SourceDocument: "a.pdf"}}},
	}))

	if err == nil {
		t.Fatal("record accepted an insert with no generated identifier")
	}
	if tx.committed {
		t.Error("transaction committed despite missing identifier")
	}
	if !tx.rolledBack {
		t.Error("transaction not rolled back")
	}
	if len(tx.execs) != 0 {
		t.Errorf("citation rows = %d after aborted parent, want 0", len(tx.execs))
	}
}

func TestRecordInsertErrorRollsBack(t *testing.T) {
	tx := &fakeTx{insertErr: errors.New("connection reset")}
	r := NewRecorder(&fakeDB{tx: tx})

	// Record swallows the failure; the transaction must still unwind.
	r.Record(context.Background(), successExchange(nil))

	if tx.committed {
		t.Error("transaction committed after insert failure")
	}
	if !tx.rolledBack {
		t.Error("transaction not rolled back after insert failure")
	}
}

func TestRecordBeginErrorSwallowed(t *testing.T) {
	r := NewRecorder(&fakeDB{beginErr: errors.New("pool exhausted")})

	// Must not panic; the answer path survives audit unavailability.
	r.Record(context.Background(), successExchange(nil))
}

func TestTruncateExcerpt(t *testing.T) {
	if got := truncateExcerpt("short"); got != "short" {
		t.Errorf("truncateExcerpt modified text within the limit: %q", got)
	}

	long := strings.Repeat("x", 1200)
	got := truncateExcerpt(long)
	if len(got) != 1000 {
		t.Errorf("len = %d, want 1000", len(got))
	}

	// A multi-byte rune at the limit is dropped whole, never split
	// into bytes Postgres would reject.
	multibyte := strings.Repeat("x", 999) + "éé"
	got = truncateExcerpt(multibyte)
	if !utf8.ValidString(got) {
		t.Fatalf("truncateExcerpt produced invalid UTF-8: %q", got)
	}
	if want := strings.Repeat("x", 999) + "é"; got != want {
		t.Errorf("truncateExcerpt = %q, want 999 x's plus one é", got)
	}
	if utf8.RuneCountInString(got) != 1000 {
		t.Errorf("rune count = %d, want 1000", utf8.RuneCountInString(got))
	}
}

func TestRecordTruncatesStoredExcerpt(t *testing.T) {
	tx := &fakeTx{queryID: 9}
	r := NewRecorder(&fakeDB{tx: tx})

	r.Record(context.Background(), successExchange([]dispatch.CitationGroup{
		{References: []dispatch.Reference{
			{SourceDocument: "long.pdf", ExcerptText: strings.Repeat("é", 1500)},
		}},
	}))

	if len(tx.execs) != 1 {
		t.Fatalf("citation rows = %d", len(tx.execs))
	}
	stored, ok := tx.execs[0].args[2].(string)
	if !ok {
		t.Fatalf("excerpt arg = %T", tx.execs[0].args[2])
	}
	if utf8.RuneCountInString(stored) != 1000 {
		t.Errorf("stored excerpt runes = %d, want 1000", utf8.RuneCountInString(stored))
	}
	if !utf8.ValidString(stored) {
		t.Error("stored excerpt is invalid UTF-8")
	}
}
