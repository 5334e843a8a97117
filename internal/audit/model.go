package audit

import (
	"time"

	"github.com/medquery/assistant/internal/classify"
	"github.com/medquery/assistant/internal/dispatch"
)

// Exchange is one question/answer round to persist. The answer is nil
// on failure; the error message is set instead.
type Exchange struct {
	SubjectID      int64
	Question       string
	Answer         *string
	Citations      []dispatch.CitationGroup
	SessionToken   string
	ResponseTimeMs int64
	QueryType      classify.QueryType
	Success        bool
	ErrorMessage   *string
	ModelARN       string
}

// QueryRecord is a persisted exchange, re-read form.
type QueryRecord struct {
	QueryID        int64
	SubjectID      int64
	QueryText      string
	ResponseText   *string
	SessionID      *string
	ResponseTimeMs int
	CitationCount  int
	QueryType      *string
	Success        bool
	ErrorMessage   *string
	ModelARN       *string
	CreatedAt      time.Time
}

// CitationRecord is one persisted reference row under a QueryRecord.
type CitationRecord struct {
	CitationID     int64
	QueryID        int64
	SourceDocument *string
	ExcerptText    *string
	Metadata       map[string]any
	CreatedAt      time.Time
}
