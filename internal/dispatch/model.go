package dispatch

import "github.com/medquery/assistant/internal/classify"

// DirectSessionToken is the placeholder token used for direct-variant
// results. It is never forwarded to the retrieval backend.
const DirectSessionToken = "direct-query"

// Reference is one retrieved source inside a citation group.
type Reference struct {
	SourceURI      string
	SourceDocument string
	ExcerptText    string
	ReferenceType  string
}

// CitationGroup is one retrieval result bundle; the backend may attach
// several references to a single generated passage.
type CitationGroup struct {
	References []Reference
}

// Result is the outcome of one dispatched question. It is constructed
// once and never mutated afterwards.
type Result struct {
	Success        bool
	Answer         string
	Error          string
	Citations      []CitationGroup
	SessionToken   string
	ResponseTimeMs int64
	QueryType      classify.QueryType
}

// FlattenReferences collapses nested citation groups into the ordered
// list of individual references.
func FlattenReferences(groups []CitationGroup) []Reference {
	var out []Reference
	for _, g := range groups {
		out = append(out, g.References...)
	}
	return out
}
