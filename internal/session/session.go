package session

import (
	"time"

	"github.com/google/uuid"
)

// Turn is one completed question/answer exchange. Turns are append-only
// and owned exclusively by their session.
type Turn struct {
	Question  string
	Answer    string
	Timestamp time.Time
}

// Session owns one subject's conversation: the patient context built at
// session start, the turn history, and the opaque token issued by the
// retrieval backend after its first successful call.
type Session struct {
	ID             uuid.UUID
	SubjectID      int64
	PatientContext string
	Turns          []Turn
	KBSessionToken string
	StartedAt      time.Time
}

// LastTurn returns the most recent exchange, or nil before the first.
func (s *Session) LastTurn() *Turn {
	if len(s.Turns) == 0 {
		return nil
	}
	return &s.Turns[len(s.Turns)-1]
}

// appendTurn records a successful exchange.
func (s *Session) appendTurn(question, answer string) {
	s.Turns = append(s.Turns, Turn{
		Question:  question,
		Answer:    answer,
		Timestamp: time.Now(),
	})
}

// Summary describes the session so far.
type Summary struct {
	SubjectID      int64
	Questions      int
	KBSessionToken string
	Duration       time.Duration
}

// Summarize reports question count, backend session token, and elapsed
// time since the session started.
func (s *Session) Summarize() Summary {
	return Summary{
		SubjectID:      s.SubjectID,
		Questions:      len(s.Turns),
		KBSessionToken: s.KBSessionToken,
		Duration:       time.Since(s.StartedAt),
	}
}
