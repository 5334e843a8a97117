package session

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestLastTurn(t *testing.T) {
	sess := &Session{ID: uuid.New(), SubjectID: 1, StartedAt: time.Now()}

	if sess.LastTurn() != nil {
		t.Error("LastTurn != nil before first exchange")
	}

	sess.appendTurn("first question", "first answer")
	sess.appendTurn("second question", "second answer")

	last := sess.LastTurn()
	if last == nil || last.Question != "second question" {
		t.Errorf("LastTurn = %+v, want most recent", last)
	}
	if len(sess.Turns) != 2 {
		t.Errorf("len(Turns) = %d", len(sess.Turns))
	}
}

func TestSummarize(t *testing.T) {
	sess := &Session{
		ID:             uuid.New(),
		SubjectID:      10000032,
		KBSessionToken: "session-abc",
		StartedAt:      time.Now().Add(-time.Minute),
	}
	sess.appendTurn("q", "a")

	sum := sess.Summarize()
	if sum.SubjectID != 10000032 || sum.Questions != 1 || sum.KBSessionToken != "session-abc" {
		t.Errorf("Summary = %+v", sum)
	}
	if sum.Duration < time.Minute {
		t.Errorf("Duration = %v", sum.Duration)
	}
}
