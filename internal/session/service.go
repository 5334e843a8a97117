// Package session runs the question pipeline: classify, assemble
// context, dispatch, audit.
package session

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medquery/assistant/internal/audit"
	"github.com/medquery/assistant/internal/classify"
	"github.com/medquery/assistant/internal/dispatch"
	"github.com/medquery/assistant/internal/prompt"
	"github.com/medquery/assistant/internal/records"
	"github.com/medquery/assistant/internal/shared/errors"
	"github.com/medquery/assistant/internal/shared/metrics"
)

// RecordStore is the read surface the pipeline needs from the clinical
// database.
type RecordStore interface {
	ValidateSubject(ctx context.Context, subjectID int64) (bool, error)
	Load(ctx context.Context, subjectID int64) (*records.PatientRecord, error)
}

// Backend is the generation surface: a direct completion and a
// retrieval-augmented call.
type Backend interface {
	Direct(ctx context.Context, promptText string) *dispatch.Result
	KnowledgeBase(ctx context.Context, promptText, sessionToken string) *dispatch.Result
}

// AuditSink receives every exchange, success or failure.
type AuditSink interface {
	Record(ctx context.Context, ex audit.Exchange)
}

// Service wires the pipeline components together. One session is
// processed strictly sequentially: a question runs to completion,
// including its audit write, before the next is accepted.
type Service struct {
	store    RecordStore
	backend  Backend
	recorder AuditSink
	modelARN string
}

// NewService creates the pipeline service.
func NewService(store RecordStore, backend Backend, recorder AuditSink, modelARN string) *Service {
	return &Service{
		store:    store,
		backend:  backend,
		recorder: recorder,
		modelARN: modelARN,
	}
}

// NewSession validates the subject and builds its patient context once.
// An unknown subject short-circuits before any record queries run.
func (s *Service) NewSession(ctx context.Context, subjectID int64) (*Session, error) {
	return s.ResumeSession(ctx, subjectID, "")
}

// ResumeSession is NewSession plus a backend session token carried over
// from a prior request in the stateless deployment.
func (s *Service) ResumeSession(ctx context.Context, subjectID int64, kbSessionToken string) (*Session, error) {
	if subjectID <= 0 {
		return nil, errors.Validation("subject_id must be a positive integer", nil)
	}

	found, err := s.store.ValidateSubject(ctx, subjectID)
	if err != nil {
		return nil, errors.Unavailable(err, "record store unavailable")
	}
	if !found {
		return nil, errors.NotFound("subject", strconv.FormatInt(subjectID, 10))
	}

	rec, err := s.store.Load(ctx, subjectID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load patient record")
	}

	return &Session{
		ID:             uuid.New(),
		SubjectID:      subjectID,
		PatientContext: prompt.BuildPatientContext(rec),
		KBSessionToken: kbSessionToken,
		StartedAt:      time.Now(),
	}, nil
}

// Ask runs one question through the pipeline and returns the structured
// result. Backend failures come back as a failed Result, not an error;
// only input validation fails the call itself. Every dispatched
// question is handed to the audit recorder regardless of outcome.
func (s *Service) Ask(ctx context.Context, sess *Session, question string) (*dispatch.Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.Validation("question must not be empty", nil)
	}

	queryType := classify.Classify(question)

	var followUp *prompt.FollowUp
	if last := sess.LastTurn(); last != nil {
		followUp = &prompt.FollowUp{Question: last.Question, Answer: last.Answer}
	}
	promptText := prompt.Build(sess.PatientContext, followUp, question)

	var result *dispatch.Result
	switch queryType {
	case classify.General:
		result = s.backend.KnowledgeBase(ctx, promptText, sess.KBSessionToken)
	default:
		result = s.backend.Direct(ctx, promptText)
	}

	metrics.RecordQuery(string(result.QueryType), result.Success)
	s.recorder.Record(ctx, s.exchange(sess, question, result))

	if result.Success {
		sess.appendTurn(question, result.Answer)
		// The token capture is the only place backend-issued state
		// flows back into the session.
		if result.QueryType == classify.General && result.SessionToken != "" {
			sess.KBSessionToken = result.SessionToken
		}
	}

	return result, nil
}

func (s *Service) exchange(sess *Session, question string, result *dispatch.Result) audit.Exchange {
	ex := audit.Exchange{
		SubjectID:      sess.SubjectID,
		Question:       question,
		Citations:      result.Citations,
		SessionToken:   result.SessionToken,
		ResponseTimeMs: result.ResponseTimeMs,
		QueryType:      result.QueryType,
		Success:        result.Success,
		ModelARN:       s.modelARN,
	}
	if result.Success {
		answer := result.Answer
		ex.Answer = &answer
	} else {
		errMsg := result.Error
		ex.ErrorMessage = &errMsg
	}
	return ex
}
