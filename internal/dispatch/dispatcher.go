// Package dispatch invokes the selected generation backend and
// normalizes its response into a Result.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"

	"github.com/medquery/assistant/internal/classify"
	"github.com/medquery/assistant/internal/shared/config"
	apperrors "github.com/medquery/assistant/internal/shared/errors"
	"github.com/medquery/assistant/internal/shared/metrics"
)

// ModelInvoker is the direct-completion surface of bedrockruntime.Client.
type ModelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// RetrieverGenerator is the retrieval-and-generate surface of
// bedrockagentruntime.Client.
type RetrieverGenerator interface {
	RetrieveAndGenerate(ctx context.Context, params *bedrockagentruntime.RetrieveAndGenerateInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveAndGenerateOutput, error)
}

// Dispatcher routes an assembled prompt to one of the two Bedrock
// backends. It performs no retries; a client-side limiter paces calls
// so well-behaved traffic rarely sees throttling in the first place.
type Dispatcher struct {
	runtime ModelInvoker
	agent   RetrieverGenerator
	cfg     config.BedrockConfig
	limiter *rate.Limiter
}

// NewDispatcher creates a dispatcher over the given Bedrock clients.
func NewDispatcher(runtime ModelInvoker, agent RetrieverGenerator, cfg config.BedrockConfig) *Dispatcher {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	return &Dispatcher{
		runtime: runtime,
		agent:   agent,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// chatRequest is the JSON body for the direct model invocation.
type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Direct invokes a single completion call with the assembled context as
// the entire prompt. No retrieval step; citations stay empty.
func (d *Dispatcher) Direct(ctx context.Context, promptText string) *Result {
	start := time.Now()

	if err := d.limiter.Wait(ctx); err != nil {
		return failure(classify.PatientSpecific, start, err)
	}

	body, err := json.Marshal(chatRequest{
		Messages:    []chatMessage{{Role: "user", Content: promptText}},
		MaxTokens:   d.cfg.MaxTokens,
		Temperature: d.cfg.Temperature,
	})
	if err != nil {
		return failure(classify.PatientSpecific, start, err)
	}

	out, err := d.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(d.cfg.ModelARN),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return failure(classify.PatientSpecific, start, err)
	}

	answer, known := DecodeModelResponse(out.Body)
	if !known {
		log.Printf("unexpected model response envelope, using raw body")
	}

	elapsed := time.Since(start)
	metrics.RecordBackendCall(string(classify.PatientSpecific), elapsed)

	return &Result{
		Success:        true,
		Answer:         answer,
		Citations:      nil,
		SessionToken:   DirectSessionToken,
		ResponseTimeMs: elapsed.Milliseconds(),
		QueryType:      classify.PatientSpecific,
	}
}

// KnowledgeBase invokes a retrieval-and-generate call against the
// configured corpus. The prior session token, when present, threads the
// backend's conversational state across calls; the direct-variant
// placeholder is never forwarded.
func (d *Dispatcher) KnowledgeBase(ctx context.Context, promptText, sessionToken string) *Result {
	start := time.Now()

	if err := d.limiter.Wait(ctx); err != nil {
		return failure(classify.General, start, err)
	}

	input := &bedrockagentruntime.RetrieveAndGenerateInput{
		Input: &agenttypes.RetrieveAndGenerateInput{
			Text: aws.String(promptText),
		},
		RetrieveAndGenerateConfiguration: &agenttypes.RetrieveAndGenerateConfiguration{
			Type: agenttypes.RetrieveAndGenerateTypeKnowledgeBase,
			KnowledgeBaseConfiguration: &agenttypes.KnowledgeBaseRetrieveAndGenerateConfiguration{
				KnowledgeBaseId: aws.String(d.cfg.KnowledgeBaseID),
				ModelArn:        aws.String(d.cfg.ModelARN),
			},
		},
	}
	if sessionToken != "" && sessionToken != DirectSessionToken {
		input.SessionId = aws.String(sessionToken)
	}

	out, err := d.agent.RetrieveAndGenerate(ctx, input)
	if err != nil {
		return failure(classify.General, start, err)
	}

	elapsed := time.Since(start)
	metrics.RecordBackendCall(string(classify.General), elapsed)

	result := &Result{
		Success:        true,
		Citations:      convertCitations(out.Citations),
		ResponseTimeMs: elapsed.Milliseconds(),
		QueryType:      classify.General,
	}
	if out.Output != nil && out.Output.Text != nil {
		result.Answer = *out.Output.Text
	}
	if out.SessionId != nil {
		result.SessionToken = *out.SessionId
	}
	return result
}

// convertCitations maps the backend citation groups, keeping the
// nesting so the audit layer can flatten it on its own terms.
func convertCitations(citations []agenttypes.Citation) []CitationGroup {
	var groups []CitationGroup
	for _, c := range citations {
		var group CitationGroup
		for _, ref := range c.RetrievedReferences {
			r := Reference{ReferenceType: "S3"}
			if ref.Location != nil {
				r.ReferenceType = string(ref.Location.Type)
				if ref.Location.S3Location != nil && ref.Location.S3Location.Uri != nil {
					r.SourceURI = *ref.Location.S3Location.Uri
					r.SourceDocument = path.Base(r.SourceURI)
				}
			}
			if r.SourceDocument == "" {
				r.SourceDocument = "Unknown"
			}
			if ref.Content != nil && ref.Content.Text != nil {
				r.ExcerptText = *ref.Content.Text
			}
			group.References = append(group.References, r)
		}
		groups = append(groups, group)
	}
	return groups
}

// failure builds a failed Result, surfacing provider-reported errors as
// "{code}: {message}" and anything else as a generic error string.
func failure(queryType classify.QueryType, start time.Time, err error) *Result {
	elapsed := time.Since(start)
	metrics.RecordBackendCall(string(queryType), elapsed)

	message := fmt.Sprintf("Error: %v", err)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		message = apperrors.BackendService(apiErr.ErrorCode(), apiErr.ErrorMessage()).Message
	}

	return &Result{
		Success:        false,
		Error:          message,
		ResponseTimeMs: elapsed.Milliseconds(),
		QueryType:      queryType,
	}
}
