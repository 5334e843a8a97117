package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"github.com/medquery/assistant/internal/classify"
	"github.com/medquery/assistant/internal/shared/config"
)

type fakeInvoker struct {
	lastInput *bedrockruntime.InvokeModelInput
	body      []byte
	err       error
}

func (f *fakeInvoker) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.lastInput = params
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.body}, nil
}

type fakeRetriever struct {
	lastInput *bedrockagentruntime.RetrieveAndGenerateInput
	output    *bedrockagentruntime.RetrieveAndGenerateOutput
	err       error
}

func (f *fakeRetriever) RetrieveAndGenerate(ctx context.Context, params *bedrockagentruntime.RetrieveAndGenerateInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveAndGenerateOutput, error) {
	f.lastInput = params
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

func testConfig() config.BedrockConfig {
	return config.BedrockConfig{
		Region:            "us-east-1",
		KnowledgeBaseID:   "KB123",
		ModelARN:          "arn:aws:bedrock:us-east-1::foundation-model/test",
		MaxTokens:         3000,
		Temperature:       0.7,
		RequestsPerSecond: 1000,
	}
}

func TestDirect(t *testing.T) {
	invoker := &fakeInvoker{body: []byte(`{"content":[{"text":"the answer"}]}`)}
	d := NewDispatcher(invoker, &fakeRetriever{}, testConfig())

	result := d.Direct(context.Background(), "the prompt")

	if !result.Success {
		t.Fatalf("Success = false, error = %q", result.Error)
	}
	if result.Answer != "the answer" {
		t.Errorf("Answer = %q, want %q", result.Answer, "the answer")
	}
	if result.QueryType != classify.PatientSpecific {
		t.Errorf("QueryType = %q, want %q", result.QueryType, classify.PatientSpecific)
	}
	if result.SessionToken != DirectSessionToken {
		t.Errorf("SessionToken = %q, want placeholder %q", result.SessionToken, DirectSessionToken)
	}
	if result.Citations != nil {
		t.Error("direct call must not carry citations")
	}

	if invoker.lastInput == nil {
		t.Fatal("InvokeModel not called")
	}
	if got := aws.ToString(invoker.lastInput.ModelId); got != testConfig().ModelARN {
		t.Errorf("ModelId = %q", got)
	}
	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		MaxTokens   int     `json:"max_tokens"`
		Temperature float64 `json:"temperature"`
	}
	if err := json.Unmarshal(invoker.lastInput.Body, &req); err != nil {
		t.Fatalf("request body not JSON: %v", err)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" || req.Messages[0].Content != "the prompt" {
		t.Errorf("request messages = %+v", req.Messages)
	}
	if req.MaxTokens != 3000 || req.Temperature != 0.7 {
		t.Errorf("request params = %d/%g", req.MaxTokens, req.Temperature)
	}
}

func TestDirectProviderError(t *testing.T) {
	invoker := &fakeInvoker{
		err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "Rate exceeded"},
	}
	d := NewDispatcher(invoker, &fakeRetriever{}, testConfig())

	result := d.Direct(context.Background(), "the prompt")

	if result.Success {
		t.Fatal("Success = true for failed call")
	}
	if result.Error != "ThrottlingException: Rate exceeded" {
		t.Errorf("Error = %q, want provider code and message", result.Error)
	}
	if result.QueryType != classify.PatientSpecific {
		t.Errorf("QueryType = %q", result.QueryType)
	}
}

func TestKnowledgeBase(t *testing.T) {
	retriever := &fakeRetriever{
		output: &bedrockagentruntime.RetrieveAndGenerateOutput{
			Output:    &agenttypes.RetrieveAndGenerateOutput{Text: aws.String("kb answer")},
			SessionId: aws.String("session-abc"),
			Citations: []agenttypes.Citation{
				{
					RetrievedReferences: []agenttypes.RetrievedReference{
						{
							Content: &agenttypes.RetrievalResultContent{Text: aws.String("excerpt one")},
							Location: &agenttypes.RetrievalResultLocation{
								Type:       agenttypes.RetrievalResultLocationTypeS3,
								S3Location: &agenttypes.RetrievalResultS3Location{Uri: aws.String("s3://bucket/docs/hipaa.pdf")},
							},
						},
					},
				},
			},
		},
	}
	d := NewDispatcher(&fakeInvoker{}, retriever, testConfig())

	result := d.KnowledgeBase(context.Background(), "the question", "")

	if !result.Success {
		t.Fatalf("Success = false, error = %q", result.Error)
	}
	if result.Answer != "kb answer" {
		t.Errorf("Answer = %q", result.Answer)
	}
	if result.SessionToken != "session-abc" {
		t.Errorf("SessionToken = %q, want backend-issued token", result.SessionToken)
	}
	if result.QueryType != classify.General {
		t.Errorf("QueryType = %q, want %q", result.QueryType, classify.General)
	}

	refs := FlattenReferences(result.Citations)
	if len(refs) != 1 {
		t.Fatalf("len(refs) = %d, want 1", len(refs))
	}
	if refs[0].SourceDocument != "hipaa.pdf" {
		t.Errorf("SourceDocument = %q, want basename of S3 URI", refs[0].SourceDocument)
	}
	if refs[0].SourceURI != "s3://bucket/docs/hipaa.pdf" {
		t.Errorf("SourceURI = %q", refs[0].SourceURI)
	}
	if refs[0].ExcerptText != "excerpt one" {
		t.Errorf("ExcerptText = %q", refs[0].ExcerptText)
	}

	cfg := retriever.lastInput.RetrieveAndGenerateConfiguration
	if cfg == nil || cfg.KnowledgeBaseConfiguration == nil {
		t.Fatal("knowledge base configuration not set")
	}
	if got := aws.ToString(cfg.KnowledgeBaseConfiguration.KnowledgeBaseId); got != "KB123" {
		t.Errorf("KnowledgeBaseId = %q", got)
	}
}

func TestKnowledgeBaseSessionToken(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		wantSent *string
	}{
		{"no prior token", "", nil},
		{"direct placeholder never forwarded", DirectSessionToken, nil},
		{"real token forwarded", "session-abc", aws.String("session-abc")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retriever := &fakeRetriever{
				output: &bedrockagentruntime.RetrieveAndGenerateOutput{
					Output: &agenttypes.RetrieveAndGenerateOutput{Text: aws.String("ok")},
				},
			}
			d := NewDispatcher(&fakeInvoker{}, retriever, testConfig())

			d.KnowledgeBase(context.Background(), "q", tt.token)

			got := retriever.lastInput.SessionId
			if tt.wantSent == nil {
				if got != nil {
					t.Errorf("SessionId = %q, want unset", *got)
				}
				return
			}
			if got == nil || *got != *tt.wantSent {
				t.Errorf("SessionId = %v, want %q", got, *tt.wantSent)
			}
		})
	}
}

func TestKnowledgeBaseProviderError(t *testing.T) {
	retriever := &fakeRetriever{
		err: &smithy.GenericAPIError{Code: "ValidationException", Message: "bad session"},
	}
	d := NewDispatcher(&fakeInvoker{}, retriever, testConfig())

	result := d.KnowledgeBase(context.Background(), "q", "")

	if result.Success {
		t.Fatal("Success = true for failed call")
	}
	if result.Error != "ValidationException: bad session" {
		t.Errorf("Error = %q", result.Error)
	}
	if result.QueryType != classify.General {
		t.Errorf("QueryType = %q", result.QueryType)
	}
}

func TestConvertCitationsMissingLocation(t *testing.T) {
	groups := convertCitations([]agenttypes.Citation{
		{
			RetrievedReferences: []agenttypes.RetrievedReference{
				{Content: &agenttypes.RetrievalResultContent{Text: aws.String("orphan excerpt")}},
			},
		},
	})

	refs := FlattenReferences(groups)
	if len(refs) != 1 {
		t.Fatalf("len(refs) = %d", len(refs))
	}
	if refs[0].SourceDocument != "Unknown" {
		t.Errorf("SourceDocument = %q, want Unknown for missing location", refs[0].SourceDocument)
	}
}
