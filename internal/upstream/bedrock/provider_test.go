package bedrock

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/pysugar/ami-nexus/internal/upstream"
)

func TestBuildInputTranslatesRequest(t *testing.T) {
	temp := 0.7
	input := buildInput(&upstream.ChatRequest{
		Model:  "anthropic.claude-3-5-sonnet-20241022-v2:0",
		System: "be terse",
		Messages: []upstream.Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
			{Role: "user", Content: "again"},
		},
		MaxTokens:   1024,
		Temperature: &temp,
	})

	if aws.ToString(input.ModelId) != "anthropic.claude-3-5-sonnet-20241022-v2:0" {
		t.Errorf("model id = %q", aws.ToString(input.ModelId))
	}
	if len(input.System) != 1 {
		t.Fatalf("system blocks = %d", len(input.System))
	}
	if sys, ok := input.System[0].(*types.SystemContentBlockMemberText); !ok || sys.Value != "be terse" {
		t.Errorf("system block = %+v", input.System[0])
	}
	if len(input.Messages) != 3 {
		t.Fatalf("messages = %d", len(input.Messages))
	}
	if input.Messages[1].Role != types.ConversationRoleAssistant {
		t.Errorf("message 1 role = %q", input.Messages[1].Role)
	}
	if input.InferenceConfig == nil || aws.ToInt32(input.InferenceConfig.MaxTokens) != 1024 {
		t.Errorf("inference config = %+v", input.InferenceConfig)
	}
}

func TestBuildInputOmitsEmptyInferenceConfig(t *testing.T) {
	input := buildInput(&upstream.ChatRequest{Model: "m"})
	if input.InferenceConfig != nil {
		t.Errorf("expected nil inference config, got %+v", input.InferenceConfig)
	}
}

func TestMapStopReason(t *testing.T) {
	cases := map[types.StopReason]string{
		types.StopReasonEndTurn:      "end_turn",
		types.StopReasonStopSequence: "end_turn",
		types.StopReasonMaxTokens:    "max_tokens",
		types.StopReasonToolUse:      "tool_use",
	}
	for in, want := range cases {
		if got := mapStopReason(in); got != want {
			t.Errorf("mapStopReason(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		kind upstream.ErrorKind
	}{
		{&types.ThrottlingException{Message: aws.String("slow down")}, upstream.KindRateLimited},
		{&types.AccessDeniedException{Message: aws.String("nope")}, upstream.KindAuthentication},
		{&types.ResourceNotFoundException{Message: aws.String("no model")}, upstream.KindNotFound},
		{&types.InternalServerException{Message: aws.String("oops")}, upstream.KindUpstream},
	}
	for _, tc := range cases {
		var ue *upstream.Error
		if !errors.As(classifyError(tc.err), &ue) {
			t.Errorf("%T did not classify to upstream.Error", tc.err)
			continue
		}
		if ue.Kind != tc.kind {
			t.Errorf("%T classified as %q, want %q", tc.err, ue.Kind, tc.kind)
		}
	}

	plain := errors.New("dial tcp: connection refused")
	var ue *upstream.Error
	if errors.As(classifyError(plain), &ue) {
		t.Error("transport error should not be classified as an upstream.Error")
	}
}

func TestClassifyAccessDeniedIsFatal(t *testing.T) {
	var ue *upstream.Error
	if !errors.As(classifyError(&types.AccessDeniedException{Message: aws.String("x")}), &ue) {
		t.Fatal("expected upstream.Error")
	}
	if !ue.Fatal {
		t.Error("access denied should mark the credential fatal")
	}
}
