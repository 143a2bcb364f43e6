// Package bedrock adapts AWS Bedrock's Converse streaming API. Bedrock
// speaks a binary event-stream framing rather than SSE, so this adapter
// rides the AWS SDK instead of the shared SSE decoder.
package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/google/uuid"
	"github.com/pysugar/ami-nexus/internal/config"
	"github.com/pysugar/ami-nexus/internal/db/models"
	"github.com/pysugar/ami-nexus/internal/stream"
	"github.com/pysugar/ami-nexus/internal/upstream"
	"github.com/pysugar/ami-nexus/internal/util"
)

type Provider struct {
	region string
}

func New(cfg config.ProviderConfig) *Provider {
	region := cfg.Region
	if region == "" {
		region = config.DefaultBedrockRegion
	}
	return &Provider{region: region}
}

func newSDKClient(cred *models.Credential, region string) *bedrockruntime.Client {
	if cred.AWSRegion != "" {
		region = cred.AWSRegion
	}
	return bedrockruntime.New(bedrockruntime.Options{
		Region: region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cred.AWSAccessKeyID, cred.AWSSecretAccessKey, cred.AWSSessionToken,
		)),
	})
}

func (p *Provider) Name() string { return models.ProviderBedrock }

// buildInput translates the neutral chat request into a Converse call.
func buildInput(req *upstream.ChatRequest) *bedrockruntime.ConverseStreamInput {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(req.Model),
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}
	for _, m := range req.Messages {
		role := types.ConversationRoleUser
		if m.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		input.Messages = append(input.Messages, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}
	if req.MaxTokens > 0 || req.Temperature != nil {
		cfg := &types.InferenceConfiguration{}
		if req.MaxTokens > 0 {
			cfg.MaxTokens = aws.Int32(int32(req.MaxTokens))
		}
		if req.Temperature != nil {
			cfg.Temperature = aws.Float32(float32(*req.Temperature))
		}
		input.InferenceConfig = cfg
	}
	return input
}

// mapStopReason converts Bedrock stop reasons to the canonical
// vocabulary.
func mapStopReason(reason types.StopReason) string {
	switch reason {
	case types.StopReasonEndTurn, types.StopReasonStopSequence:
		return "end_turn"
	case types.StopReasonMaxTokens:
		return "max_tokens"
	case types.StopReasonToolUse:
		return "tool_use"
	default:
		return string(reason)
	}
}

// classifyError maps SDK failures onto the shared error taxonomy so the
// handler surface treats Bedrock like every other provider.
func classifyError(err error) error {
	var throttle *types.ThrottlingException
	if errors.As(err, &throttle) {
		return &upstream.Error{Kind: upstream.KindRateLimited, Status: 429, Message: aws.ToString(throttle.Message)}
	}
	var denied *types.AccessDeniedException
	if errors.As(err, &denied) {
		return &upstream.Error{Kind: upstream.KindAuthentication, Status: 401, Message: aws.ToString(denied.Message), Fatal: true}
	}
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return &upstream.Error{Kind: upstream.KindNotFound, Status: 404, Message: aws.ToString(notFound.Message)}
	}
	var validation *types.ValidationException
	if errors.As(err, &validation) {
		return &upstream.Error{Kind: upstream.KindNotFound, Status: 404, Message: aws.ToString(validation.Message)}
	}
	var internal *types.InternalServerException
	if errors.As(err, &internal) {
		return &upstream.Error{Kind: upstream.KindUpstream, Status: 500, Message: util.TruncateLog(aws.ToString(internal.Message), util.DefaultLogMaxLen)}
	}
	return fmt.Errorf("bedrock converse: %w", err)
}

func (p *Provider) Stream(ctx context.Context, cred *models.Credential, req *upstream.ChatRequest, emit upstream.Emit) error {
	client := newSDKClient(cred, p.region)
	out, err := client.ConverseStream(ctx, buildInput(req))
	if err != nil {
		return classifyError(err)
	}
	es := out.GetStream()
	defer es.Close()

	emit(stream.Event{Type: stream.Start, MessageID: uuid.NewString(), Model: req.Model})

	var (
		stopReason = "end_turn"
		usage      stream.Usage
		inText     bool
	)
	for ev := range es.Events() {
		switch v := ev.(type) {
		case *types.ConverseStreamOutputMemberContentBlockDelta:
			switch d := v.Value.Delta.(type) {
			case *types.ContentBlockDeltaMemberText:
				if !inText {
					emit(stream.Event{Type: stream.TextStart})
					inText = true
				}
				emit(stream.Event{Type: stream.TextDelta, Text: d.Value})
			case *types.ContentBlockDeltaMemberReasoningContent:
				if rc, ok := d.Value.(*types.ReasoningContentBlockDeltaMemberText); ok {
					emit(stream.Event{Type: stream.ReasoningDelta, Text: rc.Value})
				}
			}
		case *types.ConverseStreamOutputMemberContentBlockStop:
			if inText {
				emit(stream.Event{Type: stream.TextEnd})
				inText = false
			}
		case *types.ConverseStreamOutputMemberMessageStop:
			stopReason = mapStopReason(v.Value.StopReason)
		case *types.ConverseStreamOutputMemberMetadata:
			if v.Value.Usage != nil {
				usage = stream.Usage{
					InputTokens:  int(aws.ToInt32(v.Value.Usage.InputTokens)),
					OutputTokens: int(aws.ToInt32(v.Value.Usage.OutputTokens)),
				}
			}
		}
	}
	if err := es.Err(); err != nil {
		return classifyError(err)
	}

	if inText {
		emit(stream.Event{Type: stream.TextEnd})
	}
	emit(stream.Event{Type: stream.Finish, StopReason: stopReason, Usage: usage})
	return nil
}
