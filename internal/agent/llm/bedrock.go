package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/mohammad-safakhou/replanner/config"
)

// BedrockProvider implements Provider through the Bedrock Converse API
type BedrockProvider struct {
	client    *bedrockruntime.Client
	model     string
	maxTokens int
	timeout   time.Duration
}

// NewBedrockProvider loads the default AWS credential chain.
func NewBedrockProvider(pc config.LLMProvider) (*BedrockProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if pc.Region != "" {
		opts = append(opts, awsconfig.WithRegion(pc.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	if awsCfg.Region == "" {
		return nil, fmt.Errorf("bedrock region not set (set AWS_REGION or llm.providers.bedrock.region)")
	}
	return &BedrockProvider{
		client:    bedrockruntime.NewFromConfig(awsCfg),
		model:     pc.Model,
		maxTokens: pc.MaxTokens,
		timeout:   pc.Timeout,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(p.model),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: prompt}},
		}},
	}
	if p.maxTokens > 0 {
		input.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(p.maxTokens))}
	}
	out, err := p.client.Converse(ctx, input)
	if err != nil {
		return "", fmt.Errorf("bedrock: %w", err)
	}
	return converseText(out), nil
}

// converseText concatenates the text blocks of a Converse reply. Output
// without a message yields an empty reply, which the planner answers directly.
func converseText(out *bedrockruntime.ConverseOutput) string {
	if out == nil {
		return ""
	}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var b strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			b.WriteString(text.Value)
		}
	}
	return b.String()
}
