package synth

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic synthesizes answers with the Anthropic messages API.
type Anthropic struct {
	client *anthropic.Client
	model  string
}

func NewAnthropic(apiKey, model string) *Anthropic {
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	return &Anthropic{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (c *Anthropic) Name() string { return "anthropic" }

func (c *Anthropic) Synthesize(ctx context.Context, req Request) (Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	messages := []anthropic.MessageParam{
		{
			Role: anthropic.F(anthropic.MessageParamRoleUser),
			Content: anthropic.F([]anthropic.ContentBlockParamUnion{
				anthropic.TextBlockParam{
					Type: anthropic.F(anthropic.TextBlockParamTypeText),
					Text: anthropic.F(buildPrompt(req)),
				},
			}),
		},
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(c.model),
		MaxTokens: anthropic.F(int64(maxTokens)),
		System: anthropic.F([]anthropic.TextBlockParam{
			{
				Type: anthropic.F(anthropic.TextBlockParamTypeText),
				Text: anthropic.F(systemPrompt),
			},
		}),
		Messages: anthropic.F(messages),
	})
	if err != nil {
		return Response{}, fmt.Errorf("anthropic synthesis: %w", err)
	}

	var answer string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			answer += block.Text
		}
	}
	return Response{Answer: answer, Provider: c.Name()}, nil
}
