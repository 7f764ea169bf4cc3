package synth

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/mvailla/chatsight/internal/reliability"
)

// OpenAI synthesizes answers with the chat completions API.
type OpenAI struct {
	client *openai.Client
	model  string
}

func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAI{client: openai.NewClient(apiKey), model: model}
}

func (c *OpenAI) Name() string { return "openai" }

func (c *OpenAI) Synthesize(ctx context.Context, req Request) (Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	body := openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(req)},
		},
	}
	resp, err := c.client.CreateChatCompletion(ctx, body)
	if err != nil && retryableHTTPError(err) && ctx.Err() == nil {
		// One immediate retry clears most rate-limit and gateway blips within
		// the caller's existing deadline.
		resp, err = c.client.CreateChatCompletion(ctx, body)
	}
	if err != nil {
		return Response{}, fmt.Errorf("openai synthesis: %w", err)
	}

	var answer string
	if len(resp.Choices) > 0 {
		answer = resp.Choices[0].Message.Content
	}
	return Response{Answer: answer, Provider: c.Name()}, nil
}

func retryableHTTPError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return reliability.IsRetryableHTTPStatus(apiErr.HTTPStatusCode)
	}
	return false
}
