// Package synth turns an assembled context block into a natural-language
// answer using a hosted model.
package synth

import (
	"context"
	"fmt"
)

// Answer styles recognized by buildPrompt.
const (
	StyleConversational = "conversational"
	StyleAnalytical     = "analytical"
)

// Request carries one synthesis call.
type Request struct {
	Query     string
	Context   string
	Style     string
	MaxTokens int
}

// Response is the synthesized answer.
type Response struct {
	Answer   string
	Provider string
}

// Synthesizer produces an answer from retrieved context. Implementations
// must honor ctx cancellation; the orchestrator enforces the deadline.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Response, error)
	Name() string
}

const systemPrompt = `You answer questions about a group chat history. Use only the
provided chat excerpts. Cite senders and times when relevant. If the excerpts
do not contain the answer, say so plainly instead of guessing.`

func buildPrompt(req Request) string {
	directive := "Answer conversationally in a few sentences."
	if req.Style == StyleAnalytical {
		directive = "Answer as an organized rundown: group related points and keep it brief."
	}
	return fmt.Sprintf("Chat excerpts:\n%s\n%s\nQuestion: %s", req.Context, directive, req.Query)
}

// New builds a synthesizer for the configured provider. "auto" prefers
// anthropic with openai as fallback, using whichever keys are present.
func New(provider, anthropicKey, anthropicModel, openaiKey, openaiModel string) (Synthesizer, error) {
	switch provider {
	case "anthropic":
		if anthropicKey == "" {
			return nil, fmt.Errorf("anthropic provider selected without api key")
		}
		return NewAnthropic(anthropicKey, anthropicModel), nil
	case "openai":
		if openaiKey == "" {
			return nil, fmt.Errorf("openai provider selected without api key")
		}
		return NewOpenAI(openaiKey, openaiModel), nil
	case "auto", "":
		var primary, secondary Synthesizer
		if anthropicKey != "" {
			primary = NewAnthropic(anthropicKey, anthropicModel)
		}
		if openaiKey != "" {
			secondary = NewOpenAI(openaiKey, openaiModel)
		}
		switch {
		case primary != nil && secondary != nil:
			return NewFallback(primary, secondary), nil
		case primary != nil:
			return primary, nil
		case secondary != nil:
			return secondary, nil
		}
		return nil, fmt.Errorf("no synthesis api key configured")
	}
	return nil, fmt.Errorf("unknown synthesis provider %q", provider)
}
