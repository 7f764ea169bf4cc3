package synth

import (
	"context"
	"errors"
	"fmt"
)

// Fallback tries a primary synthesizer and falls back on provider errors.
// Context cancellation and deadline errors pass through untouched; the
// caller's timeout covers both attempts.
type Fallback struct {
	primary   Synthesizer
	secondary Synthesizer
}

func NewFallback(primary, secondary Synthesizer) *Fallback {
	return &Fallback{primary: primary, secondary: secondary}
}

func (f *Fallback) Name() string {
	return fmt.Sprintf("%s+%s", f.primary.Name(), f.secondary.Name())
}

func (f *Fallback) Synthesize(ctx context.Context, req Request) (Response, error) {
	resp, err := f.primary.Synthesize(ctx, req)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Response{}, err
	}
	fallbackResp, fallbackErr := f.secondary.Synthesize(ctx, req)
	if fallbackErr != nil {
		return Response{}, fmt.Errorf("primary synthesizer error: %w; fallback synthesizer error: %v", err, fallbackErr)
	}
	return fallbackResp, nil
}
