package synth

import "context"

// Mock is a scripted synthesizer for tests.
type Mock struct {
	Response    Response
	Err         error
	Delay       func(ctx context.Context) error
	Calls       int
	LastRequest Request
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Synthesize(ctx context.Context, req Request) (Response, error) {
	m.Calls++
	m.LastRequest = req
	if m.Delay != nil {
		if err := m.Delay(ctx); err != nil {
			return Response{}, err
		}
	}
	if m.Err != nil {
		return Response{}, m.Err
	}
	if m.Response.Answer == "" {
		return Response{Answer: "answer for: " + req.Query, Provider: m.Name()}, nil
	}
	return m.Response, nil
}
