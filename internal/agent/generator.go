package agent

import (
	"context"
	"errors"
)

// ErrNoReply is returned when the model produced no usable text.
var ErrNoReply = errors.New("model returned no reply")

// Generator sends a prompt to a generative model and returns its raw reply.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt Prompt) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}
