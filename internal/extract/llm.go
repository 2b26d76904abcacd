package extract

import (
	"context"
	"errors"
	"net/url"

	"github.com/sells-group/lookup-bot/internal/resilience"
	"github.com/sells-group/lookup-bot/pkg/anthropic"
	"github.com/sells-group/lookup-bot/pkg/groq"
)

// Sampling holds generation parameters shared by all providers.
type Sampling struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

type groqCompleter struct {
	client groq.Client
	s      Sampling
}

// NewGroqCompleter adapts a Groq client. Replies are requested in JSON
// object mode.
func NewGroqCompleter(client groq.Client, s Sampling) Completer {
	return &groqCompleter{client: client, s: s}
}

func (g *groqCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	const op = "extract: groq"
	temp, maxTokens, topP := g.s.Temperature, g.s.MaxTokens, 1.0
	resp, err := g.client.ChatCompletion(ctx, groq.ChatCompletionRequest{
		Model: g.s.Model,
		Messages: []groq.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    &temp,
		MaxTokens:      &maxTokens,
		TopP:           &topP,
		ResponseFormat: groq.JSONObject,
	})
	if err != nil {
		return "", resilience.Wrap(classify(err), op, err)
	}
	return resp.Content(), nil
}

type anthropicCompleter struct {
	client anthropic.Client
	s      Sampling
}

// NewAnthropicCompleter adapts an Anthropic client.
func NewAnthropicCompleter(client anthropic.Client, s Sampling) Completer {
	return &anthropicCompleter{client: client, s: s}
}

func (a *anthropicCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	const op = "extract: anthropic"
	temp := a.s.Temperature
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.s.Model,
		MaxTokens:   int64(a.s.MaxTokens),
		System:      system,
		Messages:    []anthropic.Message{{Role: "user", Content: user}},
		Temperature: &temp,
	})
	if err != nil {
		// The SDK only fails on transport or API status errors.
		return "", resilience.Wrap(resilience.KindTransport, op, err)
	}
	resp.Usage.LogUsage(resp.Model, "extract")
	return resp.Text(), nil
}

// classify separates transport failures from undecodable responses.
func classify(err error) resilience.Kind {
	var apiErr *groq.APIError
	var urlErr *url.Error
	switch {
	case errors.As(err, &apiErr), errors.As(err, &urlErr), resilience.IsTransient(err):
		return resilience.KindTransport
	default:
		return resilience.KindMalformed
	}
}
