package services

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic provides an implementation of the agent's LLM interface for Anthropic's Claude models,
// streaming completions through the official SDK.
type Anthropic struct {
	model     string
	maxTokens int64
	params    LLMParameters

	client anthropic.Client
}

const defaultAnthropicMaxTokens = 1024

// NewAnthropic creates a new Anthropic instance with the specified API key and model name. A non-empty
// baseURL overrides the API endpoint.
func NewAnthropic(apiKey, baseURL, model string, params LLMParameters) Anthropic {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	maxTokens := int64(defaultAnthropicMaxTokens)
	if params.MaxTokens != nil {
		maxTokens = int64(*params.MaxTokens)
	}

	return Anthropic{
		model:     model,
		maxTokens: maxTokens,
		params:    params,
		client:    anthropic.NewClient(opts...),
	}
}

// Complete streams the completion of prompt, sent as a single user message. The context can be used to
// cancel ongoing requests.
func (a Anthropic) Complete(ctx context.Context, prompt string, stop []string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(a.model),
			MaxTokens: a.maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
			StopSequences: stop,
		}
		if a.params.Temperature != nil {
			params.Temperature = anthropic.Float(float64(*a.params.Temperature))
		}
		if a.params.TopP != nil {
			params.TopP = anthropic.Float(float64(*a.params.TopP))
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream := a.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
			if !ok || delta.Text == "" {
				continue
			}
			if !yield(delta.Text, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("error receiving response: %w", err))
		}
	}
}
