package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// Ollama provides an implementation of the agent's LLM interface for Ollama's language models. It manages
// connections to an Ollama server instance and handles streaming chat completions.
type Ollama struct {
	host   string
	model  string
	params LLMParameters

	client *api.Client
}

// NewOllama creates a new Ollama instance with the specified host URL and model name. The host parameter
// should be a valid URL pointing to an Ollama server.
func NewOllama(host, model string, params LLMParameters) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		host:   host,
		model:  model,
		params: params,
		client: api.NewClient(u, &http.Client{}),
	}, nil
}

// Complete streams the completion of prompt from the Ollama model. The response is streamed
// incrementally, allowing for real-time processing of model outputs.
func (o Ollama) Complete(ctx context.Context, prompt string, stop []string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		t := true
		req := api.ChatRequest{
			Model: o.model,
			Messages: []api.Message{
				{
					Role:    "user",
					Content: prompt,
				},
			},
			Stream:  &t,
			Options: o.options(stop),
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if stopped || res.Message.Content == "" {
				return nil
			}
			if !yield(res.Message.Content, nil) {
				stopped = true
				cancel()
			}
			return nil
		}); err != nil {
			if stopped || errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("error sending request: %w", err))
		}
	}
}

func (o Ollama) options(stop []string) map[string]any {
	opts := map[string]any{}
	if len(stop) > 0 {
		opts["stop"] = stop
	}
	if o.params.Temperature != nil {
		opts["temperature"] = *o.params.Temperature
	}
	if o.params.TopP != nil {
		opts["top_p"] = *o.params.TopP
	}
	if o.params.MaxTokens != nil {
		opts["num_predict"] = *o.params.MaxTokens
	}
	if o.params.Seed != nil {
		opts["seed"] = *o.params.Seed
	}
	return opts
}
