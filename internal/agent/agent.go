package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/MegaGrindStone/chat-search/internal/models"
	"github.com/MegaGrindStone/chat-search/internal/telemetry"
	"github.com/MegaGrindStone/chat-search/internal/tools"
)

// LLM represents a hosted large language model used as a text completer. It streams the completion of
// prompt as chunks, stopping before any of the stop sequences.
type LLM interface {
	Complete(ctx context.Context, prompt string, stop []string) iter.Seq2[string, error]
}

// LLMFactory builds an LLM client for the API key of a session. It returns ErrMissingAPIKey, or another
// error describing the invalid configuration, when no client can be built.
type LLMFactory func(apiKey string) (LLM, error)

// IterationLimitAnswer is the final answer of a run that hit the iteration cap or its deadline.
const IterationLimitAnswer = "Agent stopped due to iteration limit or time limit."

// DefaultMaxIterations is the iteration cap of an Executor built without WithMaxIterations.
const DefaultMaxIterations = 15

// Executor runs the zero-shot ReAct loop: it prompts the LLM with the tool descriptions and the
// transcript, executes the chosen tool, feeds the observation back, and repeats until the LLM gives a
// final answer.
type Executor struct {
	newLLM        LLMFactory
	registry      *tools.Registry
	template      string
	maxIterations int

	emitter telemetry.Emitter
	logger  *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxIterations caps the number of LLM calls of a run.
func WithMaxIterations(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithEmitter sets the telemetry sink of the executor.
func WithEmitter(em telemetry.Emitter) Option {
	return func(e *Executor) {
		if em != nil {
			e.emitter = em
		}
	}
}

// NewExecutor creates an executor over the tools of registry.
func NewExecutor(newLLM LLMFactory, registry *tools.Registry, logger *slog.Logger, opts ...Option) Executor {
	e := Executor{
		newLLM:        newLLM,
		registry:      registry,
		template:      promptTemplate(registry.Tools()),
		maxIterations: DefaultMaxIterations,
		emitter:       telemetry.Nop{},
		logger:        logger.With(slog.String("module", "agent")),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Run answers the last user turn of transcript. The iterator yields every intermediate step and ends
// with a single models.StepFinal step, or with an error. Errors of type *Error are meant to be shown to
// the user; any other error comes from the LLM provider or a tool.
func (e Executor) Run(ctx context.Context, apiKey string, transcript models.Transcript) iter.Seq2[models.Step, error] {
	return func(yield func(models.Step, error) bool) {
		start := time.Now()
		iterations := 0
		outcome := "error"
		defer func() {
			e.emitter.Emit(ctx, telemetry.New(telemetry.EventAgentRun, map[string]any{
				"iterations":  iterations,
				"duration_ms": time.Since(start).Milliseconds(),
				"outcome":     outcome,
			}))
		}()

		llm, err := e.newLLM(apiKey)
		if err != nil {
			var agentErr *Error
			if !errors.As(err, &agentErr) {
				err = &Error{Err: err}
			}
			yield(models.Step{}, err)
			return
		}

		input := transcript.Question()
		var steps []step

		for iterations < e.maxIterations {
			iterations++

			output, err := e.complete(ctx, llm, buildPrompt(e.template, input, steps))
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					outcome = "stopped"
					yield(models.Step{Kind: models.StepFinal, Text: IterationLimitAnswer}, nil)
					return
				}
				yield(models.Step{}, fmt.Errorf("llm completion failed: %w", err))
				return
			}

			p, err := parseOutput(output)
			if err != nil {
				var pe *parseError
				if !errors.As(err, &pe) {
					yield(models.Step{}, err)
					return
				}
				e.logger.Debug("Unparseable LLM output", slog.String("output", output))
				if !yield(models.Step{Kind: models.StepThought, Text: strings.TrimSpace(pe.output)}, nil) {
					return
				}
				if !yield(models.Step{Kind: models.StepObservation, Text: pe.observation}, nil) {
					return
				}
				steps = append(steps, step{log: pe.output, observation: pe.observation})
				continue
			}

			if p.final {
				outcome = "answered"
				yield(models.Step{Kind: models.StepFinal, Text: p.answer}, nil)
				return
			}

			if !yield(models.Step{
				Kind:      models.StepAction,
				Text:      thoughtOf(p.log),
				Tool:      p.tool,
				ToolInput: p.toolInput,
			}, nil) {
				return
			}

			observation, err := e.execTool(ctx, p.tool, p.toolInput)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					outcome = "stopped"
					yield(models.Step{Kind: models.StepFinal, Text: IterationLimitAnswer}, nil)
					return
				}
				yield(models.Step{}, err)
				return
			}

			if !yield(models.Step{
				Kind:      models.StepObservation,
				Text:      observation,
				Tool:      p.tool,
				ToolInput: p.toolInput,
			}, nil) {
				return
			}
			steps = append(steps, step{log: p.log, observation: observation})
		}

		outcome = "stopped"
		yield(models.Step{Kind: models.StepFinal, Text: IterationLimitAnswer}, nil)
	}
}

func (e Executor) complete(ctx context.Context, llm LLM, prompt string) (string, error) {
	var sb strings.Builder
	for chunk, err := range llm.Complete(ctx, prompt, stopSequences) {
		if err != nil {
			return "", err
		}
		sb.WriteString(chunk)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// execTool runs the named tool. Unknown tools and invalid input are reported to the model as the
// observation; any other tool failure aborts the run.
func (e Executor) execTool(ctx context.Context, name, input string) (string, error) {
	start := time.Now()
	emit := func(outputSize int, errStr string) {
		fields := map[string]any{
			"tool_name":   name,
			"duration_ms": time.Since(start).Milliseconds(),
			"input_size":  len(input),
			"output_size": outputSize,
			"error":       nil,
		}
		if errStr != "" {
			fields["error"] = errStr
		}
		e.emitter.Emit(ctx, telemetry.New(telemetry.EventToolExec, fields))
	}

	tool, ok := e.registry.Get(name)
	if !ok {
		emit(0, "tool not found")
		return fmt.Sprintf("%s is not a valid tool, try one of [%s].", name, strings.Join(e.registry.Names(), ", ")), nil
	}

	e.logger.Debug("Calling tool", slog.String("tool", name), slog.String("input", input))

	res, err := tool.Call(ctx, input)
	if err != nil {
		if errors.Is(err, tools.ErrInvalidInput) {
			emit(0, "invalid input")
			return err.Error(), nil
		}
		emit(0, "tool error")
		return "", fmt.Errorf("tool %s failed: %w", name, err)
	}
	emit(len(res), "")
	return res, nil
}

// thoughtOf returns the reasoning part of an action log, i.e. everything before "Action:".
func thoughtOf(log string) string {
	if loc := actionOnlyPattern.FindStringIndex(log); loc != nil {
		return strings.TrimSpace(log[:loc[0]])
	}
	return strings.TrimSpace(log)
}
