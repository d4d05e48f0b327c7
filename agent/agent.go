// Package agent drives the tool-using loop: given one question, a catalogue
// of callable tools and an iteration budget, it repeatedly asks the model for
// the next action, executes it, feeds the observation back, and stops when
// the model emits a final answer (Done) or the budget runs out (Exhausted).
//
// Two invocation paths exist on purpose. Run is the primary, plain-text
// contract; Invoke is the secondary, structured contract that tolerates
// exhaustion by returning the best partial answer. The orchestrator attempts
// Run first and falls back to Invoke when Run fails.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/melivision/melivision/logging"
	"github.com/melivision/melivision/model"
	"github.com/melivision/melivision/tool"
)

// DefaultMaxIterations bounds think/act/observe rounds per question.
const DefaultMaxIterations = 5

// NoAnswerText is the sentinel answer used when the budget runs out before
// the model produced any text at all.
const NoAnswerText = "No conclusive answer was reached within the allotted reasoning steps. Try rephrasing the question."

// ErrNoConclusiveAnswer is returned by Run when the iteration budget was
// exhausted without the model producing an answer.
var ErrNoConclusiveAnswer = errors.New("no conclusive answer within iteration budget")

// Step records one executed tool call and its observation. The ordered step
// list is the session trace; nothing is dropped or summarized.
type Step struct {
	Thought     string `json:"thought,omitempty"` // assistant text accompanying the call
	ToolName    string `json:"tool_name"`
	ToolCallID  string `json:"tool_call_id"`
	Arguments   string `json:"arguments"`
	Observation string `json:"observation"`
}

// Input is the structured request of the secondary invocation path.
type Input struct {
	Input string `json:"input"`
}

// Output is the structured result of the secondary invocation path.
type Output struct {
	Output    string `json:"output"`
	Exhausted bool   `json:"exhausted"`
	Rounds    int    `json:"rounds"`
	Steps     []Step `json:"steps"`
}

// Runner executes the loop. It is stateless across questions: each call
// builds its own session and trace, destroyed when the call returns.
type Runner struct {
	llm           model.Model
	catalogue     *tool.Catalogue
	instructions  string
	maxIterations int
	logger        logging.Logger
}

// Options configures a Runner.
type Options struct {
	Instructions  string
	MaxIterations int
	Logger        logging.Logger
}

// NewRunner builds a Runner over a model and a tool catalogue.
func NewRunner(llm model.Model, catalogue *tool.Catalogue, optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxIterations: DefaultMaxIterations,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	return &Runner{
		llm:           llm,
		catalogue:     catalogue,
		instructions:  opts.Instructions,
		maxIterations: opts.MaxIterations,
		logger:        opts.Logger,
	}
}

// MaxIterations returns the configured round budget.
func (r *Runner) MaxIterations() int { return r.maxIterations }

// Run is the primary invocation path: plain text in, plain text out.
// It fails with ErrNoConclusiveAnswer when the budget is exhausted and the
// model never produced any answer text, and with the model's error on
// generation faults.
func (r *Runner) Run(ctx context.Context, question string) (string, error) {
	out, err := r.loop(ctx, question)
	if err != nil {
		return "", err
	}
	if out.Exhausted && out.Output == "" {
		return "", ErrNoConclusiveAnswer
	}
	return out.Output, nil
}

// Invoke is the secondary invocation path: structured input, result wrapped
// in a named Output field. Exhaustion is tolerated; the caller gets the last
// partial answer (or the sentinel) with Exhausted set.
func (r *Runner) Invoke(ctx context.Context, in Input) (*Output, error) {
	out, err := r.loop(ctx, in.Input)
	if err != nil {
		return nil, err
	}
	if out.Exhausted && out.Output == "" {
		out.Output = NoAnswerText
	}
	return out, nil
}

// loop is the shared state machine: Thinking (model call) -> Acting (tool
// execution) -> Observing (observation appended) -> Thinking, until Done or
// Exhausted. The model always sees the full prior trace.
func (r *Runner) loop(ctx context.Context, question string) (*Output, error) {
	runID := uuid.NewString()
	logger := r.logger

	logger.Info("agent.run.start", "run_id", runID, "max_iterations", r.maxIterations)

	messages := []model.Message{model.UserMessage(question)}
	defs := r.catalogue.Definitions()

	out := &Output{}
	lastText := ""

	for round := 1; round <= r.maxIterations; round++ {
		out.Rounds = round
		logger.Debug("agent.round.thinking", "run_id", runID, "round", round)

		resp, err := r.llm.Generate(ctx, model.Request{
			Instructions: r.instructions,
			Messages:     messages,
			Tools:        defs,
		})
		if err != nil {
			logger.Error("agent.model.error", "run_id", runID, "round", round, "error", err.Error())
			return nil, fmt.Errorf("model generation failed on round %d: %w", round, err)
		}

		if !resp.HasToolCalls() {
			// Done: the model emitted its final answer.
			logger.Info("agent.run.done", "run_id", runID, "rounds", round, "steps", len(out.Steps))
			out.Output = resp.Text
			return out, nil
		}

		if resp.Text != "" {
			lastText = resp.Text
		}
		messages = append(messages, model.Message{
			Role:      "assistant",
			Text:      resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			logger.Debug("agent.round.acting",
				"run_id", runID, "round", round, "tool", tc.Name, "tool_call_id", tc.ID)

			observation := r.executeTool(ctx, tc)

			logger.Debug("agent.round.observing",
				"run_id", runID, "round", round, "tool", tc.Name, "observation_len", len(observation))

			out.Steps = append(out.Steps, Step{
				Thought:     resp.Text,
				ToolName:    tc.Name,
				ToolCallID:  tc.ID,
				Arguments:   tc.Arguments,
				Observation: observation,
			})
			messages = append(messages, model.ToolMessage(tc.ID, observation))
		}
	}

	// Exhausted: the budget ran out without a final answer.
	logger.Warn("agent.run.exhausted", "run_id", runID, "rounds", r.maxIterations, "steps", len(out.Steps))
	out.Output = lastText
	out.Exhausted = true
	return out, nil
}

// executeTool contains every tool fault: unknown tools, bad argument JSON,
// tool errors and panics all become observations the model may retry
// against; they never abort the loop.
func (r *Runner) executeTool(ctx context.Context, tc model.ToolCall) (observation string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("agent.tool.panic", "tool", tc.Name, "recover", rec)
			observation = fmt.Sprintf("tool %s failed: internal fault: %v", tc.Name, rec)
		}
	}()

	impl, ok := r.catalogue.Get(tc.Name)
	if !ok {
		return fmt.Sprintf("tool %s not found; available tools: %s",
			tc.Name, strings.Join(r.catalogue.Names(), ", "))
	}

	args := map[string]any{}
	if tc.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
			return fmt.Sprintf("tool %s failed: arguments are not valid JSON: %v", tc.Name, err)
		}
	}

	result, err := impl.Call(ctx, args)
	if err != nil {
		return fmt.Sprintf("tool %s failed: %v", tc.Name, err)
	}
	return result
}
