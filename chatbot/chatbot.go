// Package chatbot is the public surface of the analytical Q&A core. It wires
// the relational store, the model provider, the tool catalogue and the
// sandboxed chart tool into one session orchestrator with four operations:
// Initialize, Ask, AskWithChart and DescribeSchema.
//
// One Chatbot instance serves one session at a time: questions are processed
// fully before the next begins, and the chart tool's single-result slot must
// not be shared across concurrently-running sessions. Callers reusing an
// instance across goroutines must serialize Ask/AskWithChart externally.
package chatbot

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/melivision/melivision/agent"
	"github.com/melivision/melivision/chart"
	"github.com/melivision/melivision/intent"
	"github.com/melivision/melivision/logging"
	"github.com/melivision/melivision/model"
	"github.com/melivision/melivision/model/anthropic"
	"github.com/melivision/melivision/model/openai"
	"github.com/melivision/melivision/sandbox"
	"github.com/melivision/melivision/store"
	"github.com/melivision/melivision/tool"
)

var (
	// ErrCredentialMissing indicates no API key was supplied and none was
	// found in the environment.
	ErrCredentialMissing = errors.New("model API credential missing")

	// ErrModelConfigInvalid indicates an unusable provider/model configuration.
	ErrModelConfigInvalid = errors.New("model configuration invalid")
)

// DefaultDBPath is where the external loader places the seller dataset.
const DefaultDBPath = "meli_vision.db"

// AskResult is the terminal value of AskWithChart: the answer text plus an
// optional chart artifact. Chart is nil unless the question carried chart
// intent and the sandbox produced a figure.
type AskResult struct {
	Response string
	Chart    *chart.Figure
}

// Options configures a Chatbot.
type Options struct {
	// DBPath locates the dataset produced by the external loader.
	DBPath string
	// Provider selects the model adapter: "openai" (default) or "anthropic".
	Provider string
	// ModelID overrides the adapter's default model identifier.
	ModelID string
	// APIKey overrides the provider environment variable
	// (OPENAI_API_KEY / ANTHROPIC_API_KEY).
	APIKey string
	// MaxIterations bounds agent rounds per question.
	MaxIterations int
	// Logger receives structured diagnostics; defaults to no-op.
	Logger logging.Logger
	// LLM bypasses provider construction entirely (tests, custom providers).
	// Credential checks are skipped when set.
	LLM model.Model
	// ChartTerms extends the chart-intent vocabulary.
	ChartTerms []string
}

// Chatbot orchestrates one Q&A session over the seller dataset.
type Chatbot struct {
	opts Options

	store      *store.Store
	llm        model.Model
	sandbox    *sandbox.Sandbox
	runner     *agent.Runner
	classifier *intent.Classifier
	logger     logging.Logger

	initialized bool
	initErr     error
}

// New builds a Chatbot. Nothing is wired until Initialize runs.
func New(optFns ...func(o *Options)) *Chatbot {
	opts := Options{
		DBPath:        DefaultDBPath,
		Provider:      "openai",
		MaxIterations: agent.DefaultMaxIterations,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Chatbot{opts: opts, logger: opts.Logger}
}

// Initialize wires store, model and agent. It returns false on any failure;
// the distinguishable reason is available via InitError. On failure no tool
// or agent objects are constructed and the instance stays unusable (Ask
// returns an explanatory string, never a crash).
func (c *Chatbot) Initialize() bool {
	c.initialized = false
	c.initErr = nil

	st, err := store.Open(c.opts.DBPath, store.WithLogger(c.logger))
	if err != nil {
		c.initErr = err
		c.logger.Error("chatbot.init.store_failed", "path", c.opts.DBPath, "error", err.Error())
		return false
	}

	llm, err := c.buildModel()
	if err != nil {
		c.initErr = err
		c.logger.Error("chatbot.init.model_failed", "provider", c.opts.Provider, "error", err.Error())
		return false
	}

	ctx := context.Background()
	tables, err := st.Tables(ctx)
	if err != nil {
		c.initErr = fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
		return false
	}

	sb := sandbox.New(st, sandbox.WithLogger(c.logger))

	catalogue := tool.NewCatalogue(
		c.listTablesTool(st),
		c.describeTableTool(st),
		c.executeSQLTool(st),
		c.generateChartTool(sb),
	)

	runner := agent.NewRunner(llm, catalogue, func(o *agent.Options) {
		o.Instructions = analystInstructions(tables)
		o.MaxIterations = c.opts.MaxIterations
		o.Logger = c.logger
	})

	c.store = st
	c.llm = llm
	c.sandbox = sb
	c.runner = runner
	c.classifier = intent.NewClassifier(intent.WithTerms(c.opts.ChartTerms...))
	c.initialized = true

	c.logger.Info("chatbot.init.ready",
		"provider", llm.Info().Provider, "model", llm.Info().Name, "tables", len(tables))
	return true
}

// InitError returns the reason Initialize failed, or nil.
func (c *Chatbot) InitError() error { return c.initErr }

// buildModel resolves the provider adapter, validating credential and
// configuration first so failures are distinguishable.
func (c *Chatbot) buildModel() (model.Model, error) {
	if c.opts.LLM != nil {
		return c.opts.LLM, nil
	}

	switch c.opts.Provider {
	case "openai":
		key := c.opts.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("%w: set OPENAI_API_KEY or pass APIKey", ErrCredentialMissing)
		}
		return openai.NewModel(func(o *openai.Options) {
			o.APIKey = key
			if c.opts.ModelID != "" {
				o.Model = c.opts.ModelID
			}
		}), nil
	case "anthropic":
		key := c.opts.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or pass APIKey", ErrCredentialMissing)
		}
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = key
			if c.opts.ModelID != "" {
				o.Model = anthropicModel(c.opts.ModelID)
			}
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrModelConfigInvalid, c.opts.Provider)
	}
}

// Ask runs the agent loop once and returns its terminal text. Failures of
// the primary invocation path fall back to the secondary path; if both fail,
// a user-visible error string is returned. Ask never returns an error value
// and never panics: the session stays usable after any failed question.
func (c *Chatbot) Ask(ctx context.Context, question string) string {
	if !c.initialized {
		return "Chatbot is not initialized. Call Initialize() first."
	}
	text := c.ask(ctx, question)
	// A question without chart intent must never park a figure for a later
	// question to pick up.
	_ = c.sandbox.TakeFigure()
	return text
}

// AskWithChart classifies the question for chart intent, optionally rewrites
// it with chart-generation instructions, runs the agent, then captures and
// clears the sandbox figure slot.
func (c *Chatbot) AskWithChart(ctx context.Context, question string) AskResult {
	if !c.initialized {
		return AskResult{Response: "Chatbot is not initialized. Call Initialize() first."}
	}

	wantsChart := c.classifier.WantsChart(question)
	prompt := question
	if wantsChart {
		prompt = augmentWithChartSteps(question)
		c.logger.Info("chatbot.ask.chart_intent", "question_len", len(question))
	}

	text := c.ask(ctx, prompt)

	// Capture-then-clear: drain the slot unconditionally so no figure can
	// leak into the next question, but attach it only on chart intent.
	fig := c.sandbox.TakeFigure()
	result := AskResult{Response: text}
	if wantsChart && fig != nil {
		result.Chart = fig
	}
	return result
}

// ask runs the primary invocation path and falls back to the secondary one.
func (c *Chatbot) ask(ctx context.Context, prompt string) string {
	answer, err := c.runner.Run(ctx, prompt)
	if err == nil {
		return answer
	}

	c.logger.Warn("chatbot.ask.primary_failed", "error", err.Error())

	out, invErr := c.runner.Invoke(ctx, agent.Input{Input: prompt})
	if invErr != nil {
		c.logger.Error("chatbot.ask.secondary_failed", "error", invErr.Error())
		return fmt.Sprintf("Failed to process the question: %v", invErr)
	}
	return out.Output
}

// DescribeSchema reports every table's declared columns, for the table
// browser and for users asking what the dataset contains.
func (c *Chatbot) DescribeSchema(ctx context.Context) (map[string][]store.Column, error) {
	if !c.initialized {
		return nil, fmt.Errorf("chatbot not initialized")
	}
	tables, err := c.store.Tables(ctx)
	if err != nil {
		return nil, err
	}
	schema := make(map[string][]store.Column, len(tables))
	for _, t := range tables {
		cols, err := c.store.Describe(ctx, t)
		if err != nil {
			return nil, err
		}
		schema[t] = cols
	}
	return schema, nil
}

// Store exposes the opened dataset handle (table browser, previews).
// Nil until Initialize succeeds.
func (c *Chatbot) Store() *store.Store { return c.store }

// DemoQuestions returns example questions the dataset can answer.
func DemoQuestions() []string {
	return []string{
		"Quantos produtos temos cadastrados?",
		"Qual foi o faturamento total em janeiro de 2024?",
		"Quais são os 5 produtos mais caros?",
		"Quantas vendas foram feitas até agora?",
		"Qual é a média de preço dos produtos?",
		"Quais campanhas estão ativas?",
		"Qual cliente comprou mais vezes?",
		"Qual categoria de produto vende mais?",
		"Como está o estoque dos produtos?",
		"Plote um gráfico de vendas por mês",
	}
}
