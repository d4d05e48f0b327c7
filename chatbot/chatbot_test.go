package chatbot

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melivision/melivision/agent"
	"github.com/melivision/melivision/model"
	"github.com/melivision/melivision/store"
)

func seedDB(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "meli_vision.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		`CREATE TABLE produtos (id INTEGER PRIMARY KEY, nome TEXT NOT NULL, categoria TEXT, preco REAL)`,
		`INSERT INTO produtos (nome, categoria, preco) VALUES
			('Fone Bluetooth', 'eletronicos', 129.90),
			('Capa de Celular', 'acessorios', 29.90)`,
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return path
}

// scriptedLLM replays responses in order, repeating the last.
type scriptedLLM struct {
	responses []*model.Response
	requests  []model.Request
}

func (m *scriptedLLM) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	m.requests = append(m.requests, req)
	i := len(m.requests) - 1
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return m.responses[i], nil
}

func (m *scriptedLLM) Info() model.Info {
	return model.Info{Name: "scripted", Provider: "test", SupportsTools: true}
}

func textResponse(text string) *model.Response {
	return &model.Response{Text: text, FinishReason: "stop"}
}

func newTestBot(t *testing.T, llm model.Model) *Chatbot {
	t.Helper()
	bot := New(func(o *Options) {
		o.DBPath = seedDB(t)
		o.LLM = llm
	})
	require.True(t, bot.Initialize(), "init error: %v", bot.InitError())
	return bot
}

func TestInitializeFailures(t *testing.T) {
	t.Run("missing credential", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")

		bot := New(func(o *Options) { o.DBPath = seedDB(t) })
		assert.False(t, bot.Initialize())
		assert.ErrorIs(t, bot.InitError(), ErrCredentialMissing)
		assert.Contains(t, bot.InitError().Error(), "OPENAI_API_KEY")

		// Nothing was wired; the instance degrades instead of crashing.
		assert.Nil(t, bot.Store())
		assert.Contains(t, bot.Ask(context.Background(), "oi"), "not initialized")
	})

	t.Run("unknown provider", func(t *testing.T) {
		bot := New(func(o *Options) {
			o.DBPath = seedDB(t)
			o.Provider = "llamacpp"
			o.APIKey = "k"
		})
		assert.False(t, bot.Initialize())
		assert.ErrorIs(t, bot.InitError(), ErrModelConfigInvalid)
	})

	t.Run("missing database", func(t *testing.T) {
		bot := New(func(o *Options) {
			o.DBPath = filepath.Join(t.TempDir(), "nope.db")
			o.LLM = &scriptedLLM{responses: []*model.Response{textResponse("x")}}
		})
		assert.False(t, bot.Initialize())
		assert.ErrorIs(t, bot.InitError(), store.ErrStoreUnavailable)
	})
}

func TestAsk(t *testing.T) {
	t.Run("plain answer", func(t *testing.T) {
		bot := newTestBot(t, &scriptedLLM{responses: []*model.Response{
			textResponse("Temos 2 produtos cadastrados."),
		}})

		answer := bot.Ask(context.Background(), "Quantos produtos temos cadastrados?")
		assert.Equal(t, "Temos 2 produtos cadastrados.", answer)
	})

	t.Run("answer via sql tool", func(t *testing.T) {
		llm := &scriptedLLM{responses: []*model.Response{
			{ToolCalls: []model.ToolCall{{
				ID:        "call_1",
				Name:      "execute_sql",
				Arguments: `{"query": "SELECT COUNT(*) AS total FROM produtos"}`,
			}}},
			textResponse("Temos 2 produtos."),
		}}
		bot := newTestBot(t, llm)

		answer := bot.Ask(context.Background(), "Quantos produtos temos?")
		assert.Equal(t, "Temos 2 produtos.", answer)

		// The observation carried the query result back to the model.
		last := llm.requests[len(llm.requests)-1]
		var sawResult bool
		for _, msg := range last.Messages {
			if msg.Role == "tool" && strings.Contains(msg.Text, `"total": 2`) {
				sawResult = true
			}
		}
		assert.True(t, sawResult)
	})

	t.Run("exhaustion falls back to secondary path", func(t *testing.T) {
		// Tool calls every round with no text: the primary path fails and
		// the secondary path substitutes the sentinel answer.
		bot := New(func(o *Options) {
			o.DBPath = seedDB(t)
			o.MaxIterations = 2
			o.LLM = &scriptedLLM{responses: []*model.Response{
				{ToolCalls: []model.ToolCall{{
					ID: "call_n", Name: "list_tables", Arguments: "{}",
				}}},
			}}
		})
		require.True(t, bot.Initialize())

		answer := bot.Ask(context.Background(), "pergunta impossivel")
		assert.Equal(t, agent.NoAnswerText, answer)
	})
}

func TestAskWithChart(t *testing.T) {
	chartCode := `rows = query_sql("SELECT categoria, COUNT(*) AS n FROM produtos GROUP BY categoria")
labels = [r["categoria"] for r in rows]
values = [r["n"] for r in rows]
fig = bar_chart("Produtos por categoria", labels, values)`

	chartArgs, err := json.Marshal(map[string]string{"code": chartCode})
	require.NoError(t, err)

	t.Run("chart question yields figure", func(t *testing.T) {
		llm := &scriptedLLM{responses: []*model.Response{
			{ToolCalls: []model.ToolCall{{
				ID: "call_1", Name: "generate_chart", Arguments: string(chartArgs),
			}}},
			textResponse("Segue o gráfico de produtos por categoria."),
		}}
		bot := newTestBot(t, llm)

		res := bot.AskWithChart(context.Background(), "Plote um gráfico de produtos por categoria")
		assert.Contains(t, res.Response, "gráfico")
		require.NotNil(t, res.Chart)
		assert.Equal(t, "bar", res.Chart.Kind())

		// The question was rewritten with the chart plan.
		first := llm.requests[0]
		require.NotEmpty(t, first.Messages)
		assert.Contains(t, first.Messages[0].Text, "variable named fig")
	})

	t.Run("plain question yields no figure", func(t *testing.T) {
		llm := &scriptedLLM{responses: []*model.Response{
			textResponse("Temos 2 produtos."),
		}}
		bot := newTestBot(t, llm)

		res := bot.AskWithChart(context.Background(), "Quantos produtos temos?")
		assert.Nil(t, res.Chart)

		// No augmentation happened either.
		assert.Equal(t, "Quantos produtos temos?", llm.requests[0].Messages[0].Text)
	})

	t.Run("figures do not leak across questions", func(t *testing.T) {
		llm := &scriptedLLM{responses: []*model.Response{
			{ToolCalls: []model.ToolCall{{
				ID: "call_1", Name: "generate_chart", Arguments: string(chartArgs),
			}}},
			textResponse("Segue o gráfico."),
			textResponse("Temos 2 produtos."),
		}}
		bot := newTestBot(t, llm)

		first := bot.AskWithChart(context.Background(), "plote as categorias")
		require.NotNil(t, first.Chart)

		second := bot.AskWithChart(context.Background(), "Quantos produtos temos?")
		assert.Nil(t, second.Chart, "stale figure leaked into the next question")
	})
}

func TestDescribeSchema(t *testing.T) {
	bot := newTestBot(t, &scriptedLLM{responses: []*model.Response{textResponse("x")}})

	schema, err := bot.DescribeSchema(context.Background())
	require.NoError(t, err)
	require.Contains(t, schema, "produtos")

	names := make([]string, 0, len(schema["produtos"]))
	for _, col := range schema["produtos"] {
		names = append(names, col.Name)
	}
	assert.Equal(t, []string{"id", "nome", "categoria", "preco"}, names)
}

func TestDemoQuestions(t *testing.T) {
	qs := DemoQuestions()
	assert.NotEmpty(t, qs)

	var hasChartQuestion bool
	for _, q := range qs {
		if strings.Contains(strings.ToLower(q), "gráfico") {
			hasChartQuestion = true
		}
	}
	assert.True(t, hasChartQuestion)
}
