package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melivision/melivision/model"
)

func TestBuildTools(t *testing.T) {
	defs := []model.ToolDefinition{
		{
			Name:        "execute_sql",
			Description: `Run a read-only SQL query. Example call: {"query": "SELECT COUNT(*) FROM produtos"}`,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "list_tables",
			Description: "List every table in the seller database.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}

	tools := buildTools(defs)
	require.Len(t, tools, 2)

	sqlTool := tools[0].OfTool
	require.NotNil(t, sqlTool)
	assert.Equal(t, "execute_sql", sqlTool.Name)
	assert.Equal(t, []string{"query"}, sqlTool.InputSchema.Required)
	assert.NotNil(t, sqlTool.InputSchema.Properties)

	// The description is the model's only channel for tool semantics; it
	// must survive conversion into the provider request.
	require.True(t, sqlTool.Description.Valid())
	assert.Equal(t, defs[0].Description, sqlTool.Description.Value)

	listTool := tools[1].OfTool
	require.NotNil(t, listTool)
	require.True(t, listTool.Description.Valid())
	assert.Equal(t, defs[1].Description, listTool.Description.Value)
}

func TestBuildToolsJSONDecodedRequired(t *testing.T) {
	tools := buildTools([]model.ToolDefinition{{
		Name:        "describe_table",
		Description: "Show the columns of a table.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"table": map[string]any{"type": "string"}},
			"required":   []any{"table"},
		},
	}})

	require.Len(t, tools, 1)
	assert.Equal(t, []string{"table"}, tools[0].OfTool.InputSchema.Required)
}

func TestBuildMessages(t *testing.T) {
	msgs := buildMessages([]model.Message{
		model.UserMessage("quantos produtos?"),
		{
			Role: "assistant",
			Text: "Vou consultar a base.",
			ToolCalls: []model.ToolCall{{
				ID:        "toolu_1",
				Name:      "execute_sql",
				Arguments: `{"query": "SELECT COUNT(*) FROM produtos"}`,
			}},
		},
		model.ToolMessage("toolu_1", `[{"total": 42}]`),
	})

	require.Len(t, msgs, 3)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))

	// Assistant thought plus tool_use block in one turn.
	require.Len(t, msgs[1].Content, 2)
	require.NotNil(t, msgs[1].Content[0].OfText)
	assert.Equal(t, "Vou consultar a base.", msgs[1].Content[0].OfText.Text)
	require.NotNil(t, msgs[1].Content[1].OfToolUse)
	assert.Equal(t, "toolu_1", msgs[1].Content[1].OfToolUse.ID)

	// Tool results travel as tool_result blocks inside a user message.
	assert.Equal(t, "user", string(msgs[2].Role))
	require.Len(t, msgs[2].Content, 1)
	require.NotNil(t, msgs[2].Content[0].OfToolResult)
	assert.Equal(t, "toolu_1", msgs[2].Content[0].OfToolResult.ToolUseID)
}
