package chatbot

import (
	"context"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/melivision/melivision/sandbox"
	"github.com/melivision/melivision/store"
	"github.com/melivision/melivision/tool"
)

func anthropicModel(id string) anthropicsdk.Model { return anthropicsdk.Model(id) }

type describeTableArgs struct {
	Table string `json:"table" description:"Name of the table to describe, e.g. produtos"`
}

type executeSQLArgs struct {
	Query string `json:"query" description:"A single read-only SQL statement, e.g. SELECT COUNT(*) FROM vendas"`
}

type generateChartArgs struct {
	Code string `json:"code" description:"Starlark script that queries data and assigns a chart to a variable named fig"`
}

func (c *Chatbot) listTablesTool(st *store.Store) tool.Tool {
	return tool.NewFunctionTool(
		"list_tables",
		"List every table in the seller database. Takes no arguments. "+
			"Example call: {}",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		func(ctx context.Context, _ map[string]any) (string, error) {
			tables, err := st.Tables(ctx)
			if err != nil {
				return "", err
			}
			return strings.Join(tables, ", "), nil
		},
		tool.WithLogger(c.logger),
	)
}

func (c *Chatbot) describeTableTool(st *store.Store) tool.Tool {
	return tool.NewFunctionToolFromStruct(
		"describe_table",
		"Show the columns of a table with their declared types. "+
			`Example call: {"table": "produtos"}`,
		describeTableArgs{},
		func(ctx context.Context, args map[string]any) (string, error) {
			table, _ := args["table"].(string)
			cols, err := st.Describe(ctx, table)
			if err != nil {
				return "", err
			}
			var sb strings.Builder
			fmt.Fprintf(&sb, "Table %s:\n", table)
			for _, col := range cols {
				fmt.Fprintf(&sb, "  %s %s", col.Name, col.Type)
				if col.PrimaryKey {
					sb.WriteString(" PRIMARY KEY")
				}
				if col.NotNull {
					sb.WriteString(" NOT NULL")
				}
				sb.WriteString("\n")
			}
			return sb.String(), nil
		},
		tool.WithLogger(c.logger),
	)
}

func (c *Chatbot) executeSQLTool(st *store.Store) tool.Tool {
	return tool.NewFunctionToolFromStruct(
		"execute_sql",
		"Run a read-only SQL query against the seller database and return the rows as JSON. "+
			"Only SELECT and WITH statements are accepted; results are capped at 1000 rows. "+
			`Example call: {"query": "SELECT nome, preco FROM produtos ORDER BY preco DESC LIMIT 5"}`,
		executeSQLArgs{},
		func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			res, err := st.Query(ctx, query)
			if err != nil {
				return "", err
			}
			if res.Len() == 0 {
				return "query returned no rows", nil
			}
			return res.JSON()
		},
		tool.WithLogger(c.logger),
	)
}

func (c *Chatbot) generateChartTool(sb *sandbox.Sandbox) tool.Tool {
	return tool.NewFunctionToolFromStruct(
		"generate_chart",
		"Execute a short Starlark script in a sandbox to build a chart from SQL data. "+
			"Available functions: query_sql(sql), bar_chart(title, labels, values), "+
			"line_chart(title, labels, values), pie_chart(title, labels, values), "+
			"scatter_chart(title, labels, values). The script must assign the chart "+
			"to a variable named fig. There is no file, network or import access. "+
			`Example call: {"code": "rows = query_sql(\"SELECT categoria, COUNT(*) AS n FROM produtos GROUP BY categoria\")\nlabels = [r[\"categoria\"] for r in rows]\nvalues = [r[\"n\"] for r in rows]\nfig = bar_chart(\"Produtos por categoria\", labels, values)"}`,
		generateChartArgs{},
		func(ctx context.Context, args map[string]any) (string, error) {
			code, _ := args["code"].(string)
			return sb.Run(ctx, code), nil
		},
		tool.WithLogger(c.logger),
	)
}

// analystInstructions is the system prompt for the SQL-analyst persona. The
// live table list is embedded so the model rarely needs a list_tables round.
func analystInstructions(tables []string) string {
	return fmt.Sprintf(`You are a data analyst for an online marketplace seller.
You answer questions about the seller's business using the SQLite database available through your tools.

Available tables: %s

Guidelines:
- Inspect a table with describe_table before querying it if you are unsure of its columns.
- Use execute_sql for all data retrieval. Only read-only SELECT/WITH statements are allowed.
- Answer in the language of the question. Monetary values are in BRL.
- Base every answer on query results. If the data cannot answer the question, say so.
- Keep answers short and factual.`, strings.Join(tables, ", "))
}

// augmentWithChartSteps rewrites a chart-intent question into an explicit
// tool-use plan so the model reliably produces a figure.
func augmentWithChartSteps(question string) string {
	return question + `

The user wants a chart. After answering, build it by calling generate_chart with a script that:
1. fetches the data with query_sql("SELECT ...")
2. extracts the labels and values from the returned rows
3. creates the chart with bar_chart, line_chart, pie_chart or scatter_chart
4. assigns the result to a variable named fig
Pick the chart type that best fits the data.`
}
