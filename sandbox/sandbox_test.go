package sandbox

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melivision/melivision/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "meli_vision.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE vendas_mes (mes TEXT, total REAL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO vendas_mes VALUES
		('2024-01', 1500.0), ('2024-02', 2300.5), ('2024-03', 1890.0)`)
	require.NoError(t, err)

	st, err := store.Open(path)
	require.NoError(t, err)
	return st
}

func TestRunProducesFigure(t *testing.T) {
	sb := New(testStore(t))

	obs := sb.Run(context.Background(), `
rows = query_sql("SELECT mes, total FROM vendas_mes ORDER BY mes")
labels = [r["mes"] for r in rows]
values = [r["total"] for r in rows]
fig = bar_chart("Vendas por mês", labels, values)
`)
	assert.Contains(t, obs, "figure produced")
	assert.Contains(t, obs, "bar")

	require.True(t, sb.HasFigure())
	fig := sb.TakeFigure()
	require.NotNil(t, fig)
	assert.Equal(t, "bar", fig.Kind())
	assert.Equal(t, "Vendas por mês", fig.Title())

	// Capture cleared the slot.
	assert.False(t, sb.HasFigure())
	assert.Nil(t, sb.TakeFigure())
}

func TestRunChartKinds(t *testing.T) {
	sb := New(testStore(t))

	tests := []struct {
		builtin string
		kind    string
	}{
		{"bar_chart", "bar"},
		{"line_chart", "line"},
		{"pie_chart", "pie"},
		{"scatter_chart", "scatter"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			obs := sb.Run(context.Background(),
				`fig = `+tt.builtin+`("t", ["a", "b"], [1, 2])`)
			assert.Contains(t, obs, "figure produced")

			fig := sb.TakeFigure()
			require.NotNil(t, fig)
			assert.Equal(t, tt.kind, fig.Kind())
		})
	}
}

func TestRunWithoutFigure(t *testing.T) {
	sb := New(testStore(t))

	obs := sb.Run(context.Background(), `x = 1 + 1`)
	assert.Contains(t, obs, "did not bind a variable named fig")
	assert.False(t, sb.HasFigure())
}

func TestRunFigureWrongType(t *testing.T) {
	sb := New(testStore(t))

	obs := sb.Run(context.Background(), `fig = 42`)
	assert.Contains(t, obs, "not a chart figure")
	assert.False(t, sb.HasFigure())
}

func TestRunContainsFaults(t *testing.T) {
	sb := New(testStore(t))
	ctx := context.Background()

	tests := []struct {
		name string
		code string
	}{
		{"file access probe", `fig = open("/etc/passwd")`},
		{"import probe", `load("os.star", "os")`},
		{"syntax error", `fig = (`},
		{"runtime error", `fig = [1, 2][5]`},
		{"bad sql", `rows = query_sql("DELETE FROM vendas_mes")`},
		{"mismatched lengths", `fig = bar_chart("t", ["a"], [1, 2])`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := sb.Run(ctx, tt.code)
			assert.Contains(t, obs, "code execution failed")
			assert.False(t, sb.HasFigure())
		})
	}
}

func TestRunStepBudget(t *testing.T) {
	sb := New(testStore(t), WithMaxSteps(10_000))

	done := make(chan string, 1)
	go func() {
		done <- sb.Run(context.Background(), `
i = 0
while True:
    i += 1
`)
	}()

	select {
	case obs := <-done:
		assert.Contains(t, obs, "code execution failed")
	case <-time.After(10 * time.Second):
		t.Fatal("runaway loop was not stopped by the step budget")
	}
}

func TestRunContextCancellation(t *testing.T) {
	sb := New(testStore(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	obs := sb.Run(ctx, `
i = 0
while True:
    i += 1
`)
	assert.Contains(t, obs, "code execution failed")
}

func TestRunCapturesPrintOutput(t *testing.T) {
	sb := New(testStore(t))

	obs := sb.Run(context.Background(), `
print("three rows expected")
fig = line_chart("t", ["a"], [1])
`)
	assert.Contains(t, obs, "figure produced")
	assert.Contains(t, obs, "three rows expected")
}

func TestRunOverwritesPreviousFigure(t *testing.T) {
	sb := New(testStore(t))
	ctx := context.Background()

	sb.Run(ctx, `fig = bar_chart("first", ["a"], [1])`)
	sb.Run(ctx, `fig = pie_chart("second", ["a"], [1])`)

	fig := sb.TakeFigure()
	require.NotNil(t, fig)
	assert.Equal(t, "second", fig.Title())
	assert.Nil(t, sb.TakeFigure())
}
