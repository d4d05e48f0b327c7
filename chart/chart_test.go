package chart

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFigures(t *testing.T) {
	labels := []string{"jan", "fev", "mar"}
	values := []float64{1500, 2300.5, 1890}

	tests := []struct {
		name string
		fig  *Figure
		kind string
	}{
		{"bar", NewBar("Vendas", labels, values, "Total"), "bar"},
		{"line", NewLine("Vendas", labels, values, ""), "line"},
		{"pie", NewPie("Vendas", labels, values), "pie"},
		{"scatter", NewScatter("Vendas", labels, values, "Total"), "scatter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.fig.Kind())
			assert.Equal(t, "Vendas", tt.fig.Title())

			var buf bytes.Buffer
			require.NoError(t, tt.fig.Render(&buf))
			assert.Contains(t, buf.String(), "Vendas")
			assert.Contains(t, buf.String(), "echarts")
		})
	}
}

func TestHTML(t *testing.T) {
	fig := NewBar("Estoque", []string{"a"}, []float64{1}, "")

	html, err := fig.HTML()
	require.NoError(t, err)
	assert.Contains(t, html, "Estoque")
}

func TestEmptySeries(t *testing.T) {
	fig := NewLine("Vazio", nil, nil, "")

	var buf bytes.Buffer
	assert.NoError(t, fig.Render(&buf))
}
