// Package chart produces the interactive figure artifacts handed back to the
// presentation layer. Figures wrap go-echarts charts; callers treat them as
// opaque handles and only ever render them. One figure is alive per
// chart-enabled question; the sandbox builds it, the orchestrator captures it.
package chart

import (
	"bytes"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// renderer is the subset of go-echarts behavior the core relies on.
type renderer interface {
	Render(w io.Writer) error
}

// Figure is the opaque chart artifact. Kind and Title exist for logging and
// tests only; consumers render it, nothing else.
type Figure struct {
	kind  string
	title string
	chart renderer
}

// Kind returns the chart family ("bar", "line", "pie", "scatter").
func (f *Figure) Kind() string { return f.kind }

// Title returns the chart title.
func (f *Figure) Title() string { return f.title }

// Render writes the interactive HTML representation of the figure.
func (f *Figure) Render(w io.Writer) error { return f.chart.Render(w) }

// HTML renders the figure to an HTML string.
func (f *Figure) HTML() (string, error) {
	var buf bytes.Buffer
	if err := f.chart.Render(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func seriesNameOrDefault(name string) string {
	if name == "" {
		return "Value"
	}
	return name
}

// NewBar builds a bar figure from category labels and values.
func NewBar(title string, labels []string, values []float64, seriesName string) *Figure {
	bar := charts.NewBar()
	bar.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: title}))

	data := make([]opts.BarData, len(values))
	for i, v := range values {
		data[i] = opts.BarData{Value: v}
	}
	bar.SetXAxis(labels).AddSeries(seriesNameOrDefault(seriesName), data)

	return &Figure{kind: "bar", title: title, chart: bar}
}

// NewLine builds a line figure from x labels and values.
func NewLine(title string, labels []string, values []float64, seriesName string) *Figure {
	line := charts.NewLine()
	line.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: title}))

	data := make([]opts.LineData, len(values))
	for i, v := range values {
		data[i] = opts.LineData{Value: v}
	}
	line.SetXAxis(labels).AddSeries(seriesNameOrDefault(seriesName), data)

	return &Figure{kind: "line", title: title, chart: line}
}

// NewPie builds a pie figure pairing labels with values.
func NewPie(title string, labels []string, values []float64) *Figure {
	pie := charts.NewPie()
	pie.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: title}))

	data := make([]opts.PieData, len(values))
	for i, v := range values {
		name := ""
		if i < len(labels) {
			name = labels[i]
		}
		data[i] = opts.PieData{Name: name, Value: v}
	}
	pie.AddSeries("pie", data)

	return &Figure{kind: "pie", title: title, chart: pie}
}

// NewScatter builds a scatter figure from x labels and values.
func NewScatter(title string, labels []string, values []float64, seriesName string) *Figure {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: title}))

	data := make([]opts.ScatterData, len(values))
	for i, v := range values {
		data[i] = opts.ScatterData{Value: v}
	}
	scatter.SetXAxis(labels).AddSeries(seriesNameOrDefault(seriesName), data)

	return &Figure{kind: "scatter", title: title, chart: scatter}
}
