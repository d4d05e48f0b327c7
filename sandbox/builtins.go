package sandbox

import (
	"context"
	"fmt"

	"go.starlark.net/starlark"

	"github.com/melivision/melivision/chart"
)

// predeclared assembles the capability whitelist handed to the interpreter.
// Nothing outside this table (plus Starlark's own universe) is reachable.
func (s *Sandbox) predeclared() starlark.StringDict {
	return starlark.StringDict{
		"query_sql":     starlark.NewBuiltin("query_sql", s.querySQL),
		"bar_chart":     starlark.NewBuiltin("bar_chart", makeChartBuiltin("bar")),
		"line_chart":    starlark.NewBuiltin("line_chart", makeChartBuiltin("line")),
		"pie_chart":     starlark.NewBuiltin("pie_chart", makeChartBuiltin("pie")),
		"scatter_chart": starlark.NewBuiltin("scatter_chart", makeChartBuiltin("scatter")),
	}
}

// querySQL is the query_sql(sql) builtin: executes a read-only statement
// against the session store and returns a list of dicts, one per row.
func (s *Sandbox) querySQL(
	thread *starlark.Thread,
	b *starlark.Builtin,
	args starlark.Tuple,
	kwargs []starlark.Tuple,
) (starlark.Value, error) {
	var query string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "sql", &query); err != nil {
		return nil, err
	}

	ctx, _ := thread.Local(ctxLocalKey).(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.store.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query_sql: %v", err)
	}

	rows := make([]starlark.Value, 0, result.Len())
	for _, row := range result.Rows {
		d := starlark.NewDict(len(result.Columns))
		for i, col := range result.Columns {
			var v any
			if i < len(row) {
				v = row[i]
			}
			if err := d.SetKey(starlark.String(col), toStarlark(v)); err != nil {
				return nil, err
			}
		}
		rows = append(rows, d)
	}
	return starlark.NewList(rows), nil
}

// makeChartBuiltin builds one of the chart constructors. All share the
// signature (title, labels, values, series_name="").
func makeChartBuiltin(kind string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(
		_ *starlark.Thread,
		b *starlark.Builtin,
		args starlark.Tuple,
		kwargs []starlark.Tuple,
	) (starlark.Value, error) {
		var (
			title      string
			labelsVal  starlark.Value
			valuesVal  starlark.Value
			seriesName string
		)
		if err := starlark.UnpackArgs(b.Name(), args, kwargs,
			"title", &title,
			"labels", &labelsVal,
			"values", &valuesVal,
			"series_name?", &seriesName,
		); err != nil {
			return nil, err
		}

		labels, err := toStringSlice(labelsVal)
		if err != nil {
			return nil, fmt.Errorf("%s: labels: %v", b.Name(), err)
		}
		values, err := toFloatSlice(valuesVal)
		if err != nil {
			return nil, fmt.Errorf("%s: values: %v", b.Name(), err)
		}
		if len(labels) != len(values) {
			return nil, fmt.Errorf("%s: labels and values must have the same length (%d != %d)",
				b.Name(), len(labels), len(values))
		}

		var fig *chart.Figure
		switch kind {
		case "bar":
			fig = chart.NewBar(title, labels, values, seriesName)
		case "line":
			fig = chart.NewLine(title, labels, values, seriesName)
		case "pie":
			fig = chart.NewPie(title, labels, values)
		case "scatter":
			fig = chart.NewScatter(title, labels, values, seriesName)
		default:
			return nil, fmt.Errorf("unknown chart kind %q", kind)
		}
		return &figureValue{fig: fig}, nil
	}
}

// figureValue adapts a chart figure into a Starlark value so snippets can
// bind it to fig. It is opaque inside the interpreter.
type figureValue struct {
	fig *chart.Figure
}

func (f *figureValue) String() string {
	return fmt.Sprintf("<figure %s %q>", f.fig.Kind(), f.fig.Title())
}
func (f *figureValue) Type() string          { return "figure" }
func (f *figureValue) Freeze()               {}
func (f *figureValue) Truth() starlark.Bool  { return starlark.True }
func (f *figureValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: figure") }

// toStarlark converts a database/sql scan value into a Starlark value.
func toStarlark(v any) starlark.Value {
	switch val := v.(type) {
	case nil:
		return starlark.None
	case bool:
		return starlark.Bool(val)
	case int64:
		return starlark.MakeInt64(val)
	case int:
		return starlark.MakeInt(val)
	case float64:
		return starlark.Float(val)
	case string:
		return starlark.String(val)
	case []byte:
		return starlark.String(string(val))
	default:
		return starlark.String(fmt.Sprintf("%v", val))
	}
}

// toStringSlice coerces a Starlark iterable into Go strings. Non-string
// elements stringify, so numeric axis labels work as-is.
func toStringSlice(v starlark.Value) ([]string, error) {
	iter, err := iterate(v)
	if err != nil {
		return nil, err
	}
	defer iter.Done()

	var out []string
	var elem starlark.Value
	for iter.Next(&elem) {
		if s, ok := starlark.AsString(elem); ok {
			out = append(out, s)
		} else {
			out = append(out, elem.String())
		}
	}
	return out, nil
}

// toFloatSlice coerces a Starlark iterable into Go float64 values.
func toFloatSlice(v starlark.Value) ([]float64, error) {
	iter, err := iterate(v)
	if err != nil {
		return nil, err
	}
	defer iter.Done()

	var out []float64
	var elem starlark.Value
	for iter.Next(&elem) {
		f, ok := starlark.AsFloat(elem)
		if !ok {
			return nil, fmt.Errorf("expected a number, got %s", elem.Type())
		}
		out = append(out, f)
	}
	return out, nil
}

func iterate(v starlark.Value) (starlark.Iterator, error) {
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %s", v.Type())
	}
	return iterable.Iterate(), nil
}
