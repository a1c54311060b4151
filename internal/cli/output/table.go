package output

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
)

// Table represents tabular data.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Tabler is implemented by results with their own table layout.
type Tabler interface {
	Table() *Table
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Render writes the table with aligned columns.
func (t *Table) Render(w io.Writer, noHeaders bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if !noHeaders && len(t.Headers) > 0 {
		if _, err := fmt.Fprintln(tw, strings.Join(t.Headers, "\t")); err != nil {
			return err
		}
	}
	for _, row := range t.Rows {
		if _, err := fmt.Fprintln(tw, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// TableFormatter formats data as a table. Values without a layout of their
// own are flattened into FIELD/VALUE rows keyed by dotted json names.
type TableFormatter struct {
	NoHeaders bool
}

// Format formats data as a table.
func (f *TableFormatter) Format(w io.Writer, data any) error {
	switch v := data.(type) {
	case nil:
		return nil
	case *Table:
		return v.Render(w, f.NoHeaders)
	case Tabler:
		return v.Table().Render(w, f.NoHeaders)
	}

	generic, err := toGeneric(data)
	if err != nil {
		return err
	}
	t := &Table{Headers: []string{"FIELD", "VALUE"}}
	flatten("", generic, t)
	sort.SliceStable(t.Rows, func(i, j int) bool { return t.Rows[i][0] < t.Rows[j][0] })
	return t.Render(w, f.NoHeaders)
}

func flatten(prefix string, v any, t *Table) {
	switch x := v.(type) {
	case map[string]any:
		if len(x) == 0 && prefix != "" {
			t.AddRow(prefix, "-")
		}
		for k, child := range x {
			flatten(join(prefix, k), child, t)
		}
	case []any:
		if len(x) == 0 {
			t.AddRow(prefix, "-")
		}
		for i, child := range x {
			flatten(join(prefix, strconv.Itoa(i)), child, t)
		}
	default:
		t.AddRow(prefix, formatScalar(x))
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func formatScalar(v any) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case string:
		if x == "" {
			return "-"
		}
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
