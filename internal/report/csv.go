// Package report writes header-mapped report lines to a CSV file.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Column maps a header label to the line field it renders.
type Column struct {
	Label string
	Key   string
}

// Line is one report row keyed by field name.
type Line map[string]any

// CSV buffers projected lines in memory and writes them on Save.
type CSV struct {
	path    string
	columns []Column
	rows    [][]string
}

// NewCSV creates a new CSV sink writing to path.
func NewCSV(path string) *CSV {
	return &CSV{path: path}
}

// SetHeaders declares the columns, in order.
func (c *CSV) SetHeaders(columns []Column) {
	c.columns = append([]Column(nil), columns...)
}

// AddLine projects line onto the declared columns. Undeclared fields are dropped
// and missing ones render empty.
func (c *CSV) AddLine(line Line) {
	row := make([]string, len(c.columns))
	for i, column := range c.columns {
		row[i] = format(line[column.Key])
	}
	c.rows = append(c.rows, row)
}

// Save writes the header labels followed by every line, replacing the file.
func (c *CSV) Save() error {
	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	file, err := os.Create(c.path)
	if err != nil {
		return fmt.Errorf("could not open file %s: %w", c.path, err)
	}

	writer := csv.NewWriter(file)
	labels := make([]string, len(c.columns))
	for i, column := range c.columns {
		labels[i] = column.Label
	}
	if err := writer.Write(labels); err != nil {
		_ = file.Close()
		return fmt.Errorf("could not write to file %s: %w", c.path, err)
	}
	if err := writer.WriteAll(c.rows); err != nil {
		_ = file.Close()
		return fmt.Errorf("could not write to file %s: %w", c.path, err)
	}
	return file.Close()
}

func format(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "1"
		}
		return ""
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
