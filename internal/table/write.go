package table

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/roach88/psyserve/internal/core"
)

const timestampLayout = time.RFC3339Nano

// WriteCSV writes the table with a header row. Empty cells are absent
// values.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(t.Columns))
	for i, row := range t.Rows {
		for j, v := range row {
			s, err := formatCell(v)
			if err != nil {
				return fmt.Errorf("row %d column %q: %w", i, t.Columns[j], err)
			}
			record[j] = s
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// jsonTable is the JSON form: column names plus positional rows.
type jsonTable struct {
	ExperimentID string   `json:"experiment_id"`
	Columns      []string `json:"columns"`
	Rows         [][]any  `json:"rows"`
}

// WriteJSON writes the table as one JSON document.
func (t *Table) WriteJSON(w io.Writer) error {
	rows := t.Rows
	if rows == nil {
		rows = [][]any{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(jsonTable{ExperimentID: t.ExperimentID, Columns: t.Columns, Rows: rows}); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

func formatCell(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case float64:
		return core.FormatFloat(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case int:
		return strconv.Itoa(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		data, err := core.MarshalCanonical(x)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}
