package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Table is a parsed tabledap response. ERDDAP CSV carries two header rows:
// column names, then units.
type Table struct {
	Columns   []string
	Units     []string
	Rows      [][]string
	Truncated bool // true when maxRows cut the result short
}

// ReadTable downloads dataset rows via tabledap in CSV form and parses up to
// maxRows data rows. A maxRows of zero or less means no cap.
func (c *Client) ReadTable(ctx context.Context, datasetID string, variables []string, constraints map[string]string, maxRows int) (*Table, error) {
	rawURL := c.TabledapURL(datasetID, variables, constraints, "csv")

	body, err := c.get(ctx, "read_table", datasetID, rawURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	reader := csv.NewReader(body)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, &PermanentError{Operation: "read_table", Err: fmt.Errorf("failed to read column header: %w", err)}
	}

	units, err := reader.Read()
	if err != nil {
		return nil, &PermanentError{Operation: "read_table", Err: fmt.Errorf("failed to read units header: %w", err)}
	}

	table := &Table{Columns: header, Units: units}

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, &PermanentError{Operation: "read_table", Err: fmt.Errorf("failed to parse data row: %w", err)}
		}

		if maxRows > 0 && len(table.Rows) >= maxRows {
			table.Truncated = true

			break
		}

		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

// Render formats the table as fixed-width text for tool output.
func (t *Table) Render() string {
	if len(t.Columns) == 0 {
		return "(empty table)"
	}

	widths := make([]int, len(t.Columns))
	for i, col := range t.Columns {
		widths[i] = len(col)

		if i < len(t.Units) && len(t.Units[i]) > widths[i] {
			widths[i] = len(t.Units[i])
		}
	}

	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var sb strings.Builder

	writeRow := func(cells []string) {
		for i, width := range widths {
			if i > 0 {
				sb.WriteString("  ")
			}

			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}

			sb.WriteString(cell)
			sb.WriteString(strings.Repeat(" ", width-len(cell)))
		}

		sb.WriteString("\n")
	}

	writeRow(t.Columns)
	writeRow(t.Units)

	for _, row := range t.Rows {
		writeRow(row)
	}

	if t.Truncated {
		sb.WriteString("(result truncated)\n")
	}

	return sb.String()
}
