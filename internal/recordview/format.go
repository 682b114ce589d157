package recordview

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Record is one active_record entry as displayed by the record commands.
type Record struct {
	NodeID string         `json:"node_id"`
	Number int64          `json:"number"`
	Fields map[string]any `json:"fields"`
}

// FormatTable writes records as a table with columns NUMBER, NODE and FIELDS
// (truncated). Returns the number of records formatted.
func FormatTable(w io.Writer, recs []Record, nodeType string) int {
	if len(recs) == 0 {
		fmt.Fprintf(w, "No %s records found\n", nodeType)
		return 0
	}

	fmt.Fprintf(w, "Records for type '%s':\n\n", nodeType)

	fmt.Fprintf(w, "%-8s %-20s %s\n", "NUMBER", "NODE", "FIELDS")
	fmt.Fprintf(w, "%-8s %-20s %s\n", "--------", "--------------------", "----------------------------------------")

	for _, r := range recs {
		fmt.Fprintf(w, "%-8d %-20s %s\n", r.Number, formatNodeID(r.NodeID), formatFields(r.Fields))
	}

	noun := "record"
	if len(recs) != 1 {
		noun = "records"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(recs), noun)

	return len(recs)
}

// FormatJSONL writes one compact JSON object per record.
func FormatJSONL(w io.Writer, recs []Record) error {
	for _, r := range recs {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal record to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes a single record as pretty-printed JSON.
func FormatSingleJSON(w io.Writer, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

func formatNodeID(id string) string {
	if len(id) > 20 {
		return id[:17] + "..."
	}
	return id
}

// formatFields renders key=value pairs sorted by key, cut to 40 characters.
func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return "-"
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		value, err := json.Marshal(fields[k])
		if err != nil {
			value = []byte("?")
		}
		parts = append(parts, k+"="+string(value))
	}

	line := strings.Join(parts, " ")
	if len(line) > 40 {
		return line[:37] + "..."
	}
	return line
}
