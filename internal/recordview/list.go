package recordview

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/dyluth/nodegraph/pkg/nodegraph"
	"github.com/dyluth/nodegraph/pkg/records"
)

// OutputFormat specifies how to format the record list output.
type OutputFormat string

const (
	// OutputFormatDefault uses a table with truncated fields
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs complete records as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// FilterCriteria narrows a record listing. All filters are ANDed together.
type FilterCriteria struct {
	MinNumber int64             // 0 = no lower bound
	MaxNumber int64             // 0 = no upper bound
	Fields    map[string]string // field name -> glob matched against the field's string form
}

func (fc *FilterCriteria) matchesNumber(n int64) bool {
	if fc.MinNumber > 0 && n < fc.MinNumber {
		return false
	}
	if fc.MaxNumber > 0 && n > fc.MaxNumber {
		return false
	}
	return true
}

func (fc *FilterCriteria) matchesFields(fields map[string]any) bool {
	for name, glob := range fc.Fields {
		value, ok := fields[name]
		if !ok {
			return false
		}
		matched, err := filepath.Match(glob, fmt.Sprint(value))
		if err != nil || !matched {
			return false
		}
	}
	return true
}

// ListRecords loads every record of nodeType, ordered by number, and writes
// them to w in the requested format.
func ListRecords(ctx context.Context, store *records.Store, nodeType string, format OutputFormat, filters *FilterCriteria, w io.Writer) error {
	recs, err := collect(ctx, store, nodeType, filters)
	if err != nil {
		return err
	}

	switch format {
	case OutputFormatDefault:
		FormatTable(w, recs, nodeType)
	case OutputFormatJSONL:
		if err := FormatJSONL(w, recs); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
	return nil
}

func collect(ctx context.Context, store *records.Store, nodeType string, filters *FilterCriteria) ([]Record, error) {
	numbers, err := store.Numbers(ctx, nodeType)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", nodeType, err)
	}

	if filters != nil {
		kept := numbers[:0]
		for _, n := range numbers {
			if filters.matchesNumber(n) {
				kept = append(kept, n)
			}
		}
		numbers = kept
	}
	if len(numbers) == 0 {
		return nil, nil
	}

	found, err := store.FindRecords(ctx, nodeType, numbers)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s records: %w", nodeType, err)
	}

	recs := make([]Record, 0, len(found))
	for _, n := range numbers {
		fields, ok := found[n]
		if !ok {
			// Indexed but deleted between the two calls.
			continue
		}
		if filters != nil && !filters.matchesFields(fields) {
			continue
		}
		recs = append(recs, Record{NodeID: nodegraph.FormatNodeID(nodeType, n), Number: n, Fields: fields})
	}
	return recs, nil
}
