package recordview

import (
	"context"
	"fmt"
	"io"

	"github.com/dyluth/nodegraph/pkg/nodegraph"
	"github.com/dyluth/nodegraph/pkg/records"
)

// GetRecord writes the record behind a node id as pretty-printed JSON.
// Returns *RecordNotFoundError when the node has no record.
func GetRecord(ctx context.Context, store *records.Store, nodeID string, w io.Writer) error {
	id, err := nodegraph.ParseNodeID(nodeID)
	if err != nil {
		return fmt.Errorf("invalid node id: %w", err)
	}

	fields, err := store.Get(ctx, id.Type, id.Number)
	if err != nil {
		if records.IsNotFound(err) {
			return &RecordNotFoundError{NodeID: nodeID}
		}
		return fmt.Errorf("failed to fetch record: %w", err)
	}

	if err := FormatSingleJSON(w, Record{NodeID: id.String(), Number: id.Number, Fields: fields}); err != nil {
		return fmt.Errorf("failed to format record: %w", err)
	}
	return nil
}

// RecordNotFoundError reports a node without an active_record entry.
type RecordNotFoundError struct {
	NodeID string
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("no record for node '%s'", e.NodeID)
}

// IsNotFound returns true if the error is a RecordNotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*RecordNotFoundError)
	return ok
}
