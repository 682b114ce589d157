package records

import (
	"encoding/json"
	"fmt"
)

// RecordToHash converts record fields to Redis hash values. Every value is
// stored as JSON so numbers, lists and nested objects survive the round trip.
func RecordToHash(fields map[string]any) (map[string]interface{}, error) {
	hash := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal field %q: %w", k, err)
		}
		hash[k] = string(encoded)
	}
	return hash, nil
}

// HashToRecord reverses RecordToHash.
func HashToRecord(hash map[string]string) (map[string]any, error) {
	fields := make(map[string]any, len(hash))
	for k, raw := range hash {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal field %q: %w", k, err)
		}
		fields[k] = v
	}
	return fields, nil
}
