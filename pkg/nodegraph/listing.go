package nodegraph

import (
	"fmt"
	"sort"
)

// Listing is what a listing endpoint resolves to: the member ids, optional
// per-member edge data and an optional total count.
type Listing struct {
	NodeIDs []string
	Edges   map[string]any
	// Count is the server-reported total, or -1 when the server sent none.
	Count int
}

// ExtractFunc turns the decoded response of a listing endpoint into a Listing.
type ExtractFunc func(data any) (Listing, error)

// DefaultListing reads {"node_ids": [...], "meta": {...}, "count": n}.
// A nil response is an empty listing.
func DefaultListing(data any) (Listing, error) {
	listing := Listing{Count: -1}
	if data == nil {
		return listing, nil
	}
	m, ok := data.(map[string]any)
	if !ok {
		return listing, fmt.Errorf("listing: expected object, got %T", data)
	}

	ids, err := stringList(m["node_ids"])
	if err != nil {
		return listing, fmt.Errorf("listing node_ids: %w", err)
	}
	listing.NodeIDs = ids
	if meta, ok := m["meta"].(map[string]any); ok {
		listing.Edges = meta
	}
	if n, ok := toInt64(m["count"]); ok {
		listing.Count = int(n)
	}
	return listing, nil
}

// EdgesListing extracts the outgoing edges named name from a
// /{id}/edges/{name} response: {name: {"edges": {id: edge, ...}}}. Ids are
// sorted and each edge object becomes that member's edge data.
func EdgesListing(name string) ExtractFunc {
	return func(data any) (Listing, error) {
		listing := Listing{Count: -1}
		section, _ := nested(data, name, "edges").(map[string]any)
		if section == nil {
			return listing, nil
		}
		ids := make([]string, 0, len(section))
		for id := range section {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		listing.NodeIDs = ids
		listing.Edges = section
		return listing, nil
	}
}

// IncomingListing extracts incoming edges from a /{id}/incoming/{name}
// response: {name: {"incoming": [id, ...]}}. There is no edge data.
func IncomingListing(name string) ExtractFunc {
	return func(data any) (Listing, error) {
		listing := Listing{Count: -1}
		ids, err := stringList(nested(data, name, "incoming"))
		if err != nil {
			return listing, fmt.Errorf("incoming %s: %w", name, err)
		}
		listing.NodeIDs = ids
		return listing, nil
	}
}

func nested(data any, keys ...string) any {
	for _, k := range keys {
		m, ok := data.(map[string]any)
		if !ok {
			return nil
		}
		data = m[k]
	}
	return data
}

func stringList(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss, nil
		}
		return nil, fmt.Errorf("expected list, got %T", v)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected string id, got %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}
