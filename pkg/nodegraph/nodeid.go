package nodegraph

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeID is the composite identity of a graph node: a type name and a
// numeric id within that type. Its string form is "{type}-{number}".
type NodeID struct {
	Type   string
	Number int64
}

// String formats the id as "{type}-{number}".
func (n NodeID) String() string {
	return FormatNodeID(n.Type, n.Number)
}

// FormatNodeID returns the string form of a node id. Node numbers are never
// negative; a negative number yields a string ParseNodeID rejects.
func FormatNodeID(nodeType string, number int64) string {
	return fmt.Sprintf("%s-%d", nodeType, number)
}

// ParseNodeID splits a node id string into its type and number.
// The split happens at the last dash so that type names may themselves
// contain dashes (e.g. "blog-post-12"). An id without a dash has an empty type.
// The number must be plain decimal digits.
func ParseNodeID(s string) (NodeID, error) {
	idx := strings.LastIndex(s, "-")
	if idx < 0 {
		number, err := parseNodeNumber(s, s)
		if err != nil {
			return NodeID{}, err
		}
		return NodeID{Number: number}, nil
	}

	nodeType, raw := s[:idx], s[idx+1:]
	if nodeType == "" {
		return NodeID{}, fmt.Errorf("invalid node id %q: empty type", s)
	}
	if strings.HasSuffix(nodeType, "-") {
		return NodeID{}, fmt.Errorf("invalid node id %q: %w", s, ErrInvalidNodeNumber)
	}
	number, err := parseNodeNumber(s, raw)
	if err != nil {
		return NodeID{}, err
	}
	return NodeID{Type: nodeType, Number: number}, nil
}

func parseNodeNumber(id, raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("invalid node id %q: empty number", id)
	}
	for _, ch := range raw {
		if ch < '0' || ch > '9' {
			return 0, fmt.Errorf("invalid node id %q: number %q is not decimal digits", id, raw)
		}
	}
	number, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q: %w", id, err)
	}
	return number, nil
}

// NodeIDOf normalises s into a node id string. When expectedType is not
// empty and s carries a different type, it returns ("", false): callers use
// this to filter heterogeneous id lists by type. A bare number is given the
// expected type.
func NodeIDOf(s string, expectedType string) (string, bool) {
	id, err := ParseNodeID(s)
	if err != nil {
		return "", false
	}
	if id.Type == "" {
		if expectedType == "" {
			return "", false
		}
		id.Type = expectedType
	}
	if expectedType != "" && id.Type != expectedType {
		return "", false
	}
	return id.String(), true
}

// NodeNumber returns the numeric part of s, enforcing expectedType when set.
func NodeNumber(s string, expectedType string) (int64, error) {
	normalised, ok := NodeIDOf(s, expectedType)
	if !ok {
		return 0, fmt.Errorf("%w: %q is not a %q node id", ErrNodeTypeMismatch, s, expectedType)
	}
	id, err := ParseNodeID(normalised)
	if err != nil {
		return 0, err
	}
	return id.Number, nil
}

// ResolvePath turns a relative path into an absolute one under base,
// e.g. ResolvePath("data/foo", "person-1") == "/person-1/data/foo".
// Absolute paths are returned unchanged.
func ResolvePath(path, base string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + base + "/" + path
}

func absolutePath(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}
