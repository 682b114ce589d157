package nodegraph

import (
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strings"
)

// Params are the query parameters of a graph request.
type Params map[string]any

// Clone returns a shallow copy of p. A nil receiver yields an empty map.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge returns a copy of p overlaid with other.
func (p Params) Merge(other Params) Params {
	out := p.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Without returns the entries of p that differ from defaults. Used to shrink
// bulk payloads: the server treats a missing param as its scope default.
func (p Params) Without(defaults Params) Params {
	out := make(Params, len(p))
	for k, v := range p {
		if d, ok := defaults[k]; ok && reflect.DeepEqual(d, v) {
			continue
		}
		out[k] = v
	}
	return out
}

// Encode renders p as a URL query string with sorted keys. Slice values are
// joined with commas.
func (p Params) Encode() string {
	if len(p) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(paramString(p[k])))
	}
	return strings.Join(parts, "&")
}

func paramString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []string:
		return strings.Join(val, ",")
	case fmt.Stringer:
		return val.String()
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		items := make([]string, rv.Len())
		for i := range items {
			items[i] = paramString(rv.Index(i).Interface())
		}
		return strings.Join(items, ",")
	}
	return fmt.Sprint(v)
}
