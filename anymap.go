package gosgi

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/golobby/cast"
)

// Any is the dynamic value type carried by property maps. Values are one
// of: int variants, float64, bool, string, []Any, or a nested AnyMap.
type Any = any

// AnyMap is a case-sensitive mapping of string keys to dynamically typed
// values. It backs bundle manifests and service properties.
type AnyMap map[string]Any

// CaseInsensitiveAnyMap wraps an AnyMap with case-insensitive key lookup
// while preserving the original key spelling for iteration. Service
// properties use this variant.
type CaseInsensitiveAnyMap struct {
	values AnyMap            // original-case keys
	lower  map[string]string // folded key -> original key
}

// NewCaseInsensitiveAnyMap builds a case-insensitive map from the given
// entries. When two keys differ only in case, the last one wins.
func NewCaseInsensitiveAnyMap(entries AnyMap) *CaseInsensitiveAnyMap {
	m := &CaseInsensitiveAnyMap{
		values: make(AnyMap, len(entries)),
		lower:  make(map[string]string, len(entries)),
	}
	for k, v := range entries {
		m.Set(k, v)
	}
	return m
}

// Set stores a value under the given key, replacing any entry whose key
// differs only in case.
func (m *CaseInsensitiveAnyMap) Set(key string, value Any) {
	folded := strings.ToLower(key)
	if orig, ok := m.lower[folded]; ok {
		delete(m.values, orig)
	}
	m.lower[folded] = key
	m.values[key] = value
}

// Value looks up a key ignoring case. The second return reports presence.
func (m *CaseInsensitiveAnyMap) Value(key string) (Any, bool) {
	orig, ok := m.lower[strings.ToLower(key)]
	if !ok {
		return nil, false
	}
	return m.values[orig], true
}

// Len returns the number of entries.
func (m *CaseInsensitiveAnyMap) Len() int {
	return len(m.values)
}

// Snapshot returns a copy of the entries with their original key
// spelling. The copy is deep for nested AnyMaps and slices, so it is safe
// to hand to filter evaluation while the source keeps mutating.
func (m *CaseInsensitiveAnyMap) Snapshot() AnyMap {
	return copyAnyMap(m.values)
}

func copyAnyMap(src AnyMap) AnyMap {
	dst := make(AnyMap, len(src))
	for k, v := range src {
		dst[k] = copyAnyValue(v)
	}
	return dst
}

func copyAnyValue(v Any) Any {
	switch tv := v.(type) {
	case AnyMap:
		return copyAnyMap(tv)
	case map[string]Any:
		return copyAnyMap(tv)
	case []Any:
		out := make([]Any, len(tv))
		for i, e := range tv {
			out[i] = copyAnyValue(e)
		}
		return out
	case []string:
		out := make([]string, len(tv))
		copy(out, tv)
		return out
	default:
		return v
	}
}

// StringValue returns the value under key as a string, coercing scalar
// types. Returns the fallback when the key is absent or not coercible.
func (src AnyMap) StringValue(key, fallback string) string {
	v, ok := src[key]
	if !ok {
		return fallback
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// IntValue returns the value under key as an int, coercing numeric types
// and numeric strings via golobby/cast. Returns the fallback when the key
// is absent or not coercible.
func (src AnyMap) IntValue(key string, fallback int) int {
	v, ok := src[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	converted, err := cast.FromType(fmt.Sprintf("%v", v), reflect.TypeOf(int(0)))
	if err != nil {
		return fallback
	}
	if n, ok := converted.(int); ok {
		return n
	}
	return fallback
}

// BoolValue returns the value under key as a bool. Strings "true" and
// "false" are accepted case-insensitively. Returns the fallback when the
// key is absent or not coercible.
func (src AnyMap) BoolValue(key string, fallback bool) bool {
	v, ok := src[key]
	if !ok {
		return fallback
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(b) {
		case "true":
			return true
		case "false":
			return false
		}
	}
	return fallback
}

// StringSliceValue returns the value under key as a []string, accepting
// both []string and []Any with string elements.
func (src AnyMap) StringSliceValue(key string) []string {
	v, ok := src[key]
	if !ok {
		return nil
	}
	switch s := v.(type) {
	case []string:
		return s
	case []Any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
