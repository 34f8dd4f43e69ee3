// Package manifest turns bundle metadata blobs into property maps. It is
// the narrow surface of the external manifest parser: the framework core
// only ever sees the resulting AnyMap.
//
// YAML, TOML and JSON sources are supported, selected explicitly or by
// file extension.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/xru192/gosgi"
)

// Format identifies a manifest encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// Static errors for manifest parsing
var (
	ErrUnknownFormat    = errors.New("unknown manifest format")
	ErrUnknownExtension = errors.New("unrecognized manifest file extension")
)

// Parse decodes data in the given format into an AnyMap and validates
// the required bundle identity keys.
func Parse(data []byte, format Format) (gosgi.AnyMap, error) {
	var raw map[string]any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing yaml manifest: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing toml manifest: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing json manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	m := normalize(raw)
	if err := Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseFile reads and parses a manifest file, selecting the format from
// the file extension (.yaml/.yml, .toml, .json).
func ParseFile(path string) (gosgi.AnyMap, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	return Parse(data, format)
}

// FormatForPath maps a file extension to its manifest format.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownExtension, path)
	}
}

// Validate checks the required identity keys. The framework rejects
// manifests missing bundle.symbolic_name or bundle.version at install
// time; validating here surfaces the problem before install.
func Validate(m gosgi.AnyMap) error {
	if m.StringValue(gosgi.PropBundleSymbolicName, "") == "" {
		return gosgi.ErrMissingSymbolic
	}
	if m.StringValue(gosgi.PropBundleVersion, "") == "" {
		return gosgi.ErrMissingVersion
	}
	return nil
}

// normalize converts decoder output into AnyMap values all the way down.
// YAML and JSON decoders hand back map[string]any and []any; TOML adds
// typed slices, which are left as-is since filter evaluation handles
// them reflectively.
func normalize(raw map[string]any) gosgi.AnyMap {
	m := make(gosgi.AnyMap, len(raw))
	for k, v := range raw {
		m[k] = normalizeValue(v)
	}
	return m
}

func normalizeValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return normalize(tv)
	case map[any]any:
		// Older yaml documents produce interface-keyed maps.
		m := make(gosgi.AnyMap, len(tv))
		for k, val := range tv {
			m[fmt.Sprintf("%v", k)] = normalizeValue(val)
		}
		return m
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}
