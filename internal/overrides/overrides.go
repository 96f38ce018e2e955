// Package overrides loads operator-maintained field name overrides.
//
// The override file is a YAML mapping from table name to field-level
// overrides:
//
//	tasks:
//	  fields:
//	    task12code: taskCode
//	    taskvar890: taskVariant
//
// An absent file is not an error; it means no overrides. A file that
// exists but cannot be parsed is an error, so a typo never silently
// produces a document without the operator's names.
package overrides

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// TableOverrides carries the field-level overrides for one table
type TableOverrides struct {
	// Fields maps a provider field ID to the display name the operator wants
	Fields map[string]string `yaml:"fields"`
}

// Map holds per-table override sets keyed by table name
type Map map[string]TableOverrides

// Load reads the override file at path. A missing file yields an empty map.
func Load(path string) (Map, error) {
	if path == "" {
		return Map{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Map{}, nil
		}
		return nil, fmt.Errorf("failed to read override file %s: %w", path, err)
	}

	var m Map
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse override file %s: %w", path, err)
	}
	if m == nil {
		m = Map{}
	}

	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid override file %s: %w", path, err)
	}

	return m, nil
}

// validate rejects overrides that would generate an unusable document
func (m Map) validate() error {
	for table, ovr := range m {
		if table == "" {
			return fmt.Errorf("table name cannot be empty")
		}
		for fieldID, name := range ovr.Fields {
			if fieldID == "" {
				return fmt.Errorf("table %q: field id cannot be empty", table)
			}
			if name == "" {
				return fmt.Errorf("table %q: override for field %q cannot be empty", table, fieldID)
			}
		}
	}
	return nil
}

// FieldName returns the override for (table, fieldID) and whether one exists
func (m Map) FieldName(table, fieldID string) (string, bool) {
	ovr, ok := m[table]
	if !ok {
		return "", false
	}
	name, ok := ovr.Fields[fieldID]
	return name, ok
}

// Tables returns the override table names in sorted order
func (m Map) Tables() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FieldIDs returns the overridden field IDs for a table in sorted order
func (m Map) FieldIDs(table string) []string {
	ovr, ok := m[table]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(ovr.Fields))
	for id := range ovr.Fields {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
