package schema

import "sort"

// FieldInfo describes a single field of a table
type FieldInfo struct {
	// ID is the provider's stable field identifier
	ID string `json:"id"`

	// Name is the raw display name reported by the provider
	Name string `json:"name"`

	// Type is the provider's declared field type
	Type string `json:"type"`
}

// TableInfo describes a table exposed by the schema provider
type TableInfo struct {
	// ID is the provider's stable table identifier
	ID string `json:"id"`

	// Name is the table display name
	Name string `json:"name"`

	// Active reports whether the provider considers the table live
	Active bool `json:"active"`

	// Fields are the table's field definitions
	Fields []FieldInfo `json:"fields"`
}

// SortTables orders tables by table ID and each table's fields by field ID,
// in place. Every consumer relies on this ordering for deterministic output.
func SortTables(tables []TableInfo) {
	sort.Slice(tables, func(i, j int) bool {
		return tables[i].ID < tables[j].ID
	})
	for i := range tables {
		fields := tables[i].Fields
		sort.Slice(fields, func(a, b int) bool {
			return fields[a].ID < fields[b].ID
		})
	}
}
