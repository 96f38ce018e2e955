// Package generator renders table definitions into the canonical YAML
// document checked into the repository.
//
// Generation is a pure function of its inputs: the same tables and
// overrides always produce byte-identical output. The document tree is
// built from explicit yaml nodes so key order is owned by the generator,
// never by map iteration. Tables are ordered by table ID and fields by
// field ID; the document carries no timestamps or other run-dependent
// content.
package generator

import (
	"bytes"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/eavops/schema-sync/internal/overrides"
	"github.com/eavops/schema-sync/internal/schema"
)

// Generate renders the canonical YAML document for the given tables with
// the operator's field name overrides applied. It returns the document
// bytes and a deterministic list of warnings for overrides that reference
// tables or fields absent from the schema. Stale overrides never fail
// generation; they surface in the warnings for the reviewer.
func Generate(tables []schema.TableInfo, ovr overrides.Map) ([]byte, []string, error) {
	sorted := cloneTables(tables)
	schema.SortTables(sorted)

	tablesNode := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, table := range sorted {
		tablesNode.Content = append(tablesNode.Content, strNode(table.ID), tableNode(table, ovr))
	}

	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	root.Content = append(root.Content, strNode("tables"), tablesNode)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, nil, fmt.Errorf("failed to encode schema document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, nil, fmt.Errorf("failed to finalize schema document: %w", err)
	}

	return buf.Bytes(), staleWarnings(sorted, ovr), nil
}

// cloneTables deep-copies the field slices so sorting never mutates the
// caller's data
func cloneTables(tables []schema.TableInfo) []schema.TableInfo {
	cloned := make([]schema.TableInfo, len(tables))
	for i, table := range tables {
		fields := make([]schema.FieldInfo, len(table.Fields))
		copy(fields, table.Fields)
		table.Fields = fields
		cloned[i] = table
	}
	return cloned
}

// tableNode builds the mapping for one table, applying name overrides
func tableNode(table schema.TableInfo, ovr overrides.Map) *yaml.Node {
	fieldsNode := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, field := range table.Fields {
		name := field.Name
		if override, ok := ovr.FieldName(table.Name, field.ID); ok {
			name = override
		}

		fieldNode := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		fieldNode.Content = append(fieldNode.Content,
			strNode("name"), strNode(name),
			strNode("type"), strNode(field.Type),
		)
		fieldsNode.Content = append(fieldsNode.Content, strNode(field.ID), fieldNode)
	}

	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	node.Content = append(node.Content,
		strNode("name"), strNode(table.Name),
		strNode("active"), boolNode(table.Active),
		strNode("fields"), fieldsNode,
	)
	return node
}

// staleWarnings lists overrides that no longer match the fetched schema,
// in table-name then field-id order
func staleWarnings(tables []schema.TableInfo, ovr overrides.Map) []string {
	fieldsByName := make(map[string]map[string]struct{})
	for _, table := range tables {
		set, ok := fieldsByName[table.Name]
		if !ok {
			set = make(map[string]struct{})
			fieldsByName[table.Name] = set
		}
		for _, field := range table.Fields {
			set[field.ID] = struct{}{}
		}
	}

	var warnings []string
	for _, tableName := range ovr.Tables() {
		fields, ok := fieldsByName[tableName]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("override references unknown table %q", tableName))
			continue
		}
		for _, fieldID := range ovr.FieldIDs(tableName) {
			if _, ok := fields[fieldID]; !ok {
				warnings = append(warnings,
					fmt.Sprintf("override references unknown field %q in table %q", fieldID, tableName))
			}
		}
	}
	return warnings
}

func strNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

func boolNode(value bool) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(value)}
}
