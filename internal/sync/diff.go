package sync

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/sergi/go-diff/diffmatchpatch"
	"gopkg.in/yaml.v3"
)

// docModel mirrors just enough of the generated document to compare tables.
type docModel struct {
	Tables map[string]tableModel `yaml:"tables"`
}

type tableModel struct {
	Name   string                `yaml:"name"`
	Active bool                  `yaml:"active"`
	Fields map[string]fieldModel `yaml:"fields"`
}

type fieldModel struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type changeRow struct {
	tableID string
	name    string
	change  string
	detail  string
}

// Summarize renders a reviewer-facing description of the change from the
// checked-in document to the proposed one: line counts plus a per-table
// breakdown. When either side does not parse, the line counts stand alone.
func Summarize(current, proposed []byte) string {
	if bytes.Equal(current, proposed) {
		return "no differences"
	}

	added, removed := lineCounts(string(current), string(proposed))
	header := fmt.Sprintf("+%d/-%d lines", added, removed)

	var currentDoc, proposedDoc docModel
	if yaml.Unmarshal(current, &currentDoc) != nil || yaml.Unmarshal(proposed, &proposedDoc) != nil {
		return header
	}

	rows := tableChanges(currentDoc, proposedDoc)
	if len(rows) == 0 {
		return header
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n")
	renderChangeTable(&b, rows)
	return strings.TrimRight(b.String(), "\n")
}

// lineCounts runs a line-granularity diff and counts inserted and deleted
// lines.
func lineCounts(current, proposed string) (added, removed int) {
	dmp := diffmatchpatch.New()
	chars1, chars2, lines := dmp.DiffLinesToChars(current, proposed)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(chars1, chars2, false), lines)

	for _, diff := range diffs {
		n := strings.Count(diff.Text, "\n")
		if n == 0 && diff.Text != "" {
			n = 1
		}
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	return added, removed
}

// tableChanges compares the table sections of two documents.
func tableChanges(current, proposed docModel) []changeRow {
	ids := make(map[string]struct{})
	for id := range current.Tables {
		ids[id] = struct{}{}
	}
	for id := range proposed.Tables {
		ids[id] = struct{}{}
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	var rows []changeRow
	for _, id := range sorted {
		before, inCurrent := current.Tables[id]
		after, inProposed := proposed.Tables[id]
		switch {
		case !inCurrent:
			rows = append(rows, changeRow{
				tableID: id,
				name:    after.Name,
				change:  "added",
				detail:  countNoun(len(after.Fields), "field"),
			})
		case !inProposed:
			rows = append(rows, changeRow{tableID: id, name: before.Name, change: "removed"})
		default:
			if detail := describeTableChange(before, after); detail != "" {
				rows = append(rows, changeRow{tableID: id, name: after.Name, change: "changed", detail: detail})
			}
		}
	}
	return rows
}

// describeTableChange summarizes what differs between two versions of a
// table. Returns "" when they are identical.
func describeTableChange(before, after tableModel) string {
	var parts []string
	if before.Name != after.Name {
		parts = append(parts, fmt.Sprintf("renamed %q to %q", before.Name, after.Name))
	}
	if before.Active != after.Active {
		if after.Active {
			parts = append(parts, "activated")
		} else {
			parts = append(parts, "deactivated")
		}
	}

	var fieldsAdded, fieldsRemoved, fieldsChanged int
	for id, afterField := range after.Fields {
		beforeField, ok := before.Fields[id]
		switch {
		case !ok:
			fieldsAdded++
		case beforeField != afterField:
			fieldsChanged++
		}
	}
	for id := range before.Fields {
		if _, ok := after.Fields[id]; !ok {
			fieldsRemoved++
		}
	}

	if fieldsAdded > 0 {
		parts = append(parts, countNoun(fieldsAdded, "field")+" added")
	}
	if fieldsRemoved > 0 {
		parts = append(parts, countNoun(fieldsRemoved, "field")+" removed")
	}
	if fieldsChanged > 0 {
		parts = append(parts, countNoun(fieldsChanged, "field")+" changed")
	}
	return strings.Join(parts, ", ")
}

func renderChangeTable(w io.Writer, rows []changeRow) {
	table := tablewriter.NewTable(w)
	table.Header([]string{"TABLE", "NAME", "CHANGE", "DETAIL"})
	for _, row := range rows {
		table.Append([]string{row.tableID, row.name, row.change, row.detail})
	}
	table.Render()
}

func countNoun(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
