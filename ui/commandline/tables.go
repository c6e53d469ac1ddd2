// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	highlightRowStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
				Bold(true).
				PaddingLeft(1).PaddingRight(1)

	// TitleStyle is used for the titles printed before tables.
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).MarginTop(1)
)

// Table is a lipgloss table with alternating faint rows, and optionally highlighted rows.
type Table struct {
	Table      *lgtable.Table
	Count      int
	Highlights map[int]bool
}

// NewTable creates a Table. The alignments are given per column, the last one
// repeating for the remaining columns. The default is left aligned.
func NewTable(headers []string, alignments ...lipgloss.Position) *Table {
	t := &Table{
		Highlights: make(map[int]bool),
	}
	t.Table = lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			switch {
			case t.Highlights[row]:
				s = highlightRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
	if len(headers) > 0 {
		t.Table.Headers(headers...)
	}
	return t
}

// Row appends a row, highlighted if requested.
func (t *Table) Row(highlight bool, row ...string) {
	if highlight {
		t.Highlights[t.Count] = true
	}
	t.Table.Row(row...)
	t.Count++
}

// String renders the table.
func (t *Table) String() string {
	return t.Table.String()
}
