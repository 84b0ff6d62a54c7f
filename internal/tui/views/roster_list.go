package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/lfcamargo/atendo/internal/roster"
	"github.com/lfcamargo/atendo/internal/store"
	"github.com/rivo/tview"
)

// RosterList renders the synchronizer's thread list. Rows come in
// already sorted and filtered; the view only draws them and tracks the
// cursor and the bulk selection.
type RosterList struct {
	*tview.Table
	threads  []roster.ThreadSummary
	tagNames map[int64]string
	marked   map[roster.ThreadID]bool
	archived bool
}

// NewRosterList creates the thread list table.
func NewRosterList() *RosterList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(tview.Styles.PrimitiveBackgroundColor).
		Background(tview.Styles.PrimaryTextColor))
	table.SetTitle(" Conversas ")

	return &RosterList{
		Table:    table,
		tagNames: make(map[int64]string),
		marked:   make(map[roster.ThreadID]bool),
	}
}

// SetArchived switches the title between the active and archived shelf.
func (rl *RosterList) SetArchived(archived bool) {
	rl.archived = archived
	rl.render()
}

// Update refreshes the list with new data from the synchronizer.
func (rl *RosterList) Update(threads []roster.ThreadSummary, tags []store.Tag) {
	rl.threads = threads
	rl.tagNames = make(map[int64]string, len(tags))
	for _, t := range tags {
		rl.tagNames[t.ID] = t.Name
	}
	// Drop marks for rows that left the view.
	present := make(map[roster.ThreadID]bool, len(threads))
	for _, t := range threads {
		present[t.ID] = true
	}
	for id := range rl.marked {
		if !present[id] {
			delete(rl.marked, id)
		}
	}
	rl.render()
}

// ToggleMark flips the bulk-selection mark on the cursor row.
func (rl *RosterList) ToggleMark() {
	t, ok := rl.Selected()
	if !ok {
		return
	}
	if rl.marked[t.ID] {
		delete(rl.marked, t.ID)
	} else {
		rl.marked[t.ID] = true
	}
	rl.render()
}

// Marked returns the bulk selection, or the cursor row when nothing is
// marked.
func (rl *RosterList) Marked() []roster.ThreadID {
	if len(rl.marked) == 0 {
		if t, ok := rl.Selected(); ok {
			return []roster.ThreadID{t.ID}
		}
		return nil
	}
	ids := make([]roster.ThreadID, 0, len(rl.marked))
	for id := range rl.marked {
		ids = append(ids, id)
	}
	return ids
}

// ClearMarks empties the bulk selection.
func (rl *RosterList) ClearMarks() {
	rl.marked = make(map[roster.ThreadID]bool)
	rl.render()
}

// Selected returns the thread under the cursor.
func (rl *RosterList) Selected() (roster.ThreadSummary, bool) {
	row, _ := rl.GetSelection()
	idx := row - 1 // header
	if idx < 0 || idx >= len(rl.threads) {
		return roster.ThreadSummary{}, false
	}
	return rl.threads[idx], true
}

func (rl *RosterList) render() {
	rl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{"  ", 0},
		{" CONTATO", 1},
		{" ÚLTIMA MENSAGEM", 2},
		{" TAGS", 1},
		{" HORA", 0},
	}
	for col, h := range headers {
		rl.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp))
	}

	for i, t := range rl.threads {
		row := i + 1

		marker := "  "
		if t.IsPinned {
			marker = "* "
		}
		if rl.marked[t.ID] {
			marker = "✓ "
		}

		name := t.ContactName
		if name == "" {
			name = t.Phone
		}
		if t.ID.IsTemp() {
			name += " …"
		}
		if t.UnreadCount > 0 {
			name = fmt.Sprintf("(%d) %s", t.UnreadCount, name)
		}

		var tags []string
		for _, id := range t.TagIDs {
			if n, ok := rl.tagNames[id]; ok {
				tags = append(tags, n)
			}
		}

		nameColor := tview.Styles.PrimaryTextColor
		if t.UnreadCount > 0 {
			nameColor = tcell.ColorGreen
		}

		rl.SetCell(row, 0, tview.NewTableCell(marker))
		rl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(name))).
			SetExpansion(1).SetTextColor(nameColor))
		rl.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(t.LastMessage))).
			SetExpansion(2))
		rl.SetCell(row, 3, tview.NewTableCell(" "+strings.Join(tags, ",")).
			SetExpansion(1))
		rl.SetCell(row, 4, tview.NewTableCell(formatTimestamp(t.LastInteractionAt)).
			SetAlign(tview.AlignRight))
	}

	shelf := "Conversas"
	if rl.archived {
		shelf = "Arquivadas"
	}
	if len(rl.marked) > 0 {
		rl.SetTitle(fmt.Sprintf(" %s (%d) [%d marcadas] ", shelf, len(rl.threads), len(rl.marked)))
	} else {
		rl.SetTitle(fmt.Sprintf(" %s (%d) ", shelf, len(rl.threads)))
	}
}
