package views

import (
	"fmt"
	"time"

	"github.com/lfcamargo/atendo/internal/store"
	"github.com/lfcamargo/atendo/internal/thread"
	"github.com/rivo/tview"
)

// Conversation renders the reconciler's merged feed: confirmed rows
// with delivery ticks, pendings with their transient status.
type Conversation struct {
	*tview.TextView
	contactName string
}

// NewConversation creates the conversation feed view.
func NewConversation() *Conversation {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true)

	return &Conversation{TextView: tv}
}

// SetContactName updates the view title.
func (cv *Conversation) SetContactName(name string) {
	cv.contactName = name
	cv.SetTitle(fmt.Sprintf(" %s ", tview.Escape(sanitizeForTerminal(name))))
}

// Update redraws the feed and scrolls to the newest row.
func (cv *Conversation) Update(items []thread.FeedItem) {
	cv.Clear()
	for _, item := range items {
		switch {
		case item.Confirmed != nil:
			cv.writeConfirmed(item.Confirmed)
		case item.Pending != nil:
			cv.writePending(item.Pending)
		}
	}
	cv.ScrollToEnd()
}

func (cv *Conversation) writeConfirmed(m *store.Message) {
	ts := time.UnixMilli(m.CreatedAt).Format("15:04")

	if m.MessageType == "revoked" {
		_, _ = fmt.Fprintf(cv, "[gray]%s  (mensagem apagada)[-]\n", ts)
		return
	}

	body := m.Body
	if body == "" && m.MessageType != "text" {
		body = "[" + m.MessageType + "]"
	}
	body = tview.Escape(sanitizeForTerminal(body))

	if store.FromUs(m.Sender) {
		who := "você"
		if m.Sender == store.SenderAssistant {
			who = "assistente"
		}
		_, _ = fmt.Fprintf(cv, "[green]%s  %s:[-] %s [gray]%s[-]\n", ts, who, body, statusTicks(m.Status))
	} else {
		_, _ = fmt.Fprintf(cv, "[white]%s  %s:[-] %s\n", ts, tview.Escape(sanitizeForTerminal(cv.contactName)), body)
	}
}

func (cv *Conversation) writePending(p *thread.PendingMessage) {
	ts := time.UnixMilli(p.CreatedAt).Format("15:04")
	body := tview.Escape(sanitizeForTerminal(p.Body))

	switch p.Status {
	case thread.PendingError:
		_, _ = fmt.Fprintf(cv, "[red]%s  você:[-] %s [red](falhou)[-]\n", ts, body)
	case thread.PendingUploading:
		_, _ = fmt.Fprintf(cv, "[yellow]%s  você:[-] %s [yellow](enviando mídia…)[-]\n", ts, body)
	default:
		_, _ = fmt.Fprintf(cv, "[yellow]%s  você:[-] %s [yellow](enviando…)[-]\n", ts, body)
	}
}

func statusTicks(status string) string {
	switch status {
	case store.StatusRead:
		return "✓✓"
	case store.StatusDelivered:
		return "✓✓"
	default:
		return "✓"
	}
}
