// Package tui is the terminal frontend. It owns no conversation state:
// the roster synchronizer and the message reconciler do, and the views
// redraw from their snapshots whenever an update signal fires.
package tui

import (
	"context"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/lfcamargo/atendo/internal/bus"
	"github.com/lfcamargo/atendo/internal/cache"
	"github.com/lfcamargo/atendo/internal/config"
	"github.com/lfcamargo/atendo/internal/roster"
	"github.com/lfcamargo/atendo/internal/store"
	"github.com/lfcamargo/atendo/internal/thread"
	"github.com/lfcamargo/atendo/internal/tui/views"
	"github.com/lfcamargo/atendo/internal/wa"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

// App is the main TUI application shell.
type App struct {
	app   *tview.Application
	pages *tview.Pages

	db      *store.DB
	adapter *wa.Adapter
	bus     *bus.Bus
	cache   *cache.Cache
	cfg     *config.Config
	logger  *zap.Logger
	session string

	sync        *roster.Synchronizer
	view        roster.View
	mountCancel context.CancelFunc

	rec       *thread.Reconciler
	recCancel context.CancelFunc
	active    roster.ThreadSummary

	rosterView *views.RosterList
	convView   *views.Conversation
	composer   *views.Composer
	statusBar  *views.StatusBar
	authView   *views.AuthView
	prompt     *tview.InputField

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(db *store.DB, adapter *wa.Adapter, b *bus.Bus, c *cache.Cache, cfg *config.Config, logger *zap.Logger, sessionName string) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:        tview.NewApplication(),
		pages:      tview.NewPages(),
		db:         db,
		adapter:    adapter,
		bus:        b,
		cache:      c,
		cfg:        cfg,
		logger:     logger,
		session:    sessionName,
		rosterView: views.NewRosterList(),
		convView:   views.NewConversation(),
		composer:   views.NewComposer(),
		statusBar:  views.NewStatusBar(),
		authView:   views.NewAuthView(),
		prompt:     tview.NewInputField().SetFieldWidth(0),
		ctx:        ctx,
		cancel:     cancel,
	}

	a.statusBar.SetSession(sessionName)
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupCallbacks() {
	a.rosterView.SetSelectedFunc(func(row, col int) {
		if t, ok := a.rosterView.Selected(); ok {
			a.openThread(t)
		}
	})

	a.composer.SetOnSend(func(text string) {
		rec := a.rec
		if rec == nil {
			return
		}
		if path, ok := strings.CutPrefix(text, "/media "); ok {
			a.sendMedia(rec, strings.TrimSpace(path))
			return
		}
		rec.SendText(a.ctx, text)
	})
}

func (a *App) sendMedia(rec *thread.Reconciler, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		a.flash("Falha ao ler arquivo: " + err.Error())
		return
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	rec.SendMedia(a.ctx, data, mimeType, filepath.Base(path))
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.convView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("roster", a.rosterView, true, true)
	a.pages.AddPage("chat", chatFlex, true, false)
	a.pages.AddPage("auth", a.authView, true, false)
	a.pages.AddPage("prompt", promptFrame(a.prompt), true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)
	a.app.SetInputCapture(a.handleKey)
}

func promptFrame(input *tview.InputField) tview.Primitive {
	return tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(input, 1, 0, true).
		AddItem(nil, 0, 1, false)
}

func (a *App) handleKey(event *tcell.EventKey) *tcell.EventKey {
	currentPage, _ := a.pages.GetFrontPage()

	if event.Key() == tcell.KeyEscape {
		switch currentPage {
		case "chat":
			a.closeThread()
			return nil
		case "prompt":
			a.pages.SwitchToPage("roster")
			a.app.SetFocus(a.rosterView)
			return nil
		}
		return event
	}

	// Text inputs keep all their keys.
	if _, ok := a.app.GetFocus().(*tview.InputField); ok {
		return event
	}

	if currentPage == "chat" && event.Key() == tcell.KeyRune && event.Rune() == 'i' {
		a.app.SetFocus(a.composer.InputField)
		return nil
	}

	if currentPage != "roster" || event.Key() != tcell.KeyRune {
		return event
	}

	switch event.Rune() {
	case 'q':
		a.Stop()
	case ' ':
		a.rosterView.ToggleMark()
	case 'p':
		if t, ok := a.rosterView.Selected(); ok {
			go a.sync.SingleAction(a.ctx, t.ID, roster.ActionTogglePin)
		}
	case 'u':
		if t, ok := a.rosterView.Selected(); ok {
			go a.sync.SingleAction(a.ctx, t.ID, roster.ActionToggleUnread)
		}
	case 'e':
		ids := a.rosterView.Marked()
		a.rosterView.ClearMarks()
		go a.sync.BulkAction(a.ctx, roster.BulkArchive, ids)
	case 'd':
		ids := a.rosterView.Marked()
		a.rosterView.ClearMarks()
		go a.sync.BulkAction(a.ctx, roster.BulkDelete, ids)
	case 'A':
		a.mountRoster(roster.View{Archived: !a.view.Archived})
	case '/':
		a.showPrompt("buscar: ", "", func(term string) {
			a.mountRoster(roster.View{Archived: a.view.Archived, Search: term})
		})
	case 'n':
		a.showPrompt("novo (telefone nome): ", "", func(entry string) {
			phone, name, _ := strings.Cut(strings.TrimSpace(entry), " ")
			if phone == "" {
				return
			}
			go a.sync.CreateOptimisticThread(a.ctx, phone, name)
		})
	case 'r':
		if t, ok := a.rosterView.Selected(); ok {
			a.showPrompt("renomear: ", t.ContactName, func(name string) {
				go a.sync.UpdateContact(a.ctx, t.ID, name)
			})
		}
	case 't':
		if t, ok := a.rosterView.Selected(); ok {
			a.showPrompt("tags (nomes separados por vírgula): ", "", func(entry string) {
				go a.sync.SetTags(a.ctx, t.ID, a.tagIDsByName(entry))
			})
		}
	default:
		return event
	}
	return nil
}

// tagIDsByName maps a comma-separated tag name list to the known tag
// ids, dropping names that match no tag.
func (a *App) tagIDsByName(entry string) []int64 {
	byName := make(map[string]int64)
	for _, tag := range a.sync.Tags() {
		byName[strings.ToLower(tag.Name)] = tag.ID
	}
	var ids []int64
	for _, name := range strings.Split(entry, ",") {
		if id, ok := byName[strings.ToLower(strings.TrimSpace(name))]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (a *App) showPrompt(label, initial string, done func(string)) {
	a.prompt.SetLabel(" " + label).SetText(initial)
	a.prompt.SetDoneFunc(func(key tcell.Key) {
		text := a.prompt.GetText()
		a.pages.SwitchToPage("roster")
		a.app.SetFocus(a.rosterView)
		if key == tcell.KeyEnter {
			done(text)
		}
	})
	a.pages.SwitchToPage("prompt")
	a.app.SetFocus(a.prompt)
}

// mountRoster tears down the current synchronizer and builds one for
// the new view. The old subscription dies with its context; the fresh
// synchronizer renders from cache first.
func (a *App) mountRoster(view roster.View) {
	if a.mountCancel != nil {
		a.mountCancel()
	}
	if a.sync != nil {
		a.sync.Stop()
	}

	a.view = view
	a.rosterView.SetArchived(view.Archived)
	a.sync = roster.New(a.db, a.bus, a.cache, a.logger, view, roster.Options{
		ThreadsTTL: a.cfg.Cache.ThreadsTTL(),
		TagsTTL:    a.cfg.Cache.TagsTTL(),
	})

	mountCtx, cancel := context.WithCancel(a.ctx)
	a.mountCancel = cancel
	s := a.sync
	s.Start(mountCtx)

	go func() {
		for {
			select {
			case <-s.Updates():
				a.app.QueueUpdateDraw(func() {
					a.rosterView.Update(s.Threads(), s.Tags())
					a.statusBar.SetLoading(s.IsLoading())
				})
			case <-mountCtx.Done():
				return
			}
		}
	}()
}

// openThread builds a reconciler for the selected thread and switches
// to the conversation page. Optimistic threads whose create has not
// landed yet are retried against the store by phone first.
func (a *App) openThread(t roster.ThreadSummary) {
	if t.ID.IsTemp() {
		confirmed, err := a.db.GetThreadByPhone(a.ctx, t.Phone)
		if err != nil || confirmed == nil {
			a.flash("Conversa ainda sendo criada…")
			return
		}
		t.ID = roster.ConfirmedID(confirmed.ID)
	}

	a.closeThread()
	a.active = t

	name := t.ContactName
	if name == "" {
		name = t.Phone
	}
	a.convView.SetContactName(name)

	rec := thread.New(a.db, a.adapter, a.bus, a.cache, a.logger, t.ID.Confirmed, t.Phone, thread.Options{
		MatchWindow: a.cfg.Reconcile.MatchWindow(),
		SendGrace:   a.cfg.Reconcile.SendGrace(),
		CacheTTL:    a.cfg.Cache.ThreadsTTL(),
	})
	recCtx, cancel := context.WithCancel(a.ctx)
	a.rec = rec
	a.recCancel = cancel
	rec.Start(recCtx)

	go a.sync.Select(a.ctx, t.ID)

	go func() {
		for {
			select {
			case <-rec.Updates():
				a.app.QueueUpdateDraw(func() {
					a.convView.Update(rec.Messages())
				})
			case <-recCtx.Done():
				return
			}
		}
	}()

	a.pages.SwitchToPage("chat")
	a.app.SetFocus(a.composer.InputField)
}

func (a *App) closeThread() {
	if a.recCancel != nil {
		a.recCancel()
		a.recCancel = nil
	}
	if a.rec != nil {
		a.rec.Stop()
		a.rec = nil
	}
	a.pages.SwitchToPage("roster")
	a.app.SetFocus(a.rosterView)
}

func (a *App) flash(msg string) {
	a.statusBar.SetFlash(msg)
	time.AfterFunc(5*time.Second, func() {
		a.app.QueueUpdateDraw(func() { a.statusBar.SetFlash("") })
	})
}

// Run mounts the default view and starts the terminal loop. When the
// adapter has no credentials yet the pairing flow runs first.
func (a *App) Run() error {
	a.mountRoster(roster.View{})

	if a.adapter.IsLoggedIn() {
		a.statusBar.SetStatus("conectando")
		go func() {
			if err := a.adapter.Connect(); err != nil {
				a.logger.Error("connect failed", zap.Error(err))
				a.app.QueueUpdateDraw(func() { a.statusBar.SetStatus("offline") })
				return
			}
			a.app.QueueUpdateDraw(func() { a.statusBar.SetStatus("online") })
		}()
	} else {
		a.pages.SwitchToPage("auth")
		a.authView.ShowMessage("Iniciando pareamento...")
		go a.runAuthFlow()
	}

	return a.app.Run()
}

// runAuthFlow streams QR codes into the auth view until pairing
// finishes one way or the other.
func (a *App) runAuthFlow() {
	events, err := a.adapter.StartQRAuth(a.ctx)
	if err != nil {
		a.app.QueueUpdateDraw(func() {
			a.authView.ShowMessage("Erro no pareamento: " + err.Error())
		})
		return
	}

	for evt := range events {
		switch evt.Type {
		case wa.AuthEventQRCode:
			code := evt.QRCode
			a.app.QueueUpdateDraw(func() {
				a.authView.ShowQR(code)
			})
		case wa.AuthEventAuthenticated:
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetStatus("online")
				a.pages.SwitchToPage("roster")
				a.app.SetFocus(a.rosterView)
			})
			return
		case wa.AuthEventAuthFailed, wa.AuthEventTimeout:
			msg := evt.Message
			if msg == "" {
				msg = "Pareamento falhou"
			}
			a.app.QueueUpdateDraw(func() {
				a.authView.ShowMessage(msg)
			})
			return
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	if a.sync != nil {
		a.sync.Stop()
	}
	a.app.Stop()
}
