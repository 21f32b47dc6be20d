package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bitter-oolong/telepage/pkg/action"
	"github.com/bitter-oolong/telepage/pkg/analytics"
	"github.com/bitter-oolong/telepage/pkg/editor"
	"github.com/bitter-oolong/telepage/pkg/pages"
	"github.com/bitter-oolong/telepage/pkg/perm"
	"github.com/bitter-oolong/telepage/pkg/store"
	"github.com/bitter-oolong/telepage/pkg/task"
)

type testEnv struct {
	engine    *Engine
	graph     *pages.Graph
	resolver  *perm.Resolver
	collector *analytics.Collector
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewFileStore(t.TempDir())
	graph := pages.NewGraph(st, nil)
	if err := graph.Load(); err != nil {
		t.Fatalf("graph load failed: %v", err)
	}
	resolver := perm.NewResolver(st, nil)
	collector := analytics.NewCollector(st, nil)
	registry := BuiltinRegistry(resolver, collector)
	dispatcher := action.NewDispatcher(graph, collector, registry)
	editorMgr := editor.NewManager(graph, 0)

	router := task.NewRouter(task.Defaults())
	t.Cleanup(router.Close)

	return &testEnv{
		engine:    New(graph, dispatcher, editorMgr, resolver, collector, router),
		graph:     graph,
		resolver:  resolver,
		collector: collector,
	}
}

// The first user to ever contact the bot claims the admin role.
const adminID = int64(1)

func (e *testEnv) asAdmin(t *testing.T) {
	t.Helper()
	e.engine.Handle(Interaction{UserID: adminID, Name: "alice", Kind: KindHelp})
	if e.resolver.RoleOf(adminID) != perm.RoleAdmin {
		t.Fatalf("first user did not become admin")
	}
}

func TestStartShowsWelcomeAndMainMenu(t *testing.T) {
	env := newTestEnv(t)

	resp := env.engine.Handle(Interaction{UserID: adminID, Name: "alice", Kind: KindStart})
	if resp.Page == nil || resp.Page.PageID != "main" {
		t.Fatalf("start should render the main menu: %+v", resp)
	}
	if resp.Text == "" {
		t.Fatalf("start should carry the welcome message")
	}
	if got := env.collector.Count(analytics.KindPage, "main", analytics.MetricView); got != 1 {
		t.Fatalf("start should count one view, got %d", got)
	}
}

func TestAdminPanelGatedByRole(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)

	resp := env.engine.Handle(Interaction{UserID: adminID, Kind: KindAdmin})
	if len(resp.Choices) != 5 {
		t.Fatalf("admin should see all 5 panel entries, got %+v", resp.Choices)
	}

	// A plain user gets refused outright.
	resp = env.engine.Handle(Interaction{UserID: 2, Name: "bob", Kind: KindAdmin})
	if len(resp.Choices) != 0 || !strings.Contains(resp.Text, "⛔") {
		t.Fatalf("plain user should be refused: %+v", resp)
	}

	// Staff can edit but sees neither analytics nor user management.
	if err := env.resolver.SetRole(adminID, 2, perm.RoleStaff); err != nil {
		t.Fatalf("set role failed: %v", err)
	}
	resp = env.engine.Handle(Interaction{UserID: 2, Kind: KindAdmin})
	if len(resp.Choices) != 3 {
		t.Fatalf("staff should see 3 panel entries, got %+v", resp.Choices)
	}
}

func TestCallbackNavigation(t *testing.T) {
	env := newTestEnv(t)

	resp := env.engine.Handle(Interaction{UserID: 5, Kind: KindCallback, Data: "page:main"})
	if resp.Page == nil || resp.Page.PageID != "main" {
		t.Fatalf("page token should navigate: %+v", resp)
	}
	if !resp.Edit {
		t.Fatalf("navigation should edit the originating message")
	}

	resp = env.engine.Handle(Interaction{UserID: 5, Kind: KindCallback, Data: "page:ghost"})
	if resp.Page != nil || !strings.Contains(resp.Text, "Page unavailable") {
		t.Fatalf("missing page should produce a page notice: %+v", resp)
	}
}

func TestEditorFlowThroughEngine(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)

	resp := env.engine.Handle(Interaction{UserID: adminID, Kind: KindCallback, Data: admNew})
	if resp.Text == "" || len(resp.Choices) == 0 {
		t.Fatalf("adm_new should open the editor: %+v", resp)
	}

	env.engine.Handle(Interaction{UserID: adminID, Kind: KindText, Text: "Contact"})
	env.engine.Handle(Interaction{UserID: adminID, Kind: KindText, Text: "Write us anytime."})
	resp = env.engine.Handle(Interaction{UserID: adminID, Kind: KindCallback, Data: editor.ChoiceFinish})
	if !strings.Contains(resp.Text, "saved") {
		t.Fatalf("finish should confirm the commit: %+v", resp)
	}

	if _, err := env.graph.GetPage("contact"); err != nil {
		t.Fatalf("page not committed through engine: %v", err)
	}
}

func TestStaleEditorCallback(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)

	resp := env.engine.Handle(Interaction{UserID: adminID, Kind: KindCallback, Data: editor.ChoiceFinish})
	if !strings.Contains(resp.Text, "no longer active") {
		t.Fatalf("stale editor callback should be called out: %+v", resp)
	}
}

func TestCancelCommand(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)

	resp := env.engine.Handle(Interaction{UserID: adminID, Kind: KindCancel})
	if !strings.Contains(resp.Text, "Nothing to cancel") {
		t.Fatalf("cancel without session: %+v", resp)
	}

	env.engine.Handle(Interaction{UserID: adminID, Kind: KindCallback, Data: admNew})
	resp = env.engine.Handle(Interaction{UserID: adminID, Kind: KindCancel})
	if !strings.Contains(resp.Text, "Cancelled") {
		t.Fatalf("cancel with session: %+v", resp)
	}
}

func TestPromoteDemoteCommands(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)
	env.engine.Handle(Interaction{UserID: 2, Name: "bob", Kind: KindHelp})

	resp := env.engine.Handle(Interaction{UserID: adminID, Kind: KindPromote, Text: "2"})
	if !strings.Contains(resp.Text, "staff") {
		t.Fatalf("promote reply wrong: %+v", resp)
	}
	if env.resolver.RoleOf(2) != perm.RoleStaff {
		t.Fatalf("promote did not apply")
	}

	resp = env.engine.Handle(Interaction{UserID: adminID, Kind: KindPromote, Text: "bogus"})
	if !strings.Contains(resp.Text, "Usage") {
		t.Fatalf("bad target should show usage: %+v", resp)
	}

	// Non-admins cannot change roles.
	resp = env.engine.Handle(Interaction{UserID: 2, Kind: KindDemote, Text: "1"})
	if !strings.Contains(resp.Text, "⛔") {
		t.Fatalf("staff demoting admin should be refused: %+v", resp)
	}
}

func TestSetWelcome(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)

	resp := env.engine.Handle(Interaction{UserID: adminID, Kind: KindSetWelcome, Text: "Hi there!"})
	if !strings.Contains(resp.Text, "updated") {
		t.Fatalf("setwelcome reply wrong: %+v", resp)
	}
	if env.graph.Settings().WelcomeMessage != "Hi there!" {
		t.Fatalf("welcome message not applied")
	}

	resp = env.engine.Handle(Interaction{UserID: 9, Name: "eve", Kind: KindSetWelcome, Text: "pwned"})
	if !strings.Contains(resp.Text, "⛔") {
		t.Fatalf("plain user should be refused: %+v", resp)
	}
}

func TestAdminStatsCallback(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)
	env.engine.Handle(Interaction{UserID: adminID, Kind: KindStart})

	resp := env.engine.Handle(Interaction{UserID: adminID, Kind: KindCallback, Data: admStats})
	if !strings.Contains(resp.Text, "Analytics") {
		t.Fatalf("stats callback wrong: %+v", resp)
	}
	if !strings.Contains(resp.Text, "main") {
		t.Fatalf("recorded view missing from summary: %+v", resp)
	}
}

func TestSubmitDeliversResponse(t *testing.T) {
	env := newTestEnv(t)

	got := make(chan *Response, 1)
	in := Interaction{
		UserID: adminID,
		Name:   "alice",
		Kind:   KindHelp,
		Respond: func(resp *Response) error {
			got <- resp
			return nil
		},
	}
	if err := env.engine.Submit(context.Background(), in); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	select {
	case resp := <-got:
		if resp == nil || resp.Text == "" {
			t.Fatalf("empty response delivered: %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatalf("response was never delivered")
	}
}
