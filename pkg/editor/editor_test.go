package editor

import (
	"bytes"
	"testing"
	"time"

	"github.com/bitter-oolong/telepage/pkg/errs"
	"github.com/bitter-oolong/telepage/pkg/pages"
	"github.com/bitter-oolong/telepage/pkg/store"
)

func newTestManager(t *testing.T) (*Manager, *pages.Graph) {
	t.Helper()
	g := pages.NewGraph(store.NewFileStore(t.TempDir()), nil)
	if err := g.Load(); err != nil {
		t.Fatalf("graph load failed: %v", err)
	}
	return NewManager(g, 0), g
}

func mustInput(t *testing.T, m *Manager, userID int64, text string) *Reply {
	t.Helper()
	reply, err := m.Input(userID, text)
	if err != nil {
		t.Fatalf("input %q failed: %v", text, err)
	}
	return reply
}

func mustChoose(t *testing.T, m *Manager, userID int64, data string) *Reply {
	t.Helper()
	reply, err := m.Choose(userID, data)
	if err != nil {
		t.Fatalf("choose %q failed: %v", data, err)
	}
	return reply
}

func TestCreateFlowCommitsPage(t *testing.T) {
	m, g := newTestManager(t)
	const admin = int64(7)

	m.Start(admin)
	mustInput(t, m, admin, "Opening Hours")
	mustInput(t, m, admin, "We are open 9-17.")
	mustChoose(t, m, admin, ChoiceAddButton)
	mustInput(t, m, admin, "Back to menu")
	mustChoose(t, m, admin, ChoiceTypeNavigate)
	mustInput(t, m, admin, "main")
	reply := mustChoose(t, m, admin, ChoiceFinish)

	if !reply.Done || reply.Committed == nil {
		t.Fatalf("finish did not commit: %+v", reply)
	}
	if m.Active(admin) {
		t.Fatalf("session should end after commit")
	}

	p, err := g.GetPage("opening-hours")
	if err != nil {
		t.Fatalf("committed page missing: %v", err)
	}
	if p.Body != "We are open 9-17." || len(p.Buttons) != 1 {
		t.Fatalf("unexpected committed page: %+v", p)
	}
	if p.Buttons[0].Action.Kind != pages.ActionNavigate || p.Buttons[0].Action.TargetPageID != "main" {
		t.Fatalf("unexpected button action: %+v", p.Buttons[0].Action)
	}
}

func TestCancelLeavesGraphUntouched(t *testing.T) {
	m, g := newTestManager(t)
	const admin = int64(7)

	before, err := g.Export()
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	m.Start(admin)
	mustInput(t, m, admin, "Doomed page")
	mustInput(t, m, admin, "Body")
	mustChoose(t, m, admin, ChoiceAddButton)
	mustInput(t, m, admin, "Click me")
	reply := mustChoose(t, m, admin, ChoiceCancel)
	if !reply.Done {
		t.Fatalf("cancel should end the session")
	}
	if m.Active(admin) {
		t.Fatalf("session still active after cancel")
	}

	after, err := g.Export()
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("cancelled session changed the graph")
	}
}

func TestFinishRejectsIDTakenByAnotherSession(t *testing.T) {
	m, g := newTestManager(t)

	// Two admins create pages with the same title; both drafts derive the
	// slug "same-title" because neither is committed yet.
	m.Start(1)
	mustInput(t, m, 1, "Same Title")
	mustInput(t, m, 1, "body from admin 1")
	m.Start(2)
	mustInput(t, m, 2, "Same Title")
	mustInput(t, m, 2, "body from admin 2")

	reply := mustChoose(t, m, 1, ChoiceFinish)
	if !reply.Done {
		t.Fatalf("first finish should commit: %+v", reply)
	}

	reply = mustChoose(t, m, 2, ChoiceFinish)
	if reply.Done {
		t.Fatalf("second finish must not replace the committed page: %+v", reply)
	}
	if !m.Active(2) {
		t.Fatalf("session should survive the rejected commit")
	}
	if reply.Text == "" {
		t.Fatalf("expected a retry prompt")
	}

	p, err := g.GetPage("same-title")
	if err != nil {
		t.Fatalf("committed page missing: %v", err)
	}
	if p.Body != "body from admin 1" {
		t.Fatalf("first admin's page was overwritten: %q", p.Body)
	}
}

func TestEditFlowKeepsExistingContent(t *testing.T) {
	m, g := newTestManager(t)
	const admin = int64(7)
	if _, err := g.CreatePage(pages.Page{ID: "faq", Title: "FAQ", Body: "old", ParentID: "main"}); err != nil {
		t.Fatalf("seed page failed: %v", err)
	}

	if _, err := m.StartEdit(admin, "ghost"); !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("expected not-found for unknown page, got: %v", err)
	}

	if _, err := m.StartEdit(admin, "faq"); err != nil {
		t.Fatalf("start edit failed: %v", err)
	}
	mustChoose(t, m, admin, ChoiceEditBody)
	mustInput(t, m, admin, "new body")
	reply := mustChoose(t, m, admin, ChoiceFinish)
	if reply.Committed == nil || reply.Committed.Body != "new body" {
		t.Fatalf("edit not committed: %+v", reply)
	}
	if reply.Committed.Title != "FAQ" {
		t.Fatalf("title lost during edit: %+v", reply.Committed)
	}
}

func TestInvalidActionValueKeepsSession(t *testing.T) {
	m, _ := newTestManager(t)
	const admin = int64(7)

	m.Start(admin)
	mustInput(t, m, admin, "Links")
	mustInput(t, m, admin, "Body")
	mustChoose(t, m, admin, ChoiceAddButton)
	mustInput(t, m, admin, "Site")
	mustChoose(t, m, admin, ChoiceTypeURL)

	reply := mustInput(t, m, admin, "not-a-url")
	if !m.Active(admin) {
		t.Fatalf("session dropped on recoverable input")
	}
	if m.Step(admin) != StepButtonActionValue {
		t.Fatalf("expected to stay on value step, got %s", m.Step(admin))
	}
	if reply.Text == "" {
		t.Fatalf("expected a retry prompt")
	}

	mustInput(t, m, admin, "https://example.com")
	if m.Step(admin) != StepButtonChoice {
		t.Fatalf("valid value should advance, got %s", m.Step(admin))
	}
}

func TestNavigateValueMustTargetExistingPage(t *testing.T) {
	m, _ := newTestManager(t)
	const admin = int64(7)

	m.Start(admin)
	mustInput(t, m, admin, "Hub")
	mustInput(t, m, admin, "Body")
	mustChoose(t, m, admin, ChoiceAddButton)
	mustInput(t, m, admin, "Go")
	mustChoose(t, m, admin, ChoiceTypeNavigate)

	mustInput(t, m, admin, "nowhere")
	if m.Step(admin) != StepButtonActionValue {
		t.Fatalf("dangling target should not advance")
	}

	// The draft's own id is allowed even though it is not committed yet.
	mustInput(t, m, admin, "hub")
	if m.Step(admin) != StepButtonChoice {
		t.Fatalf("self target should advance, got %s", m.Step(admin))
	}
}

func TestDeleteEscalatesToCascade(t *testing.T) {
	m, g := newTestManager(t)
	const admin = int64(7)
	if _, err := g.CreatePage(pages.Page{ID: "section", Title: "Section", ParentID: "main"}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := g.CreatePage(pages.Page{ID: "leaf", Title: "Leaf", ParentID: "section"}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if _, err := m.StartDelete(admin, "section"); err != nil {
		t.Fatalf("start delete failed: %v", err)
	}
	reply := mustChoose(t, m, admin, ChoiceDelete)
	if reply.Done {
		t.Fatalf("delete with children should escalate, not finish")
	}
	found := false
	for _, c := range reply.Choices {
		if c.Data == ChoiceDeleteAll {
			found = true
		}
	}
	if !found {
		t.Fatalf("cascade choice not offered: %+v", reply.Choices)
	}

	reply = mustChoose(t, m, admin, ChoiceDeleteAll)
	if !reply.Done {
		t.Fatalf("cascade should finish the session")
	}
	for _, id := range []string{"section", "leaf"} {
		if _, err := g.GetPage(id); err == nil {
			t.Fatalf("page %q should be gone", id)
		}
	}
}

func TestSweepExpiredRemovesOnlyIdleSessions(t *testing.T) {
	m, _ := newTestManager(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	m.now = func() time.Time { return base }
	m.Start(1)
	m.now = func() time.Time { return base.Add(20 * time.Minute) }
	m.Start(2)

	m.now = func() time.Time { return base.Add(35 * time.Minute) }
	if removed := m.SweepExpired(); removed != 1 {
		t.Fatalf("expected 1 expired session, got %d", removed)
	}
	if m.Active(1) {
		t.Fatalf("idle session should be gone")
	}
	if !m.Active(2) {
		t.Fatalf("recent session should survive")
	}
}

func TestSessionsAreIndependentPerUser(t *testing.T) {
	m, _ := newTestManager(t)

	m.Start(1)
	m.Start(2)
	mustInput(t, m, 1, "Page One")
	mustInput(t, m, 2, "Page Two")

	if m.Step(1) != StepPageBody || m.Step(2) != StepPageBody {
		t.Fatalf("steps crossed between users: %s / %s", m.Step(1), m.Step(2))
	}
	m.Cancel(1)
	if m.Active(1) || !m.Active(2) {
		t.Fatalf("cancel leaked across users")
	}
}
