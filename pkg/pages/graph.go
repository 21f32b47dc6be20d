package pages

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/bitter-oolong/telepage/pkg/alog"
	"github.com/bitter-oolong/telepage/pkg/errs"
	"github.com/bitter-oolong/telepage/pkg/store"
)

// document is the persisted shape of the botconfig domain.
type document struct {
	Pages    map[string]*Page `json:"pages"`
	Settings Settings         `json:"settings"`
}

// Snapshot is an immutable view of the graph taken at one point in time.
// Readers must not mutate the pages it hands out.
type Snapshot struct {
	pages    map[string]*Page
	settings Settings
}

// Page looks up a page in the snapshot.
func (s *Snapshot) Page(id string) (*Page, bool) {
	p, ok := s.pages[id]
	return p, ok
}

// Settings returns the snapshot's bot settings.
func (s *Snapshot) Settings() Settings {
	return s.settings
}

// Graph owns the tree of pages and buttons. Mutations are serialized by a
// single writer lock and become visible to readers through an atomically
// swapped snapshot, so concurrent reads see either the pre- or
// post-mutation state, never a partial one. Every successful mutation
// writes through to the state store before returning.
type Graph struct {
	mu       sync.Mutex
	pages    map[string]*Page
	settings Settings

	snap atomic.Pointer[Snapshot]

	st      store.Store
	flusher *store.Flusher
}

const (
	defaultMainMenuID = "main"
	defaultWelcome    = "👋 Welcome! Use the buttons below to navigate."
)

// NewGraph creates an empty graph backed by st. The flusher is used to
// retry write-through failures; it may be nil in tests.
func NewGraph(st store.Store, flusher *store.Flusher) *Graph {
	g := &Graph{
		pages:   make(map[string]*Page),
		st:      st,
		flusher: flusher,
	}
	g.swapSnapshot()
	return g
}

// Load reads the botconfig document, seeding a default main menu on first
// run. An unparsable document is a fatal startup error.
func (g *Graph) Load() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var doc document
	found, err := store.LoadValue(g.st, store.DomainBotConfig, &doc)
	if err != nil {
		return fmt.Errorf("botconfig document is unreadable: %w", err)
	}
	if !found {
		g.pages = map[string]*Page{
			defaultMainMenuID: {
				ID:    defaultMainMenuID,
				Title: "Main menu",
				Body:  "Choose a section:",
			},
		}
		g.settings = Settings{
			WelcomeMessage: defaultWelcome,
			MainMenuID:     defaultMainMenuID,
		}
		g.swapSnapshot()
		return g.persistLocked()
	}

	if doc.Pages == nil {
		doc.Pages = make(map[string]*Page)
	}
	for id, p := range doc.Pages {
		if p == nil || p.ID != id {
			return fmt.Errorf("botconfig document is inconsistent: bad entry for page %q", id)
		}
		sortButtons(p)
	}
	g.pages = doc.Pages
	g.settings = doc.Settings
	if g.settings.MainMenuID == "" {
		g.settings.MainMenuID = defaultMainMenuID
	}
	g.swapSnapshot()
	return nil
}

// Snapshot returns the current immutable view for lock-free reads.
func (g *Graph) Snapshot() *Snapshot {
	return g.snap.Load()
}

// GetPage returns a copy of the page.
func (g *Graph) GetPage(id string) (*Page, error) {
	if p, ok := g.Snapshot().Page(id); ok {
		return p.Clone(), nil
	}
	return nil, errs.NotFoundf("page %q not found", id)
}

// Pages lists all pages sorted by id.
func (g *Graph) Pages() []*Page {
	snap := g.Snapshot()
	out := make([]*Page, 0, len(snap.pages))
	for _, p := range snap.pages {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Children lists the direct children of a page, sorted by id.
func (g *Graph) Children(id string) []*Page {
	snap := g.Snapshot()
	var out []*Page
	for _, p := range snap.pages {
		if p.ParentID == id {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MainMenu resolves the configured main menu page, falling back to any
// root page if the configured one is gone.
func (g *Graph) MainMenu() (*Page, error) {
	snap := g.Snapshot()
	if p, ok := snap.pages[snap.settings.MainMenuID]; ok {
		return p.Clone(), nil
	}
	var roots []*Page
	for _, p := range snap.pages {
		if p.ParentID == "" {
			roots = append(roots, p)
		}
	}
	if len(roots) == 0 {
		return nil, errs.NotFoundf("no main menu page configured")
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].ID < roots[j].ID })
	return roots[0].Clone(), nil
}

// Settings returns the current bot settings.
func (g *Graph) Settings() Settings {
	return g.Snapshot().settings
}

// SetMainMenu points the main menu at an existing page.
func (g *Graph) SetMainMenu(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.pages[id]; !ok {
		return errs.NotFoundf("page %q not found", id)
	}
	g.settings.MainMenuID = id
	g.swapSnapshot()
	return g.persistLocked()
}

// SetWelcomeMessage updates the greeting sent on first contact.
func (g *Graph) SetWelcomeMessage(text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settings.WelcomeMessage = text
	g.swapSnapshot()
	return g.persistLocked()
}

// CreatePage inserts a new page.
func (g *Graph) CreatePage(draft Page) (*Page, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.validateNewLocked(&draft); err != nil {
		return nil, err
	}
	p := draft.Clone()
	normalizeButtons(p)
	g.pages[p.ID] = p
	g.swapSnapshot()
	if err := g.persistLocked(); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// PagePatch carries the optional fields of an update.
type PagePatch struct {
	Title    *string
	Body     *string
	ParentID *string
}

// UpdatePage applies a patch to an existing page.
func (g *Graph) UpdatePage(id string, patch PagePatch) (*Page, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pages[id]
	if !ok {
		return nil, errs.NotFoundf("page %q not found", id)
	}
	if patch.ParentID != nil && *patch.ParentID != "" {
		parent := *patch.ParentID
		if _, ok := g.pages[parent]; !ok {
			return nil, errs.Validationf("parent page %q does not exist.", parent)
		}
		if parent == id || g.isDescendantLocked(parent, id) {
			return nil, errs.Validationf("page %q cannot become its own descendant.", id)
		}
	}

	updated := p.Clone()
	if patch.Title != nil {
		if *patch.Title == "" {
			return nil, errs.Validationf("page title must not be empty.")
		}
		updated.Title = *patch.Title
	}
	if patch.Body != nil {
		updated.Body = *patch.Body
	}
	if patch.ParentID != nil {
		updated.ParentID = *patch.ParentID
	}
	g.pages[id] = updated
	g.swapSnapshot()
	if err := g.persistLocked(); err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// DeletePage removes a page. Without cascade the call fails with
// HasChildren when sub-pages exist; with cascade the whole subtree goes,
// and Navigate buttons elsewhere that pointed into it are stripped.
func (g *Graph) DeletePage(id string, cascade bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.pages[id]; !ok {
		return errs.NotFoundf("page %q not found", id)
	}
	if id == g.settings.MainMenuID {
		return errs.Validationf("the main menu page cannot be deleted.")
	}

	doomed := map[string]bool{id: true}
	if cascade {
		g.collectSubtreeLocked(id, doomed)
	} else {
		for _, p := range g.pages {
			if p.ParentID == id {
				return errs.HasChildrenf("page %q has sub-pages", id)
			}
		}
	}

	for did := range doomed {
		delete(g.pages, did)
	}
	// Strip dangling Navigate buttons left behind by the delete.
	for pid, p := range g.pages {
		kept := p.Buttons[:0:0]
		for _, b := range p.Buttons {
			if b.Action.Kind == ActionNavigate && doomed[b.Action.TargetPageID] {
				continue
			}
			kept = append(kept, b)
		}
		if len(kept) != len(p.Buttons) {
			updated := p.Clone()
			updated.Buttons = kept
			normalizeButtons(updated)
			g.pages[pid] = updated
		}
	}

	g.swapSnapshot()
	return g.persistLocked()
}

// AddButton appends a button to a page.
func (g *Graph) AddButton(pageID, label string, action Action) (*Button, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pages[pageID]
	if !ok {
		return nil, errs.NotFoundf("page %q not found", pageID)
	}
	if label == "" {
		return nil, errs.Validationf("button label must not be empty.")
	}
	if err := action.Validate(); err != nil {
		return nil, err
	}
	if err := g.checkNavigateTargetLocked(action, pageID); err != nil {
		return nil, err
	}

	updated := p.Clone()
	btn := Button{
		ID:     NewButtonID(),
		PageID: pageID,
		Label:  label,
		Action: action,
		Order:  len(updated.Buttons),
	}
	updated.Buttons = append(updated.Buttons, btn)
	g.pages[pageID] = updated
	g.swapSnapshot()
	if err := g.persistLocked(); err != nil {
		return nil, err
	}
	return &btn, nil
}

// RemoveButton deletes a button from a page.
func (g *Graph) RemoveButton(pageID, buttonID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pages[pageID]
	if !ok {
		return errs.NotFoundf("page %q not found", pageID)
	}
	updated := p.Clone()
	kept := updated.Buttons[:0:0]
	for _, b := range updated.Buttons {
		if b.ID != buttonID {
			kept = append(kept, b)
		}
	}
	if len(kept) == len(updated.Buttons) {
		return errs.NotFoundf("button %q not found on page %q", buttonID, pageID)
	}
	updated.Buttons = kept
	normalizeButtons(updated)
	g.pages[pageID] = updated
	g.swapSnapshot()
	return g.persistLocked()
}

// ReorderButtons applies a new display order; ids must be a permutation of
// the page's current button ids.
func (g *Graph) ReorderButtons(pageID string, orderedIDs []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pages[pageID]
	if !ok {
		return errs.NotFoundf("page %q not found", pageID)
	}
	if len(orderedIDs) != len(p.Buttons) {
		return errs.Validationf("reorder must list all %d buttons.", len(p.Buttons))
	}
	byID := make(map[string]Button, len(p.Buttons))
	for _, b := range p.Buttons {
		byID[b.ID] = b
	}
	updated := p.Clone()
	updated.Buttons = updated.Buttons[:0]
	for i, id := range orderedIDs {
		b, ok := byID[id]
		if !ok {
			return errs.Validationf("button %q is not on page %q.", id, pageID)
		}
		delete(byID, id)
		b.Order = i
		updated.Buttons = append(updated.Buttons, b)
	}
	g.pages[pageID] = updated
	g.swapSnapshot()
	return g.persistLocked()
}

// CommitDraft applies a whole page draft atomically: a new page is
// inserted, an existing one replaced together with its full button list.
// Used by the editor's terminal finish transition. mustCreate marks a
// draft from a create flow: if the id was taken since the draft started,
// the commit fails with a validation error instead of replacing the
// other page.
func (g *Graph) CommitDraft(draft Page, mustCreate bool) (*Page, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, exists := g.pages[draft.ID]
	if mustCreate || !exists {
		if err := g.validateNewLocked(&draft); err != nil {
			return nil, err
		}
	} else {
		if err := g.validateDraftButtonsLocked(&draft); err != nil {
			return nil, err
		}
	}

	p := draft.Clone()
	normalizeButtons(p)
	g.pages[p.ID] = p
	g.swapSnapshot()
	if err := g.persistLocked(); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Export serializes the full botconfig document. Registered as the
// flusher's snapshot source and handy for tests.
func (g *Graph) Export() (json.RawMessage, error) {
	snap := g.Snapshot()
	return json.MarshalIndent(document{Pages: snap.pages, Settings: snap.settings}, "", "  ")
}

func (g *Graph) validateNewLocked(draft *Page) error {
	if err := ValidatePageID(draft.ID); err != nil {
		return err
	}
	if _, exists := g.pages[draft.ID]; exists {
		return errs.Validationf("page id %q already exists.", draft.ID)
	}
	if draft.Title == "" {
		return errs.Validationf("page title must not be empty.")
	}
	if draft.ParentID != "" {
		if _, ok := g.pages[draft.ParentID]; !ok {
			return errs.Validationf("parent page %q does not exist.", draft.ParentID)
		}
	}
	return g.validateDraftButtonsLocked(draft)
}

func (g *Graph) validateDraftButtonsLocked(draft *Page) error {
	for i := range draft.Buttons {
		b := &draft.Buttons[i]
		if b.Label == "" {
			return errs.Validationf("button label must not be empty.")
		}
		if err := b.Action.Validate(); err != nil {
			return err
		}
		if err := g.checkNavigateTargetLocked(b.Action, draft.ID); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) checkNavigateTargetLocked(action Action, selfID string) error {
	if action.Kind != ActionNavigate {
		return nil
	}
	if action.TargetPageID == selfID {
		return nil
	}
	if _, ok := g.pages[action.TargetPageID]; !ok {
		return errs.Validationf("navigate target page %q does not exist.", action.TargetPageID)
	}
	return nil
}

func (g *Graph) isDescendantLocked(candidate, ancestor string) bool {
	seen := map[string]bool{}
	cur := candidate
	for cur != "" && !seen[cur] {
		seen[cur] = true
		p, ok := g.pages[cur]
		if !ok {
			return false
		}
		if p.ParentID == ancestor {
			return true
		}
		cur = p.ParentID
	}
	return false
}

func (g *Graph) collectSubtreeLocked(id string, acc map[string]bool) {
	for cid, p := range g.pages {
		if p.ParentID == id && !acc[cid] {
			acc[cid] = true
			g.collectSubtreeLocked(cid, acc)
		}
	}
}

func (g *Graph) swapSnapshot() {
	cp := make(map[string]*Page, len(g.pages))
	for id, p := range g.pages {
		cp[id] = p.Clone()
	}
	g.snap.Store(&Snapshot{pages: cp, settings: g.settings})
}

// persistLocked writes the document through to the store. Per the
// durability contract the in-memory state stays authoritative: an IO
// failure is logged and left to the flusher's retry cycle.
func (g *Graph) persistLocked() error {
	doc, err := g.Export()
	if err != nil {
		return errs.IO("failed to serialize botconfig document", err)
	}
	if err := g.st.Save(store.DomainBotConfig, doc); err != nil {
		alog.ErrorWithErr("botconfig write-through failed", err)
		if g.flusher != nil {
			g.flusher.MarkDirty(store.DomainBotConfig)
		}
	}
	return nil
}

func normalizeButtons(p *Page) {
	sortButtons(p)
	for i := range p.Buttons {
		if p.Buttons[i].ID == "" {
			p.Buttons[i].ID = NewButtonID()
		}
		p.Buttons[i].PageID = p.ID
		p.Buttons[i].Order = i
	}
}

func sortButtons(p *Page) {
	sort.SliceStable(p.Buttons, func(i, j int) bool {
		return p.Buttons[i].Order < p.Buttons[j].Order
	})
}
