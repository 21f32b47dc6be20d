package editor

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bitter-oolong/telepage/pkg/alog"
	"github.com/bitter-oolong/telepage/pkg/errs"
	"github.com/bitter-oolong/telepage/pkg/pages"
)

// Step names the current state of an editor session.
type Step string

const (
	StepIdle              Step = "idle"
	StepPageTitle         Step = "page_title"
	StepPageBody          Step = "page_body"
	StepButtonChoice      Step = "button_choice"
	StepButtonLabel       Step = "button_label"
	StepButtonActionType  Step = "button_action_type"
	StepButtonActionValue Step = "button_action_value"
	StepDeleteConfirm     Step = "delete_confirm"
)

// Choice data values the transport sends back through Choose.
const (
	ChoiceAddButton    = "ed_add_button"
	ChoiceRemoveButton = "ed_remove_button"
	ChoiceEditTitle    = "ed_edit_title"
	ChoiceEditBody     = "ed_edit_body"
	ChoiceFinish       = "ed_finish"
	ChoiceCancel       = "ed_cancel"
	ChoiceTypeMessage  = "ed_type_message"
	ChoiceTypeNavigate = "ed_type_navigate"
	ChoiceTypeURL      = "ed_type_url"
	ChoiceTypeCommand  = "ed_type_command"
	ChoiceDelete       = "ed_delete"
	ChoiceDeleteAll    = "ed_delete_cascade"
)

// Choice is a button offered to the admin at the current step.
type Choice struct {
	Label string
	Data  string
}

// Reply is what the session asks the transport to show next.
type Reply struct {
	Text      string
	Choices   []Choice
	Done      bool        // session ended (commit, cancel or delete)
	Committed *pages.Page // set when a draft was committed
}

// session is one admin's in-progress edit dialogue.
type session struct {
	userID int64
	step   Step
	draft  pages.Page
	isNew  bool

	pendingLabel string
	pendingKind  pages.ActionKind
	deleteTarget string

	lastInput time.Time
}

// Manager owns all editor sessions, keyed by admin user id. Transitions
// are driven only by the owning admin's inputs; a commit applies the whole
// draft atomically and a cancel at any step leaves the page graph
// untouched. Sessions idle past the timeout are torn down silently by
// SweepExpired.
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]*session
	graph    *pages.Graph
	timeout  time.Duration
	now      func() time.Time
}

// NewManager creates a session manager committing into graph.
func NewManager(graph *pages.Graph, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Manager{
		sessions: make(map[int64]*session),
		graph:    graph,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Active reports whether userID has a session in progress.
func (m *Manager) Active(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[userID]
	return ok
}

// Step returns the current step of userID's session, or StepIdle.
func (m *Manager) Step(userID int64) Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok {
		return s.step
	}
	return StepIdle
}

// Start begins a create-page flow.
func (m *Manager) Start(userID int64) *Reply {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[userID] = &session{
		userID:    userID,
		step:      StepPageTitle,
		isNew:     true,
		lastInput: m.now(),
	}
	alog.Debugf("editor session started for user %d", userID)
	return &Reply{Text: "📝 Creating a new page. Send its title:", Choices: cancelOnly()}
}

// StartEdit begins an edit flow with the existing page pre-populated,
// jumping straight to the button-choice step.
func (m *Manager) StartEdit(userID int64, pageID string) (*Reply, error) {
	page, err := m.graph.GetPage(pageID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s := &session{
		userID:    userID,
		step:      StepButtonChoice,
		draft:     *page.Clone(),
		lastInput: m.now(),
	}
	m.sessions[userID] = s
	return &Reply{Text: buttonChoicePrompt(&s.draft), Choices: buttonChoices(s)}, nil
}

// StartDelete begins a single-step delete confirmation.
func (m *Manager) StartDelete(userID int64, pageID string) (*Reply, error) {
	page, err := m.graph.GetPage(pageID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[userID] = &session{
		userID:       userID,
		step:         StepDeleteConfirm,
		deleteTarget: page.ID,
		lastInput:    m.now(),
	}
	return &Reply{
		Text: fmt.Sprintf("🗑 Delete page %q (%s)?", page.Title, page.ID),
		Choices: []Choice{
			{Label: "Delete", Data: ChoiceDelete},
			{Label: "Cancel", Data: ChoiceCancel},
		},
	}, nil
}

// Cancel discards the session from any step.
func (m *Manager) Cancel(userID int64) *Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[userID]; !ok {
		return &Reply{Text: "Nothing to cancel.", Done: true}
	}
	delete(m.sessions, userID)
	alog.Debugf("editor session cancelled for user %d", userID)
	return &Reply{Text: "✖️ Cancelled. Nothing was changed.", Done: true}
}

// Input advances the session with a free-text reply from its owner.
func (m *Manager) Input(userID int64, text string) (*Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil, errs.NotFoundf("no editor session for user %d", userID)
	}
	s.lastInput = m.now()
	text = strings.TrimSpace(text)

	switch s.step {
	case StepPageTitle:
		if text == "" {
			return &Reply{Text: "Title must not be empty. Send the page title:", Choices: cancelOnly()}, nil
		}
		s.draft.Title = text
		if s.isNew && s.draft.ID == "" {
			s.draft.ID = m.uniqueSlugLocked(text)
		}
		if s.isNew {
			s.step = StepPageBody
			return &Reply{Text: fmt.Sprintf("Page id will be %q. Now send the page body:", s.draft.ID), Choices: cancelOnly()}, nil
		}
		s.step = StepButtonChoice
		return &Reply{Text: buttonChoicePrompt(&s.draft), Choices: buttonChoices(s)}, nil

	case StepPageBody:
		s.draft.Body = text
		s.step = StepButtonChoice
		return &Reply{Text: buttonChoicePrompt(&s.draft), Choices: buttonChoices(s)}, nil

	case StepButtonLabel:
		if text == "" {
			return &Reply{Text: "Label must not be empty. Send the button label:", Choices: cancelOnly()}, nil
		}
		s.pendingLabel = text
		s.step = StepButtonActionType
		return &Reply{Text: "What should this button do?", Choices: actionTypeChoices()}, nil

	case StepButtonActionValue:
		action, err := m.buildActionLocked(s, text)
		if err != nil {
			// Recoverable: prompt again without losing the draft.
			return &Reply{Text: errs.UserMessage(err) + "\n" + actionValuePrompt(s.pendingKind), Choices: cancelOnly()}, nil
		}
		s.draft.Buttons = append(s.draft.Buttons, pages.Button{
			ID:     pages.NewButtonID(),
			PageID: s.draft.ID,
			Label:  s.pendingLabel,
			Action: action,
			Order:  len(s.draft.Buttons),
		})
		s.pendingLabel = ""
		s.pendingKind = ""
		s.step = StepButtonChoice
		return &Reply{Text: buttonChoicePrompt(&s.draft), Choices: buttonChoices(s)}, nil

	default:
		// Free text is not meaningful here; restate the pending choices.
		return m.restateLocked(s), nil
	}
}

// Choose advances the session with a button choice from its owner.
func (m *Manager) Choose(userID int64, data string) (*Reply, error) {
	if data == ChoiceCancel {
		return m.Cancel(userID), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil, errs.NotFoundf("no editor session for user %d", userID)
	}
	s.lastInput = m.now()

	switch s.step {
	case StepButtonChoice:
		switch data {
		case ChoiceAddButton:
			s.step = StepButtonLabel
			return &Reply{Text: "Send the button label:", Choices: cancelOnly()}, nil
		case ChoiceRemoveButton:
			if len(s.draft.Buttons) == 0 {
				return &Reply{Text: "No buttons to remove.\n" + buttonChoicePrompt(&s.draft), Choices: buttonChoices(s)}, nil
			}
			removed := s.draft.Buttons[len(s.draft.Buttons)-1]
			s.draft.Buttons = s.draft.Buttons[:len(s.draft.Buttons)-1]
			return &Reply{
				Text:    fmt.Sprintf("Removed button %q.\n%s", removed.Label, buttonChoicePrompt(&s.draft)),
				Choices: buttonChoices(s),
			}, nil
		case ChoiceEditTitle:
			s.step = StepPageTitle
			return &Reply{Text: "Send the new title:", Choices: cancelOnly()}, nil
		case ChoiceEditBody:
			s.step = StepPageBody
			return &Reply{Text: "Send the new body:", Choices: cancelOnly()}, nil
		case ChoiceFinish:
			committed, err := m.graph.CommitDraft(s.draft, s.isNew)
			if err != nil {
				if errs.IsKind(err, errs.KindValidation) {
					return &Reply{Text: errs.UserMessage(err) + "\n" + buttonChoicePrompt(&s.draft), Choices: buttonChoices(s)}, nil
				}
				return nil, err
			}
			delete(m.sessions, userID)
			alog.Infof("editor commit: user=%d page=%s buttons=%d", userID, committed.ID, len(committed.Buttons))
			return &Reply{
				Text:      fmt.Sprintf("✅ Page %q saved with %d button(s).", committed.Title, len(committed.Buttons)),
				Done:      true,
				Committed: committed,
			}, nil
		}

	case StepButtonActionType:
		kind, ok := actionKindForChoice(data)
		if ok {
			s.pendingKind = kind
			s.step = StepButtonActionValue
			return &Reply{Text: actionValuePrompt(kind), Choices: cancelOnly()}, nil
		}

	case StepDeleteConfirm:
		switch data {
		case ChoiceDelete:
			err := m.graph.DeletePage(s.deleteTarget, false)
			if errs.IsKind(err, errs.KindHasChildren) {
				return &Reply{
					Text: fmt.Sprintf("Page %q has sub-pages. Delete them too?", s.deleteTarget),
					Choices: []Choice{
						{Label: "Delete everything", Data: ChoiceDeleteAll},
						{Label: "Cancel", Data: ChoiceCancel},
					},
				}, nil
			}
			if err != nil {
				delete(m.sessions, userID)
				return &Reply{Text: errs.UserMessage(err), Done: true}, nil
			}
			delete(m.sessions, userID)
			return &Reply{Text: fmt.Sprintf("🗑 Page %q deleted.", s.deleteTarget), Done: true}, nil
		case ChoiceDeleteAll:
			err := m.graph.DeletePage(s.deleteTarget, true)
			delete(m.sessions, userID)
			if err != nil {
				return &Reply{Text: errs.UserMessage(err), Done: true}, nil
			}
			return &Reply{Text: fmt.Sprintf("🗑 Page %q and its sub-pages deleted.", s.deleteTarget), Done: true}, nil
		}
	}

	return m.restateLocked(s), nil
}

// SweepExpired tears down sessions idle past the timeout, exactly like an
// explicit cancel. Expiry is silent; the admin simply finds no session on
// their next input. Returns how many were removed.
func (m *Manager) SweepExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.timeout)
	removed := 0
	for id, s := range m.sessions {
		if s.lastInput.Before(cutoff) {
			delete(m.sessions, id)
			removed++
			alog.Infof("editor session for user %d expired after %s idle", id, m.timeout)
		}
	}
	return removed
}

func (m *Manager) buildActionLocked(s *session, text string) (pages.Action, error) {
	switch s.pendingKind {
	case pages.ActionMessage:
		if text == "" {
			return pages.Action{}, errs.Validationf("message text must not be empty.")
		}
		return pages.MessageAction(text), nil

	case pages.ActionNavigate:
		target := strings.TrimSpace(text)
		if target != s.draft.ID {
			if _, ok := m.graph.Snapshot().Page(target); !ok {
				return pages.Action{}, errs.Validationf("page %q does not exist.", target)
			}
		}
		return pages.NavigateAction(target), nil

	case pages.ActionURL:
		a := pages.URLAction(strings.TrimSpace(text))
		if err := a.Validate(); err != nil {
			return pages.Action{}, err
		}
		return a, nil

	case pages.ActionCommand:
		name, arg, _ := strings.Cut(text, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return pages.Action{}, errs.Validationf("command name must not be empty.")
		}
		return pages.CommandAction(name, strings.TrimSpace(arg)), nil

	default:
		return pages.Action{}, errs.Validationf("choose an action type first.")
	}
}

// uniqueSlugLocked derives a page id from the title, suffixing until it is
// free in the graph.
func (m *Manager) uniqueSlugLocked(title string) string {
	base := pages.SlugFromTitle(title)
	slug := base
	snap := m.graph.Snapshot()
	for i := 2; ; i++ {
		if _, exists := snap.Page(slug); !exists {
			return slug
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}

func (m *Manager) restateLocked(s *session) *Reply {
	switch s.step {
	case StepPageTitle:
		return &Reply{Text: "Send the page title:", Choices: cancelOnly()}
	case StepPageBody:
		return &Reply{Text: "Send the page body:", Choices: cancelOnly()}
	case StepButtonChoice:
		return &Reply{Text: buttonChoicePrompt(&s.draft), Choices: buttonChoices(s)}
	case StepButtonLabel:
		return &Reply{Text: "Send the button label:", Choices: cancelOnly()}
	case StepButtonActionType:
		return &Reply{Text: "What should this button do?", Choices: actionTypeChoices()}
	case StepButtonActionValue:
		return &Reply{Text: actionValuePrompt(s.pendingKind), Choices: cancelOnly()}
	case StepDeleteConfirm:
		return &Reply{
			Text: fmt.Sprintf("🗑 Delete page %q?", s.deleteTarget),
			Choices: []Choice{
				{Label: "Delete", Data: ChoiceDelete},
				{Label: "Cancel", Data: ChoiceCancel},
			},
		}
	default:
		return &Reply{Text: "Use the buttons to continue.", Choices: cancelOnly()}
	}
}

func buttonChoicePrompt(draft *pages.Page) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📄 %s (%s)\n", draft.Title, draft.ID)
	if len(draft.Buttons) == 0 {
		b.WriteString("No buttons yet.")
	} else {
		fmt.Fprintf(&b, "%d button(s):", len(draft.Buttons))
		for _, btn := range draft.Buttons {
			fmt.Fprintf(&b, "\n• %s [%s]", btn.Label, btn.Action.Kind)
		}
	}
	return b.String()
}

func buttonChoices(s *session) []Choice {
	choices := []Choice{{Label: "➕ Add button", Data: ChoiceAddButton}}
	if len(s.draft.Buttons) > 0 {
		choices = append(choices, Choice{Label: "➖ Remove last button", Data: ChoiceRemoveButton})
	}
	if !s.isNew {
		choices = append(choices,
			Choice{Label: "✏️ Edit title", Data: ChoiceEditTitle},
			Choice{Label: "✏️ Edit body", Data: ChoiceEditBody},
		)
	}
	return append(choices,
		Choice{Label: "✅ Finish", Data: ChoiceFinish},
		Choice{Label: "✖️ Cancel", Data: ChoiceCancel},
	)
}

func actionTypeChoices() []Choice {
	return []Choice{
		{Label: "💬 Show a message", Data: ChoiceTypeMessage},
		{Label: "📄 Open a page", Data: ChoiceTypeNavigate},
		{Label: "🔗 Open a URL", Data: ChoiceTypeURL},
		{Label: "⚙️ Run a command", Data: ChoiceTypeCommand},
		{Label: "✖️ Cancel", Data: ChoiceCancel},
	}
}

func actionKindForChoice(data string) (pages.ActionKind, bool) {
	switch data {
	case ChoiceTypeMessage:
		return pages.ActionMessage, true
	case ChoiceTypeNavigate:
		return pages.ActionNavigate, true
	case ChoiceTypeURL:
		return pages.ActionURL, true
	case ChoiceTypeCommand:
		return pages.ActionCommand, true
	default:
		return "", false
	}
}

func actionValuePrompt(kind pages.ActionKind) string {
	switch kind {
	case pages.ActionMessage:
		return "Send the message text ({user_id}, {timestamp} and {param} are substituted):"
	case pages.ActionNavigate:
		return "Send the target page id:"
	case pages.ActionURL:
		return "Send the URL (http:// or https://):"
	case pages.ActionCommand:
		return "Send the command as name or name:argument:"
	default:
		return "Send a value:"
	}
}

func cancelOnly() []Choice {
	return []Choice{{Label: "✖️ Cancel", Data: ChoiceCancel}}
}
