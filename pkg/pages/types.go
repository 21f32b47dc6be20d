package pages

import (
	"strings"

	"github.com/bitter-oolong/telepage/pkg/errs"
	"github.com/google/uuid"
)

// ActionKind discriminates the button action variant.
type ActionKind string

const (
	ActionMessage  ActionKind = "message"
	ActionNavigate ActionKind = "navigate"
	ActionURL      ActionKind = "url"
	ActionCommand  ActionKind = "command"
)

// Action is the tagged effect a button performs on selection. Exactly one
// variant's payload fields are set, according to Kind.
type Action struct {
	Kind         ActionKind `json:"kind"`
	Text         string     `json:"text,omitempty"`           // message
	TargetPageID string     `json:"target_page_id,omitempty"` // navigate
	URL          string     `json:"url,omitempty"`            // url
	Command      string     `json:"command,omitempty"`        // command
	Arg          string     `json:"arg,omitempty"`            // command argument
}

// Validate checks that the action carries exactly its variant's payload.
func (a Action) Validate() error {
	switch a.Kind {
	case ActionMessage:
		if a.Text == "" {
			return errs.Validationf("message action needs text.")
		}
	case ActionNavigate:
		if a.TargetPageID == "" {
			return errs.Validationf("navigate action needs a target page.")
		}
	case ActionURL:
		if !strings.HasPrefix(a.URL, "http://") && !strings.HasPrefix(a.URL, "https://") {
			return errs.Validationf("url action needs an http(s) URL.")
		}
	case ActionCommand:
		if a.Command == "" {
			return errs.Validationf("command action needs a command name.")
		}
	default:
		return errs.Validationf("unknown action kind %q.", string(a.Kind))
	}
	return nil
}

// MessageAction builds a Message variant.
func MessageAction(text string) Action {
	return Action{Kind: ActionMessage, Text: text}
}

// NavigateAction builds a Navigate variant.
func NavigateAction(targetPageID string) Action {
	return Action{Kind: ActionNavigate, TargetPageID: targetPageID}
}

// URLAction builds an OpenURL variant.
func URLAction(url string) Action {
	return Action{Kind: ActionURL, URL: url}
}

// CommandAction builds a Command variant.
func CommandAction(name, arg string) Action {
	return Action{Kind: ActionCommand, Command: name, Arg: arg}
}

// Button is a labeled trigger attached to a page.
type Button struct {
	ID     string `json:"id"`
	PageID string `json:"page_id"`
	Label  string `json:"label"`
	Action Action `json:"action"`
	Order  int    `json:"order"`
}

// Page is a navigable content node. Buttons is kept sorted by Order, which
// is also the display order.
type Page struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	ParentID string   `json:"parent_id,omitempty"`
	Buttons  []Button `json:"buttons"`
}

// Clone deep-copies the page so callers can't mutate graph state.
func (p *Page) Clone() *Page {
	cp := *p
	cp.Buttons = make([]Button, len(p.Buttons))
	copy(cp.Buttons, p.Buttons)
	return &cp
}

// ButtonByID finds a button on the page.
func (p *Page) ButtonByID(id string) (*Button, bool) {
	for i := range p.Buttons {
		if p.Buttons[i].ID == id {
			return &p.Buttons[i], true
		}
	}
	return nil, false
}

// Settings holds bot-wide content settings stored alongside the pages.
type Settings struct {
	WelcomeMessage string `json:"welcome_message"`
	MainMenuID     string `json:"main_menu"`
}

// NewButtonID generates a button id.
func NewButtonID() string {
	return "btn_" + uuid.NewString()[:8]
}

// ValidatePageID enforces the slug shape used in navigation tokens.
func ValidatePageID(id string) error {
	if id == "" {
		return errs.Validationf("page id must not be empty.")
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return errs.Validationf("page id %q may only contain a-z, 0-9, '-' and '_'.", id)
		}
	}
	return nil
}

// SlugFromTitle derives a usable page id from a free-text title.
func SlugFromTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "page-" + uuid.NewString()[:8]
	}
	return slug
}
