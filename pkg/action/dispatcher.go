package action

import (
	"strconv"
	"strings"
	"time"

	"github.com/bitter-oolong/telepage/pkg/alog"
	"github.com/bitter-oolong/telepage/pkg/analytics"
	"github.com/bitter-oolong/telepage/pkg/errs"
	"github.com/bitter-oolong/telepage/pkg/pages"
)

const timestampFormat = "2006-01-02 15:04:05"

// PageUnavailable is shown when a token resolves to a page that no
// longer exists.
const PageUnavailable = "⚠️ Page unavailable."

// ResultKind discriminates what the transport should do with a Result.
type ResultKind int

const (
	// ResultText shows a plain text reply.
	ResultText ResultKind = iota
	// ResultPage renders a page with its inline buttons.
	ResultPage
	// ResultURL asks the client to open a URL.
	ResultURL
)

// RenderedButton is one row of a render instruction.
type RenderedButton struct {
	Label string
	Token string
}

// RenderedPage is the render instruction handed to the transport.
type RenderedPage struct {
	PageID  string
	Title   string
	Body    string
	Buttons []RenderedButton
}

// Result is the outcome of one dispatch.
type Result struct {
	Kind ResultKind
	Text string
	URL  string
	Page *RenderedPage
}

// CommandHandler executes one internal command for a user and returns the
// display text.
type CommandHandler func(userID int64, arg string) (string, error)

// CommandRegistry resolves internal command names. The dispatcher only
// ever calls through it and implements no command logic itself.
type CommandRegistry interface {
	Lookup(name string) (CommandHandler, bool)
}

// Dispatcher interprets tokens against the current page graph snapshot.
// Exactly one analytics counter is incremented per successful dispatch.
type Dispatcher struct {
	graph     *pages.Graph
	collector *analytics.Collector
	commands  CommandRegistry
	now       func() time.Time
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(graph *pages.Graph, collector *analytics.Collector, commands CommandRegistry) *Dispatcher {
	return &Dispatcher{
		graph:     graph,
		collector: collector,
		commands:  commands,
		now:       time.Now,
	}
}

// Dispatch resolves a raw token for a user. param carries an optional raw
// argument from the interaction, substituted into {param}.
func (d *Dispatcher) Dispatch(userID int64, rawToken, param string) (*Result, error) {
	token, err := ParseToken(rawToken)
	if err != nil {
		return nil, err
	}
	if token.IsPage() {
		return d.NavigateTo(userID, token.PageID)
	}

	snap := d.graph.Snapshot()
	page, ok := snap.Page(token.PageID)
	if !ok {
		return nil, errs.NotFoundf("page %q not found", token.PageID)
	}
	button, ok := page.ButtonByID(token.ButtonID)
	if !ok {
		return nil, errs.NotFoundf("button %q not found on page %q", token.ButtonID, token.PageID)
	}

	switch button.Action.Kind {
	case pages.ActionMessage:
		d.collector.RecordClick(button.ID)
		return &Result{Kind: ResultText, Text: d.substitute(button.Action.Text, userID, param)}, nil

	case pages.ActionNavigate:
		target, ok := snap.Page(button.Action.TargetPageID)
		if !ok {
			// Target deleted since the keyboard was rendered. Degrade to a
			// notice; the missing page gets no view counted.
			alog.Warnf("navigate target %q gone (button %s)", button.Action.TargetPageID, button.ID)
			d.collector.RecordClick(button.ID)
			return &Result{Kind: ResultText, Text: PageUnavailable}, nil
		}
		d.collector.RecordView(target.ID)
		return &Result{Kind: ResultPage, Page: RenderPage(target)}, nil

	case pages.ActionURL:
		d.collector.RecordClick(button.ID)
		return &Result{Kind: ResultURL, URL: button.Action.URL, Text: button.Label}, nil

	case pages.ActionCommand:
		arg := button.Action.Arg
		if param != "" {
			arg = strings.ReplaceAll(arg, "{param}", param)
		}
		return d.RunCommand(userID, button.Action.Command, arg)

	default:
		return nil, errs.Validationf("button %q has an unknown action kind.", button.ID)
	}
}

// NavigateTo records a view of the page and returns its render instruction.
func (d *Dispatcher) NavigateTo(userID int64, pageID string) (*Result, error) {
	page, ok := d.graph.Snapshot().Page(pageID)
	if !ok {
		return nil, errs.NotFoundf("page %q not found", pageID)
	}
	d.collector.RecordView(page.ID)
	return &Result{Kind: ResultPage, Page: RenderPage(page)}, nil
}

// RunCommand resolves name in the registry and executes it. Unknown names
// fail with UnknownCommand; one command-use counter is recorded per run.
func (d *Dispatcher) RunCommand(userID int64, name, arg string) (*Result, error) {
	handler, ok := d.commands.Lookup(name)
	if !ok {
		return nil, errs.UnknownCommandf("command %q is not registered", name)
	}
	d.collector.RecordCommandUse(name)
	text, err := handler(userID, arg)
	if err != nil {
		return nil, err
	}
	return &Result{Kind: ResultText, Text: text}, nil
}

// substitute expands the recognized variables in message text.
func (d *Dispatcher) substitute(text string, userID int64, param string) string {
	r := strings.NewReplacer(
		"{user_id}", strconv.FormatInt(userID, 10),
		"{timestamp}", d.now().Format(timestampFormat),
		"{param}", param,
	)
	return r.Replace(text)
}

// RenderPage builds the render instruction for a page: title, body and the
// ordered buttons, each carrying its label and an opaque token.
func RenderPage(page *pages.Page) *RenderedPage {
	rendered := &RenderedPage{
		PageID:  page.ID,
		Title:   page.Title,
		Body:    page.Body,
		Buttons: make([]RenderedButton, 0, len(page.Buttons)),
	}
	for _, b := range page.Buttons {
		rendered.Buttons = append(rendered.Buttons, RenderedButton{
			Label: b.Label,
			Token: ButtonToken(page.ID, b.ID),
		})
	}
	return rendered
}
