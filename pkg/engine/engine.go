package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bitter-oolong/telepage/pkg/action"
	"github.com/bitter-oolong/telepage/pkg/alog"
	"github.com/bitter-oolong/telepage/pkg/analytics"
	"github.com/bitter-oolong/telepage/pkg/editor"
	"github.com/bitter-oolong/telepage/pkg/errs"
	"github.com/bitter-oolong/telepage/pkg/pages"
	"github.com/bitter-oolong/telepage/pkg/perm"
	"github.com/bitter-oolong/telepage/pkg/task"
)

// Interaction kinds delivered by the transport.
const (
	KindStart      = "start"
	KindHelp       = "help"
	KindAdmin      = "admin"
	KindText       = "text"
	KindCallback   = "callback"
	KindCancel     = "cancel"
	KindPromote    = "promote"
	KindDemote     = "demote"
	KindSetWelcome = "setwelcome"
)

// Interaction is one incoming chat event.
type Interaction struct {
	UserID int64
	Name   string
	Kind   string
	Text   string // free text, command argument
	Data   string // callback data

	// Respond delivers the outcome back through the transport. Called at
	// most once per interaction.
	Respond func(*Response) error
}

// Response is what the transport should show.
type Response struct {
	Text    string
	Page    *action.RenderedPage
	URL     string
	Choices []editor.Choice
	Edit    bool // edit the originating message instead of sending a new one
}

// Admin-panel callback data values.
const (
	admNew      = "adm_new"
	admEditList = "adm_edit_list"
	admDelList  = "adm_del_list"
	admStats    = "adm_stats"
	admUsers    = "adm_users"
	admEditPfx  = "adm_edit:"
	admDelPfx   = "adm_del:"
)

const interactionTask = "interaction"

// Engine routes interactions: permission check first, then either the
// editor session (when one is active for the user) or normal navigation
// through the dispatcher. Interactions are serialized per user by the task
// router; different users proceed concurrently.
type Engine struct {
	graph      *pages.Graph
	dispatcher *action.Dispatcher
	editor     *editor.Manager
	perm       *perm.Resolver
	collector  *analytics.Collector
	router     *task.Router
}

// New wires an engine and registers its interaction handler on the router.
func New(
	graph *pages.Graph,
	dispatcher *action.Dispatcher,
	editorMgr *editor.Manager,
	resolver *perm.Resolver,
	collector *analytics.Collector,
	router *task.Router,
) *Engine {
	e := &Engine{
		graph:      graph,
		dispatcher: dispatcher,
		editor:     editorMgr,
		perm:       resolver,
		collector:  collector,
		router:     router,
	}
	router.RegisterHandler(interactionTask, e.runTask)
	return e
}

// Submit enqueues an interaction, keeping per-user ordering.
func (e *Engine) Submit(ctx context.Context, in Interaction) error {
	return e.router.Dispatch(ctx, task.Task{
		Type:    interactionTask,
		Payload: in,
		Options: task.Options{
			GroupKey:    "user:" + strconv.FormatInt(in.UserID, 10),
			MaxAttempts: 1, // replies must not be duplicated by retries
		},
	})
}

func (e *Engine) runTask(ctx context.Context, payload any) error {
	in, ok := payload.(Interaction)
	if !ok {
		return fmt.Errorf("unexpected interaction payload %T", payload)
	}
	resp := e.Handle(in)
	if in.Respond == nil || resp == nil {
		return nil
	}
	if err := in.Respond(resp); err != nil {
		alog.ErrorWithErr("failed to deliver response", err)
	}
	return nil
}

// Handle processes one interaction synchronously and returns the response.
func (e *Engine) Handle(in Interaction) *Response {
	role := e.perm.Touch(in.UserID, in.Name)
	alog.Debugf("interaction kind=%s user=%d role=%s", in.Kind, in.UserID, role)

	switch in.Kind {
	case KindStart:
		return e.handleStart(in)
	case KindHelp:
		return &Response{Text: helpText(role)}
	case KindAdmin:
		return e.adminPanel(in.UserID)
	case KindCancel:
		if !e.editor.Active(in.UserID) {
			return &Response{Text: "Nothing to cancel."}
		}
		return editorResponse(e.editor.Cancel(in.UserID))
	case KindText:
		return e.handleText(in)
	case KindCallback:
		return e.handleCallback(in)
	case KindPromote, KindDemote:
		return e.handleRoleChange(in)
	case KindSetWelcome:
		return e.handleSetWelcome(in)
	default:
		return &Response{Text: errs.UserMessage(errs.Validationf("unsupported interaction"))}
	}
}

func (e *Engine) handleStart(in Interaction) *Response {
	menu, err := e.graph.MainMenu()
	if err != nil {
		return &Response{Text: errs.UserMessage(err)}
	}
	result, err := e.dispatcher.NavigateTo(in.UserID, menu.ID)
	if err != nil {
		return &Response{Text: errs.UserMessage(err)}
	}
	return &Response{
		Text: e.graph.Settings().WelcomeMessage,
		Page: result.Page,
	}
}

func (e *Engine) handleText(in Interaction) *Response {
	if e.editor.Active(in.UserID) {
		reply, err := e.editor.Input(in.UserID, in.Text)
		if err != nil {
			return &Response{Text: errs.UserMessage(err)}
		}
		return editorResponse(reply)
	}
	// Free text outside a session is navigation territory.
	return &Response{Text: "Use the buttons to navigate, or /start for the main menu."}
}

func (e *Engine) handleCallback(in Interaction) *Response {
	data := strings.TrimSpace(in.Data)

	switch {
	case strings.HasPrefix(data, "ed_"):
		if !e.editor.Active(in.UserID) {
			// Stale keyboard from an expired or finished session.
			return &Response{Text: "This editor session is no longer active.", Edit: true}
		}
		reply, err := e.editor.Choose(in.UserID, data)
		if err != nil {
			return &Response{Text: errs.UserMessage(err), Edit: true}
		}
		resp := editorResponse(reply)
		resp.Edit = true
		return resp

	case strings.HasPrefix(data, "adm_"):
		return e.adminCallback(in.UserID, data)

	default:
		result, err := e.dispatcher.Dispatch(in.UserID, data, "")
		if err != nil {
			// Tokens only ever reference pages and buttons.
			if errs.IsKind(err, errs.KindNotFound) {
				return &Response{Text: action.PageUnavailable, Edit: true}
			}
			return &Response{Text: errs.UserMessage(err), Edit: true}
		}
		return resultResponse(result)
	}
}

func (e *Engine) handleRoleChange(in Interaction) *Response {
	target, err := strconv.ParseInt(strings.TrimSpace(in.Text), 10, 64)
	if err != nil {
		return &Response{Text: "Usage: send the numeric user id, e.g. /promote 12345."}
	}
	if in.Kind == KindPromote {
		err = e.perm.Promote(in.UserID, target)
	} else {
		err = e.perm.Demote(in.UserID, target)
	}
	if err != nil {
		return &Response{Text: errs.UserMessage(err)}
	}
	return &Response{Text: fmt.Sprintf("✅ User %d is now %s.", target, e.perm.RoleOf(target))}
}

func (e *Engine) handleSetWelcome(in Interaction) *Response {
	if !e.perm.Can(in.UserID, perm.CapUseEditor) {
		return &Response{Text: errs.UserMessage(errs.Forbiddenf("editor capability required"))}
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return &Response{Text: "Usage: /setwelcome <message>."}
	}
	if err := e.graph.SetWelcomeMessage(text); err != nil {
		return &Response{Text: errs.UserMessage(err)}
	}
	return &Response{Text: "✅ Welcome message updated."}
}

func (e *Engine) adminPanel(userID int64) *Response {
	if !e.perm.Can(userID, perm.CapUseEditor) {
		return &Response{Text: errs.UserMessage(errs.Forbiddenf("editor capability required"))}
	}
	choices := []editor.Choice{
		{Label: "📄 New page", Data: admNew},
		{Label: "✏️ Edit page", Data: admEditList},
		{Label: "🗑 Delete page", Data: admDelList},
	}
	if e.perm.Can(userID, perm.CapViewAnalytics) {
		choices = append(choices, editor.Choice{Label: "📊 Analytics", Data: admStats})
	}
	if e.perm.Can(userID, perm.CapManageUsers) {
		choices = append(choices, editor.Choice{Label: "👥 Users", Data: admUsers})
	}
	return &Response{Text: "⚙️ Admin panel", Choices: choices}
}

func (e *Engine) adminCallback(userID int64, data string) *Response {
	if !e.perm.Can(userID, perm.CapUseEditor) {
		return &Response{Text: errs.UserMessage(errs.Forbiddenf("editor capability required")), Edit: true}
	}

	switch {
	case data == admNew:
		resp := editorResponse(e.editor.Start(userID))
		resp.Edit = true
		return resp

	case data == admEditList, data == admDelList:
		prefix := admEditPfx
		verb := "edit"
		if data == admDelList {
			prefix = admDelPfx
			verb = "delete"
		}
		all := e.graph.Pages()
		choices := make([]editor.Choice, 0, len(all))
		for _, p := range all {
			choices = append(choices, editor.Choice{
				Label: fmt.Sprintf("%s (%s)", p.Title, p.ID),
				Data:  prefix + p.ID,
			})
		}
		return &Response{Text: "Choose a page to " + verb + ":", Choices: choices, Edit: true}

	case strings.HasPrefix(data, admEditPfx):
		reply, err := e.editor.StartEdit(userID, data[len(admEditPfx):])
		if err != nil {
			return &Response{Text: errs.UserMessage(err), Edit: true}
		}
		resp := editorResponse(reply)
		resp.Edit = true
		return resp

	case strings.HasPrefix(data, admDelPfx):
		reply, err := e.editor.StartDelete(userID, data[len(admDelPfx):])
		if err != nil {
			return &Response{Text: errs.UserMessage(err), Edit: true}
		}
		resp := editorResponse(reply)
		resp.Edit = true
		return resp

	case data == admStats:
		result, err := e.dispatcher.RunCommand(userID, CommandShowAnalytics, "")
		if err != nil {
			return &Response{Text: errs.UserMessage(err), Edit: true}
		}
		return &Response{Text: result.Text, Edit: true}

	case data == admUsers:
		result, err := e.dispatcher.RunCommand(userID, CommandShowUsers, "")
		if err != nil {
			return &Response{Text: errs.UserMessage(err), Edit: true}
		}
		return &Response{Text: result.Text, Edit: true}

	default:
		return &Response{Text: errs.UserMessage(errs.Validationf("unknown panel action")), Edit: true}
	}
}

func editorResponse(reply *editor.Reply) *Response {
	return &Response{Text: reply.Text, Choices: reply.Choices}
}

func resultResponse(result *action.Result) *Response {
	switch result.Kind {
	case action.ResultPage:
		return &Response{Page: result.Page, Edit: true}
	case action.ResultURL:
		return &Response{URL: result.URL, Text: result.Text}
	default:
		return &Response{Text: result.Text}
	}
}

func helpText(role perm.Role) string {
	var b strings.Builder
	b.WriteString("ℹ️ Commands:\n/start — main menu\n/help — this message")
	if role == perm.RoleAdmin || role == perm.RoleStaff {
		b.WriteString("\n/admin — admin panel\n/cancel — abort the current edit\n/setwelcome <text> — change the greeting")
	}
	if role == perm.RoleAdmin {
		b.WriteString("\n/promote <user id> — raise a user's role\n/demote <user id> — lower a user's role")
	}
	return b.String()
}
