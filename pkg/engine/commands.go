package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/bitter-oolong/telepage/pkg/action"
	"github.com/bitter-oolong/telepage/pkg/analytics"
	"github.com/bitter-oolong/telepage/pkg/errs"
	"github.com/bitter-oolong/telepage/pkg/perm"
)

// Built-in command names resolvable from button Command actions and the
// admin panel.
const (
	CommandShowAnalytics = "show_analytics"
	CommandShowUsers     = "show_users"
	CommandHelp          = "help"
)

// Registry is the fixed command registry handed to the dispatcher.
type Registry struct {
	handlers map[string]action.CommandHandler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]action.CommandHandler)}
}

// Register binds a handler to a command name.
func (r *Registry) Register(name string, handler action.CommandHandler) {
	r.handlers[name] = handler
}

// Lookup resolves a command name.
func (r *Registry) Lookup(name string) (action.CommandHandler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// BuiltinRegistry wires the internal commands. Capability checks happen
// inside the handlers so button-triggered invocations are gated the same
// way as the admin panel.
func BuiltinRegistry(resolver *perm.Resolver, collector *analytics.Collector) *Registry {
	r := NewRegistry()

	r.Register(CommandShowAnalytics, func(userID int64, arg string) (string, error) {
		if !resolver.Can(userID, perm.CapViewAnalytics) {
			return "", errs.Forbiddenf("user %d may not view analytics", userID)
		}
		since, err := parseSinceArg(arg)
		if err != nil {
			return "", err
		}
		return formatSummary(collector.Summary(since), since), nil
	})

	r.Register(CommandShowUsers, func(userID int64, arg string) (string, error) {
		if !resolver.Can(userID, perm.CapManageUsers) {
			return "", errs.Forbiddenf("user %d may not manage users", userID)
		}
		users := resolver.Users()
		if arg != "" {
			users = resolver.Find(arg)
		}
		return formatUsers(users, arg), nil
	})

	r.Register(CommandHelp, func(userID int64, arg string) (string, error) {
		return helpText(resolver.RoleOf(userID)), nil
	})

	return r
}

// parseSinceArg accepts "", "all", a day count like "7d", or a date.
func parseSinceArg(arg string) (time.Time, error) {
	arg = strings.TrimSpace(strings.ToLower(arg))
	switch {
	case arg == "" || arg == "all":
		return time.Time{}, nil
	case strings.HasSuffix(arg, "d"):
		var days int
		if _, err := fmt.Sscanf(arg, "%dd", &days); err != nil || days <= 0 {
			return time.Time{}, errs.Validationf("bad period %q, expected e.g. 7d.", arg)
		}
		return time.Now().UTC().AddDate(0, 0, -days), nil
	default:
		t, err := time.Parse("2006-01-02", arg)
		if err != nil {
			return time.Time{}, errs.Validationf("bad period %q, expected all, 7d or 2006-01-02.", arg)
		}
		return t, nil
	}
}

func formatSummary(rows []analytics.Row, since time.Time) string {
	var b strings.Builder
	if since.IsZero() {
		b.WriteString("📊 Analytics (all time)\n")
	} else {
		fmt.Fprintf(&b, "📊 Analytics since %s\n", since.UTC().Format("2006-01-02"))
	}
	if len(rows) == 0 {
		b.WriteString("No activity recorded yet.")
		return b.String()
	}
	for _, row := range rows {
		fmt.Fprintf(&b, "• %s %s — %d %s(s)\n", row.Kind, row.ID, row.Count, row.Metric)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatUsers(users []perm.User, query string) string {
	var b strings.Builder
	if query == "" {
		fmt.Fprintf(&b, "👥 %d known user(s)\n", len(users))
	} else {
		fmt.Fprintf(&b, "👥 %d user(s) matching %q\n", len(users), query)
	}
	if len(users) == 0 {
		b.WriteString("Nobody found.")
		return b.String()
	}
	for _, u := range users {
		name := u.Name
		if name == "" {
			name = "—"
		}
		fmt.Fprintf(&b, "• %d %s [%s] last seen %s\n",
			u.ID, name, u.Role, u.LastSeen.UTC().Format("2006-01-02 15:04"))
	}
	return strings.TrimRight(b.String(), "\n")
}
