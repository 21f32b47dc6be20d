package perm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bitter-oolong/telepage/pkg/alog"
	"github.com/bitter-oolong/telepage/pkg/errs"
	"github.com/bitter-oolong/telepage/pkg/store"
)

// Role is a user's permission tier.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleStaff Role = "staff"
	RoleUser  Role = "user"
)

// ParseRole converts a string to a Role.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(s)) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleStaff:
		return RoleStaff, nil
	case RoleUser:
		return RoleUser, nil
	default:
		return "", errs.Validationf("unknown role %q.", s)
	}
}

// Capability is a named permission granted per role.
type Capability string

const (
	CapNavigate      Capability = "navigate"
	CapUseEditor     Capability = "useEditor"
	CapViewAnalytics Capability = "viewAnalytics"
	CapManageUsers   Capability = "manageUsers"
)

// roleCaps is the fixed role-to-capability mapping.
var roleCaps = map[Role]map[Capability]bool{
	RoleAdmin: {CapNavigate: true, CapUseEditor: true, CapViewAnalytics: true, CapManageUsers: true},
	RoleStaff: {CapNavigate: true, CapUseEditor: true},
	RoleUser:  {CapNavigate: true},
}

// User is one known chat identity.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name,omitempty"`
	Role      Role      `json:"role"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

type usersDocument struct {
	Users map[string]*User `json:"users"`
}

// Resolver owns the user table: role lookups, capability checks and
// admin-only role mutations. Records are created lazily on first contact;
// the very first identity ever seen becomes the admin.
type Resolver struct {
	mu      sync.RWMutex
	users   map[int64]*User
	st      store.Store
	flusher *store.Flusher
	now     func() time.Time
}

// NewResolver creates a resolver backed by st. flusher may be nil in tests.
func NewResolver(st store.Store, flusher *store.Flusher) *Resolver {
	return &Resolver{
		users:   make(map[int64]*User),
		st:      st,
		flusher: flusher,
		now:     time.Now,
	}
}

// Load reads the users document. An unparsable document is a fatal
// startup error.
func (r *Resolver) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var doc usersDocument
	found, err := store.LoadValue(r.st, store.DomainUsers, &doc)
	if err != nil {
		return fmt.Errorf("users document is unreadable: %w", err)
	}
	if !found {
		return nil
	}
	for key, u := range doc.Users {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || u == nil || u.ID != id {
			return fmt.Errorf("users document is inconsistent: bad entry %q", key)
		}
		r.users[id] = u
	}
	return nil
}

// Touch records an interaction from userID, creating the record on first
// contact. Returns the user's current role.
func (r *Resolver) Touch(userID int64, name string) Role {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		role := RoleUser
		if len(r.users) == 0 {
			// First contact ever claims the bot.
			role = RoleAdmin
			alog.Infof("first user %d promoted to admin", userID)
		}
		now := r.now()
		u = &User{ID: userID, Name: name, Role: role, FirstSeen: now, LastSeen: now}
		r.users[userID] = u
		// A new record can carry the admin claim, so it goes straight to
		// the store. Plain last-seen updates below ride the flusher.
		_ = r.persistLocked()
		return u.Role
	}
	u.LastSeen = r.now()
	if name != "" {
		u.Name = name
	}
	r.markDirtyLocked()
	return u.Role
}

// RoleOf returns the role of userID, defaulting unseen identities to user.
func (r *Resolver) RoleOf(userID int64) Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[userID]; ok {
		return u.Role
	}
	return RoleUser
}

// Can answers a capability check for userID.
func (r *Resolver) Can(userID int64, cap Capability) bool {
	return roleCaps[r.RoleOf(userID)][cap]
}

// SetRole assigns a role to target. The caller needs manageUsers.
func (r *Resolver) SetRole(callerID, targetID int64, role Role) error {
	if !r.Can(callerID, CapManageUsers) {
		return errs.Forbiddenf("user %d may not manage users", callerID)
	}
	if _, ok := roleCaps[role]; !ok {
		return errs.Validationf("unknown role %q.", string(role))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[targetID]
	if !ok {
		return errs.NotFoundf("user %d not found", targetID)
	}
	if u.Role == role {
		return nil
	}
	u.Role = role
	alog.Infof("role changed: caller=%d target=%d role=%s", callerID, targetID, role)
	return r.persistLocked()
}

// Promote raises target one tier (user → staff → admin).
func (r *Resolver) Promote(callerID, targetID int64) error {
	switch r.RoleOf(targetID) {
	case RoleUser:
		return r.SetRole(callerID, targetID, RoleStaff)
	case RoleStaff:
		return r.SetRole(callerID, targetID, RoleAdmin)
	default:
		return errs.Validationf("user %d is already an admin.", targetID)
	}
}

// Demote lowers target one tier (admin → staff → user).
func (r *Resolver) Demote(callerID, targetID int64) error {
	switch r.RoleOf(targetID) {
	case RoleAdmin:
		return r.SetRole(callerID, targetID, RoleStaff)
	case RoleStaff:
		return r.SetRole(callerID, targetID, RoleUser)
	default:
		return errs.Validationf("user %d already has the lowest role.", targetID)
	}
}

// Users lists all known users, admins first, then by id.
func (r *Resolver) Users() []User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Role != out[j].Role {
			return roleRank(out[i].Role) < roleRank(out[j].Role)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Find matches users by id or name substring, case-insensitive.
func (r *Resolver) Find(query string) []User {
	query = strings.ToLower(strings.TrimSpace(query))
	var out []User
	for _, u := range r.Users() {
		if strings.Contains(strings.ToLower(u.Name), query) ||
			strings.Contains(strconv.FormatInt(u.ID, 10), query) {
			out = append(out, u)
		}
	}
	return out
}

// Export serializes the users document; registered as the flusher source.
func (r *Resolver) Export() (json.RawMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return json.MarshalIndent(r.exportLocked(), "", "  ")
}

func (r *Resolver) exportLocked() usersDocument {
	doc := usersDocument{Users: make(map[string]*User, len(r.users))}
	for id, u := range r.users {
		cp := *u
		doc.Users[strconv.FormatInt(id, 10)] = &cp
	}
	return doc
}

// persistLocked writes the user table through to the store, deferring to
// the flusher retry cycle on IO failure.
func (r *Resolver) persistLocked() error {
	data, err := json.MarshalIndent(r.exportLocked(), "", "  ")
	if err != nil {
		return errs.IO("failed to serialize users document", err)
	}
	if err := r.st.Save(store.DomainUsers, data); err != nil {
		alog.ErrorWithErr("users write-through failed", err)
		r.markDirtyLocked()
	}
	return nil
}

func (r *Resolver) markDirtyLocked() {
	if r.flusher != nil {
		r.flusher.MarkDirty(store.DomainUsers)
	}
}

func roleRank(role Role) int {
	switch role {
	case RoleAdmin:
		return 0
	case RoleStaff:
		return 1
	default:
		return 2
	}
}
