package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/okorolenko/substack-digest-bot/types"
)

// Level is the single privilege classification every handler consumes,
// instead of re-deriving owner/admin booleans.
type Level int

const (
	LevelUser Level = iota
	LevelAdmin
	LevelOwner
)

func (l Level) Privileged() bool {
	return l == LevelAdmin || l == LevelOwner
}

func (l Level) String() string {
	switch l {
	case LevelOwner:
		return "owner"
	case LevelAdmin:
		return "admin"
	default:
		return "user"
	}
}

var (
	// ErrHandleNotFound is distinct from the admin-membership errors: the
	// identifier could not be resolved at all.
	ErrHandleNotFound = errors.New("auth: handle not found")
	ErrAlreadyAdmin   = errors.New("auth: already an admin")
	ErrNotAdmin       = errors.New("auth: not an admin")
	ErrOwnerAsAdmin   = errors.New("auth: cannot add owner as admin")
	ErrBadIdentifier  = errors.New("auth: identifier must be a user id or @handle")
)

// Hierarchy resolves owner/admin/user levels from the singleton privilege
// record and manages the admin set. Caller-side authorization (only the owner
// may add admins) is enforced at the command layer.
type Hierarchy struct {
	config    types.ConfigStore
	directory types.DirectoryStore
}

func NewHierarchy(config types.ConfigStore, directory types.DirectoryStore) *Hierarchy {
	return &Hierarchy{config: config, directory: directory}
}

// Privileges exposes the raw record for callers that need the owner field.
func (h *Hierarchy) Privileges(ctx context.Context) (*types.PrivilegeRecord, error) {
	return h.config.GetPrivileges(ctx)
}

func (h *Hierarchy) LevelOf(ctx context.Context, userID int64) (Level, error) {
	rec, err := h.config.GetPrivileges(ctx)
	if err != nil {
		return LevelUser, err
	}
	if rec.OwnerID != nil && *rec.OwnerID == userID {
		return LevelOwner, nil
	}
	for _, id := range rec.Admins {
		if id == userID {
			return LevelAdmin, nil
		}
	}
	return LevelUser, nil
}

func (h *Hierarchy) IsPrivileged(ctx context.Context, userID int64) (bool, error) {
	lvl, err := h.LevelOf(ctx, userID)
	if err != nil {
		return false, err
	}
	return lvl.Privileged(), nil
}

// ClaimOwner assigns the owner if none exists. First writer wins; later
// calls are no-ops.
func (h *Hierarchy) ClaimOwner(ctx context.Context, userID int64) (bool, error) {
	return h.config.ClaimOwner(ctx, userID)
}

// AddAdmin grants admin status. The identifier is either a raw user id or a
// @handle resolved through the directory. Returns a display name for the
// confirmation message.
func (h *Hierarchy) AddAdmin(ctx context.Context, identifier string) (string, error) {
	userID, display, err := h.resolveIdentifier(ctx, identifier)
	if err != nil {
		return "", err
	}

	rec, err := h.config.GetPrivileges(ctx)
	if err != nil {
		return "", err
	}
	if rec.OwnerID != nil && *rec.OwnerID == userID {
		return display, ErrOwnerAsAdmin
	}

	added, err := h.config.AddAdmin(ctx, userID)
	if err != nil {
		return "", err
	}
	if !added {
		return display, ErrAlreadyAdmin
	}
	return display, nil
}

func (h *Hierarchy) RemoveAdmin(ctx context.Context, identifier string) (string, error) {
	userID, display, err := h.resolveIdentifier(ctx, identifier)
	if err != nil {
		return "", err
	}

	removed, err := h.config.RemoveAdmin(ctx, userID)
	if err != nil {
		return "", err
	}
	if !removed {
		return display, ErrNotAdmin
	}
	return display, nil
}

// ListAdmins returns display names of all admins, resolving handles where
// the directory knows them.
func (h *Hierarchy) ListAdmins(ctx context.Context) ([]string, error) {
	rec, err := h.config.GetPrivileges(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(rec.Admins))
	for _, id := range rec.Admins {
		entry, err := h.directory.LookupByUserID(ctx, id)
		if err == nil && entry.Handle != "" {
			out = append(out, fmt.Sprintf("@%s (%d)", entry.Handle, id))
			continue
		}
		out = append(out, strconv.FormatInt(id, 10))
	}
	return out, nil
}

// ResolveIdentifier maps a "@handle" or numeric id to a user id plus a
// display name, for commands that target another user.
func (h *Hierarchy) ResolveIdentifier(ctx context.Context, identifier string) (int64, string, error) {
	return h.resolveIdentifier(ctx, identifier)
}

func (h *Hierarchy) resolveIdentifier(ctx context.Context, identifier string) (int64, string, error) {
	identifier = strings.TrimSpace(identifier)

	if strings.HasPrefix(identifier, "@") {
		entry, err := h.directory.LookupByHandle(ctx, identifier)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return 0, "", ErrHandleNotFound
			}
			return 0, "", err
		}
		return entry.UserID, "@" + entry.Handle, nil
	}

	userID, err := strconv.ParseInt(identifier, 10, 64)
	if err != nil {
		return 0, "", ErrBadIdentifier
	}
	if entry, err := h.directory.LookupByUserID(ctx, userID); err == nil && entry.Handle != "" {
		return userID, "@" + entry.Handle, nil
	}
	return userID, strconv.FormatInt(userID, 10), nil
}
