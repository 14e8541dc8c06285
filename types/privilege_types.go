package types

import (
	"context"
	"time"
)

// PrivilegeRecord is the process-wide owner/admin configuration. There is
// exactly one record; the owner is claimed once and never overwritten.
type PrivilegeRecord struct {
	OwnerID *int64
	Admins  []int64
}

type DirectoryEntry struct {
	UserID    int64
	Handle    string
	FirstName string
	LastSeen  time.Time
}

type ConfigStore interface {
	GetPrivileges(ctx context.Context) (*PrivilegeRecord, error)

	// ClaimOwner sets the owner only if none is set. First writer wins;
	// claimed=false means an owner already exists.
	ClaimOwner(ctx context.Context, userID int64) (claimed bool, err error)

	AddAdmin(ctx context.Context, userID int64) (added bool, err error)
	RemoveAdmin(ctx context.Context, userID int64) (removed bool, err error)
}

type DirectoryStore interface {
	// RegisterUser upserts the entry keyed by the lower-cased handle; the
	// most recent handle wins when a user renames.
	RegisterUser(ctx context.Context, entry DirectoryEntry) error
	LookupByHandle(ctx context.Context, handle string) (*DirectoryEntry, error)
	LookupByUserID(ctx context.Context, userID int64) (*DirectoryEntry, error)
	ListKnownUsers(ctx context.Context) ([]*DirectoryEntry, error)
}
