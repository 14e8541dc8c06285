package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/okorolenko/substack-digest-bot/types"
)

type memConfig struct {
	rec types.PrivilegeRecord
}

func (s *memConfig) GetPrivileges(ctx context.Context) (*types.PrivilegeRecord, error) {
	rec := s.rec
	return &rec, nil
}

func (s *memConfig) ClaimOwner(ctx context.Context, userID int64) (bool, error) {
	if s.rec.OwnerID != nil {
		return false, nil
	}
	s.rec.OwnerID = &userID
	return true, nil
}

func (s *memConfig) AddAdmin(ctx context.Context, userID int64) (bool, error) {
	for _, id := range s.rec.Admins {
		if id == userID {
			return false, nil
		}
	}
	s.rec.Admins = append(s.rec.Admins, userID)
	return true, nil
}

func (s *memConfig) RemoveAdmin(ctx context.Context, userID int64) (bool, error) {
	for i, id := range s.rec.Admins {
		if id == userID {
			s.rec.Admins = append(s.rec.Admins[:i], s.rec.Admins[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type memDirectory struct {
	byHandle map[string]*types.DirectoryEntry
}

func newMemDirectory() *memDirectory {
	return &memDirectory{byHandle: make(map[string]*types.DirectoryEntry)}
}

func (s *memDirectory) RegisterUser(ctx context.Context, entry types.DirectoryEntry) error {
	s.byHandle[strings.ToLower(entry.Handle)] = &entry
	return nil
}

func (s *memDirectory) LookupByHandle(ctx context.Context, handle string) (*types.DirectoryEntry, error) {
	e, ok := s.byHandle[strings.ToLower(strings.TrimPrefix(handle, "@"))]
	if !ok {
		return nil, types.ErrNotFound
	}
	return e, nil
}

func (s *memDirectory) LookupByUserID(ctx context.Context, userID int64) (*types.DirectoryEntry, error) {
	for _, e := range s.byHandle {
		if e.UserID == userID {
			return e, nil
		}
	}
	return nil, types.ErrNotFound
}

func (s *memDirectory) ListKnownUsers(ctx context.Context) ([]*types.DirectoryEntry, error) {
	out := make([]*types.DirectoryEntry, 0, len(s.byHandle))
	for _, e := range s.byHandle {
		out = append(out, e)
	}
	return out, nil
}

func TestClaimOwnerFirstWriterWins(t *testing.T) {
	h := NewHierarchy(&memConfig{}, newMemDirectory())

	claimed, err := h.ClaimOwner(context.Background(), 1)
	if err != nil || !claimed {
		t.Fatalf("first claim should succeed: claimed=%v err=%v", claimed, err)
	}
	claimed, err = h.ClaimOwner(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed {
		t.Fatal("second claim must lose")
	}

	lvl, err := h.LevelOf(context.Background(), 1)
	if err != nil || lvl != LevelOwner {
		t.Fatalf("first claimant should be owner: level=%v err=%v", lvl, err)
	}
	lvl, _ = h.LevelOf(context.Background(), 2)
	if lvl != LevelUser {
		t.Fatalf("loser of the claim race stays a user, got %v", lvl)
	}
}

func TestAddAdminByHandle(t *testing.T) {
	dir := newMemDirectory()
	dir.RegisterUser(context.Background(), types.DirectoryEntry{UserID: 7, Handle: "alice"})
	h := NewHierarchy(&memConfig{}, dir)

	display, err := h.AddAdmin(context.Background(), "@alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if display != "@alice" {
		t.Fatalf("expected display @alice, got %q", display)
	}

	lvl, _ := h.LevelOf(context.Background(), 7)
	if lvl != LevelAdmin {
		t.Fatalf("expected admin level, got %v", lvl)
	}
}

func TestAddAdminDuplicate(t *testing.T) {
	h := NewHierarchy(&memConfig{}, newMemDirectory())

	if _, err := h.AddAdmin(context.Background(), "7"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := h.AddAdmin(context.Background(), "7")
	if !errors.Is(err, ErrAlreadyAdmin) {
		t.Fatalf("expected ErrAlreadyAdmin, got %v", err)
	}
}

func TestAddAdminRefusesOwner(t *testing.T) {
	cfg := &memConfig{}
	h := NewHierarchy(cfg, newMemDirectory())
	if _, err := h.ClaimOwner(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := h.AddAdmin(context.Background(), "1")
	if !errors.Is(err, ErrOwnerAsAdmin) {
		t.Fatalf("expected ErrOwnerAsAdmin, got %v", err)
	}
}

func TestAddAdminUnknownHandle(t *testing.T) {
	h := NewHierarchy(&memConfig{}, newMemDirectory())

	_, err := h.AddAdmin(context.Background(), "@nobody")
	if !errors.Is(err, ErrHandleNotFound) {
		t.Fatalf("expected ErrHandleNotFound, got %v", err)
	}
}

func TestAddAdminBadIdentifier(t *testing.T) {
	h := NewHierarchy(&memConfig{}, newMemDirectory())

	_, err := h.AddAdmin(context.Background(), "not-a-number")
	if !errors.Is(err, ErrBadIdentifier) {
		t.Fatalf("expected ErrBadIdentifier, got %v", err)
	}
}

func TestRemoveAdminNotAdmin(t *testing.T) {
	h := NewHierarchy(&memConfig{}, newMemDirectory())

	_, err := h.RemoveAdmin(context.Background(), "7")
	if !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
}

func TestRemoveAdminRoundTrip(t *testing.T) {
	h := NewHierarchy(&memConfig{}, newMemDirectory())

	if _, err := h.AddAdmin(context.Background(), "7"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h.RemoveAdmin(context.Background(), "7"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lvl, _ := h.LevelOf(context.Background(), 7)
	if lvl != LevelUser {
		t.Fatalf("removed admin should be a plain user, got %v", lvl)
	}
}
