package starclient

import (
	"context"
	"errors"
	"sync"
)

// ErrPending is returned by Toggle while a previous toggle is in flight.
var ErrPending = errors.New("starclient: toggle already in progress")

// Setter is the part of Client used by Toggle.
type Setter interface {
	SetStarred(ctx context.Context, owner, repo string, starred bool) (bool, error)
}

// Toggle holds the displayed star state of one repository and applies
// optimistic updates to it. Delta is the signed change to apply to a
// star counter fetched before the first toggle.
type Toggle struct {
	mu      sync.Mutex
	setter  Setter
	owner   string
	repo    string
	starred bool
	delta   int
	pending bool
}

// NewToggle starts from the server-known state starred.
func NewToggle(setter Setter, owner, repo string, starred bool) *Toggle {
	return &Toggle{setter: setter, owner: owner, repo: repo, starred: starred}
}

// State returns the displayed star state and counter delta.
func (t *Toggle) State() (starred bool, delta int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.starred, t.delta
}

// Toggle flips the displayed state immediately, then asks the server. On
// success the state is reconciled to what the server confirmed; on failure
// it reverts and the delta is reset to zero.
func (t *Toggle) Toggle(ctx context.Context) error {
	t.mu.Lock()
	if t.pending {
		t.mu.Unlock()
		return ErrPending
	}
	prevStarred, prevDelta := t.starred, t.delta
	want := !prevStarred
	t.starred = want
	t.delta += step(want)
	t.pending = true
	t.mu.Unlock()

	confirmed, err := t.setter.SetStarred(ctx, t.owner, t.repo, want)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = false
	if err != nil {
		t.starred = prevStarred
		t.delta = 0
		return err
	}
	t.starred = confirmed
	if confirmed == prevStarred {
		t.delta = prevDelta
	}
	return nil
}

func step(starred bool) int {
	if starred {
		return 1
	}
	return -1
}
