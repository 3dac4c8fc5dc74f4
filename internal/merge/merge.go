// Package merge reconciles a local entity collection with the copy pulled
// from the row-store.
//
// Every resolver is a pure function: it never mutates its inputs and never
// touches storage or the network. For an id present on both sides the
// decision is:
//
//  1. a tombstoned id is ignored (active tasks only)
//  2. the higher version wins outright
//  3. on equal versions the later modification time wins
//  4. equal version and time is a no-op
//
// The winner replaces the other record in full. Timestamps only break ties
// between equal versions, so clock skew between devices can never override
// a version decision.
package merge

import (
	"sort"
	"time"
)

// Decision is the outcome of comparing a local and a remote record.
type Decision int

const (
	// Equal means both sides carry the same version and timestamp.
	Equal Decision = iota

	// RemoteWins means the remote record replaces the local one.
	RemoteWins

	// LocalWins means the remote record is discarded.
	LocalWins
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case RemoteWins:
		return "remote"
	case LocalWins:
		return "local"
	default:
		return "equal"
	}
}

// Stamp is the part of a record that takes part in conflict resolution.
type Stamp struct {
	Version int
	At      time.Time
}

func (s Stamp) version() int {
	if s.Version < 1 {
		return 1
	}
	return s.Version
}

// Compare applies the version-then-timestamp policy. A missing version
// counts as 1.
func Compare(local, remote Stamp) Decision {
	lv, rv := local.version(), remote.version()
	switch {
	case rv > lv:
		return RemoteWins
	case rv < lv:
		return LocalWins
	case remote.At.After(local.At):
		return RemoteWins
	case remote.At.Before(local.At):
		return LocalWins
	default:
		return Equal
	}
}

// Tombstones reports ids that must not be reintroduced into the active set.
type Tombstones interface {
	IsTombstoned(id string) bool
}

// TombstoneSet is a fixed set of tombstoned ids.
type TombstoneSet map[string]struct{}

// NewTombstoneSet builds a set from ids.
func NewTombstoneSet(ids ...string) TombstoneSet {
	s := make(TombstoneSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// IsTombstoned implements Tombstones.
func (s TombstoneSet) IsTombstoned(id string) bool {
	_, ok := s[id]
	return ok
}

func isTombstoned(t Tombstones, id string) bool {
	return t != nil && t.IsTombstoned(id)
}

// Result is the reconciled collection and what happened to produce it.
type Result[T any] struct {
	Merged []T

	// HasChanges is true when Merged differs from the local input.
	HasChanges bool

	Added     int // remote-only records adopted
	Updated   int // local records replaced by a remote winner
	Removed   int // local records dropped
	Ignored   int // remote records skipped because their id is tombstoned
	KeptLocal int // conflicts won by the local record
	InSync    int // ids identical on both sides

	// RemovedIDs are the local ids dropped from the active set.
	RemovedIDs []string

	// Unconfirmed are local-only ids that were never confirmed by the
	// row-store and were therefore kept.
	Unconfirmed []string
}

// NeedsPush reports whether the row-store copy is behind the merged
// collection. Ignored remote records count: the row-store still holds ids
// this device has removed.
func (r *Result[T]) NeedsPush() bool {
	return r.HasChanges || r.KeptLocal > 0 || r.Ignored > 0 || len(r.Unconfirmed) > 0
}

func newestFirst[T any](items []T, at func(*T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool {
		return at(&items[i]).After(at(&items[j]))
	})
}

func indexByID[T any](items []T, id func(*T) string) map[string]int {
	index := make(map[string]int, len(items))
	for i := range items {
		index[id(&items[i])] = i
	}
	return index
}
