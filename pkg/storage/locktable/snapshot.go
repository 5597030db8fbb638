// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package locktable

import (
	"sort"
	"time"

	"github.com/google/btree"
	"github.com/xmldb/xmldb/pkg/storage/lock"
)

// HoldState is the state of a granted lock in a Snapshot.
type HoldState struct {
	Count int `json:"count"`
	// Traces has one element per acquisition when traces are captured.
	Traces []Trace `json:"traces,omitempty"`
}

// WaitState is the state of a pending lock request in a Snapshot.
type WaitState struct {
	Mode       lock.Mode  `json:"mode"`
	Owner      lock.Owner `json:"owner"`
	EnqueuedAt time.Time  `json:"enqueuedAt"`
	// Trace is set when traces are captured.
	Trace Trace `json:"trace"`
}

// Snapshot is an immutable copy of the lock table state, used for
// diagnostics. The state of each key is consistent; the snapshot as a
// whole is not, since keys are visited one at a time while the lock table
// keeps changing.
type Snapshot struct {
	TakenAt time.Time
	// Acquired maps each key to its holds per mode and owner.
	Acquired map[lock.Key]map[lock.Mode]map[lock.Owner]HoldState
	// Attempting maps each key to its waiters in queue order.
	Attempting map[lock.Key][]WaitState

	keys *btree.BTree
}

type keyItem lock.Key

// Less implements btree.Item.
func (k keyItem) Less(than btree.Item) bool {
	return lock.Key(k).Less(lock.Key(than.(keyItem)))
}

func newSnapshot(at time.Time) *Snapshot {
	return &Snapshot{
		TakenAt:    at,
		Acquired:   make(map[lock.Key]map[lock.Mode]map[lock.Owner]HoldState),
		Attempting: make(map[lock.Key][]WaitState),
		keys:       btree.New(8),
	}
}

func (s *Snapshot) addHold(key lock.Key, mode lock.Mode, owner lock.Owner, hs HoldState) {
	byMode, ok := s.Acquired[key]
	if !ok {
		byMode = make(map[lock.Mode]map[lock.Owner]HoldState)
		s.Acquired[key] = byMode
	}
	byOwner, ok := byMode[mode]
	if !ok {
		byOwner = make(map[lock.Owner]HoldState)
		byMode[mode] = byOwner
	}
	byOwner[owner] = hs
	s.keys.ReplaceOrInsert(keyItem(key))
}

func (s *Snapshot) addWaiter(key lock.Key, ws WaitState) {
	s.Attempting[key] = append(s.Attempting[key], ws)
	s.keys.ReplaceOrInsert(keyItem(key))
}

// Snapshot copies the state of the lock table. It has no side effects on
// the lock table.
func (r *Registry) Snapshot() *Snapshot {
	snap := newSnapshot(r.cfg.Clock())
	r.entries(func(e *entry) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.snapshotLocked(snap)
	})
	return snap
}

// Keys returns the keys with holds or waiters, ordered by category and id.
func (s *Snapshot) Keys() []lock.Key {
	keys := make([]lock.Key, 0, s.keys.Len())
	s.keys.Ascend(func(i btree.Item) bool {
		keys = append(keys, lock.Key(i.(keyItem)))
		return true
	})
	return keys
}

// Empty returns whether the snapshot contains neither holds nor waiters.
func (s *Snapshot) Empty() bool {
	return s.keys.Len() == 0
}

// Holders returns the owners holding key in mode, ordered.
func (s *Snapshot) Holders(key lock.Key, mode lock.Mode) []lock.Owner {
	byOwner := s.Acquired[key][mode]
	owners := make([]lock.Owner, 0, len(byOwner))
	for o := range byOwner {
		owners = append(owners, o)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i].Less(owners[j]) })
	return owners
}

// WaitingFor returns the distinct owners waiting for key in mode, in queue
// order.
func (s *Snapshot) WaitingFor(key lock.Key, mode lock.Mode) []lock.Owner {
	var owners []lock.Owner
	seen := make(map[lock.Owner]struct{})
	for _, w := range s.Attempting[key] {
		if w.Mode != mode {
			continue
		}
		if _, ok := seen[w.Owner]; ok {
			continue
		}
		seen[w.Owner] = struct{}{}
		owners = append(owners, w.Owner)
	}
	return owners
}
