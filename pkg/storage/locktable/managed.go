// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package locktable

import (
	"context"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/xmldb/xmldb/pkg/storage/lock"
)

// ManagedLock is a group of holds acquired together, released in the
// reverse order of their acquisition.
type ManagedLock struct {
	r        *Registry
	holds    []Hold
	released atomic.Bool
}

// Holds returns the holds of the group in acquisition order.
func (m *ManagedLock) Holds() []Hold {
	return m.holds
}

// Close releases the holds of the group in reverse acquisition order.
// Only the first call has an effect.
func (m *ManagedLock) Close(ctx context.Context) error {
	if m.released.Swap(true) {
		return nil
	}
	return releaseAll(ctx, m.r, m.holds)
}

func releaseAll(ctx context.Context, r *Registry, holds []Hold) error {
	var err error
	for i := len(holds) - 1; i >= 0; i-- {
		err = errors.CombineErrors(err, r.Release(ctx, holds[i]))
	}
	return err
}

// collectionPathSegments returns the path of each ancestor of a
// collection, from the root, followed by the path of the collection.
func collectionPathSegments(p string) ([]string, error) {
	if p == "" || p[0] != '/' || path.Clean(p) != p || p == "/" {
		return nil, errors.Wrapf(ErrInvalidArgument, "malformed collection path %q", p)
	}
	var res []string
	for i := 1; i < len(p); i++ {
		if p[i] == '/' {
			res = append(res, p[:i])
		}
	}
	return append(res, p), nil
}

// LockCollection locks the collection at the given path in mode, after
// locking each of its ancestors from the root down. Ancestors are locked
// for READ, except that they are locked for WRITE for a WRITE request
// unless Config.CollectionsMultiWriter is set. If any lock cannot be
// acquired, those acquired so far are released in reverse order.
func (r *Registry) LockCollection(
	ctx context.Context, owner lock.Owner, collPath string, mode lock.Mode, timeout time.Duration,
) (*ManagedLock, error) {
	segments, err := collectionPathSegments(collPath)
	if err != nil {
		return nil, err
	}
	ancestorMode := lock.Read
	if mode == lock.Write && !r.cfg.CollectionsMultiWriter {
		ancestorMode = lock.Write
	}
	holds := make([]Hold, 0, len(segments))
	for i, seg := range segments {
		m := ancestorMode
		if i == len(segments)-1 {
			m = mode
		}
		h, err := r.Acquire(ctx, Request{
			Key:     lock.CollectionKey(seg),
			Mode:    m,
			Owner:   owner,
			Timeout: timeout,
		})
		if err != nil {
			return nil, errors.CombineErrors(
				errors.Wrapf(err, "locking collection %s", collPath),
				releaseAll(ctx, r, holds))
		}
		holds = append(holds, h)
	}
	return &ManagedLock{r: r, holds: holds}, nil
}

// LockDocument locks a single document.
func (r *Registry) LockDocument(
	ctx context.Context, owner lock.Owner, docPath string, mode lock.Mode, timeout time.Duration,
) (*ManagedLock, error) {
	if !strings.HasPrefix(docPath, "/") {
		return nil, errors.Wrapf(ErrInvalidArgument, "malformed document path %q", docPath)
	}
	h, err := r.Acquire(ctx, Request{
		Key:     lock.DocumentKey(docPath),
		Mode:    mode,
		Owner:   owner,
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	return &ManagedLock{r: r, holds: []Hold{h}}, nil
}
