// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

// Package lock provides type definitions for locking-related concepts used
// by the lock table: the category of a locked resource, the mode of a lock,
// the key identifying a lockable resource and the owner of a lock.
package lock

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/petermattis/goid"
)

// NoTimeout can be used as a request timeout to wait until the lock is
// granted, the request is cancelled or its context is done.
const NoTimeout = time.Duration(math.MaxInt64)

// Category is the coarse class of a locked resource.
type Category int8

const (
	_ Category = iota
	// Collection is a collection of documents. Collection ids are
	// slash-separated paths rooted at "/db".
	Collection
	// Document is a stored document, identified by its path.
	Document
	// Page is a storage page, identified by an opaque numeric id.
	Page
	// Other is any other lockable resource.
	Other

	// MaxCategory is the largest valid category.
	MaxCategory = Other
)

var categoryNames = [...]string{
	Collection: "COLLECTION",
	Document:   "DOCUMENT",
	Page:       "PAGE",
	Other:      "OTHER",
}

// String implements fmt.Stringer.
func (c Category) String() string {
	if c < Collection || c > MaxCategory {
		return "Category(" + strconv.Itoa(int(c)) + ")"
	}
	return categoryNames[c]
}

// SafeValue implements redact.SafeValue.
func (Category) SafeValue() {}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(text []byte) error {
	var err error
	*c, err = ParseCategory(string(text))
	return err
}

// ParseCategory parses the name of a category, case insensitively.
func ParseCategory(s string) (Category, error) {
	for c := Collection; c <= MaxCategory; c++ {
		if strings.EqualFold(s, categoryNames[c]) {
			return c, nil
		}
	}
	return 0, errors.Newf("unknown lock category %q", s)
}

// Mode is the access intent of a lock.
//
// Compatibility matrix:
//
//	+-------+------+-------+
//	|       | Read | Write |
//	+-------+------+-------+
//	| Read  |  ✓   |   ✗   |
//	| Write |  ✗   |   ✗   |
//	+-------+------+-------+
type Mode int8

const (
	_ Mode = iota
	// Read is a shared lock. Any number of owners may hold a Read lock
	// on a resource at the same time.
	Read
	// Write is an exclusive lock. It excludes every lock held by any
	// other owner.
	Write

	// MaxMode is the largest valid mode.
	MaxMode = Write
)

// Modes lists the valid modes in order.
var Modes = []Mode{Read, Write}

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case Read:
		return "READ"
	case Write:
		return "WRITE"
	default:
		return "Mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// SafeValue implements redact.SafeValue.
func (Mode) SafeValue() {}

// Valid returns whether the mode is Read or Write.
func (m Mode) Valid() bool {
	return m == Read || m == Write
}

// Compatible returns whether locks held in modes m and o by different
// owners may coexist.
func (m Mode) Compatible(o Mode) bool {
	return m == Read && o == Read
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	var err error
	*m, err = ParseMode(string(text))
	return err
}

// ParseMode parses the name of a mode, case insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(s) {
	case "READ", "R":
		return Read, nil
	case "WRITE", "W":
		return Write, nil
	}
	return 0, errors.Newf("unknown lock mode %q", s)
}

// Key identifies a lockable resource.
type Key struct {
	Category Category
	// ID is a path-like identifier for collections and documents, or an
	// opaque numeric identifier rendered as a string for pages.
	ID string
}

// CollectionKey returns the key of the collection with the given path.
func CollectionKey(path string) Key {
	return Key{Category: Collection, ID: path}
}

// DocumentKey returns the key of the document with the given path.
func DocumentKey(path string) Key {
	return Key{Category: Document, ID: path}
}

// PageKey returns the key of the page with the given number.
func PageKey(num uint64) Key {
	return Key{Category: Page, ID: strconv.FormatUint(num, 10)}
}

// Less orders keys by category, then by id.
func (k Key) Less(o Key) bool {
	if k.Category != o.Category {
		return k.Category < o.Category
	}
	return k.ID < o.ID
}

// SafeFormat implements redact.SafeFormatter. Resource ids are considered
// unsafe.
func (k Key) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s(%s)", k.Category, k.ID)
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return redact.StringWithoutMarkers(k)
}

// Owner is the identity on whose behalf a lock is held or requested: a
// goroutine, and optionally the logical transaction it is running. Owners
// are the unit of reentrancy.
type Owner struct {
	// Thread identifies the goroutine. It must be non-zero.
	Thread int64
	// Txn is the optional id of the transaction the goroutine is running.
	Txn uint64
}

// CurrentOwner returns the owner identifying the calling goroutine.
func CurrentOwner() Owner {
	return Owner{Thread: goid.Get()}
}

// WithTxn returns a copy of the owner bound to the given transaction.
func (o Owner) WithTxn(txn uint64) Owner {
	o.Txn = txn
	return o
}

// Valid returns whether the owner identifies a thread.
func (o Owner) Valid() bool {
	return o.Thread != 0
}

// Less orders owners by thread, then by transaction.
func (o Owner) Less(p Owner) bool {
	if o.Thread != p.Thread {
		return o.Thread < p.Thread
	}
	return o.Txn < p.Txn
}

// SafeFormat implements redact.SafeFormatter.
func (o Owner) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("g%d", redact.Safe(o.Thread))
	if o.Txn != 0 {
		w.Printf("/txn%d", redact.Safe(o.Txn))
	}
}

// String implements fmt.Stringer.
func (o Owner) String() string {
	return redact.StringWithoutMarkers(o)
}

// MarshalText implements encoding.TextMarshaler.
func (o Owner) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Owner) UnmarshalText(text []byte) error {
	var err error
	*o, err = ParseOwner(string(text))
	return err
}

// ParseOwner parses the string form of an owner, e.g. "g12" or "g12/txn3".
func ParseOwner(s string) (Owner, error) {
	var o Owner
	thread, txn, hasTxn := strings.Cut(s, "/")
	if !strings.HasPrefix(thread, "g") {
		return o, errors.Newf("malformed lock owner %q", s)
	}
	var err error
	if o.Thread, err = strconv.ParseInt(thread[1:], 10, 64); err != nil {
		return o, errors.Wrapf(err, "malformed lock owner %q", s)
	}
	if hasTxn {
		if !strings.HasPrefix(txn, "txn") {
			return o, errors.Newf("malformed lock owner %q", s)
		}
		if o.Txn, err = strconv.ParseUint(txn[3:], 10, 64); err != nil {
			return o, errors.Wrapf(err, "malformed lock owner %q", s)
		}
	}
	return o, nil
}
