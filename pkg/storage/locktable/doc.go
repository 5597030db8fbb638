// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

// Package locktable implements the lock table of the database: it grants
// and denies READ and WRITE locks on collections, documents and other
// resources, tracks reentrant ownership, and exposes snapshots of the
// holders and waiters of each lock for diagnosing deadlocks.
//
// Each key has an entry with its own mutex, holding the granted locks per
// mode and owner, and a FIFO queue of waiting requests. Entries live in a
// sharded map, are created on first use and removed once they are empty
// and unreferenced. A request that cannot be granted immediately waits on
// a channel of its own, together with its timeout, its context and the
// shutdown of the server:
//
//	         Acquire
//	            |
//	   +--------v--------+   reentrant, upgrade of a sole
//	   | grantable now?  |---reader, or compatible with an ---> granted
//	   +--------+--------+   empty queue
//	            | no
//	   +--------v--------+   timeout 0 or
//	   |     enqueue     |---upgrade check -------------------> error
//	   +--------+--------+
//	            |
//	   +--------v--------+   Release / Cancel / abandon
//	   |      wait       |<---re-evaluates the queue head
//	   +--------+--------+
//	            |
//	   granted, timed out, cancelled or not available
//
// The lock table does not detect deadlocks between keys. Snapshots, which
// are rendered by package lockdump, are meant for a human to find them.
package locktable
