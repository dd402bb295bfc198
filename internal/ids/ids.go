// SPDX-License-Identifier: MIT

// Package ids generates the stable, URL-safe identifiers used for every
// entity in a project. IDs are ULIDs: lexicographically sortable by
// creation time, which keeps operation ordering cheap to verify.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a fresh ULID string. Safe for concurrent use.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewAt returns a ULID for an explicit timestamp. Used by tests and by
// crash-log records that must carry the failure time, not the write time.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Valid reports whether s parses as a ULID.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// Compare orders two ULID strings. ULIDs sort lexicographically, so plain
// string comparison is correct; this helper exists to document that fact
// at call sites that depend on it.
func Compare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
