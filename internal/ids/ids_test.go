// SPDX-License-Identifier: MIT

package ids

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsValidAndUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		require.True(t, Valid(id), "generated id must parse: %s", id)
		require.False(t, seen[id], "duplicate id: %s", id)
		seen[id] = true
	}
}

func TestNewSortsByCreationTime(t *testing.T) {
	earlier := NewAt(time.Now().Add(-time.Hour))
	later := NewAt(time.Now())

	assert.Negative(t, Compare(earlier, later))

	// Same-millisecond ids are monotonic thanks to the shared entropy
	// source.
	var ids []string
	for i := 0; i < 100; i++ {
		ids = append(ids, New())
	}
	assert.True(t, sort.StringsAreSorted(ids))
}

func TestNewConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	idsCh := make(chan string, 1000)
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				idsCh <- New()
			}
		}()
	}
	wg.Wait()
	close(idsCh)

	seen := make(map[string]bool)
	for id := range idsCh {
		require.False(t, seen[id])
		seen[id] = true
	}
	assert.Len(t, seen, 1000)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("01ARZ3NDEKTSV4RRFFQ69G5FAV"))
	assert.False(t, Valid(""))
	assert.False(t, Valid("not-a-ulid"))
	assert.False(t, Valid("01ARZ3NDEKTSV4RRFFQ69G5FA"), "too short")
}
