// SPDX-License-Identifier: MIT

// Package events carries typed state-change notifications from the command
// executor to the IPC surface and other in-process observers.
package events

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openreelio/reelcore/internal/log"
)

// ChangeKind tags a single state change.
type ChangeKind string

const (
	ClipCreated      ChangeKind = "clipCreated"
	ClipModified     ChangeKind = "clipModified"
	ClipDeleted      ChangeKind = "clipDeleted"
	TrackCreated     ChangeKind = "trackCreated"
	TrackModified    ChangeKind = "trackModified"
	TrackDeleted     ChangeKind = "trackDeleted"
	AssetAdded       ChangeKind = "assetAdded"
	AssetModified    ChangeKind = "assetModified"
	AssetRemoved     ChangeKind = "assetRemoved"
	BinCreated       ChangeKind = "binCreated"
	BinModified      ChangeKind = "binModified"
	BinDeleted       ChangeKind = "binDeleted"
	CaptionCreated   ChangeKind = "captionCreated"
	CaptionModified  ChangeKind = "captionModified"
	CaptionDeleted   ChangeKind = "captionDeleted"
	EffectApplied    ChangeKind = "effectApplied"
	EffectModified   ChangeKind = "effectModified"
	EffectRemoved    ChangeKind = "effectRemoved"
	MaskApplied      ChangeKind = "maskApplied"
	MaskModified     ChangeKind = "maskModified"
	MaskRemoved      ChangeKind = "maskRemoved"
	SequenceCreated  ChangeKind = "sequenceCreated"
	SequenceModified ChangeKind = "sequenceModified"
	SequenceDeleted  ChangeKind = "sequenceDeleted"
	ProjectModified  ChangeKind = "projectModified"
)

// Change is one entity-level state change.
type Change struct {
	Kind     ChangeKind `json:"kind"`
	EntityID string     `json:"entityId"`
}

// ChangeSet is the full result of one committed operation, published after
// the operation is durable.
type ChangeSet struct {
	OpID       string   `json:"opId"`
	Command    string   `json:"command"`
	Changes    []Change `json:"changes"`
	CreatedIDs []string `json:"createdIds,omitempty"`
	DeletedIDs []string `json:"deletedIds,omitempty"`
}

// subscriberBuffer bounds each subscriber's backlog. A subscriber that
// falls behind loses events (delivery is at-most-once) and is expected to
// resync by re-reading project state.
const subscriberBuffer = 256

type subscriber struct {
	id string
	ch chan ChangeSet
}

// Bus fan-outs change sets to subscribers. Publishes are strictly ordered
// per bus; a send never blocks the executor.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]*subscriber
	dropped map[string]uint64
	closed  bool
	logger  zerolog.Logger
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[string]*subscriber),
		dropped: make(map[string]uint64),
		logger:  log.WithComponent("events"),
	}
}

// Subscribe registers a consumer and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe or bus close.
func (b *Bus) Subscribe() (<-chan ChangeSet, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{
		id: uuid.New().String(),
		ch: make(chan ChangeSet, subscriberBuffer),
	}
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[sub.id] = sub

	return sub.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[sub.id]; ok {
			delete(b.subs, sub.id)
			close(s.ch)
		}
	}
}

// Publish delivers the change set to every subscriber. Slow subscribers
// are skipped, not waited for.
func (b *Bus) Publish(cs ChangeSet) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for id, sub := range b.subs {
		select {
		case sub.ch <- cs:
		default:
			b.dropped[id]++
			if n := b.dropped[id]; n == 1 || n%100 == 0 {
				b.logger.Warn().
					Str("subscriber", id).
					Uint64("dropped", n).
					Msg("subscriber too slow, dropping change events")
			}
		}
	}
}

// TotalDropped returns how many events were dropped across all
// subscribers since the bus was created. A non-zero value tells the IPC
// surface that at least one consumer must resync from project state.
func (b *Bus) TotalDropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var n uint64
	for _, d := range b.dropped {
		n += d
	}
	return n
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
