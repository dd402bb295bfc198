// SPDX-License-Identifier: MIT

package project

import (
	"encoding/json"
	"fmt"
	"sort"
)

// State is the denormalised in-memory materialisation of a project. It is
// rebuilt by replaying the operation log on top of the latest snapshot and
// mutated only through the command executor, which holds the single writer
// lock.
type State struct {
	Meta      Meta                 `json:"meta"`
	Assets    map[string]*Asset    `json:"assets"`
	Bins      map[string]*Bin      `json:"bins"`
	Sequences map[string]*Sequence `json:"sequences"`
	Tracks    map[string]*Track    `json:"tracks"`
	Clips     map[string]*Clip     `json:"clips"`
	Effects   map[string]*Effect   `json:"effects"`
	Masks     map[string]*Mask     `json:"masks"`
	Captions  map[string]*Caption  `json:"captions"`

	// LastOpID is the id of the last applied operation. Matches the last
	// appended log entry at all times outside the executor's critical
	// section.
	LastOpID string `json:"lastOpId"`

	// assetsByHash is a rebuildable secondary index and is not persisted.
	assetsByHash map[string]string
}

// NewState returns an empty project state with the given header.
func NewState(meta Meta) *State {
	meta.SchemaVersion = SchemaVersion
	return &State{
		Meta:         meta,
		Assets:       make(map[string]*Asset),
		Bins:         make(map[string]*Bin),
		Sequences:    make(map[string]*Sequence),
		Tracks:       make(map[string]*Track),
		Clips:        make(map[string]*Clip),
		Effects:      make(map[string]*Effect),
		Masks:        make(map[string]*Mask),
		Captions:     make(map[string]*Caption),
		assetsByHash: make(map[string]string),
	}
}

// rebuildIndexes reconstructs the secondary indexes after deserialisation.
func (s *State) rebuildIndexes() {
	s.assetsByHash = make(map[string]string, len(s.Assets))
	for id, a := range s.Assets {
		if a.ContentHash != "" {
			s.assetsByHash[a.ContentHash] = id
		}
	}
}

// AssetByHash resolves a content hash to an asset id, if known.
func (s *State) AssetByHash(hash string) (string, bool) {
	id, ok := s.assetsByHash[hash]
	return id, ok
}

// IndexAssetHash registers an asset's content hash in the secondary index.
// Called by asset commands after insert/update.
func (s *State) IndexAssetHash(a *Asset) {
	if a.ContentHash != "" {
		s.assetsByHash[a.ContentHash] = a.ID
	}
}

// DropAssetHash removes an asset's hash from the secondary index.
func (s *State) DropAssetHash(a *Asset) {
	if a.ContentHash != "" && s.assetsByHash[a.ContentHash] == a.ID {
		delete(s.assetsByHash, a.ContentHash)
	}
}

// ClipsOnTrack returns the track's clips ordered by timeline position.
// The track's ClipIDs list is the source of truth and is kept sorted by
// every mutation.
func (s *State) ClipsOnTrack(trackID string) []*Clip {
	t, ok := s.Tracks[trackID]
	if !ok {
		return nil
	}
	clips := make([]*Clip, 0, len(t.ClipIDs))
	for _, id := range t.ClipIDs {
		if c, ok := s.Clips[id]; ok {
			clips = append(clips, c)
		}
	}
	return clips
}

// SortTrackClips re-sorts a track's clip list by timeline position.
func (s *State) SortTrackClips(trackID string) {
	t, ok := s.Tracks[trackID]
	if !ok {
		return
	}
	sort.SliceStable(t.ClipIDs, func(i, j int) bool {
		ci, cj := s.Clips[t.ClipIDs[i]], s.Clips[t.ClipIDs[j]]
		if ci == nil || cj == nil {
			return ci != nil
		}
		return ci.TimelineInSec < cj.TimelineInSec
	})
}

// Overlaps reports whether placing a clip spanning [start, end) on the
// track would collide with an existing clip. The comparison is open-open:
// touching edges (end of A == start of B) do not overlap. excludeClipID
// names a clip to skip, used by move and trim on the clip itself.
func (s *State) Overlaps(trackID string, start, end float64, excludeClipID string) (string, bool) {
	for _, c := range s.ClipsOnTrack(trackID) {
		if c.ID == excludeClipID {
			continue
		}
		if start < c.TimelineOutSec() && c.TimelineInSec < end {
			return c.ID, true
		}
	}
	return "", false
}

// AssetInUse reports whether any clip references the asset.
func (s *State) AssetInUse(assetID string) (string, bool) {
	for id, c := range s.Clips {
		if c.AssetID == assetID {
			return id, true
		}
	}
	return "", false
}

// SequenceTracks returns the sequence's tracks in lane order.
func (s *State) SequenceTracks(sequenceID string) []*Track {
	seq, ok := s.Sequences[sequenceID]
	if !ok {
		return nil
	}
	tracks := make([]*Track, 0, len(seq.TrackIDs))
	for _, id := range seq.TrackIDs {
		if t, ok := s.Tracks[id]; ok {
			tracks = append(tracks, t)
		}
	}
	return tracks
}

// CheckInvariants verifies the structural invariants that must hold after
// every applied operation. Replay calls this to detect corruption early;
// the returned error names the first violated invariant.
func (s *State) CheckInvariants() error {
	for id, c := range s.Clips {
		if _, ok := s.Assets[c.AssetID]; !ok && c.Text == nil {
			return fmt.Errorf("clip %s references missing asset %s", id, c.AssetID)
		}
		if _, ok := s.Tracks[c.TrackID]; !ok {
			return fmt.Errorf("clip %s references missing track %s", id, c.TrackID)
		}
	}
	for id, t := range s.Tracks {
		if _, ok := s.Sequences[t.SequenceID]; !ok {
			return fmt.Errorf("track %s references missing sequence %s", id, t.SequenceID)
		}
		clips := s.ClipsOnTrack(id)
		for i := 1; i < len(clips); i++ {
			prev, cur := clips[i-1], clips[i]
			if prev.TimelineOutSec() > cur.TimelineInSec {
				return fmt.Errorf("track %s: clips %s and %s overlap", id, prev.ID, cur.ID)
			}
		}
	}
	for id, e := range s.Effects {
		if _, ok := s.Clips[e.ClipID]; !ok {
			return fmt.Errorf("effect %s references missing clip %s", id, e.ClipID)
		}
	}
	for id, m := range s.Masks {
		if _, ok := s.Clips[m.ClipID]; !ok {
			return fmt.Errorf("mask %s references missing clip %s", id, m.ClipID)
		}
	}
	return nil
}

// Serialize produces the canonical JSON form of the state. Go's encoder
// writes map keys in sorted order, so equal states serialise to identical
// bytes; the replay-determinism tests rely on this.
func (s *State) Serialize() ([]byte, error) {
	return json.Marshal(s)
}

// DeserializeState restores a state from its canonical JSON form and
// rebuilds the secondary indexes.
func DeserializeState(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode project state: %w", err)
	}
	if s.Assets == nil {
		s.Assets = make(map[string]*Asset)
	}
	if s.Bins == nil {
		s.Bins = make(map[string]*Bin)
	}
	if s.Sequences == nil {
		s.Sequences = make(map[string]*Sequence)
	}
	if s.Tracks == nil {
		s.Tracks = make(map[string]*Track)
	}
	if s.Clips == nil {
		s.Clips = make(map[string]*Clip)
	}
	if s.Effects == nil {
		s.Effects = make(map[string]*Effect)
	}
	if s.Masks == nil {
		s.Masks = make(map[string]*Mask)
	}
	if s.Captions == nil {
		s.Captions = make(map[string]*Caption)
	}
	s.rebuildIndexes()
	return &s, nil
}
