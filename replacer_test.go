/*
 * Copyright 2023 The Doppio Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package doppio

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestReplacer(t *testing.T, numFrames, k int) *LRUKReplacer {
	t.Helper()
	r, err := NewLRUKReplacer(numFrames, k)
	require.NoError(t, err)
	return r
}

func TestNewLRUKReplacerValidation(t *testing.T) {
	_, err := NewLRUKReplacer(8, 0)
	require.Error(t, err)
	_, err = NewLRUKReplacer(0, 2)
	require.Error(t, err)
	_, err = NewLRUKReplacer(8, 2)
	require.NoError(t, err)
}

// The access sequence from the LRU-K paper. With k=2, frame 4 has a single
// access and is the only frame with infinite backward k-distance; the rest
// order by their second-to-last access.
func TestEvictPaperSequence(t *testing.T) {
	r := newTestReplacer(t, 8, 2)

	for _, id := range []FrameID{1, 2, 3, 4, 1, 2, 3, 1, 2, 1} {
		r.RecordAccess(id, AccessLookup)
	}
	for id := FrameID(1); id <= 4; id++ {
		r.SetEvictable(id, true)
	}
	require.Equal(t, 4, r.Size())

	for _, want := range []FrameID{4, 3, 2, 1} {
		id, ok := r.Evict()
		require.True(t, ok)
		require.Equal(t, want, id)
	}
	_, ok := r.Evict()
	require.False(t, ok)
	require.Equal(t, 0, r.Size())
}

// All frames below k accesses: the oldest first-seen frame goes first.
func TestEvictInfiniteTieBreak(t *testing.T) {
	r := newTestReplacer(t, 8, 3)

	r.RecordAccess(1, AccessUnknown)
	r.RecordAccess(2, AccessUnknown)
	r.RecordAccess(3, AccessUnknown)
	for id := FrameID(1); id <= 3; id++ {
		r.SetEvictable(id, true)
	}

	for _, want := range []FrameID{1, 2, 3} {
		id, ok := r.Evict()
		require.True(t, ok)
		require.Equal(t, want, id)
	}
}

func TestEvictSkipsNonEvictable(t *testing.T) {
	r := newTestReplacer(t, 8, 2)

	for _, id := range []FrameID{1, 2, 3, 4, 1, 2, 3, 1, 2, 1} {
		r.RecordAccess(id, AccessScan)
	}
	for id := FrameID(1); id <= 4; id++ {
		r.SetEvictable(id, true)
	}
	r.SetEvictable(3, false)
	require.Equal(t, 3, r.Size())

	for _, want := range []FrameID{4, 2, 1} {
		id, ok := r.Evict()
		require.True(t, ok)
		require.Equal(t, want, id)
	}
	_, ok := r.Evict()
	require.False(t, ok)

	r.SetEvictable(3, true)
	id, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, FrameID(3), id)
}

func TestSetEvictableIdempotent(t *testing.T) {
	r := newTestReplacer(t, 8, 2)
	r.RecordAccess(1, AccessUnknown)

	r.SetEvictable(1, true)
	r.SetEvictable(1, true)
	require.Equal(t, 1, r.Size())

	r.SetEvictable(1, false)
	r.SetEvictable(1, false)
	require.Equal(t, 0, r.Size())

	_, ok := r.Evict()
	require.False(t, ok)
}

func TestSetEvictableUnknownFrame(t *testing.T) {
	r := newTestReplacer(t, 8, 2)
	r.SetEvictable(5, true)
	require.Equal(t, 0, r.Size())
}

// A rank change on an evictable frame must be visible to the next Evict.
func TestRecordAccessRefreshesRank(t *testing.T) {
	r := newTestReplacer(t, 8, 2)

	r.RecordAccess(1, AccessUnknown) // t=1
	r.RecordAccess(1, AccessUnknown) // t=2
	r.RecordAccess(2, AccessUnknown) // t=3
	r.RecordAccess(2, AccessUnknown) // t=4
	r.SetEvictable(1, true)
	r.SetEvictable(2, true)

	// Frame 1 holds the older k-th access; touching it twice moves its whole
	// window past frame 2's. A stale rank would still evict frame 1 first.
	r.RecordAccess(1, AccessUnknown) // t=5
	r.RecordAccess(1, AccessUnknown) // t=6, window [5,6]
	id, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, FrameID(2), id)

	id, ok = r.Evict()
	require.True(t, ok)
	require.Equal(t, FrameID(1), id)
}

// Crossing from below-k to k accesses demotes a frame out of the infinite
// class.
func TestRecordAccessCrossesK(t *testing.T) {
	r := newTestReplacer(t, 8, 2)

	r.RecordAccess(1, AccessUnknown) // t=1
	r.RecordAccess(2, AccessUnknown) // t=2
	r.SetEvictable(1, true)
	r.SetEvictable(2, true)

	r.RecordAccess(1, AccessUnknown) // t=3, frame 1 now finite

	id, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, FrameID(2), id)
}

func TestRemove(t *testing.T) {
	r := newTestReplacer(t, 8, 2)

	r.RecordAccess(1, AccessUnknown)
	r.RecordAccess(2, AccessUnknown)
	r.SetEvictable(1, true)
	r.SetEvictable(2, true)
	require.Equal(t, 2, r.Size())

	r.Remove(1)
	require.Equal(t, 1, r.Size())

	id, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, FrameID(2), id)

	// Unknown frames are ignored.
	r.Remove(1)
	r.Remove(7)
}

func TestRemoveNonEvictablePanics(t *testing.T) {
	r := newTestReplacer(t, 8, 2)
	r.RecordAccess(1, AccessUnknown)
	require.Panics(t, func() { r.Remove(1) })
}

func TestFrameIDOutOfRangePanics(t *testing.T) {
	r := newTestReplacer(t, 8, 2)
	require.Panics(t, func() { r.RecordAccess(8, AccessUnknown) })
	require.Panics(t, func() { r.RecordAccess(-1, AccessUnknown) })
	require.Panics(t, func() { r.SetEvictable(8, true) })
	require.Panics(t, func() { r.Remove(8) })
}

// After Remove, a re-accessed frame behaves as freshly created: no history,
// not evictable.
func TestRemovePurgesHistory(t *testing.T) {
	r := newTestReplacer(t, 8, 3)

	r.RecordAccess(1, AccessUnknown) // t=1
	r.RecordAccess(1, AccessUnknown) // t=2
	r.RecordAccess(2, AccessUnknown) // t=3
	r.RecordAccess(2, AccessUnknown) // t=4
	r.SetEvictable(1, true)
	r.Remove(1)

	r.RecordAccess(1, AccessUnknown) // t=5
	require.Equal(t, 0, r.Size())
	_, ok := r.Evict()
	require.False(t, ok)

	// With the old history gone, frame 1's earliest access is t=5 and frame 2
	// goes first.
	r.SetEvictable(1, true)
	r.SetEvictable(2, true)
	id, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, FrameID(2), id)
	id, ok = r.Evict()
	require.True(t, ok)
	require.Equal(t, FrameID(1), id)
}

func TestKEqualsOneIsLRU(t *testing.T) {
	r := newTestReplacer(t, 8, 1)

	r.RecordAccess(1, AccessUnknown)
	r.RecordAccess(2, AccessUnknown)
	r.RecordAccess(3, AccessUnknown)
	r.RecordAccess(1, AccessUnknown)
	for id := FrameID(1); id <= 3; id++ {
		r.SetEvictable(id, true)
	}

	for _, want := range []FrameID{2, 3, 1} {
		id, ok := r.Evict()
		require.True(t, ok)
		require.Equal(t, want, id)
	}
}

// replacerModel recomputes the expected victim by brute force.
type replacerModel struct {
	k      int
	clock  uint64
	frames map[FrameID]*modelFrame
}

type modelFrame struct {
	history   []uint64
	evictable bool
}

func newReplacerModel(k int) *replacerModel {
	return &replacerModel{k: k, frames: make(map[FrameID]*modelFrame)}
}

func (m *replacerModel) record(id FrameID) {
	m.clock++
	f, ok := m.frames[id]
	if !ok {
		f = &modelFrame{}
		m.frames[id] = f
	}
	f.history = append(f.history, m.clock)
	if len(f.history) > m.k {
		f.history = f.history[1:]
	}
}

func (m *replacerModel) setEvictable(id FrameID, evictable bool) {
	if f, ok := m.frames[id]; ok {
		f.evictable = evictable
	}
}

func (m *replacerModel) size() int {
	n := 0
	for _, f := range m.frames {
		if f.evictable {
			n++
		}
	}
	return n
}

func (m *replacerModel) evict() (FrameID, bool) {
	var victim FrameID
	var best *modelFrame
	for id, f := range m.frames {
		if !f.evictable {
			continue
		}
		if best == nil || m.before(f, best) {
			victim, best = id, f
		}
	}
	if best == nil {
		return 0, false
	}
	delete(m.frames, victim)
	return victim, true
}

// before reports whether a should be evicted ahead of b.
func (m *replacerModel) before(a, b *modelFrame) bool {
	aInf := len(a.history) < m.k
	bInf := len(b.history) < m.k
	if aInf != bInf {
		return aInf
	}
	return a.history[0] < b.history[0]
}

// Random operation streams against the brute-force oracle.
func TestEvictionOrderAgainstOracle(t *testing.T) {
	const (
		numFrames = 32
		steps     = 20000
	)
	for _, k := range []int{1, 2, 3, 7} {
		rng := rand.New(rand.NewSource(0xd0991 + int64(k)))
		r := newTestReplacer(t, numFrames, k)
		m := newReplacerModel(k)

		for i := 0; i < steps; i++ {
			id := FrameID(rng.Intn(numFrames))
			switch rng.Intn(10) {
			case 0, 1, 2, 3:
				r.RecordAccess(id, AccessType(rng.Intn(4)))
				m.record(id)
			case 4, 5:
				r.SetEvictable(id, true)
				m.setEvictable(id, true)
			case 6:
				r.SetEvictable(id, false)
				m.setEvictable(id, false)
			case 7:
				require.Equal(t, m.size(), r.Size())
			default:
				gotID, gotOK := r.Evict()
				wantID, wantOK := m.evict()
				require.Equal(t, wantOK, gotOK)
				if wantOK {
					require.Equal(t, wantID, gotID)
				}
			}
		}
		require.Equal(t, m.size(), r.Size())
	}
}
