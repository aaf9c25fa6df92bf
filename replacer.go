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

// Doppio tracks buffer pool access metadata for victim selection and distinct
// value estimation. The replacer implements the LRU-K replacement policy; the
// sketches estimate distinct counts over streaming keys.
package doppio

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// FrameID identifies a buffer pool frame. The replacer tracks a frame's
// access metadata only, never its contents.
type FrameID int64

// AccessType describes why a frame was accessed. It is an advisory hint and
// does not influence victim selection.
type AccessType int

const (
	AccessUnknown AccessType = iota
	AccessLookup
	AccessScan
	AccessIndex
)

// frameNode holds the access history of one tracked frame. history keeps up
// to k timestamps ordered oldest to newest.
type frameNode struct {
	id        FrameID
	history   []uint64
	evictable bool
}

// frameKey is the eviction rank of an evictable frame. oldest is the first
// retained timestamp; full reports whether k accesses have been recorded.
//
// A frame with fewer than k accesses has infinite backward k-distance and
// outranks every full frame; within each class the smaller oldest timestamp
// wins. For a full frame the oldest retained timestamp is exactly the k-th
// most recent access, so maximising backward k-distance reduces to this
// comparison.
type frameKey struct {
	id     FrameID
	oldest uint64
	full   bool
}

// Less orders keys so that the heap minimum is the next victim.
func (a frameKey) Less(b *frameKey) bool {
	if a.full != b.full {
		return !a.full
	}
	return a.oldest < b.oldest
}

// LRUKReplacer implements the LRU-K replacement policy.
//
// The policy evicts the evictable frame whose backward k-distance is the
// maximum across all evictable frames, where backward k-distance is the
// difference between the current timestamp and the timestamp of the k-th
// previous access. A frame with fewer than k recorded accesses has infinite
// backward k-distance; among those, the frame with the earliest recorded
// access is evicted first.
//
// The replacer is safe for concurrent use. Two mutexes split the state: the
// store mutex guards the node table and per-node mutations, the evict mutex
// guards the evictable set and its heap. Evict takes both, store first.
// Rank changes are applied lazily: they mark the heap dirty and the next
// Evict rebuilds it from the evictable set before extracting the victim.
type LRUKReplacer struct {
	k         int
	numFrames int
	clock     uint64

	storeMu sync.Mutex
	nodes   map[FrameID]*frameNode

	evictMu   sync.Mutex
	evictable map[FrameID]frameKey
	heap      *MinHeap[frameKey]
	dirty     bool

	Metrics *Metrics
}

// NewLRUKReplacer creates a replacer tracking at most numFrames frames with
// history depth k.
func NewLRUKReplacer(numFrames, k int) (*LRUKReplacer, error) {
	if k < 1 {
		return nil, errors.Errorf("lruk: k must be at least 1, got %d", k)
	}
	if numFrames < 1 {
		return nil, errors.Errorf("lruk: numFrames must be at least 1, got %d", numFrames)
	}
	return &LRUKReplacer{
		k:         k,
		numFrames: numFrames,
		nodes:     make(map[FrameID]*frameNode, numFrames),
		evictable: make(map[FrameID]frameKey, numFrames),
		heap:      NewMinHeap[frameKey](),
		Metrics:   newMetrics(),
	}, nil
}

// RecordAccess registers one access to the given frame at the next timestamp.
// An untracked frame becomes tracked with a fresh history and is not
// evictable until SetEvictable says so. Panics when id is out of range.
func (r *LRUKReplacer) RecordAccess(id FrameID, at AccessType) {
	r.checkFrame(id)
	ts := atomic.AddUint64(&r.clock, 1)

	r.storeMu.Lock()
	n, ok := r.nodes[id]
	if !ok {
		n = &frameNode{id: id, history: make([]uint64, 0, r.k)}
		r.nodes[id] = n
	}
	if len(n.history) == r.k {
		copy(n.history, n.history[1:])
		n.history[r.k-1] = ts
	} else {
		n.history = append(n.history, ts)
	}
	if n.evictable {
		key := r.keyOf(n)
		r.evictMu.Lock()
		if _, ok := r.evictable[id]; ok {
			r.evictable[id] = key
			r.dirty = true
		}
		r.evictMu.Unlock()
	}
	r.storeMu.Unlock()

	r.Metrics.add(accessRecorded, uint64(id), 1)
}

// SetEvictable toggles whether a frame may be chosen as a victim. Unknown
// frames and no-change toggles are silently ignored.
func (r *LRUKReplacer) SetEvictable(id FrameID, evictable bool) {
	r.checkFrame(id)

	r.storeMu.Lock()
	defer r.storeMu.Unlock()
	n, ok := r.nodes[id]
	if !ok || n.evictable == evictable {
		return
	}
	n.evictable = evictable

	r.evictMu.Lock()
	defer r.evictMu.Unlock()
	if evictable {
		key := r.keyOf(n)
		r.evictable[id] = key
		if r.dirty {
			// Rebuilt from the map on the next Evict.
			return
		}
		r.heap.Insert(&key)
		return
	}
	delete(r.evictable, id)
	r.dirty = true
}

// Remove drops a frame and its access history entirely. Removing an unknown
// frame is a no-op; removing a non-evictable frame is a caller bug and
// panics.
func (r *LRUKReplacer) Remove(id FrameID) {
	r.checkFrame(id)

	r.storeMu.Lock()
	defer r.storeMu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return
	}
	if !n.evictable {
		panic(errors.Errorf("lruk: remove of non-evictable frame %d", id))
	}
	delete(r.nodes, id)

	r.evictMu.Lock()
	delete(r.evictable, id)
	r.dirty = true
	r.evictMu.Unlock()

	r.Metrics.add(frameRemoved, uint64(id), 1)
}

// Evict selects the evictable frame with the largest backward k-distance,
// drops it from the replacer and returns its id. The second return value is
// false when no frame is evictable.
func (r *LRUKReplacer) Evict() (FrameID, bool) {
	r.storeMu.Lock()
	defer r.storeMu.Unlock()

	r.evictMu.Lock()
	if r.dirty {
		r.rebuildLocked()
	}
	top, ok := r.heap.Extract()
	if !ok {
		r.evictMu.Unlock()
		r.Metrics.add(evictMiss, 0, 1)
		return 0, false
	}
	id := top.id
	delete(r.evictable, id)
	r.evictMu.Unlock()

	delete(r.nodes, id)
	r.Metrics.add(frameEvicted, uint64(id), 1)
	r.Metrics.trackEviction(int64(atomic.LoadUint64(&r.clock) - top.oldest))
	return id, true
}

// Size returns the number of evictable frames.
func (r *LRUKReplacer) Size() int {
	r.evictMu.Lock()
	defer r.evictMu.Unlock()
	return len(r.evictable)
}

// rebuildLocked restores the heap from the evictable set. Caller holds the
// evict mutex.
func (r *LRUKReplacer) rebuildLocked() {
	items := make([]*frameKey, 0, len(r.evictable))
	for _, key := range r.evictable {
		key := key
		items = append(items, &key)
	}
	r.heap.Reset(items)
	r.dirty = false
}

// keyOf computes the current eviction rank of a node. Caller holds the store
// mutex.
func (r *LRUKReplacer) keyOf(n *frameNode) frameKey {
	return frameKey{
		id:     n.id,
		oldest: n.history[0],
		full:   len(n.history) == r.k,
	}
}

func (r *LRUKReplacer) checkFrame(id FrameID) {
	if id < 0 || int64(id) >= int64(r.numFrames) {
		panic(errors.Errorf("lruk: frame id %d out of range [0, %d)", id, r.numFrames))
	}
}
