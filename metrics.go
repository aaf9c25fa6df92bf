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
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/doppio-db/doppio/z"
)

type metricType int

const (
	// The following keep track of replacer traffic.
	accessRecorded = iota
	frameEvicted
	frameRemoved
	evictMiss
	// This should be the final enum. Other enums should be set before this.
	doNotUse
)

func stringFor(t metricType) string {
	switch t {
	case accessRecorded:
		return "accesses-recorded"
	case frameEvicted:
		return "frames-evicted"
	case frameRemoved:
		return "frames-removed"
	case evictMiss:
		return "evict-misses"
	default:
		return "unidentified"
	}
}

// Metrics is a snapshot of performance statistics for the lifetime of a
// replacer instance.
type Metrics struct {
	all [doNotUse][]*uint64

	mu       sync.RWMutex
	distance *z.HistogramData // Tracks backward distance of evicted frames.
}

func newMetrics() *Metrics {
	s := &Metrics{
		distance: z.NewHistogramData(z.HistogramBounds(0, 24)),
	}
	for i := 0; i < doNotUse; i++ {
		s.all[i] = make([]*uint64, 256)
		slice := s.all[i]
		for j := range slice {
			slice[j] = new(uint64)
		}
	}
	return s
}

func (p *Metrics) add(t metricType, hash, delta uint64) {
	if p == nil {
		return
	}
	valp := p.all[t]
	// Avoid false sharing by padding at least 64 bytes of space between two
	// atomic counters which would be incremented.
	idx := (hash % 25) * 10
	atomic.AddUint64(valp[idx], delta)
}

func (p *Metrics) get(t metricType) uint64 {
	if p == nil {
		return 0
	}
	valp := p.all[t]
	var total uint64
	for i := range valp {
		total += atomic.LoadUint64(valp[i])
	}
	return total
}

// AccessesRecorded is the total number of RecordAccess calls.
func (p *Metrics) AccessesRecorded() uint64 {
	return p.get(accessRecorded)
}

// FramesEvicted is the number of frames dropped through Evict.
func (p *Metrics) FramesEvicted() uint64 {
	return p.get(frameEvicted)
}

// FramesRemoved is the number of frames dropped through Remove.
func (p *Metrics) FramesRemoved() uint64 {
	return p.get(frameRemoved)
}

// EvictMisses is the number of Evict calls that found no evictable frame.
func (p *Metrics) EvictMisses() uint64 {
	return p.get(evictMiss)
}

func (p *Metrics) trackEviction(distance int64) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.distance.Update(distance)
}

// EvictionDistances returns the distribution of backward distances observed
// at eviction time.
func (p *Metrics) EvictionDistances() *z.HistogramData {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.distance.Copy()
}

// Clear resets all the metrics.
func (p *Metrics) Clear() {
	if p == nil {
		return
	}
	for i := 0; i < doNotUse; i++ {
		for j := range p.all[i] {
			atomic.StoreUint64(p.all[i][j], 0)
		}
	}
	p.mu.Lock()
	p.distance = z.NewHistogramData(z.HistogramBounds(0, 24))
	p.mu.Unlock()
}

// String returns a string representation of the metrics.
func (p *Metrics) String() string {
	if p == nil {
		return ""
	}
	var buf bytes.Buffer
	for i := 0; i < doNotUse; i++ {
		t := metricType(i)
		fmt.Fprintf(&buf, "%s: %s ", stringFor(t), humanize.Comma(int64(p.get(t))))
	}
	fmt.Fprintf(&buf, "drops-total: %s", humanize.Comma(int64(p.get(frameEvicted)+p.get(frameRemoved))))
	return buf.String()
}
