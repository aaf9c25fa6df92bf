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
	"math/bits"

	"github.com/doppio-db/doppio/z"
)

const (
	// denseBits is the register width stored in the packed dense array;
	// overflowBits covers the high bits of values beyond the dense range.
	// 4+3 bits represent any position over a 64-bit hash.
	denseBits    = 4
	overflowBits = 3
	denseMask    = 1<<denseBits - 1
)

// HyperLogLogPresto is a HyperLogLog variant with a Presto-style register
// layout: the low denseBits of every register live in a packed dense array
// and the high bits, when present, in a sparse overflow map. The value rule
// also follows Presto and counts from the LSB side of the hash.
//
// Instances are single-writer; callers serialise access.
type HyperLogLogPresto struct {
	hash        Hasher
	dense       denseRow
	overflow    map[uint64]uint8
	nBits       uint
	cardinality uint64
}

// NewHyperLogLogPresto creates an estimator indexed by the top nLeadingBits
// hash bits. nLeadingBits is clamped like NewHyperLogLog's nBits.
func NewHyperLogLogPresto(nLeadingBits int) *HyperLogLogPresto {
	return NewHyperLogLogPrestoWithHash(nLeadingBits, z.KeyToHash)
}

// NewHyperLogLogPrestoWithHash is NewHyperLogLogPresto with an injected hash
// function.
func NewHyperLogLogPrestoWithHash(nLeadingBits int, hash Hasher) *HyperLogLogPresto {
	b := clampBits(nLeadingBits)
	return &HyperLogLogPresto{
		hash:     hash,
		dense:    newDenseRow(1 << b),
		overflow: make(map[uint64]uint8),
		nBits:    b,
	}
}

// Add routes the key's hash to a register and raises it to 1 + the number of
// trailing zeros of the remaining hash bits, if larger.
func (h *HyperLogLogPresto) Add(key interface{}) {
	hv := h.hash(key)
	j := hv >> (64 - h.nBits)
	v := trailingOne(hv, 64-h.nBits)
	if v <= h.register(j) {
		return
	}
	h.dense.set(j, v&denseMask)
	if hi := v >> denseBits; hi != 0 {
		h.overflow[j] = hi
	} else {
		delete(h.overflow, j)
	}
}

// ComputeCardinality recomputes the estimate from the current registers.
func (h *HyperLogLogPresto) ComputeCardinality() {
	h.cardinality = estimateCardinality(1<<h.nBits, func(j int) uint8 {
		return h.register(uint64(j))
	})
}

// Cardinality returns the last computed estimate, 0 before the first
// ComputeCardinality.
func (h *HyperLogLogPresto) Cardinality() uint64 {
	return h.cardinality
}

// register reassembles the full value of bucket j from its two tiers.
func (h *HyperLogLogPresto) register(j uint64) uint8 {
	return h.dense.get(j) | h.overflow[j]<<denseBits
}

// trailingOne returns 1 + the number of trailing zeros of the width-bit low
// field of v, or 0 when the field is zero.
func trailingOne(v uint64, width uint) uint8 {
	if width == 0 {
		return 0
	}
	if width < 64 {
		v &= 1<<width - 1
	}
	if v == 0 {
		return 0
	}
	return uint8(bits.TrailingZeros64(v)) + 1
}

// denseRow packs two denseBits-wide registers per byte.
type denseRow []byte

func newDenseRow(numRegisters int) denseRow {
	return make(denseRow, (numRegisters+1)/2)
}

func (r denseRow) get(n uint64) uint8 {
	return r[n/2] >> ((n & 1) * denseBits) & denseMask
}

func (r denseRow) set(n uint64, v uint8) {
	i := n / 2
	s := (n & 1) * denseBits
	r[i] = r[i]&^(denseMask<<s) | (v&denseMask)<<s
}
