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
	"math"
	"math/bits"

	"github.com/doppio-db/doppio/z"
)

// hllAlpha is the bias correction constant of the cardinality formula. The
// reference implementation uses this single fixed value instead of the
// size-dependent table from the Flajolet paper; it is kept for
// bit-compatibility and overshoots for large register counts.
const hllAlpha = 0.79402

// maxSketchBits caps the bucket index width so that the register count stays
// a positive int.
const maxSketchBits = 62

// Hasher converts a typed key into a uniform 64-bit hash.
type Hasher func(key interface{}) uint64

// HyperLogLog estimates the number of distinct keys seen in a stream. Each
// register holds the maximum observed position of the leftmost one bit among
// the hashes routed to its bucket.
//
// Instances are single-writer; callers serialise access.
type HyperLogLog struct {
	hash        Hasher
	registers   []uint8
	nBits       uint
	cardinality uint64
}

// NewHyperLogLog creates an estimator indexed by the top nBits hash bits.
// nBits is clamped to a sane range; negative values count as 0.
func NewHyperLogLog(nBits int) *HyperLogLog {
	return NewHyperLogLogWithHash(nBits, z.KeyToHash)
}

// NewHyperLogLogWithHash is NewHyperLogLog with an injected hash function.
func NewHyperLogLogWithHash(nBits int, hash Hasher) *HyperLogLog {
	b := clampBits(nBits)
	return &HyperLogLog{
		hash:      hash,
		registers: make([]uint8, 1<<b),
		nBits:     b,
	}
}

// Add routes the key's hash to a register and raises it to the position of
// the leftmost one bit of the remaining hash bits, if larger.
func (h *HyperLogLog) Add(key interface{}) {
	hv := h.hash(key)
	j := hv >> (64 - h.nBits)
	if rho := leadingOne(hv<<h.nBits, 64-h.nBits); rho > h.registers[j] {
		h.registers[j] = rho
	}
}

// ComputeCardinality recomputes the estimate from the current registers.
func (h *HyperLogLog) ComputeCardinality() {
	h.cardinality = estimateCardinality(len(h.registers), func(j int) uint8 {
		return h.registers[j]
	})
}

// Cardinality returns the last computed estimate, 0 before the first
// ComputeCardinality.
func (h *HyperLogLog) Cardinality() uint64 {
	return h.cardinality
}

// leadingOne returns 1 + the index of the most significant set bit of the
// width-bit field held in the top bits of v, or 0 when the field is zero.
// The bits of v below the field must already be cleared.
func leadingOne(v uint64, width uint) uint8 {
	if v == 0 || width == 0 {
		return 0
	}
	return uint8(bits.LeadingZeros64(v)) + 1
}

// estimateCardinality evaluates floor(alpha * m^2 / sum(2^-reg)). An
// all-zero register table reports 0 so that an estimator that never saw a
// key does not answer with the formula's floor(alpha*m) baseline.
func estimateCardinality(m int, register func(int) uint8) uint64 {
	sum, zero := 0.0, true
	for j := 0; j < m; j++ {
		reg := register(j)
		if reg != 0 {
			zero = false
		}
		sum += math.Pow(2, -float64(reg))
	}
	if zero {
		return 0
	}
	fm := float64(m)
	return uint64(math.Floor(hllAlpha * fm * fm / sum))
}

func clampBits(nBits int) uint {
	if nBits < 0 {
		return 0
	}
	if nBits > maxSketchBits {
		return maxSketchBits
	}
	return uint(nBits)
}
