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

package z

import (
	"fmt"
	"math"
	"strings"
)

// HistogramBounds creates power-of-two bucket bounds of the form
// [2^minExponent, ..., 2^maxExponent].
func HistogramBounds(minExponent, maxExponent uint32) []int64 {
	bounds := make([]int64, 0, maxExponent-minExponent+1)
	for i := minExponent; i <= maxExponent; i++ {
		bounds = append(bounds, int64(1)<<i)
	}
	return bounds
}

// HistogramData counts observed values in the buckets delimited by Bounds.
// Values at or above the last bound land in a final catch-all bucket.
type HistogramData struct {
	Bounds         []int64
	CountPerBucket []int64
	Count          int64
	Min            int64
	Max            int64
	Sum            int64
}

// NewHistogramData returns an empty histogram over the given bounds.
func NewHistogramData(bounds []int64) *HistogramData {
	return &HistogramData{
		Bounds:         bounds,
		CountPerBucket: make([]int64, len(bounds)+1),
		Min:            math.MaxInt64,
	}
}

func (h *HistogramData) Copy() *HistogramData {
	if h == nil {
		return nil
	}
	return &HistogramData{
		Bounds:         append([]int64{}, h.Bounds...),
		CountPerBucket: append([]int64{}, h.CountPerBucket...),
		Count:          h.Count,
		Min:            h.Min,
		Max:            h.Max,
		Sum:            h.Sum,
	}
}

// Update records one value.
func (h *HistogramData) Update(value int64) {
	if h == nil {
		return
	}
	if value > h.Max {
		h.Max = value
	}
	if value < h.Min {
		h.Min = value
	}
	h.Sum += value
	h.Count++

	for i := range h.Bounds {
		if value < h.Bounds[i] {
			h.CountPerBucket[i]++
			return
		}
	}
	h.CountPerBucket[len(h.Bounds)]++
}

// Mean returns the average of all recorded values, 0 when empty.
func (h *HistogramData) Mean() float64 {
	if h == nil || h.Count == 0 {
		return 0
	}
	return float64(h.Sum) / float64(h.Count)
}

// String converts the histogram data into a human-readable string.
func (h *HistogramData) String() string {
	if h == nil || h.Count == 0 {
		return "histogram: empty"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "histogram: min %d max %d mean %.2f", h.Min, h.Max, h.Mean())
	for i, count := range h.CountPerBucket {
		if count == 0 {
			continue
		}
		if i == len(h.Bounds) {
			fmt.Fprintf(&b, " [%d, inf): %d", h.Bounds[i-1], count)
			continue
		}
		lower := int64(0)
		if i > 0 {
			lower = h.Bounds[i-1]
		}
		fmt.Fprintf(&b, " [%d, %d): %d", lower, h.Bounds[i], count)
	}
	return b.String()
}
