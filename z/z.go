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
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	farm "github.com/dgryski/go-farm"
)

// KeyToHash interprets the type of key and converts it to a uniform 64-bit
// hash. The hash is deterministic for a given typed value. String-like keys
// and integer keys run through different hash functions, so the two domains
// stay distinct even when an integer's encoding equals a string's bytes.
func KeyToHash(key interface{}) uint64 {
	if key == nil {
		return 0
	}
	switch k := key.(type) {
	case string:
		return xxhash.Sum64String(k)
	case []byte:
		return xxhash.Sum64(k)
	case uint64:
		return fingerprintInt(k)
	case int64:
		return fingerprintInt(uint64(k))
	case int:
		return fingerprintInt(uint64(k))
	case uint:
		return fingerprintInt(uint64(k))
	case int32:
		return fingerprintInt(uint64(k))
	case uint32:
		return fingerprintInt(uint64(k))
	default:
		panic("z: key type not supported")
	}
}

func fingerprintInt(k uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], k)
	return farm.Fingerprint64(buf[:])
}
