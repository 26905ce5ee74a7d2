// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rivulet

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"math"

	"github.com/grailbio/base/log"
	"github.com/spaolacci/murmur3"
)

// hashSeed decorrelates partition placement from any hashing the user
// may have applied upstream.
const hashSeed = 0x9acb0442

// Hasher is implemented by user key types that wish to provide their
// own stable hashing implementation.
type Hasher interface {
	// Hash32 returns a 32-bit hash of the value. It must be a pure
	// function of the value.
	Hash32() uint32
}

// stableHash32 returns a stable 32-bit hash of key: equal keys hash
// equal across calls and across processes. Fixed-size scalars are
// hashed over their binary encoding; other types fall back to their
// gob encoding.
func stableHash32(key interface{}) uint32 {
	switch k := key.(type) {
	case Hasher:
		return k.Hash32()
	case nil:
		return 0
	case string:
		return murmur3.Sum32WithSeed([]byte(k), hashSeed)
	case bool:
		if k {
			return murmur3.Sum32WithSeed([]byte{1}, hashSeed)
		}
		return murmur3.Sum32WithSeed([]byte{0}, hashSeed)
	case int:
		return hashUint64(uint64(k))
	case int8:
		return hashUint64(uint64(k))
	case int16:
		return hashUint64(uint64(k))
	case int32:
		return hashUint64(uint64(k))
	case int64:
		return hashUint64(uint64(k))
	case uint:
		return hashUint64(uint64(k))
	case uint8:
		return hashUint64(uint64(k))
	case uint16:
		return hashUint64(uint64(k))
	case uint32:
		return hashUint64(uint64(k))
	case uint64:
		return hashUint64(k)
	case float32:
		return hashUint64(uint64(math.Float32bits(k)))
	case float64:
		return hashUint64(math.Float64bits(k))
	case Pair:
		return stableHash32(k.Key)*31 ^ stableHash32(k.Value)
	default:
		// Deterministic fallback over the gob encoding, in the spirit
		// of hashing fixed-size structures over their binary encoding.
		var b bytes.Buffer
		if err := gob.NewEncoder(&b).Encode(&key); err != nil {
			log.Panicf("rivulet: cannot hash key of type %T: %v", key, err)
		}
		return murmur3.Sum32WithSeed(b.Bytes(), hashSeed)
	}
}

func hashUint64(x uint64) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], x)
	return murmur3.Sum32WithSeed(b[:], hashSeed)
}
