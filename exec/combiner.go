// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/pondworks/rivulet"
)

// combine pre-combines pair records by key with fn, preserving the
// first-seen order of keys. It is applied on the producing side of
// combined shuffle dependencies so that at most one record per
// distinct key crosses the shuffle from each source partition.
func combine(recs []interface{}, key rivulet.KeyFunc, fn rivulet.ReduceFunc) ([]interface{}, error) {
	partials := make(map[interface{}]interface{}, len(recs))
	keys := make([]interface{}, 0, len(recs))
	for _, rec := range recs {
		p, ok := rec.(rivulet.Pair)
		if !ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("combine: record of type %T is not a Pair", rec))
		}
		k := key(rec)
		if prev, ok := partials[k]; ok {
			partials[k] = fn(prev, p.Value)
		} else {
			keys = append(keys, k)
			partials[k] = p.Value
		}
	}
	out := make([]interface{}, len(keys))
	for i, k := range keys {
		out[i] = rivulet.Pair{Key: k, Value: partials[k]}
	}
	return out, nil
}
