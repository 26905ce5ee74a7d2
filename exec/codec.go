// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"bytes"
	"encoding/gob"
	"io/ioutil"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/grailbio/base/errors"
	"github.com/klauspost/compress/zstd"
)

// encodeRecords gob-encodes a batch of records and returns the
// encoding together with its xxhash checksum. Record types must be
// registered with rivulet.RegisterType (or be among the built-in
// registered types).
func encodeRecords(recs []interface{}) ([]byte, uint64, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(recs); err != nil {
		return nil, 0, errors.E(err, "encode records")
	}
	buf := b.Bytes()
	return buf, xxhash.Sum64(buf), nil
}

// decodeRecords reverses encodeRecords, verifying the checksum first.
// A checksum mismatch returns an Integrity-kinded error.
func decodeRecords(buf []byte, sum uint64) ([]interface{}, error) {
	if xxhash.Sum64(buf) != sum {
		return nil, errors.E(errors.Integrity, "record batch checksum mismatch")
	}
	var recs []interface{}
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&recs); err != nil {
		return nil, errors.E(err, "decode records")
	}
	return recs, nil
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// writeSpill writes buf to path, zstd-compressed. Spill files are
// written once and never appended to.
func writeSpill(path string, buf []byte) error {
	compressed := zstdEncoder.EncodeAll(buf, make([]byte, 0, len(buf)/2))
	if err := ioutil.WriteFile(path, compressed, 0600); err != nil {
		return errors.E(err, "write spill")
	}
	return nil
}

// readSpill reads and decompresses a file written by writeSpill.
func readSpill(path string) ([]byte, error) {
	compressed, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.E(errors.NotExist, err)
		}
		return nil, errors.E(err, "read spill")
	}
	buf, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, errors.E(errors.Integrity, err, "decompress spill")
	}
	return buf, nil
}
