// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/pondworks/rivulet"
)

func TestCodecRoundtrip(t *testing.T) {
	recs := []interface{}{
		1, "two", 3.0, true,
		rivulet.Pair{Key: "k", Value: 4},
		rivulet.Joined{Left: 1, HasLeft: true},
	}
	buf, sum, err := encodeRecords(recs)
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodeRecords(buf, sum)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, recs) {
		t.Errorf("got %v, want %v", got, recs)
	}
}

func TestCodecChecksum(t *testing.T) {
	buf, sum, err := encodeRecords(recordsOf(1, 2, 3))
	if err != nil {
		t.Fatal(err)
	}
	buf[len(buf)/2] ^= 0xff
	if _, err := decodeRecords(buf, sum); err == nil {
		t.Fatal("expected checksum error")
	}
}

func TestCodecFuzz(t *testing.T) {
	fz := fuzz.New().NilChance(0).NumElements(0, 64)
	for i := 0; i < 100; i++ {
		var (
			ints   []int
			strs   []string
			floats []float64
		)
		fz.Fuzz(&ints)
		fz.Fuzz(&strs)
		fz.Fuzz(&floats)
		var recs []interface{}
		for _, v := range ints {
			recs = append(recs, v)
		}
		for _, v := range strs {
			recs = append(recs, v)
		}
		for j, v := range floats {
			recs = append(recs, rivulet.Pair{Key: j, Value: v})
		}
		buf, sum, err := encodeRecords(recs)
		if err != nil {
			t.Fatal(err)
		}
		got, err := decodeRecords(buf, sum)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != len(recs) {
			t.Fatalf("got %d records, want %d", len(got), len(recs))
		}
		if len(recs) > 0 && !reflect.DeepEqual(got, recs) {
			t.Errorf("roundtrip mismatch at iteration %d", i)
		}
	}
}

func TestSpillRoundtrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "rivulet-spill-test-")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "blob")
	buf, _, err := encodeRecords(recordsOf(1, 2, 3))
	if err != nil {
		t.Fatal(err)
	}
	if err := writeSpill(path, buf); err != nil {
		t.Fatal(err)
	}
	got, err := readSpill(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, buf) {
		t.Error("spill roundtrip mismatch")
	}
	if _, err := readSpill(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing spill")
	}
}
