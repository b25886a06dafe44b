// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestMarshalDeterministicMapOrder(t *testing.T) {
	// Maps with the same contents must encode identically regardless of
	// insertion order — cache keys depend on it.
	first := map[string]string{}
	first["alpha"] = "1"
	first["beta"] = "2"
	first["gamma"] = "3"

	second := map[string]string{}
	second["gamma"] = "3"
	second["alpha"] = "1"
	second["beta"] = "2"

	firstBytes, err := Marshal(first)
	if err != nil {
		t.Fatalf("Marshal(first) failed: %v", err)
	}
	secondBytes, err := Marshal(second)
	if err != nil {
		t.Fatalf("Marshal(second) failed: %v", err)
	}

	if !bytes.Equal(firstBytes, secondBytes) {
		t.Error("equal maps encoded to different bytes")
	}
}

func TestStructRoundtrip(t *testing.T) {
	type record struct {
		Name  string         `cbor:"name"`
		Size  int64          `cbor:"size"`
		Bytes []byte         `cbor:"bytes"`
		Meta  map[string]any `cbor:"meta,omitempty"`
	}

	original := record{
		Name:  "a.txt",
		Size:  42,
		Bytes: []byte{1, 2, 3},
		Meta:  map[string]any{"kind": "test"},
	}

	encoded, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded record
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.Name != original.Name || decoded.Size != original.Size {
		t.Errorf("roundtrip mismatch: got %+v", decoded)
	}
	if !bytes.Equal(decoded.Bytes, original.Bytes) {
		t.Error("byte field did not roundtrip")
	}
	if decoded.Meta["kind"] != "test" {
		t.Errorf("meta did not roundtrip: %+v", decoded.Meta)
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	type wide struct {
		Kept    string `cbor:"kept"`
		Dropped string `cbor:"dropped"`
	}
	type narrow struct {
		Kept string `cbor:"kept"`
	}

	encoded, err := Marshal(wide{Kept: "yes", Dropped: "extra"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded narrow
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal with unknown field failed: %v", err)
	}
	if decoded.Kept != "yes" {
		t.Errorf("Kept = %q, want %q", decoded.Kept, "yes")
	}
}

func TestAnyTargetDecodesStringKeyedMaps(t *testing.T) {
	encoded, err := Marshal(map[string]any{"nested": map[string]any{"n": int64(1)}})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded any
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	top, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type is %T, want map[string]any", decoded)
	}
	if _, ok := top["nested"].(map[string]any); !ok {
		t.Fatalf("nested type is %T, want map[string]any", top["nested"])
	}
}

func TestEncoderDecoderStream(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)

	for _, value := range []string{"one", "two", "three"} {
		if err := encoder.Encode(value); err != nil {
			t.Fatalf("Encode(%q) failed: %v", value, err)
		}
	}

	decoder := NewDecoder(&buffer)
	for _, want := range []string{"one", "two", "three"} {
		var got string
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if got != want {
			t.Errorf("Decode = %q, want %q", got, want)
		}
	}
}
