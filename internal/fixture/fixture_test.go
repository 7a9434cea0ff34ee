// fixture_test.go: Golden-file checks for the pinned capsule scenario.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package fixture_test

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/agilira/ihp/internal/fixture"
)

var update = flag.Bool("update", false, "rewrite the golden capsule file")

const goldenPath = "testdata/capsule_v1.bin"

func TestGenerate_Deterministic(t *testing.T) {
	w1, err := fixture.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	w2, err := fixture.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !bytes.Equal(w1, w2) {
		t.Error("pinned scenario is not byte-deterministic")
	}
}

func TestGenerate_OpenRoundTrip(t *testing.T) {
	wire, err := fixture.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	plaintext, err := fixture.Open(wire)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(plaintext, fixture.Payload) {
		t.Errorf("plaintext = %q, want %q", plaintext, fixture.Payload)
	}
}

// The golden file pins the wire bytes across releases. It is committed to
// the repository; -update rewrites it after an intentional format change.
// A missing file fails the test so format drift cannot slip through by
// silently regenerating the reference bytes.
func TestGolden_CapsuleV1(t *testing.T) {
	wire, err := fixture.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if *update {
		writeGolden(t, wire)
	}
	golden, err := os.ReadFile(goldenPath)
	if os.IsNotExist(err) {
		t.Fatalf("golden file %s is missing; restore it from version control or run with -update after an intentional wire change", goldenPath)
	} else if err != nil {
		t.Fatalf("reading golden file: %v", err)
	}

	if !bytes.Equal(wire, golden) {
		t.Fatalf("generated capsule diverges from golden file (%d vs %d bytes); run with -update after an intentional wire change", len(wire), len(golden))
	}

	plaintext, err := fixture.Open(golden)
	if err != nil {
		t.Fatalf("Open on golden bytes failed: %v", err)
	}
	if !bytes.Equal(plaintext, fixture.Payload) {
		t.Errorf("golden plaintext = %q, want %q", plaintext, fixture.Payload)
	}
}

func writeGolden(t *testing.T, wire []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(goldenPath), 0o755); err != nil {
		t.Fatalf("creating testdata dir: %v", err)
	}
	if err := os.WriteFile(goldenPath, wire, 0o644); err != nil {
		t.Fatalf("writing golden file: %v", err)
	}
}
