// main.go: Golden fixture generator for the capsule wire format.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/agilira/ihp/internal/fixture"
)

func main() {
	log := logrus.New()

	out := flag.String("out", "testdata/capsule_v1.bin", "output path for the fixture capsule")
	check := flag.Bool("check", false, "verify an existing fixture instead of writing")
	flag.Parse()

	wire, err := fixture.Generate()
	if err != nil {
		log.WithError(err).Fatal("fixture generation failed")
	}
	plaintext, err := fixture.Open(wire)
	if err != nil {
		log.WithError(err).Fatal("fixture round trip failed")
	}
	if !bytes.Equal(plaintext, fixture.Payload) {
		log.Fatal("fixture round trip produced wrong payload")
	}

	if *check {
		existing, err := os.ReadFile(*out)
		if err != nil {
			log.WithError(err).Fatal("fixture file unreadable")
		}
		if !bytes.Equal(existing, wire) {
			log.WithField("path", *out).Fatal("fixture file does not match current wire format")
		}
		log.WithField("path", *out).Info("fixture up to date")
		return
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		log.WithError(err).Fatal("fixture directory creation failed")
	}
	if err := os.WriteFile(*out, wire, 0o644); err != nil {
		log.WithError(err).Fatal("fixture write failed")
	}
	log.WithFields(logrus.Fields{"path": *out, "bytes": len(wire)}).Info("fixture written")
}
