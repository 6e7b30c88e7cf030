// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifact is Conveyor's local artifact store:
// content-addressed files staged by job steps, compressed when that
// pays for itself, and referenced from run records by short "art-"
// refs. The store is a directory tree; there is no remote backend
// here, only what the aggregator's uploader chooses to push
// elsewhere.
package artifact

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest of an artifact's uncompressed
// content.
type Hash [32]byte

// fileDomainKey keys the BLAKE3 hash of artifact content. Domain
// separation keeps artifact hashes distinct from every other hash in
// the system even for identical input bytes. The key is the ASCII
// domain name zero-padded to the 32 bytes keyed mode requires; a
// fixed constant, since changing it would invalidate every stored
// artifact.
var fileDomainKey = [32]byte{
	'c', 'o', 'n', 'v', 'e', 'y', 'o', 'r', '.', 'a', 'r', 't', 'i', 'f', 'a', 'c',
	't', '.', 'f', 'i', 'l', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// HashBytes computes the file-domain hash of artifact content.
func HashBytes(data []byte) Hash {
	hasher, err := blake3.NewKeyed(fileDomainKey[:])
	if err != nil {
		// NewKeyed only fails on wrong key length, which the array
		// type rules out.
		panic("artifact: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// FormatHash returns the full hex form of a hash, used in store
// metadata and debug output.
func FormatHash(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing artifact hash: %w", err)
	}
	if len(decoded) != 32 {
		return hash, fmt.Errorf("artifact hash is %d bytes, want 32", len(decoded))
	}
	copy(hash[:], decoded)
	return hash, nil
}

// refPrefix marks short artifact references apart from run and job
// identifiers.
const refPrefix = "art-"

// FormatRef returns the short artifact reference carried in run
// records and CLI output: "art-" followed by the first 12 hex
// characters of the content hash.
func FormatRef(hash Hash) string {
	return refPrefix + hex.EncodeToString(hash[:6])
}

// ParseRef validates a short reference and returns its 12-character
// hex payload.
func ParseRef(ref string) (string, error) {
	if len(ref) != len(refPrefix)+12 || ref[:len(refPrefix)] != refPrefix {
		return "", fmt.Errorf("invalid artifact ref %q", ref)
	}
	payload := ref[len(refPrefix):]
	if _, err := hex.DecodeString(payload); err != nil {
		return "", fmt.Errorf("invalid artifact ref %q: %w", ref, err)
	}
	return payload, nil
}
