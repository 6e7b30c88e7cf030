// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Stored object layout:
//
//	offset 0:  magic "CNVA" (4 bytes)
//	offset 4:  format version (1 byte)
//	offset 5:  compression tag (1 byte)
//	offset 6:  uncompressed size (8 bytes, big endian)
//	offset 14: blake3 content hash (32 bytes)
//	offset 46: payload (compressed per the tag)
const (
	storeMagic   = "CNVA"
	storeVersion = 1
	headerSize   = 46
)

// DefaultMinFreeBytes is the filesystem headroom Stage refuses to eat
// into. Keeping a reserve means a burst of artifact uploads cannot
// wedge the host the engine shares with the jobs producing them.
const DefaultMinFreeBytes = 64 << 20

var (
	// ErrNotFound reports that no object with the requested ref
	// exists in the store.
	ErrNotFound = errors.New("artifact: not found")

	// ErrStoreFull reports that staging would drop filesystem free
	// space below the reserve.
	ErrStoreFull = errors.New("artifact: insufficient free space")
)

// Store is a content-addressed artifact store on the local
// filesystem. Objects live under <root>/objects, named by the hex
// payload of their ref, and carry a header recording compression and
// the full content hash so reads are self-verifying.
//
// Store is safe for concurrent use.
type Store struct {
	root       string
	objectsDir string

	// minFreeBytes is the free-space reserve Stage maintains.
	minFreeBytes uint64

	// mu serializes staging so the exists-then-write sequence for a
	// given ref is atomic with respect to other stagers.
	mu sync.Mutex
}

// Info describes a stored object.
type Info struct {
	Ref            string
	Size           int64 // uncompressed bytes
	CompressedSize int64 // payload bytes on disk
	Compression    CompressionTag
}

// Staged is the result of staging content into the store.
type Staged struct {
	Ref            string
	Size           int64
	CompressedSize int64
	Compression    CompressionTag

	// Duplicate is true when an object with identical content was
	// already present and no new bytes were written.
	Duplicate bool
}

// Open opens the store rooted at the given directory, creating it if
// needed.
func Open(root string) (*Store, error) {
	objectsDir := filepath.Join(root, "objects")
	if err := os.MkdirAll(objectsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact store %s: %w", root, err)
	}
	return &Store{
		root:         root,
		objectsDir:   objectsDir,
		minFreeBytes: DefaultMinFreeBytes,
	}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Stage writes content into the store and returns its ref. The name
// only guides compression selection; identity comes from the content
// hash, so staging the same bytes twice under different names yields
// the same ref with Duplicate set.
func (s *Store) Stage(name string, data []byte) (Staged, error) {
	hash := HashBytes(data)
	ref := FormatRef(hash)
	payload := strings.TrimPrefix(ref, refPrefix)
	path := filepath.Join(s.objectsDir, payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readHeader(path)
	switch {
	case err == nil:
		if existing.hash != hash {
			// Two distinct contents share a 48-bit ref prefix. The
			// store cannot hold both; refuse rather than overwrite.
			return Staged{}, fmt.Errorf("artifact: ref collision on %s: stored content hash differs", ref)
		}
		return Staged{
			Ref:            ref,
			Size:           existing.size,
			CompressedSize: existing.compressedSize,
			Compression:    existing.tag,
			Duplicate:      true,
		}, nil
	case errors.Is(err, os.ErrNotExist):
		// New object, fall through to write it.
	default:
		return Staged{}, err
	}

	if err := s.checkSpace(uint64(headerSize + len(data))); err != nil {
		return Staged{}, err
	}

	compressed, tag, err := CompressAuto(name, data)
	if err != nil {
		return Staged{}, fmt.Errorf("compress %s: %w", name, err)
	}

	header := encodeHeader(tag, len(data), hash)
	if err := s.writeObject(path, header, compressed); err != nil {
		return Staged{}, fmt.Errorf("stage %s: %w", ref, err)
	}

	return Staged{
		Ref:            ref,
		Size:           int64(len(data)),
		CompressedSize: int64(len(compressed)),
		Compression:    tag,
	}, nil
}

// writeObject writes header+payload to a temp file in the objects
// directory and renames it into place, so a crash never leaves a
// partial object under a valid name.
func (s *Store) writeObject(path string, header, payload []byte) error {
	temp, err := os.CreateTemp(s.objectsDir, ".stage-*")
	if err != nil {
		return err
	}
	tempName := temp.Name()
	defer os.Remove(tempName)

	if _, err := temp.Write(header); err != nil {
		temp.Close()
		return err
	}
	if _, err := temp.Write(payload); err != nil {
		temp.Close()
		return err
	}
	if err := temp.Sync(); err != nil {
		temp.Close()
		return err
	}
	if err := temp.Close(); err != nil {
		return err
	}
	return os.Rename(tempName, path)
}

// Read returns the content of the object with the given ref,
// verifying its stored hash.
func (s *Store) Read(ref string) ([]byte, error) {
	path, err := s.objectPath(ref)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}

	header, err := parseHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}

	data, err := Decompress(raw[headerSize:], header.tag, int(header.size))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	if HashBytes(data) != header.hash {
		return nil, fmt.Errorf("read %s: content hash mismatch, object is corrupt", ref)
	}
	return data, nil
}

// Stat returns metadata for the object with the given ref without
// reading its payload.
func (s *Store) Stat(ref string) (Info, error) {
	path, err := s.objectPath(ref)
	if err != nil {
		return Info{}, err
	}
	header, err := s.readHeader(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Info{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return Info{}, err
	}
	return Info{
		Ref:            ref,
		Size:           header.size,
		CompressedSize: header.compressedSize,
		Compression:    header.tag,
	}, nil
}

// Remove deletes the object with the given ref.
func (s *Store) Remove(ref string) error {
	path, err := s.objectPath(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return fmt.Errorf("remove %s: %w", ref, err)
	}
	return nil
}

// List returns the refs of all stored objects, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.objectsDir)
	if err != nil {
		return nil, fmt.Errorf("list artifact store: %w", err)
	}
	refs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		ref := refPrefix + entry.Name()
		if _, err := ParseRef(ref); err != nil {
			continue
		}
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs, nil
}

// GC removes every stored object whose ref is not in the live set and
// returns the number removed. Abandoned staging temp files are
// cleaned up as well.
func (s *Store) GC(live map[string]bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.objectsDir)
	if err != nil {
		return 0, fmt.Errorf("gc artifact store: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			os.Remove(filepath.Join(s.objectsDir, name))
			continue
		}
		ref := refPrefix + name
		if _, err := ParseRef(ref); err != nil {
			continue
		}
		if live[ref] {
			continue
		}
		if err := os.Remove(filepath.Join(s.objectsDir, name)); err != nil {
			return removed, fmt.Errorf("gc %s: %w", ref, err)
		}
		removed++
	}
	return removed, nil
}

// checkSpace fails with ErrStoreFull when writing need bytes would
// drop free space below the reserve.
func (s *Store) checkSpace(need uint64) error {
	free, err := freeBytes(s.objectsDir)
	if err != nil {
		return fmt.Errorf("check free space: %w", err)
	}
	if free < need+s.minFreeBytes {
		return fmt.Errorf("%w: %d bytes free, need %d plus %d reserve", ErrStoreFull, free, need, s.minFreeBytes)
	}
	return nil
}

func (s *Store) objectPath(ref string) (string, error) {
	payload, err := ParseRef(ref)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.objectsDir, payload), nil
}

// objectHeader is the decoded form of a stored object's header.
type objectHeader struct {
	tag            CompressionTag
	size           int64
	compressedSize int64
	hash           Hash
}

// readHeader reads and decodes the header of the object at path.
func (s *Store) readHeader(path string) (objectHeader, error) {
	file, err := os.Open(path)
	if err != nil {
		return objectHeader{}, err
	}
	defer file.Close()

	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(file, raw); err != nil {
		return objectHeader{}, fmt.Errorf("read header %s: %w", path, err)
	}
	header, err := parseHeader(raw)
	if err != nil {
		return objectHeader{}, fmt.Errorf("parse header %s: %w", path, err)
	}
	stat, err := file.Stat()
	if err != nil {
		return objectHeader{}, err
	}
	header.compressedSize = stat.Size() - headerSize
	return header, nil
}

func encodeHeader(tag CompressionTag, uncompressedSize int, hash Hash) []byte {
	header := make([]byte, headerSize)
	copy(header[0:4], storeMagic)
	header[4] = storeVersion
	header[5] = byte(tag)
	binary.BigEndian.PutUint64(header[6:14], uint64(uncompressedSize))
	copy(header[14:46], hash[:])
	return header
}

func parseHeader(raw []byte) (objectHeader, error) {
	if len(raw) < headerSize {
		return objectHeader{}, fmt.Errorf("object truncated: %d bytes, header needs %d", len(raw), headerSize)
	}
	if string(raw[0:4]) != storeMagic {
		return objectHeader{}, fmt.Errorf("bad magic %q", raw[0:4])
	}
	if raw[4] != storeVersion {
		return objectHeader{}, fmt.Errorf("unsupported format version %d", raw[4])
	}
	header := objectHeader{
		tag:            CompressionTag(raw[5]),
		size:           int64(binary.BigEndian.Uint64(raw[6:14])),
		compressedSize: int64(len(raw) - headerSize),
	}
	copy(header.hash[:], raw[14:46])
	return header, nil
}
