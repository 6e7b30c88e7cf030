// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// Tests run in temp directories that may sit on small
	// filesystems; do not let the production reserve interfere.
	store.minFreeBytes = 0
	return store
}

func TestStageAndRead(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	content := []byte(strings.Repeat("PASS ok github.com/conveyor-ci/conveyor/lib/matrix 0.012s\n", 120))

	staged, err := store.Stage("test-output.log", content)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if staged.Duplicate {
		t.Error("first stage reported Duplicate")
	}
	if staged.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", staged.Size, len(content))
	}
	if staged.Compression != CompressionZstd {
		t.Errorf("Compression = %s, want zstd for log content", staged.Compression)
	}
	if staged.CompressedSize >= staged.Size {
		t.Errorf("CompressedSize %d not below Size %d", staged.CompressedSize, staged.Size)
	}

	restored, err := store.Read(staged.Ref)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(restored, content) {
		t.Error("read content does not match staged content")
	}
}

func TestStageEmpty(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	staged, err := store.Stage("empty.txt", nil)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	restored, err := store.Read(staged.Ref)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(restored) != 0 {
		t.Errorf("read %d bytes from empty artifact", len(restored))
	}
}

func TestStageDuplicate(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	content := []byte(strings.Repeat("duplicate detection ", 64))

	first, err := store.Stage("a.log", content)
	if err != nil {
		t.Fatalf("Stage first: %v", err)
	}
	// Same bytes under a different name: identity is the content.
	second, err := store.Stage("b.log", content)
	if err != nil {
		t.Fatalf("Stage second: %v", err)
	}

	if second.Ref != first.Ref {
		t.Errorf("duplicate stage returned ref %s, want %s", second.Ref, first.Ref)
	}
	if !second.Duplicate {
		t.Error("second stage of identical content did not report Duplicate")
	}
	if second.Size != first.Size || second.CompressedSize != first.CompressedSize {
		t.Errorf("duplicate sizes (%d, %d) differ from original (%d, %d)",
			second.Size, second.CompressedSize, first.Size, first.CompressedSize)
	}

	refs, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(refs) != 1 {
		t.Errorf("store holds %d objects after duplicate stage, want 1", len(refs))
	}
}

func TestStageDistinctContent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	first, err := store.Stage("one.txt", []byte("first artifact"))
	if err != nil {
		t.Fatalf("Stage first: %v", err)
	}
	second, err := store.Stage("two.txt", []byte("second artifact"))
	if err != nil {
		t.Fatalf("Stage second: %v", err)
	}
	if first.Ref == second.Ref {
		t.Errorf("distinct content shares ref %s", first.Ref)
	}
}

func TestReadNotFound(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if _, err := store.Read("art-0123456789ab"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read missing ref: err = %v, want ErrNotFound", err)
	}
	if _, err := store.Read("not-a-ref"); err == nil {
		t.Error("Read with malformed ref succeeded, want error")
	}
}

func TestReadCorrupt(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	// Incompressible content stores raw, so flipping a payload byte
	// surfaces as a hash mismatch rather than a codec error.
	content := incompressibleBytes(512)
	staged, err := store.Stage("blob.bin", content)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if staged.Compression != CompressionNone {
		t.Fatalf("Compression = %s, want none for this fixture", staged.Compression)
	}

	payload, err := ParseRef(staged.Ref)
	if err != nil {
		t.Fatalf("ParseRef: %v", err)
	}
	path := filepath.Join(store.objectsDir, payload)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	raw[len(raw)-1] ^= 0xff
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err = store.Read(staged.Ref)
	if err == nil {
		t.Fatal("Read of corrupted object succeeded")
	}
	if !strings.Contains(err.Error(), "hash mismatch") {
		t.Errorf("corruption error = %q, want hash mismatch", err)
	}
}

func TestStat(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	content := []byte(strings.Repeat("stat fixture line\n", 100))
	staged, err := store.Stage("fixture.log", content)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	info, err := store.Stat(staged.Ref)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Ref != staged.Ref {
		t.Errorf("Ref = %s, want %s", info.Ref, staged.Ref)
	}
	if info.Size != staged.Size {
		t.Errorf("Size = %d, want %d", info.Size, staged.Size)
	}
	if info.CompressedSize != staged.CompressedSize {
		t.Errorf("CompressedSize = %d, want %d", info.CompressedSize, staged.CompressedSize)
	}
	if info.Compression != staged.Compression {
		t.Errorf("Compression = %s, want %s", info.Compression, staged.Compression)
	}

	if _, err := store.Stat("art-0123456789ab"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stat missing ref: err = %v, want ErrNotFound", err)
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	staged, err := store.Stage("gone.txt", []byte("soon removed"))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if err := store.Remove(staged.Ref); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := store.Read(staged.Ref); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read after Remove: err = %v, want ErrNotFound", err)
	}
	if err := store.Remove(staged.Ref); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove: err = %v, want ErrNotFound", err)
	}
}

func TestList(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	want := make([]string, 0, 3)
	for _, content := range []string{"alpha", "bravo", "charlie"} {
		staged, err := store.Stage(content+".txt", []byte(content))
		if err != nil {
			t.Fatalf("Stage %s: %v", content, err)
		}
		want = append(want, staged.Ref)
	}
	sort.Strings(want)

	// Stray staging temp files and foreign names must not show up.
	for _, name := range []string{".stage-incomplete", "README"} {
		if err := os.WriteFile(filepath.Join(store.objectsDir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile %s: %v", name, err)
		}
	}

	refs, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(refs) != len(want) {
		t.Fatalf("List returned %d refs, want %d: %v", len(refs), len(want), refs)
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Errorf("refs[%d] = %s, want %s", i, refs[i], want[i])
		}
	}
}

func TestGC(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	var refs []string
	for _, content := range []string{"keep me", "drop one", "drop two"} {
		staged, err := store.Stage("f.txt", []byte(content))
		if err != nil {
			t.Fatalf("Stage: %v", err)
		}
		refs = append(refs, staged.Ref)
	}
	tempPath := filepath.Join(store.objectsDir, ".stage-abandoned")
	if err := os.WriteFile(tempPath, []byte("partial"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	removed, err := store.GC(map[string]bool{refs[0]: true})
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if removed != 2 {
		t.Errorf("GC removed %d objects, want 2", removed)
	}

	if _, err := store.Read(refs[0]); err != nil {
		t.Errorf("live object unreadable after GC: %v", err)
	}
	for _, ref := range refs[1:] {
		if _, err := store.Read(ref); !errors.Is(err, ErrNotFound) {
			t.Errorf("Read(%s) after GC: err = %v, want ErrNotFound", ref, err)
		}
	}
	if _, err := os.Stat(tempPath); !errors.Is(err, os.ErrNotExist) {
		t.Error("GC left abandoned staging temp file behind")
	}
}

func TestStageRefusesWhenFull(t *testing.T) {
	t.Parallel()
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("free-space probe is unix-only")
	}

	store := newTestStore(t)
	// A reserve no real filesystem satisfies.
	store.minFreeBytes = 1 << 62

	_, err := store.Stage("big.txt", []byte("does not fit"))
	if !errors.Is(err, ErrStoreFull) {
		t.Errorf("Stage under exhausted reserve: err = %v, want ErrStoreFull", err)
	}
}
