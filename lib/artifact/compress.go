// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the algorithm an artifact was stored
// with. The tag is written into the stored file's header, so these
// values are format constants.
type CompressionTag uint8

const (
	// CompressionNone stores the bytes as-is. Chosen for content
	// that does not compress (archives, images, already-compressed
	// logs).
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is LZ4 block compression: modest ratios, very
	// cheap decode. Chosen when content compresses a little but not
	// enough to be worth zstd.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is zstd at its default level: the choice for
	// text-like content (logs, JSON reports, coverage files).
	CompressionZstd CompressionTag = 2
)

// String returns the tag's human-readable name.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// errIncompressible reports that compression did not shrink the
// input; callers fall back to CompressionNone.
var errIncompressible = errors.New("artifact: data is incompressible")

// zstdEncoder and zstdDecoder are shared across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("artifact: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("artifact: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress compresses data with the given algorithm. For
// CompressionNone the input is returned unchanged, no copy.
func Compress(data []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		return compressLZ4(data)
	case CompressionZstd:
		return compressZstd(data)
	default:
		return nil, fmt.Errorf("artifact: unsupported compression tag %d", tag)
	}
}

// Decompress reverses Compress. uncompressedSize must match the
// original length exactly; a mismatch is a corruption error.
func Decompress(compressed []byte, tag CompressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(compressed) != uncompressedSize {
			return nil, fmt.Errorf("artifact: uncompressed data is %d bytes, expected %d", len(compressed), uncompressedSize)
		}
		return compressed, nil
	case CompressionLZ4:
		return decompressLZ4(compressed, uncompressedSize)
	case CompressionZstd:
		return decompressZstd(compressed, uncompressedSize)
	default:
		return nil, fmt.Errorf("artifact: unsupported compression tag %d", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input; also reject
	// output that fails to shrink.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, uncompressedSize)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != uncompressedSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
	}
	return destination, nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, uncompressedSize int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != uncompressedSize {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
	}
	return result, nil
}

// textExtensions are file extensions known to hold text-like content
// where zstd is worth it without probing.
var textExtensions = map[string]bool{
	".txt": true, ".log": true, ".md": true, ".json": true,
	".xml": true, ".html": true, ".csv": true, ".yaml": true,
	".yml": true, ".out": true, ".sql": true,
}

// SelectCompression chooses an algorithm for the named content. A
// known text extension short-circuits to zstd; otherwise the data is
// probed by compressing it once and reading the ratio: zstd above
// 1.5x, LZ4 between 1.1x and 1.5x, none below that.
func SelectCompression(name string, data []byte) CompressionTag {
	if textExtensions[strings.ToLower(filepath.Ext(name))] {
		return CompressionZstd
	}
	if len(data) == 0 {
		return CompressionNone
	}

	compressed := zstdEncoder.EncodeAll(data, nil)
	ratio := float64(len(data)) / float64(len(compressed))
	switch {
	case ratio >= 1.5:
		return CompressionZstd
	case ratio >= 1.1:
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// CompressAuto compresses with the algorithm SelectCompression picks
// for the content, falling back to CompressionNone when the data
// will not shrink. Returns the stored bytes and the tag used.
func CompressAuto(name string, data []byte) ([]byte, CompressionTag, error) {
	tag := SelectCompression(name, data)
	compressed, err := Compress(data, tag)
	if err != nil {
		if errors.Is(err, errIncompressible) {
			return data, CompressionNone, nil
		}
		return nil, 0, err
	}
	return compressed, tag, nil
}
