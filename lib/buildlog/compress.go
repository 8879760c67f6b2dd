// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildlog

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression of an archived output file. The
// codec is recorded in the file extension, so archives written with
// different settings stay readable.
type Codec uint8

const (
	// CodecNone stores output uncompressed.
	CodecNone Codec = iota

	// CodecZstd is the default: build logs are repetitive text and
	// compress 5-10x at the default level.
	CodecZstd

	// CodecLZ4 trades ratio for speed on hosts where the archive write
	// should not slow the report.
	CodecLZ4
)

// String returns the codec's configuration name.
func (codec Codec) String() string {
	switch codec {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", codec)
	}
}

// Extension returns the file extension for the codec, including the
// leading dot; empty for CodecNone.
func (codec Codec) Extension() string {
	switch codec {
	case CodecZstd:
		return ".zst"
	case CodecLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// ParseCodec parses a codec from its configuration name. The empty
// string selects zstd.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	case "none":
		return CodecNone, nil
	default:
		return 0, fmt.Errorf("unknown compression codec: %q", name)
	}
}

// codecForExtension maps a file extension back to its codec.
func codecForExtension(extension string) Codec {
	switch extension {
	case ".zst":
		return CodecZstd
	case ".lz4":
		return CodecLZ4
	default:
		return CodecNone
	}
}

// compressTo writes data to w through the codec's streaming frame
// format.
func compressTo(w io.Writer, codec Codec, data io.Reader) error {
	switch codec {
	case CodecNone:
		_, err := io.Copy(w, data)
		return err

	case CodecZstd:
		encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("zstd encoder: %w", err)
		}
		if _, err := io.Copy(encoder, data); err != nil {
			encoder.Close()
			return fmt.Errorf("zstd compress: %w", err)
		}
		return encoder.Close()

	case CodecLZ4:
		encoder := lz4.NewWriter(w)
		if _, err := io.Copy(encoder, data); err != nil {
			encoder.Close()
			return fmt.Errorf("lz4 compress: %w", err)
		}
		return encoder.Close()

	default:
		return fmt.Errorf("unsupported codec: %d", codec)
	}
}

// decompressFrom returns a reader of the decompressed content of r.
func decompressFrom(r io.Reader, codec Codec) (io.ReadCloser, error) {
	switch codec {
	case CodecNone:
		return io.NopCloser(r), nil

	case CodecZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		return decoder.IOReadCloser(), nil

	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil

	default:
		return nil, fmt.Errorf("unsupported codec: %d", codec)
	}
}
