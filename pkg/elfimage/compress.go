// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package elfimage

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

	// maxDecompressedSize bounds the output of Decompress.
	maxDecompressedSize int64 = 256 << 20
)

// Decompress returns data decompressed if it carries a gzip or zstd magic,
// and data unchanged otherwise. Output larger than maxDecompressedSize is an
// error.
func Decompress(data []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(data, gzipMagic):
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		defer gr.Close()
		out, err := io.ReadAll(io.LimitReader(gr, maxDecompressedSize+1))
		if err != nil {
			return nil, fmt.Errorf("decompress gzip data: %w", err)
		}
		if int64(len(out)) > maxDecompressedSize {
			return nil, fmt.Errorf("decompressed gzip data exceeds %d bytes", maxDecompressedSize)
		}
		return out, nil
	case bytes.HasPrefix(data, zstdMagic):
		zr, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(maxDecompressedSize)))
		if err != nil {
			return nil, fmt.Errorf("create zstd reader: %w", err)
		}
		defer zr.Close()
		out, err := zr.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress zstd data: %w", err)
		}
		return out, nil
	}
	return data, nil
}
