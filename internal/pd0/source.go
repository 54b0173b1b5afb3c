package pd0

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const (
	minDataBlockSize = 1 << 20
)

// ByteSource is a randomly addressable view over an instrument file.
// Implementations must allow concurrent ReadAt calls.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// Source is a ByteSource that owns an underlying resource.
type Source interface {
	ByteSource
	io.Closer
}

// blockSource serves small sequential reads out of a cached window of the
// file. The window is guarded so the source can be shared by decoders.
type blockSource struct {
	mu        sync.Mutex
	file      *os.File
	size      int64
	blockSize int
	buf       []byte
	bufStart  int64
	bufLen    int
}

func newBlockSource(f *os.File, size int64, blockSize int) *blockSource {
	if blockSize < minDataBlockSize {
		blockSize = minDataBlockSize
	}
	return &blockSource{file: f, size: size, blockSize: blockSize}
}

func (bs *blockSource) Size() int64 {
	return bs.size
}

func (bs *blockSource) Close() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.file == nil {
		return nil
	}
	err := bs.file.Close()
	bs.file = nil
	bs.buf = nil
	bs.bufLen = 0
	return err
}

func (bs *blockSource) fill(offset int64) error {
	if bs.buf == nil {
		bs.buf = make([]byte, bs.blockSize)
	}
	bs.bufStart = offset
	bs.bufLen = 0
	toRead := int64(bs.blockSize)
	if remain := bs.size - offset; remain < toRead {
		toRead = remain
	}
	if toRead <= 0 {
		return io.EOF
	}
	n, err := bs.file.ReadAt(bs.buf[:toRead], offset)
	bs.bufLen = n
	if err != nil && !errors.Is(err, io.EOF) {
		bs.bufLen = 0
		return err
	}
	if n == 0 {
		return io.EOF
	}
	return nil
}

func (bs *blockSource) ReadAt(p []byte, offset int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if offset < 0 {
		return 0, fmt.Errorf("negative offset %d", offset)
	}
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.file == nil {
		return 0, os.ErrClosed
	}
	if offset >= bs.size {
		return 0, io.EOF
	}
	if len(p) > bs.blockSize {
		return bs.file.ReadAt(p, offset)
	}
	inWindow := offset >= bs.bufStart && offset+int64(len(p)) <= bs.bufStart+int64(bs.bufLen)
	if !inWindow {
		if err := bs.fill(offset); err != nil {
			return 0, err
		}
	}
	start := int(offset - bs.bufStart)
	n := copy(p, bs.buf[start:bs.bufLen])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

type memSource struct {
	*bytes.Reader
}

func (memSource) Close() error { return nil }

// NewMemSource wraps an in-memory stream.
func NewMemSource(b []byte) Source {
	return memSource{Reader: bytes.NewReader(b)}
}

// Open returns a source for path. Files ending in .zst, .gz or .lz4 are
// decompressed into memory first; anything else is read through a cached
// window of blockSize bytes.
func Open(path string, blockSize int) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd":
		defer f.Close()
		dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		return readAllSource(dec, "zstd")
	case ".gz":
		defer f.Close()
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer zr.Close()
		return readAllSource(zr, "gzip")
	case ".lz4":
		defer f.Close()
		return readAllSource(lz4.NewReader(f), "lz4")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return newBlockSource(f, info.Size(), blockSize), nil
}

func readAllSource(r io.Reader, codec string) (Source, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s decompress: %w", codec, err)
	}
	return NewMemSource(b), nil
}

// readExact reads exactly n bytes at offset. A short read at the end of the
// data is reported as io.ErrUnexpectedEOF, or io.EOF when nothing was read.
func readExact(src ByteSource, offset int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := src.ReadAt(buf, offset)
	if got == n {
		return buf, nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if got == 0 {
		return nil, io.EOF
	}
	return nil, io.ErrUnexpectedEOF
}

func isEndOfData(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
