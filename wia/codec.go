package wia

import (
	"bytes"
	"compress/bzip2"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz/lzma"
)

// Compression identifies the algorithm used for chunks and tables.
type Compression uint32

// Compression algorithms defined by the format.
const (
	None Compression = iota
	Purge
	Bzip2
	LZMA
	LZMA2
	Zstd
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Purge:
		return "purge"
	case Bzip2:
		return "bzip2"
	case LZMA:
		return "lzma"
	case LZMA2:
		return "lzma2"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint32(c))
	}
}

// maxDictCap bounds the LZMA dictionary allocated per stream. Each chunk is
// an independent stream no larger than this so a smaller dictionary than
// the encoder advertised is never short.
const maxDictCap = 1 << 26

// A Decompressor returns a reader that decompresses r. props carries the
// algorithm-specific parameters stored in the descriptor.
type Decompressor func(r io.Reader, props []byte) (io.ReadCloser, error)

var (
	decompressors   = make(map[Compression]Decompressor)
	decompressorsMu sync.RWMutex
)

func init() {
	RegisterDecompressor(None, func(r io.Reader, _ []byte) (io.ReadCloser, error) {
		return io.NopCloser(r), nil
	})
	RegisterDecompressor(Purge, newPurgeReader)
	RegisterDecompressor(Bzip2, func(r io.Reader, _ []byte) (io.ReadCloser, error) {
		return io.NopCloser(bzip2.NewReader(r)), nil
	})
	RegisterDecompressor(LZMA, newLZMAReader)
	RegisterDecompressor(LZMA2, newLZMA2Reader)
	RegisterDecompressor(Zstd, newZstdReader)
}

// RegisterDecompressor registers or replaces the decompressor for c.
func RegisterDecompressor(c Compression, d Decompressor) {
	decompressorsMu.Lock()
	defer decompressorsMu.Unlock()
	decompressors[c] = d
}

func decompressor(c Compression) (Decompressor, error) {
	decompressorsMu.RLock()
	d, ok := decompressors[c]
	decompressorsMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, c)
	}

	return d, nil
}

func newLZMAReader(r io.Reader, props []byte) (io.ReadCloser, error) {
	if len(props) < 5 {
		return nil, fmt.Errorf("%w: short lzma properties", ErrMalformed)
	}

	// Streams are stored without the classic header so rebuild one with
	// an unknown size
	h := make([]byte, lzma.HeaderLen)
	copy(h, props[:5])
	if dictCap := binary.LittleEndian.Uint32(h[1:5]); dictCap > maxDictCap {
		binary.LittleEndian.PutUint32(h[1:5], maxDictCap)
	}
	binary.LittleEndian.PutUint64(h[5:], ^uint64(0))

	lr, err := lzma.NewReader(io.MultiReader(bytes.NewReader(h), r))
	if err != nil {
		return nil, err
	}

	return io.NopCloser(lr), nil
}

func newLZMA2Reader(r io.Reader, props []byte) (io.ReadCloser, error) {
	if len(props) < 1 || props[0] > 40 {
		return nil, fmt.Errorf("%w: bad lzma2 properties", ErrMalformed)
	}

	dictCap := maxDictCap
	if p := props[0]; p < 40 {
		if c := (2 | int(p&1)) << (p/2 + 11); c < dictCap {
			dictCap = c
		}
	}
	if dictCap < lzma.MinDictCap {
		dictCap = lzma.MinDictCap
	}

	lr, err := lzma.Reader2Config{DictCap: dictCap}.NewReader2(r)
	if err != nil {
		return nil, err
	}

	return io.NopCloser(lr), nil
}

func newZstdReader(r io.Reader, _ []byte) (io.ReadCloser, error) {
	d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}

	return d.IOReadCloser(), nil
}

// purgeReader expands the purge format: a list of (offset, size) segments
// of literal data with zeroes in between, followed by a SHA-1 of the
// stored bytes. Beyond the last segment it yields zeroes indefinitely as
// the decompressed length is only known to the caller.
type purgeReader struct {
	b   []byte
	off int64
	seg struct {
		Offset uint32
		Size   uint32
	}
	data []byte
}

func newPurgeReader(r io.Reader, _ []byte) (io.ReadCloser, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(b) < sha1.Size {
		return nil, fmt.Errorf("%w: short purge data", ErrCorruptChunk)
	}

	pr := &purgeReader{
		b: b[:len(b)-sha1.Size],
	}
	if err = pr.next(); err != nil {
		return nil, err
	}

	return io.NopCloser(pr), nil
}

func (pr *purgeReader) next() error {
	pr.data = nil
	if len(pr.b) == 0 {
		return nil
	}

	if err := binary.Read(bytes.NewReader(pr.b), binary.BigEndian, &pr.seg); err != nil {
		return fmt.Errorf("%w: purge segment: %v", ErrCorruptChunk, err)
	}
	if int64(pr.seg.Offset) < pr.off || uint64(len(pr.b)-8) < uint64(pr.seg.Size) {
		return fmt.Errorf("%w: bad purge segment", ErrCorruptChunk)
	}

	pr.data = pr.b[8 : 8+pr.seg.Size]
	pr.b = pr.b[8+pr.seg.Size:]

	return nil
}

func (pr *purgeReader) Read(p []byte) (n int, err error) {
	for len(p) > 0 {
		if pr.data == nil {
			// Nothing left but zeroes
			clear(p)
			n += len(p)
			pr.off += int64(len(p))
			return n, nil
		}

		var m int
		if start := int64(pr.seg.Offset); pr.off < start {
			m = len(p)
			if gap := start - pr.off; int64(m) > gap {
				m = int(gap)
			}
			clear(p[:m])
		} else {
			m = copy(p, pr.data)
			pr.data = pr.data[m:]
		}

		p = p[m:]
		n += m
		pr.off += int64(m)

		if pr.off >= int64(pr.seg.Offset) && len(pr.data) == 0 {
			if err = pr.next(); err != nil {
				return n, err
			}
		}
	}

	return n, nil
}
