package wia

import (
	"bytes"
	"compress/bzip2"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz/lzma"
)

func decompressAll(t *testing.T, c Compression, b, props []byte) ([]byte, error) {
	t.Helper()

	d, err := decompressor(c)
	require.NoError(t, err)

	rc, err := d(bytes.NewReader(b), props)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return io.ReadAll(rc)
}

func TestDecompressors(t *testing.T) {
	want := bytes.Repeat(pattern(7, 0x1000), 4)

	for _, c := range []Compression{None, Zstd, LZMA2} {
		t.Run(c.String(), func(t *testing.T) {
			b, props := compress(t, c, want)
			got, err := decompressAll(t, c, b, props)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestLZMA(t *testing.T) {
	want := bytes.Repeat([]byte("lzma stream without a header "), 100)

	buf := new(bytes.Buffer)
	w, err := lzma.NewWriter(buf)
	require.NoError(t, err)
	_, err = w.Write(want)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Split the classic header into properties and drop the size
	b := buf.Bytes()
	props, stream := b[:5], b[lzma.HeaderLen:]

	got, err := decompressAll(t, LZMA, stream, props)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = decompressAll(t, LZMA, stream, props[:2])
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestLZMA2Properties(t *testing.T) {
	_, err := decompressAll(t, LZMA2, nil, nil)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = decompressAll(t, LZMA2, nil, []byte{41})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestBzip2(t *testing.T) {
	// The standard library has no bzip2 writer
	_, err := decompressAll(t, Bzip2, []byte("not bzip2"), nil)
	var se bzip2.StructuralError
	assert.True(t, errors.As(err, &se))
}

func purgeData(segments ...[]byte) []byte {
	buf := new(bytes.Buffer)
	for i := 0; i+1 < len(segments); i += 2 {
		_ = binary.Write(buf, binary.BigEndian, []uint32{binary.BigEndian.Uint32(segments[i]), uint32(len(segments[i+1]))})
		buf.Write(segments[i+1])
	}
	sum := sha1.Sum(buf.Bytes())
	buf.Write(sum[:])
	return buf.Bytes()
}

func be32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

func TestPurge(t *testing.T) {
	b := purgeData(be32(4), []byte("abcd"), be32(12), []byte("xy"))

	d, err := decompressor(Purge)
	require.NoError(t, err)
	rc, err := d(bytes.NewReader(b), nil)
	require.NoError(t, err)
	defer rc.Close()

	got := make([]byte, 20)
	_, err = io.ReadFull(rc, got)
	require.NoError(t, err)

	want := make([]byte, 20)
	copy(want[4:], "abcd")
	copy(want[12:], "xy")
	assert.Equal(t, want, got)
}

func TestPurgeCorrupt(t *testing.T) {
	tests := map[string][]byte{
		"short":       []byte("tiny"),
		"overlapping": purgeData(be32(4), []byte("abcd"), be32(2), []byte("xy")),
		"truncated":   append(append(be32(0), be32(100)...), make([]byte, sha1.Size)...),
	}

	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := decompressAll(t, Purge, b, nil)
			assert.ErrorIs(t, err, ErrCorruptChunk)
		})
	}
}

func TestUnknownCompression(t *testing.T) {
	_, err := decompressor(Compression(42))
	assert.ErrorIs(t, err, ErrUnsupportedCompression)
	assert.Equal(t, "Compression(42)", Compression(42).String())
}

func TestRegisterDecompressor(t *testing.T) {
	const custom = Compression(100)

	RegisterDecompressor(custom, func(r io.Reader, _ []byte) (io.ReadCloser, error) {
		return io.NopCloser(io.LimitReader(r, 2)), nil
	})
	t.Cleanup(func() {
		decompressorsMu.Lock()
		delete(decompressors, custom)
		decompressorsMu.Unlock()
	})

	got, err := decompressAll(t, custom, []byte("abcdef"), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), got)
}
