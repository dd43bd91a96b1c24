package wia

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"io"
	"testing"

	"github.com/bodgit/wiidisc"
	"github.com/bodgit/wiidisc/internal/lfg"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz/lzma"
)

// testGroup is the payload of one group before any compression. prefix
// is stored as is ahead of the data.
type testGroup struct {
	prefix     []byte
	data       []byte
	compressed bool
	packed     bool
}

// testImage describes a container to be assembled in memory.
type testImage struct {
	rvz               bool
	discType          DiscType
	compression       Compression
	props             []byte
	chunkSize         uint32
	isoSize           int64
	version           uint32
	versionCompatible uint32
	head              [DiscHeadSize]byte
	partitions        []Partition
	raw               []RawRegion
	groups            []testGroup
}

func newHead(discType DiscType) (head [DiscHeadSize]byte) {
	copy(head[:], "RTEST01")
	switch discType {
	case GameCube:
		binary.BigEndian.PutUint32(head[0x1c:], wiidisc.GameCubeMagic)
	case Wii:
		binary.BigEndian.PutUint32(head[0x18:], wiidisc.WiiMagic)
	}
	return
}

func compress(t *testing.T, c Compression, b []byte) ([]byte, []byte) {
	t.Helper()

	switch c {
	case None:
		return b, nil
	case Zstd:
		enc, err := zstd.NewWriter(nil)
		require.NoError(t, err)
		defer enc.Close()
		return enc.EncodeAll(b, nil), nil
	case Purge:
		buf := new(bytes.Buffer)
		_ = binary.Write(buf, binary.BigEndian, []uint32{0, uint32(len(b))})
		buf.Write(b)
		sum := sha1.Sum(buf.Bytes())
		buf.Write(sum[:])
		return buf.Bytes(), nil
	case LZMA2:
		buf := new(bytes.Buffer)
		w, err := lzma.NewWriter2(buf)
		require.NoError(t, err)
		_, err = w.Write(b)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		return buf.Bytes(), []byte{22}
	default:
		t.Fatalf("no test compressor for %s", c)
	}

	return nil, nil
}

func pad4(buf *bytes.Buffer) {
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}

func (ti *testImage) bytes(t *testing.T) []byte {
	t.Helper()

	magic, version, compatible := magicWIA, wiaVersion, wiaVersionReadCompatible
	if ti.rvz {
		magic, version, compatible = magicRVZ, rvzVersion, rvzVersionReadCompatible
	}
	if ti.version != 0 {
		version = ti.version
	}
	if ti.versionCompatible != 0 {
		compatible = ti.versionCompatible
	}

	dd := descriptor{
		DiscType:           uint32(ti.discType),
		Compression:        uint32(ti.compression),
		ChunkSize:          ti.chunkSize,
		DiscHead:           ti.head,
		NumPartitions:      uint32(len(ti.partitions)),
		PartitionEntrySize: partitionRecordSize,
		NumRawRegions:      uint32(len(ti.raw)),
		NumGroups:          uint32(len(ti.groups)),
	}

	body := new(bytes.Buffer)
	base := int64(headerSize + binary.Size(dd))

	// Partition table, never compressed
	dd.PartitionsOffset = uint64(base + int64(body.Len()))
	pt := new(bytes.Buffer)
	require.NoError(t, binary.Write(pt, binary.BigEndian, ti.partitions))
	dd.PartitionsHash = sha1.Sum(pt.Bytes())
	body.Write(pt.Bytes())

	// Raw region table
	rt := new(bytes.Buffer)
	require.NoError(t, binary.Write(rt, binary.BigEndian, ti.raw))
	stored, props := compress(t, ti.compression, rt.Bytes())
	dd.RawRegionsOffset = uint64(base + int64(body.Len()))
	dd.RawRegionsSize = uint32(len(stored))
	body.Write(stored)

	// Group data
	gt := new(bytes.Buffer)
	for _, g := range ti.groups {
		pad4(body)
		offset := base + int64(body.Len())

		data := g.data
		if g.compressed {
			var p []byte
			if data, p = compress(t, ti.compression, data); p != nil {
				props = p
			}
		}
		body.Write(g.prefix)
		body.Write(data)

		size := uint32(len(g.prefix) + len(data))
		if ti.rvz {
			if g.compressed {
				size |= 0x80000000
			}
			var packed uint32
			if g.packed {
				packed = uint32(len(g.data))
			}
			require.NoError(t, binary.Write(gt, binary.BigEndian, []uint32{uint32(offset >> 2), size, packed}))
		} else {
			require.NoError(t, binary.Write(gt, binary.BigEndian, []uint32{uint32(offset >> 2), size}))
		}
	}

	// Group table
	stored, props2 := compress(t, ti.compression, gt.Bytes())
	if props == nil {
		props = props2
	}
	if ti.props != nil {
		props = ti.props
	}
	dd.GroupsOffset = uint64(base + int64(body.Len()))
	dd.GroupsSize = uint32(len(stored))
	body.Write(stored)

	dd.CompressorDataSize = uint8(copy(dd.CompressorData[:], props))

	db := new(bytes.Buffer)
	require.NoError(t, binary.Write(db, binary.BigEndian, dd))

	h := Header{
		Magic:             magic,
		Version:           version,
		VersionCompatible: compatible,
		DescriptorSize:    uint32(db.Len()),
		DescriptorHash:    sha1.Sum(db.Bytes()),
		ISOSize:           ti.isoSize,
		FileSize:          base + int64(body.Len()),
	}
	hb := new(bytes.Buffer)
	require.NoError(t, binary.Write(hb, binary.BigEndian, h))
	h.HeaderHash = sha1.Sum(hb.Bytes()[:headerSize-sha1.Size])
	hb.Reset()
	require.NoError(t, binary.Write(hb, binary.BigEndian, h))

	return append(append(hb.Bytes(), db.Bytes()...), body.Bytes()...)
}

// pattern returns n bytes that differ for each seed.
func pattern(seed byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7) + byte(i>>8)
	}
	return b
}

func testSeed(x uint32) (seed [lfg.SeedSize]uint32) {
	for i := range seed {
		seed[i] = x*0x9e3779b9 + uint32(i)*0x01000193
	}
	return
}

// junk returns what a junk run of n bytes at fill offset off expands to.
func junk(t *testing.T, seed [lfg.SeedSize]uint32, off, n int) []byte {
	t.Helper()
	g := lfg.New(seed)
	_, err := g.Seek(int64(off%wiidisc.ClusterSize), io.SeekStart)
	require.NoError(t, err)
	b := make([]byte, n)
	_, _ = g.Read(b)
	return b
}

// packer assembles packed group payloads.
type packer struct {
	bytes.Buffer
}

func (p *packer) literal(b []byte) *packer {
	_ = binary.Write(p, binary.BigEndian, uint32(len(b)))
	p.Write(b)
	return p
}

func (p *packer) junk(seed [lfg.SeedSize]uint32, n int) *packer {
	_ = binary.Write(p, binary.BigEndian, uint32(n)|junkFlag)
	_ = binary.Write(p, binary.BigEndian, seed)
	return p
}

// wiiPayload prefixes body with a single exception list of count
// entries, padded as an uncompressed group would be when aligned is set.
func wiiPayload(count int, aligned bool, body []byte) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.BigEndian, uint16(count))
	for i := 0; i < count; i++ {
		e := ExceptionRecord{Offset: uint16(i * 0x14)}
		copy(e.Hash[:], pattern(byte(i), sha1.Size))
		_ = binary.Write(buf, binary.BigEndian, e)
	}
	if aligned {
		pad4(buf)
	}
	buf.Write(body)
	return buf.Bytes()
}
