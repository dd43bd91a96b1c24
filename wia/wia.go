/*
Package wia implements reading of the WIA and RVZ compressed disc image
formats. Both split the disc into raw regions and Wii partitions and store
each as a run of fixed size chunks. Wii partition data is stored decrypted
with the hash blocks removed, so the image presented here carries each
partition's payload rather than its encrypted clusters. RVZ additionally
replaces runs of generated filler with the seed that produced them.
*/
package wia

import (
	"crypto/sha1"
	"fmt"

	"github.com/bodgit/wiidisc"
)

const (
	// Extension is the conventional file extension used for WIA images.
	Extension = ".wia"
	// RVZExtension is the conventional file extension used for RVZ images.
	RVZExtension = ".rvz"

	magicWIA uint32 = 0x57494101 // "WIA\x01"
	magicRVZ uint32 = 0x52565a01 // "RVZ\x01"

	wiaVersion               uint32 = 0x01000000
	wiaVersionReadCompatible uint32 = 0x00080000
	rvzVersion               uint32 = 0x01000000
	rvzVersionReadCompatible uint32 = 0x00030000

	// DiscHeadSize is the number of bytes of the disc header kept in the descriptor.
	DiscHeadSize = wiidisc.DiscHeaderSize

	headerSize          = 0x48
	partitionRecordSize = 48
	rawRegionRecordSize = 24
	wiaGroupRecordSize  = 8
	rvzGroupRecordSize  = 12
	exceptionRecordSize = 2 + sha1.Size

	// exceptionListSpan is the amount of chunk covered by each exception list.
	exceptionListSpan = 0x200000

	maxEntries = 10_000_000
)

// DiscType identifies the kind of disc stored in a container.
type DiscType uint32

// Known disc types.
const (
	GameCube DiscType = 1
	Wii      DiscType = 2
)

func (t DiscType) String() string {
	switch t {
	case GameCube:
		return "GameCube"
	case Wii:
		return "Wii"
	default:
		return fmt.Sprintf("DiscType(%d)", uint32(t))
	}
}

// Header is the fixed header at the start of a container.
type Header struct {
	Magic             uint32
	Version           uint32
	VersionCompatible uint32
	DescriptorSize    uint32
	DescriptorHash    [sha1.Size]byte
	ISOSize           int64
	FileSize          int64
	HeaderHash        [sha1.Size]byte
}

// IsRVZ reports whether the container is RVZ rather than WIA.
func (h *Header) IsRVZ() bool {
	return h.Magic == magicRVZ
}

// descriptor is the on-disk layout following the header.
type descriptor struct {
	DiscType           uint32
	Compression        uint32
	CompressionLevel   int32
	ChunkSize          uint32
	DiscHead           [DiscHeadSize]byte
	NumPartitions      uint32
	PartitionEntrySize uint32
	PartitionsOffset   uint64
	PartitionsHash     [sha1.Size]byte
	NumRawRegions      uint32
	RawRegionsOffset   uint64
	RawRegionsSize     uint32
	NumGroups          uint32
	GroupsOffset       uint64
	GroupsSize         uint32
	CompressorDataSize uint8
	CompressorData     [7]byte
}

// PartitionDataRegion is one of the two extents a Wii partition's data is
// split into. Sectors here are 0x8000 byte clusters.
type PartitionDataRegion struct {
	FirstSector uint32
	Sectors     uint32
	GroupIndex  uint32
	Groups      uint32
}

// Partition is a Wii partition stored in the container.
type Partition struct {
	Key  [16]byte
	Data [2]PartitionDataRegion
}

// RawRegion is a span of the disc stored as-is.
type RawRegion struct {
	Offset     int64
	Size       int64
	GroupIndex uint32
	Groups     uint32
}

// Group locates the stored bytes for one chunk. A Size of zero means the
// chunk is all zeroes.
type Group struct {
	Offset     int64
	Size       uint32
	Compressed bool
	PackedSize uint32
}

// ExceptionRecord is a hash that differs from the one recomputed from the
// stored data. They are only needed to rebuild the hash blocks, so reading
// skips over them.
type ExceptionRecord struct {
	Offset uint16
	Hash   [sha1.Size]byte
}

// Descriptor is the fully parsed table of contents of a container. It is
// read-only once returned.
type Descriptor struct {
	Header           Header
	DiscType         DiscType
	Compression      Compression
	CompressionLevel int32
	ChunkSize        uint32
	DiscHead         [DiscHeadSize]byte
	Partitions       []Partition
	RawRegions       []RawRegion
	Groups           []Group
	CompressorData   []byte

	decompress Decompressor
}
