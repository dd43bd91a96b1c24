package wia

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bodgit/wiidisc"
)

const (
	maxDescriptorSize = 1 << 16
	maxChunkSize      = 32 * exceptionListSpan
)

// ReadDescriptor reads the header and tables of the container in r. Hash
// mismatches are logged as warnings rather than failing.
func ReadDescriptor(r io.ReaderAt, opts ...Option) (*Descriptor, error) {
	o := newOptions(opts)
	d := new(Descriptor)

	// Read the header and sanity check it
	hb := make([]byte, headerSize)
	if _, err := io.ReadFull(io.NewSectionReader(r, 0, headerSize), hb); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrBadMagic
		}
		return nil, err
	}
	if err := binary.Read(bytes.NewReader(hb), binary.BigEndian, &d.Header); err != nil {
		return nil, err
	}

	version, compatible := wiaVersion, wiaVersionReadCompatible
	switch d.Header.Magic {
	case magicWIA:
	case magicRVZ:
		version, compatible = rvzVersion, rvzVersionReadCompatible
	default:
		return nil, ErrBadMagic
	}
	if d.Header.VersionCompatible > version || d.Header.Version < compatible {
		return nil, fmt.Errorf("%w: %08x (compatible %08x)", ErrUnsupportedVersion, d.Header.Version, d.Header.VersionCompatible)
	}
	if sum := sha1.Sum(hb[:headerSize-sha1.Size]); sum != d.Header.HeaderHash {
		o.logger.Warn("header hash mismatch")
	}
	if d.Header.ISOSize < 0 {
		return nil, fmt.Errorf("%w: negative disc size", ErrMalformed)
	}

	dd, err := d.readDescriptor(r, o.logger)
	if err != nil {
		return nil, err
	}

	if err = d.readPartitions(r, dd, o.logger); err != nil {
		return nil, err
	}
	if err = d.readRawRegions(r, dd); err != nil {
		return nil, err
	}
	if err = d.readGroups(r, dd); err != nil {
		return nil, err
	}

	if err = d.validate(); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *Descriptor) readDescriptor(r io.ReaderAt, logger *slog.Logger) (*descriptor, error) {
	dd := new(descriptor)

	size := d.Header.DescriptorSize
	if size < uint32(binary.Size(dd)) || size > maxDescriptorSize {
		return nil, fmt.Errorf("%w: descriptor size %d", ErrMalformed, size)
	}

	db := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(r, headerSize, int64(size)), db); err != nil {
		return nil, err
	}
	if sum := sha1.Sum(db); sum != d.Header.DescriptorHash {
		logger.Warn("descriptor hash mismatch")
	}

	if err := binary.Read(bytes.NewReader(db), binary.BigEndian, dd); err != nil {
		return nil, err
	}

	d.DiscType = DiscType(dd.DiscType)
	d.Compression = Compression(dd.Compression)
	d.CompressionLevel = dd.CompressionLevel
	d.ChunkSize = dd.ChunkSize
	d.DiscHead = dd.DiscHead

	n := int(dd.CompressorDataSize)
	if n > len(dd.CompressorData) {
		return nil, fmt.Errorf("%w: compressor data size %d", ErrMalformed, n)
	}
	d.CompressorData = append([]byte(nil), dd.CompressorData[:n]...)

	var magic uint32
	switch d.DiscType {
	case GameCube:
		magic = binary.BigEndian.Uint32(d.DiscHead[0x1c:])
		if magic != wiidisc.GameCubeMagic {
			logger.Warn("disc header lacks GameCube magic", "magic", fmt.Sprintf("%08x", magic))
		}
	case Wii:
		magic = binary.BigEndian.Uint32(d.DiscHead[0x18:])
		if magic != wiidisc.WiiMagic {
			logger.Warn("disc header lacks Wii magic", "magic", fmt.Sprintf("%08x", magic))
		}
	default:
		return nil, fmt.Errorf("%w: unknown disc type %d", ErrMalformed, dd.DiscType)
	}

	if c := d.ChunkSize; c == 0 || c&(c-1) != 0 {
		return nil, fmt.Errorf("%w: chunk size %d not a power of two", ErrMalformed, c)
	}
	if d.ChunkSize > maxChunkSize {
		return nil, fmt.Errorf("%w: chunk size %#x too large", ErrMalformed, d.ChunkSize)
	}
	if dd.NumPartitions > 0 && d.ChunkSize < wiidisc.ClusterSize {
		return nil, fmt.Errorf("%w: chunk size %d smaller than a cluster", ErrMalformed, d.ChunkSize)
	}

	var err error
	if d.decompress, err = decompressor(d.Compression); err != nil {
		return nil, err
	}

	return dd, nil
}

func (d *Descriptor) readTable(r io.ReaderAt, offset uint64, size uint32, length int) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}

	rc, err := d.decompress(io.NewSectionReader(r, int64(offset), int64(size)), d.CompressorData)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	b := make([]byte, length)
	if _, err = io.ReadFull(rc, b); err != nil {
		return nil, fmt.Errorf("%w: table at %#x: %w", ErrMalformed, offset, err)
	}

	return b, nil
}

// readPartitions reads the partition table, which unlike the other tables
// is never compressed.
func (d *Descriptor) readPartitions(r io.ReaderAt, dd *descriptor, logger *slog.Logger) error {
	n, es := int(dd.NumPartitions), int(dd.PartitionEntrySize)
	if n == 0 {
		return nil
	}
	if es < partitionRecordSize || n > maxEntries/es {
		return fmt.Errorf("%w: partition table %d x %d", ErrMalformed, n, es)
	}

	b := make([]byte, n*es)
	if _, err := io.ReadFull(io.NewSectionReader(r, int64(dd.PartitionsOffset), int64(len(b))), b); err != nil {
		return err
	}
	if sum := sha1.Sum(b); sum != dd.PartitionsHash {
		logger.Warn("partition table hash mismatch")
	}

	d.Partitions = make([]Partition, n)
	for i := range d.Partitions {
		if err := binary.Read(bytes.NewReader(b[i*es:(i+1)*es]), binary.BigEndian, &d.Partitions[i]); err != nil {
			return err
		}
	}

	return nil
}

func (d *Descriptor) readRawRegions(r io.ReaderAt, dd *descriptor) error {
	n := int(dd.NumRawRegions)
	if n > maxEntries {
		return fmt.Errorf("%w: %d raw regions", ErrMalformed, n)
	}

	b, err := d.readTable(r, dd.RawRegionsOffset, dd.RawRegionsSize, n*rawRegionRecordSize)
	if err != nil {
		return err
	}

	d.RawRegions = make([]RawRegion, n)
	if err = binary.Read(bytes.NewReader(b), binary.BigEndian, &d.RawRegions); err != nil {
		return err
	}

	for i := range d.RawRegions {
		rr := &d.RawRegions[i]
		if rr.Offset < 0 || rr.Size < 0 {
			return fmt.Errorf("%w: raw region %d", ErrMalformed, i)
		}

		if i == 0 && rr.Offset == 0 {
			// Stored without the disc header held in the descriptor
			rr.Offset += DiscHeadSize
			rr.Size += DiscHeadSize
			continue
		}

		// Chunks are laid out from the start of the cluster
		skipped := rr.Offset % wiidisc.ClusterSize
		rr.Offset -= skipped
		rr.Size += skipped
	}

	return nil
}

func (d *Descriptor) readGroups(r io.ReaderAt, dd *descriptor) error {
	n := int(dd.NumGroups)
	if n > maxEntries {
		return fmt.Errorf("%w: %d groups", ErrMalformed, n)
	}

	rvz := d.Header.IsRVZ()
	es := wiaGroupRecordSize
	if rvz {
		es = rvzGroupRecordSize
	}

	b, err := d.readTable(r, dd.GroupsOffset, dd.GroupsSize, n*es)
	if err != nil {
		return err
	}

	d.Groups = make([]Group, n)
	for i := range d.Groups {
		rec := b[i*es : (i+1)*es]
		g := &d.Groups[i]

		g.Offset = int64(binary.BigEndian.Uint32(rec)) << 2
		size := binary.BigEndian.Uint32(rec[4:])
		if rvz {
			g.Size = size & 0x7fffffff
			g.Compressed = size&0x80000000 != 0
			g.PackedSize = binary.BigEndian.Uint32(rec[8:])
		} else {
			g.Size = size
			g.Compressed = d.Compression != None
		}
	}

	return nil
}

func (d *Descriptor) validate() error {
	inRange := func(index, count uint32) bool {
		return uint64(index)+uint64(count) <= uint64(len(d.Groups))
	}

	// Stored groups may grow past the chunk size, but never by this much
	for i, g := range d.Groups {
		if uint64(g.Size) > 2*uint64(d.ChunkSize) {
			return fmt.Errorf("%w: group %d size %#x exceeds chunk size %#x", ErrMalformed, i, g.Size, d.ChunkSize)
		}
	}

	for i, rr := range d.RawRegions {
		if !inRange(rr.GroupIndex, rr.Groups) {
			return fmt.Errorf("%w: raw region %d groups %d+%d out of range", ErrCorruptChunk, i, rr.GroupIndex, rr.Groups)
		}
	}

	for i, p := range d.Partitions {
		for j, pd := range p.Data {
			if !inRange(pd.GroupIndex, pd.Groups) {
				return fmt.Errorf("%w: partition %d data %d groups %d+%d out of range", ErrCorruptChunk, i, j, pd.GroupIndex, pd.Groups)
			}
		}
	}

	return nil
}
