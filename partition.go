package wiidisc

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	partitionTableOffset = 0x40000
	partitionGroups      = 4
	maxPartitions        = 64
)

// Partition types found in the partition table.
const (
	DataPartition    uint32 = 0
	UpdatePartition  uint32 = 1
	ChannelPartition uint32 = 2
)

// Partition describes one entry of a Wii disc's partition table along
// with the parts of its header needed to read it.
type Partition struct {
	Group      int
	Type       uint32
	Offset     int64
	Ticket     Ticket
	TMDOffset  int64
	TMDSize    int64
	H3Offset   int64
	DataOffset int64
	DataSize   int64
}

// ReadPartitions walks the partition table of a raw Wii disc image.
func ReadPartitions(r io.ReaderAt) ([]Partition, error) {
	var magic uint32
	if err := binary.Read(io.NewSectionReader(r, wiiMagicOffset, 4), binary.BigEndian, &magic); err != nil {
		return nil, err
	}
	if magic != WiiMagic {
		return nil, ErrBadMagic
	}

	groups := [partitionGroups]struct {
		Count  uint32
		Offset uint32
	}{}
	if err := binary.Read(io.NewSectionReader(r, partitionTableOffset, partitionGroups*8), binary.BigEndian, &groups); err != nil {
		return nil, err
	}

	var partitions []Partition

	for g, group := range groups {
		if group.Count == 0 {
			continue
		}
		if len(partitions)+int(group.Count) > maxPartitions {
			return nil, fmt.Errorf("wiidisc: too many partitions in group %d", g)
		}

		entries := make([]struct {
			Offset uint32
			Type   uint32
		}, group.Count)
		if err := binary.Read(io.NewSectionReader(r, int64(group.Offset)<<2, int64(group.Count)*8), binary.BigEndian, &entries); err != nil {
			return nil, err
		}

		for _, e := range entries {
			p, err := readPartition(r, int64(e.Offset)<<2)
			if err != nil {
				return nil, err
			}
			p.Group = g
			p.Type = e.Type
			partitions = append(partitions, *p)
		}
	}

	return partitions, nil
}

func readPartition(r io.ReaderAt, offset int64) (*Partition, error) {
	sr := io.NewSectionReader(r, offset, TicketSize+0x1c)

	t, err := ReadTicket(sr)
	if err != nil {
		return nil, err
	}

	ph := struct {
		TMDSize       uint32
		TMDOffset     uint32
		CertChainSize uint32
		CertOffset    uint32
		H3Offset      uint32
		DataOffset    uint32
		DataSize      uint32
	}{}
	if err = binary.Read(sr, binary.BigEndian, &ph); err != nil {
		return nil, err
	}

	p := &Partition{
		Offset:     offset,
		Ticket:     *t,
		TMDOffset:  int64(ph.TMDOffset) << 2,
		TMDSize:    int64(ph.TMDSize),
		H3Offset:   int64(ph.H3Offset) << 2,
		DataOffset: int64(ph.DataOffset) << 2,
		DataSize:   int64(ph.DataSize) << 2,
	}

	return p, nil
}

// Open derives the partition's content key from its ticket and returns a
// reader over its decrypted data.
func (p *Partition) Open(r io.ReaderAt, ks *KeyStore, opts ...Option) (*ClusterReader, error) {
	key, err := p.Ticket.ContentKey(ks)
	if err != nil {
		return nil, err
	}

	return NewClusterReader(r, key, p.Offset+p.DataOffset, p.DataSize, opts...)
}
