package wia

import (
	"fmt"

	"github.com/bodgit/wiidisc"
)

// Region is a span of the logical image backed by a contiguous run of
// groups.
type Region struct {
	Offset      int64
	Size        int64
	GroupIndex  uint32
	Groups      uint32
	Partitioned bool
}

// End returns the offset just past the region.
func (r Region) End() int64 {
	return r.Offset + r.Size
}

// Contains reports whether off falls within the region.
func (r Region) Contains(off int64) bool {
	return off >= r.Offset && off < r.End()
}

// LogicalChunkSize returns the number of logical bytes each group of a region
// expands to. Partition chunks lose the hash block of every cluster.
func (d *Descriptor) LogicalChunkSize(partitioned bool) int64 {
	if partitioned {
		return int64(d.ChunkSize) / wiidisc.ClusterSize * wiidisc.ClusterDataSize
	}
	return int64(d.ChunkSize)
}

func partitionRegion(p *Partition, pd *PartitionDataRegion) Region {
	start := int64(p.Data[0].FirstSector)
	return Region{
		Offset:      start*wiidisc.ClusterSize + (int64(pd.FirstSector)-start)*wiidisc.ClusterDataSize,
		Size:        int64(pd.Sectors) * wiidisc.ClusterDataSize,
		GroupIndex:  pd.GroupIndex,
		Groups:      pd.Groups,
		Partitioned: true,
	}
}

// Resolve returns the region containing the logical offset off. Raw
// regions take precedence over partitions.
func (d *Descriptor) Resolve(off int64) (Region, error) {
	for _, rr := range d.RawRegions {
		if off >= rr.Offset && off < rr.Offset+rr.Size {
			return Region{
				Offset:     rr.Offset,
				Size:       rr.Size,
				GroupIndex: rr.GroupIndex,
				Groups:     rr.Groups,
			}, nil
		}
	}

	for i := range d.Partitions {
		p := &d.Partitions[i]
		for j := range p.Data {
			if r := partitionRegion(p, &p.Data[j]); r.Contains(off) {
				return r, nil
			}
		}
	}

	return Region{}, fmt.Errorf("%w: %#x", ErrNoRegion, off)
}

// Regions returns every non-empty region in the order Resolve considers
// them.
func (d *Descriptor) Regions() []Region {
	regions := make([]Region, 0, len(d.RawRegions)+2*len(d.Partitions))

	for _, rr := range d.RawRegions {
		if rr.Size == 0 {
			continue
		}
		regions = append(regions, Region{
			Offset:     rr.Offset,
			Size:       rr.Size,
			GroupIndex: rr.GroupIndex,
			Groups:     rr.Groups,
		})
	}

	for i := range d.Partitions {
		p := &d.Partitions[i]
		for j := range p.Data {
			if r := partitionRegion(p, &p.Data[j]); r.Size > 0 {
				regions = append(regions, r)
			}
		}
	}

	return regions
}
