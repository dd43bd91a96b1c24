package wia

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned if the container's header or tables can't be parsed.
	ErrMalformed = errors.New("wia: malformed container")

	// ErrBadMagic is returned if the first four bytes are neither "WIA\x01" nor "RVZ\x01".
	ErrBadMagic = fmt.Errorf("%w: bad magic", ErrMalformed)

	// ErrUnsupportedVersion is returned if the container needs a newer reader.
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported version", ErrMalformed)

	// ErrUnsupportedCompression is returned if no decompressor is registered for the container's algorithm.
	ErrUnsupportedCompression = errors.New("wia: unsupported compression")

	// ErrCorruptChunk is returned if a chunk or the groups it refers to are inconsistent.
	ErrCorruptChunk = errors.New("wia: corrupt chunk")

	// ErrNoRegion is returned if an offset isn't covered by any raw region or partition.
	ErrNoRegion = errors.New("wia: offset outside any known region")
)
