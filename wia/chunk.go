package wia

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bodgit/wiidisc"
	"github.com/bodgit/wiidisc/internal/lfg"
)

const junkFlag = 0x80000000

// chunkDecoder expands groups into logical chunks. The scratch buffer for
// the stored bytes is reused between calls.
type chunkDecoder struct {
	d   *Descriptor
	r   io.ReaderAt
	buf []byte
}

// decode fills dst, which must be sized for the logical chunk of the
// owning region, with the contents of group index.
func (cd *chunkDecoder) decode(dst []byte, index uint32, partitioned bool) error {
	if int(index) >= len(cd.d.Groups) {
		return fmt.Errorf("%w: group %d out of range", ErrCorruptChunk, index)
	}
	g := cd.d.Groups[index]

	if g.Size == 0 {
		clear(dst)
		return nil
	}

	if cap(cd.buf) < int(g.Size) {
		cd.buf = make([]byte, g.Size)
	}
	b := cd.buf[:g.Size]
	if _, err := io.ReadFull(io.NewSectionReader(cd.r, g.Offset, int64(g.Size)), b); err != nil {
		return err
	}

	// None and Purge keep the exception lists ahead of the stored data,
	// padded, rather than inside the compressed stream
	inStream := g.Compressed && cd.d.Compression != None && cd.d.Compression != Purge

	br := bytes.NewReader(b)
	if partitioned && !inStream {
		if err := cd.skipExceptions(br, true); err != nil {
			return err
		}
	}

	var r io.Reader = br
	if g.Compressed {
		rc, err := cd.d.decompress(r, cd.d.CompressorData)
		if err != nil {
			return err
		}
		defer rc.Close()
		r = rc
	}

	if partitioned && inStream {
		if err := cd.skipExceptions(r, false); err != nil {
			return err
		}
	}

	if g.PackedSize != 0 {
		return unpack(io.LimitReader(r, int64(g.PackedSize)), dst)
	}

	// The final chunk of a region may be stored short
	n, err := io.ReadFull(r, dst)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	clear(dst[n:])

	return nil
}

// skipExceptions consumes the hash exception lists at the start of a
// partition chunk, one per 2 MiB of chunk. When the lists are stored
// outside a compressed stream they are padded to a multiple of four bytes.
// The count comes first and the padding follows the last list; a fixed
// 2-byte skip ahead of the count only matches this when there are no
// exceptions.
func (cd *chunkDecoder) skipExceptions(r io.Reader, aligned bool) error {
	lists := int(cd.d.ChunkSize / exceptionListSpan)
	if lists < 1 {
		lists = 1
	}

	var consumed int64
	for i := 0; i < lists; i++ {
		var count uint16
		if err := binary.Read(r, binary.BigEndian, &count); err != nil {
			return fmt.Errorf("%w: exception list: %w", ErrCorruptChunk, err)
		}

		exceptions := make([]ExceptionRecord, count)
		if err := binary.Read(r, binary.BigEndian, &exceptions); err != nil {
			return fmt.Errorf("%w: exception list: %w", ErrCorruptChunk, err)
		}

		consumed += 2 + int64(count)*exceptionRecordSize
	}

	if pad := consumed % 4; aligned && pad != 0 {
		if _, err := io.CopyN(io.Discard, r, 4-pad); err != nil {
			return fmt.Errorf("%w: exception list padding: %w", ErrCorruptChunk, err)
		}
	}

	return nil
}

// unpack expands a packed chunk: a sequence of big-endian lengths each
// followed by either that many literal bytes or, with the top bit set, a
// seed from which the bytes are generated.
func unpack(r io.Reader, dst []byte) error {
	var fill int

	for {
		var l uint32
		if err := binary.Read(r, binary.BigEndian, &l); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("%w: run length: %w", ErrCorruptChunk, err)
		}

		n := int(l &^ junkFlag)
		if n > len(dst)-fill {
			return fmt.Errorf("%w: run of %d bytes at %d overruns %d byte chunk", ErrCorruptChunk, n, fill, len(dst))
		}
		run := dst[fill : fill+n]

		if l&junkFlag != 0 {
			g, err := lfg.Initialize(r)
			if err != nil {
				return fmt.Errorf("%w: seed: %w", ErrCorruptChunk, err)
			}
			if _, err = g.Seek(int64(fill%wiidisc.ClusterSize), io.SeekStart); err != nil {
				return err
			}
			_, _ = g.Read(run)
		} else if _, err := io.ReadFull(r, run); err != nil {
			return fmt.Errorf("%w: literal run: %w", ErrCorruptChunk, err)
		}

		fill += n
	}

	clear(dst[fill:])

	return nil
}
