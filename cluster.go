package wiidisc

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"errors"
	"io"
	"log/slog"

	"github.com/connesc/cipherio"
)

const (
	ivOffset   = 0x3d0
	hashBlocks = ClusterDataSize / 0x400
)

// ClusterReader presents the decrypted payload of an encrypted Wii
// partition as a contiguous stream, with the hash block of each cluster
// removed. It caches a single cluster and is not safe for concurrent use.
type ClusterReader struct {
	r      io.ReaderAt
	block  cipher.Block
	logger *slog.Logger
	verify bool

	base  int64
	limit int64
	off   int64

	index   int64
	header  []byte
	cluster []byte
}

var _ Reader = (*ClusterReader)(nil)

// NewClusterReader returns a ClusterReader over the size bytes of
// encrypted partition data found at offset in r, decrypted with key.
func NewClusterReader(r io.ReaderAt, key []byte, offset, size int64, opts ...Option) (*ClusterReader, error) {
	if len(key) != keySize {
		return nil, errors.New("wiidisc: wrong content key size")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	o := newOptions(opts)

	cr := &ClusterReader{
		r:       r,
		block:   block,
		logger:  o.logger,
		verify:  o.verify,
		base:    offset,
		limit:   size / ClusterSize * ClusterDataSize,
		index:   -1,
		header:  make([]byte, ClusterHeaderSize),
		cluster: make([]byte, ClusterDataSize),
	}

	return cr, nil
}

// Size returns the number of decrypted bytes available.
func (cr *ClusterReader) Size() int64 {
	return cr.limit
}

func (cr *ClusterReader) load(index int64) error {
	if index == cr.index {
		return nil
	}
	cr.index = -1

	sr := io.NewSectionReader(cr.r, cr.base+index*ClusterSize, ClusterSize)
	if _, err := io.ReadFull(sr, cr.header); err != nil {
		return err
	}

	// The IV for the payload is taken from the still encrypted hash block
	cbc := cipherio.NewBlockReader(sr, cipher.NewCBCDecrypter(cr.block, cr.header[ivOffset:ivOffset+aes.BlockSize]))
	if _, err := io.ReadFull(cbc, cr.cluster); err != nil {
		return err
	}

	if cr.verify {
		cr.check(index)
	}

	cr.index = index

	return nil
}

func (cr *ClusterReader) check(index int64) {
	h0 := make([]byte, ClusterHeaderSize)
	cipher.NewCBCDecrypter(cr.block, make([]byte, cr.block.BlockSize())).CryptBlocks(h0, cr.header)

	for i := 0; i < hashBlocks; i++ {
		sum := sha1.Sum(cr.cluster[i*0x400 : (i+1)*0x400])
		if !bytes.Equal(sum[:], h0[i*sha1.Size:(i+1)*sha1.Size]) {
			cr.logger.Warn("cluster hash mismatch", "cluster", index, "block", i)
		}
	}
}

// ReadAt implements io.ReaderAt. It shares the cluster cache with Read
// so the same concurrency restriction applies.
func (cr *ClusterReader) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, errors.New("wiidisc: negative offset")
	}
	if off >= cr.limit {
		return 0, io.EOF
	}

	for len(p) > 0 && off < cr.limit {
		index, intra := off/ClusterDataSize, off%ClusterDataSize
		if err = cr.load(index); err != nil {
			return n, err
		}

		m := copy(p, cr.cluster[intra:])
		p = p[m:]
		n += m
		off += int64(m)
	}

	if len(p) > 0 {
		err = io.EOF
	}

	return n, err
}

func (cr *ClusterReader) Read(p []byte) (n int, err error) {
	if cr.off >= cr.limit {
		return 0, io.EOF
	}
	n, err = cr.ReadAt(p, cr.off)
	cr.off += int64(n)
	if errors.Is(err, io.EOF) && n > 0 {
		err = nil
	}
	return
}

func (cr *ClusterReader) Seek(offset int64, whence int) (int64, error) {
	off, err := seek(cr.off, cr.limit, offset, whence)
	if err != nil {
		return 0, err
	}
	cr.off = off
	return off, nil
}
