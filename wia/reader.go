package wia

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bodgit/wiidisc"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"go4.org/readerutil"
)

var fs = afero.NewOsFs()

type options struct {
	logger *slog.Logger
}

// Option configures a Reader.
type Option func(*options)

// WithLogger sets the logger that receives integrity warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Reader presents the logical disc image stored in a container. It holds
// a single decoded chunk and is not safe for concurrent use; open one per
// goroutine instead.
type Reader struct {
	d     *Descriptor
	cd    chunkDecoder
	off   int64
	limit int64

	region Region
	active bool
	group  int64
	chunk  []byte
}

// ReadCloser is a Reader that owns the underlying container.
type ReadCloser struct {
	*Reader
	c io.Closer
}

var (
	_ wiidisc.Reader     = (*Reader)(nil)
	_ wiidisc.ReadCloser = (*ReadCloser)(nil)
)

// NewReader returns a new Reader that reads and decompresses from ra.
func NewReader(ra io.ReaderAt, opts ...Option) (*Reader, error) {
	d, err := ReadDescriptor(ra, opts...)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		d: d,
		cd: chunkDecoder{
			d: d,
			r: ra,
		},
		limit: d.Header.ISOSize,
		group: -1,
		chunk: make([]byte, d.ChunkSize),
	}

	return r, nil
}

// NewReadCloser returns a new ReadCloser that reads and decompresses from rac.
func NewReadCloser(rac readerutil.ReaderAtCloser, opts ...Option) (*ReadCloser, error) {
	r, err := NewReader(rac, opts...)
	if err != nil {
		return nil, err
	}

	return &ReadCloser{Reader: r, c: rac}, nil
}

// Open opens name as a container, or as a plain disc image if it doesn't
// start with a container magic.
func Open(name string, opts ...Option) (wiidisc.ReadCloser, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}

	rc, err := NewReadCloser(f, opts...)
	if err == nil {
		return rc, nil
	}
	if !errors.Is(err, ErrBadMagic) {
		return nil, multierror.Append(err, f.Close())
	}
	if err = f.Close(); err != nil {
		return nil, err
	}

	return wiidisc.OpenReader(name)
}

// Descriptor returns the parsed tables of the container.
func (r *Reader) Descriptor() *Descriptor {
	return r.d
}

// Size returns the size of the logical disc image.
func (r *Reader) Size() int64 {
	return r.limit
}

func (r *Reader) readChunk(p []byte, off int64) (int, error) {
	if !r.active || !r.region.Contains(off) {
		region, err := r.d.Resolve(off)
		if err != nil {
			return 0, err
		}
		r.region, r.active = region, true
	}

	chunkSize := r.d.LogicalChunkSize(r.region.Partitioned)
	rel := off - r.region.Offset
	index := rel / chunkSize
	if index >= int64(r.region.Groups) {
		return 0, fmt.Errorf("%w: offset %#x beyond the groups of its region", ErrCorruptChunk, off)
	}

	if group := int64(r.region.GroupIndex) + index; group != r.group {
		r.group = -1
		if err := r.cd.decode(r.chunk[:chunkSize], uint32(group), r.region.Partitioned); err != nil {
			return 0, err
		}
		r.group = group
	}

	intra := rel % chunkSize
	end := chunkSize
	if remaining := r.region.End() - (off - intra); remaining < end {
		end = remaining
	}

	return copy(p, r.chunk[intra:end]), nil
}

// ReadAt implements io.ReaderAt. It shares the chunk cache with Read so
// the same concurrency restriction applies.
func (r *Reader) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, errors.New("wia: negative offset")
	}
	if off >= r.limit {
		return 0, io.EOF
	}
	if max := r.limit - off; int64(len(p)) > max {
		p = p[:max]
		defer func() {
			if err == nil {
				err = io.EOF
			}
		}()
	}

	for len(p) > 0 {
		var m int
		if off < DiscHeadSize {
			m = copy(p, r.d.DiscHead[off:])
		} else if m, err = r.readChunk(p, off); err != nil {
			return n, err
		}

		p = p[m:]
		n += m
		off += int64(m)
	}

	return n, nil
}

func (r *Reader) Read(p []byte) (n int, err error) {
	if r.off >= r.limit {
		return 0, io.EOF
	}
	n, err = r.ReadAt(p, r.off)
	r.off += int64(n)
	if errors.Is(err, io.EOF) && n > 0 {
		err = nil
	}
	return
}

// Seek implements io.Seeker. The result is clamped to [0, Size].
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	default:
		return 0, errors.New("wia: invalid whence")
	case io.SeekStart:
		break
	case io.SeekCurrent:
		offset += r.off
	case io.SeekEnd:
		offset += r.limit
	}
	if offset < 0 {
		offset = 0
	}
	if offset > r.limit {
		offset = r.limit
	}
	r.off = offset
	return offset, nil
}

// Close closes the underlying container.
func (rc *ReadCloser) Close() error {
	return rc.c.Close()
}
