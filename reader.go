package wiidisc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go4.org/readerutil"
)

const (
	multipart = ".part"
)

type reader struct {
	r   readerutil.SizeReaderAt
	c   []io.Closer
	off int64
}

// OpenReader opens the plain disc image name. If name ends in
// ".part0.iso" then the following ".part1.iso", ".part2.iso", etc. files
// are joined onto it to form a single image.
func OpenReader(name string) (ReadCloser, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		err = multierror.Append(err, f.Close())
		return nil, err
	}

	var sr readerutil.SizeReaderAt = io.NewSectionReader(f, 0, info.Size())
	files := []io.Closer{f}

	if first := fmt.Sprintf("%s0%s", multipart, Extension); strings.HasSuffix(name, first) {
		stem := strings.TrimSuffix(name, first)
		mr := []readerutil.SizeReaderAt{sr}
		for i := 1; true; i++ {
			if f, err = fs.Open(fmt.Sprintf("%s%s%d%s", stem, multipart, i, Extension)); err != nil {
				if os.IsNotExist(err) {
					break
				}
				for _, file := range files {
					err = multierror.Append(err, file.Close())
				}
				return nil, err
			}
			files = append(files, f)

			if info, err = f.Stat(); err != nil {
				for _, file := range files {
					err = multierror.Append(err, file.Close())
				}
				return nil, err
			}

			mr = append(mr, io.NewSectionReader(f, 0, info.Size()))
		}
		sr = readerutil.NewMultiReaderAt(mr...)
	}

	r := &reader{
		r: sr,
		c: files,
	}

	return r, nil
}

func (r *reader) Size() int64 {
	return r.r.Size()
}

func (r *reader) Close() error {
	var err *multierror.Error
	for _, c := range r.c {
		if cerr := c.Close(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
	}
	return err.ErrorOrNil()
}

func (r *reader) Read(p []byte) (n int, err error) {
	if r.off >= r.Size() {
		return 0, io.EOF
	}
	n, err = r.ReadAt(p, r.off)
	r.off += int64(n)
	if errors.Is(err, io.EOF) && n > 0 {
		err = nil
	}
	return
}

func (r *reader) ReadAt(p []byte, off int64) (int, error) {
	return r.r.ReadAt(p, off)
}

func (r *reader) Seek(offset int64, whence int) (int64, error) {
	off, err := seek(r.off, r.Size(), offset, whence)
	if err != nil {
		return 0, err
	}
	r.off = off
	return off, nil
}
