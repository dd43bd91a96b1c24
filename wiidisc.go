/*
Package wiidisc implements random access to Nintendo GameCube and Wii disc
images. Plain images, split images and the AES-encrypted partitions found
on raw Wii images are supported here; the compressed WIA and RVZ container
formats are handled by the wia subpackage.
*/
package wiidisc

import (
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/afero"
)

const (
	// Extension is the conventional file extension used for plain images.
	Extension = ".iso"

	// ClusterSize is the size of an encrypted Wii cluster, hash block included.
	ClusterSize = 0x8000
	// ClusterHeaderSize is the size of the hash block at the start of each cluster.
	ClusterHeaderSize = 0x400
	// ClusterDataSize is the size of the payload following the hash block.
	ClusterDataSize = ClusterSize - ClusterHeaderSize

	// DiscHeaderSize is the size of the disc header shared by GameCube and Wii discs.
	DiscHeaderSize = 0x80

	// CommonKeyFile is the conventional name of the standard common key.
	CommonKeyFile = "common.key"
	// KoreanKeyFile is the conventional name of the Korean common key.
	KoreanKeyFile = "korean.key"
	// VWiiKeyFile is the conventional name of the vWii common key.
	VWiiKeyFile = "vwii.key"

	keySize = 16

	wiiMagicOffset      = 0x18
	gameCubeMagicOffset = 0x1c

	// WiiMagic is found at offset 0x18 of a Wii disc header.
	WiiMagic uint32 = 0x5d1c9ea3
	// GameCubeMagic is found at offset 0x1c of a GameCube disc header.
	GameCubeMagic uint32 = 0xc2339f3d
)

var fs = afero.NewOsFs()

var (
	// ErrBadMagic is returned if an image lacks the Wii disc magic.
	ErrBadMagic = errors.New("wiidisc: bad magic")
	// ErrUnknownKey is returned if a ticket names a common key that isn't loaded.
	ErrUnknownKey = errors.New("wiidisc: unknown common key")
)

// Reader is the logical byte source exposed for a disc image.
type Reader interface {
	Size() int64
	io.Reader
	io.ReaderAt
	io.Seeker
}

// ReadCloser is a Reader that owns an underlying file.
type ReadCloser interface {
	Reader
	io.Closer
}

type options struct {
	logger *slog.Logger
	verify bool
}

// Option configures readers created by this package.
type Option func(*options)

// WithLogger sets the logger that receives integrity warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithVerify enables checking each decrypted cluster against the hashes
// stored in its hash block.
func WithVerify() Option {
	return func(o *options) {
		o.verify = true
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

// seek implements the shared io.Seeker arithmetic, clamping to [0, size].
func seek(off, size, offset int64, whence int) (int64, error) {
	switch whence {
	default:
		return 0, errors.New("wiidisc: invalid whence")
	case io.SeekStart:
		break
	case io.SeekCurrent:
		offset += off
	case io.SeekEnd:
		offset += size
	}
	if offset < 0 {
		offset = 0
	}
	if offset > size {
		offset = size
	}
	return offset, nil
}
