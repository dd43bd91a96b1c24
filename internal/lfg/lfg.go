// Package lfg implements the lagged Fibonacci generator used by GameCube
// and Wii discs to fill unused space, which compressed containers
// regenerate from a stored seed rather than storing the bytes.
package lfg

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	k = 521
	j = 32

	// SeedSize is the number of 32-bit words in a seed.
	SeedSize = 17
	// WindowSize is the number of bytes produced by each step of the generator.
	WindowSize = k * 4
)

// Generator produces the byte stream for a seed. Only forward movement is
// supported.
type Generator struct {
	buf [WindowSize]byte
	cur int
	pos int64
}

// New returns a Generator initialized from seed and warmed up.
func New(seed [SeedSize]uint32) *Generator {
	g := new(Generator)
	g.reset(seed)
	for i := 0; i < 4; i++ {
		g.forward()
	}
	return g
}

// Initialize reads a big-endian seed from r and returns a new Generator.
func Initialize(r io.Reader) (*Generator, error) {
	var seed [SeedSize]uint32
	if err := binary.Read(r, binary.BigEndian, &seed); err != nil {
		return nil, err
	}
	return New(seed), nil
}

// reset expands seed into the window without warming up.
func (g *Generator) reset(seed [SeedSize]uint32) {
	var w [k]uint32
	copy(w[:], seed[:])

	for i := SeedSize; i < k; i++ {
		w[i] = (w[i-17] << 23) ^ (w[i-16] >> 9) ^ w[i-1]
	}

	// Output takes bits 18-25 in place of bits 16-23; folding that into
	// the stored words lets reads copy bytes directly. Writing each word
	// big-endian is the byteswap.
	for i, x := range w {
		binary.BigEndian.PutUint32(g.buf[i*4:], (x&0xff00ffff)|((x>>2)&0x00ff0000))
	}

	g.cur = 0
	g.pos = 0
}

// forward advances by a whole window. XOR is bytewise so the word
// recurrence can run directly over the stored bytes.
func (g *Generator) forward() {
	for i := 0; i < j*4; i++ {
		g.buf[i] ^= g.buf[i+(k-j)*4]
	}
	for i := j * 4; i < WindowSize; i++ {
		g.buf[i] ^= g.buf[i-j*4]
	}
}

// Read fills p with generated bytes. It never fails.
func (g *Generator) Read(p []byte) (int, error) {
	n := 0
	for len(p) > 0 {
		m := copy(p, g.buf[g.cur:])
		p = p[m:]
		n += m
		g.cur += m
		if g.cur == WindowSize {
			g.forward()
			g.cur = 0
		}
	}
	g.pos += int64(n)
	return n, nil
}

// Seek implements io.Seeker. Seeking backwards is not supported and
// panics.
func (g *Generator) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += g.pos
	default:
		return 0, errors.New("lfg: invalid whence")
	}

	if offset < g.pos {
		panic("lfg: backward seek")
	}

	skip := int64(g.cur) + offset - g.pos
	for skip >= WindowSize {
		g.forward()
		skip -= WindowSize
	}
	g.cur = int(skip)
	g.pos = offset

	return offset, nil
}
