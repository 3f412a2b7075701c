package gpt

import (
	"encoding/binary"
	"hash"
	"hash/crc32"
	"io"

	"github.com/google/uuid"
)

// leWriter writes little-endian fields to w. The first error sticks and
// turns all later writes into no-ops.
type leWriter struct {
	w       io.Writer
	err     error
	scratch [8]byte
}

func (lw *leWriter) bytes(b []byte) {
	if lw.err != nil {
		return
	}
	_, lw.err = lw.w.Write(b)
}

func (lw *leWriter) u8(v uint8) {
	lw.scratch[0] = v
	lw.bytes(lw.scratch[:1])
}

func (lw *leWriter) u16(v uint16) {
	binary.LittleEndian.PutUint16(lw.scratch[:], v)
	lw.bytes(lw.scratch[:2])
}

func (lw *leWriter) u32(v uint32) {
	binary.LittleEndian.PutUint32(lw.scratch[:], v)
	lw.bytes(lw.scratch[:4])
}

func (lw *leWriter) u64(v uint64) {
	binary.LittleEndian.PutUint64(lw.scratch[:], v)
	lw.bytes(lw.scratch[:8])
}

func (lw *leWriter) guid(g uuid.UUID) {
	b := EncodeGUID(g)
	lw.bytes(b[:])
}

func (lw *leWriter) zeros(n int) {
	var zero [64]byte
	for n > 0 {
		chunk := n
		if chunk > len(zero) {
			chunk = len(zero)
		}
		lw.bytes(zero[:chunk])
		n -= chunk
	}
}

// Digest is a streaming CRC32 (IEEE) accumulator over little-endian fields.
// It feeds fields in the same byte order the serializer writes them.
type Digest struct {
	h  hash.Hash32
	lw leWriter
}

func NewDigest() *Digest {
	h := crc32.NewIEEE()
	return &Digest{h: h, lw: leWriter{w: h}}
}

func (d *Digest) U8(v uint8)        { d.lw.u8(v) }
func (d *Digest) U16(v uint16)      { d.lw.u16(v) }
func (d *Digest) U32(v uint32)      { d.lw.u32(v) }
func (d *Digest) U64(v uint64)      { d.lw.u64(v) }
func (d *Digest) GUID(g uuid.UUID)  { d.lw.guid(g) }
func (d *Digest) Bytes(b []byte)    { d.lw.bytes(b) }
func (d *Digest) Sum32() uint32     { return d.h.Sum32() }
func (d *Digest) writer() *leWriter { return &d.lw }
