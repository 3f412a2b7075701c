// Package memdisk implements a fixed-size, randomly seekable in-memory disk.
// Images of small file systems are staged in a MemDisk before their bytes are
// copied into a partition of the final disk image.
package memdisk

import (
	"errors"
	"fmt"
	"io"
)

var ErrNegativeOffset = errors.New("memdisk: negative offset")

// MemDisk is an io.ReadWriteSeeker over a buffer whose size only changes
// through Truncate. Reads and writes stop at the end of the buffer.
type MemDisk struct {
	buf    []byte
	cursor int64
}

// New returns a zero-filled MemDisk of size bytes.
func New(size int) *MemDisk {
	return &MemDisk{buf: make([]byte, size)}
}

func (md *MemDisk) Size() int64   { return int64(len(md.buf)) }
func (md *MemDisk) Cursor() int64 { return md.cursor }

// Bytes returns the backing buffer. It is not copied.
func (md *MemDisk) Bytes() []byte { return md.buf }

func (md *MemDisk) Read(p []byte) (int, error) {
	n, err := md.ReadAt(p, md.cursor)
	md.cursor += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (md *MemDisk) Write(p []byte) (int, error) {
	n, err := md.WriteAt(p, md.cursor)
	md.cursor += int64(n)
	return n, err
}

func (md *MemDisk) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrNegativeOffset
	}
	if off >= md.Size() {
		return 0, io.EOF
	}
	n := copy(p, md.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes as much of p as fits. A write that does not fit entirely
// returns io.ErrShortWrite.
func (md *MemDisk) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrNegativeOffset
	}
	if off >= md.Size() {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.ErrShortWrite
	}
	n := copy(md.buf[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Seek moves the cursor. Seeking past the end clamps the cursor to the size.
func (md *MemDisk) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = md.cursor
	case io.SeekEnd:
		base = md.Size()
	default:
		return md.cursor, fmt.Errorf("memdisk: invalid whence %d", whence)
	}
	pos := base + offset
	if pos < 0 {
		return md.cursor, ErrNegativeOffset
	}
	if pos > md.Size() {
		pos = md.Size()
	}
	md.cursor = pos
	return pos, nil
}

// Truncate resizes the disk to size bytes. Growing zero-fills, shrinking
// discards the tail and clamps the cursor.
func (md *MemDisk) Truncate(size int64) error {
	if size < 0 {
		return ErrNegativeOffset
	}
	switch {
	case size < md.Size():
		md.buf = md.buf[:size]
		if md.cursor > size {
			md.cursor = size
		}
	case size > md.Size():
		md.buf = append(md.buf, make([]byte, size-md.Size())...)
	}
	return nil
}
