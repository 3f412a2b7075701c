// Package mbr provides the protective Master Boot Record written to the first
// block of a GPT disk, which keeps legacy tools from treating the disk as
// unpartitioned.
package mbr

import (
	"bytes"
	"encoding/binary"
	"io"
)

const (
	// ProtectiveOSType marks a partition entry as GPT protective.
	ProtectiveOSType = uint8(0xEE)

	// BootSignature is stored little-endian at byte offset 510.
	BootSignature = uint16(0xAA55)
)

// PartitionEntry is one of the four 16 byte entries in the partition table.
type PartitionEntry struct {
	BootIndicator uint8
	StartHead     uint8
	StartSector   uint8
	StartTrack    uint8
	OSType        uint8
	EndHead       uint8
	EndSector     uint8
	EndTrack      uint8
	StartingLBA   uint32
	SizeInLBA     uint32
}

// Record is the 512 byte MBR.
type Record struct {
	Bootstrap     [440]byte
	DiskSignature uint32
	Reserved      uint16
	Partitions    [4]PartitionEntry
	Signature     uint16
}

// Protective returns the protective MBR for a disk of diskSizeLBA blocks. The
// protective partition covers the whole disk after the MBR itself; its size
// saturates at 0xFFFFFFFF.
func Protective(diskSizeLBA uint64) Record {
	size := uint32(0xFFFFFFFF)
	if diskSizeLBA-1 < uint64(size) {
		size = uint32(diskSizeLBA - 1)
	}
	return Record{
		Partitions: [4]PartitionEntry{
			{
				StartSector: 2, // CHS placeholders, no consumer uses them
				OSType:      ProtectiveOSType,
				EndHead:     0xFF,
				EndSector:   0xFF,
				EndTrack:    0xFF,
				StartingLBA: 1,
				SizeInLBA:   size,
			},
		},
		Signature: BootSignature,
	}
}

func (r *Record) Bytes() [512]byte {
	buf := bytes.NewBuffer(make([]byte, 0, 512))
	// buf.Write never fails
	binary.Write(buf, binary.LittleEndian, r)
	var b [512]byte
	copy(b[:], buf.Bytes())
	return b
}

func (r *Record) WriteTo(w io.Writer) (int64, error) {
	b := r.Bytes()
	n, err := w.Write(b[:])
	return int64(n), err
}
