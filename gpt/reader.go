package gpt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

var (
	ErrBadSignature     = errors.New("gpt: bad header signature")
	ErrChecksumMismatch = errors.New("gpt: checksum mismatch")
)

// PartitionEntry is a partition entry as laid out on disk.
type PartitionEntry struct {
	TypeGUID   [16]byte
	GUID       [16]byte
	FirstLBA   uint64
	LastLBA    uint64
	Attributes uint64
	Name       [NameLength]uint16
}

// Partition converts the on-disk entry into its in-memory form.
func (e *PartitionEntry) Partition() *Partition {
	return &Partition{
		Type:       DecodeGUID(e.TypeGUID),
		GUID:       DecodeGUID(e.GUID),
		StartLBA:   e.FirstLBA,
		EndLBA:     e.LastLBA,
		Attributes: Attributes(e.Attributes),
		Name:       e.Name,
	}
}

type rawHeader struct {
	Signature           uint64
	Revision            uint32
	HeaderSize          uint32
	HeaderCRC32         uint32
	Reserved            uint32
	MyLBA               uint64
	AlternateLBA        uint64
	FirstUsableLBA      uint64
	LastUsableLBA       uint64
	DiskGUID            [16]byte
	PartitionArrayLBA   uint64
	NumPartitionEntries uint32
	PartitionEntrySize  uint32
	PartitionArrayCRC32 uint32
}

// ReadHeader reads and verifies the GPT header stored at block lba.
func ReadHeader(r io.ReaderAt, lba uint64, blockSize uint32) (*Header, error) {
	var raw rawHeader
	sr := io.NewSectionReader(r, int64(lba)*int64(blockSize), int64(HeaderSize))
	if err := binary.Read(sr, binary.LittleEndian, &raw); err != nil {
		return nil, fmt.Errorf("reading GPT header at LBA %d: %w", lba, err)
	}
	if raw.Signature != Signature {
		return nil, fmt.Errorf("%w at LBA %d: %#x", ErrBadSignature, lba, raw.Signature)
	}
	h := &Header{
		Signature:           raw.Signature,
		Revision:            raw.Revision,
		HeaderSize:          raw.HeaderSize,
		HeaderCRC32:         raw.HeaderCRC32,
		MyLBA:               raw.MyLBA,
		AlternateLBA:        raw.AlternateLBA,
		FirstUsableLBA:      raw.FirstUsableLBA,
		LastUsableLBA:       raw.LastUsableLBA,
		DiskGUID:            DecodeGUID(raw.DiskGUID),
		PartitionArrayLBA:   raw.PartitionArrayLBA,
		NumPartitionEntries: raw.NumPartitionEntries,
		PartitionEntrySize:  raw.PartitionEntrySize,
		PartitionArrayCRC32: raw.PartitionArrayCRC32,
	}
	if h.HeaderSize != HeaderSize || h.MyLBA != lba {
		return nil, fmt.Errorf("unexpected GPT header at LBA %d: size %d, my LBA %d", lba, h.HeaderSize, h.MyLBA)
	}
	if got := h.Checksum(); got != h.HeaderCRC32 {
		return nil, fmt.Errorf("%w: header at LBA %d has %#08x, computed %#08x", ErrChecksumMismatch, lba, h.HeaderCRC32, got)
	}
	return h, nil
}

// PartitionEntries reads the partition entry array described by h and
// verifies its checksum.
func PartitionEntries(r io.ReaderAt, h *Header, blockSize uint32) ([]PartitionEntry, error) {
	if h.PartitionEntrySize < MinEntrySize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidEntrySize, h.PartitionEntrySize)
	}
	buf := make([]byte, int(h.NumPartitionEntries)*int(h.PartitionEntrySize))
	if _, err := r.ReadAt(buf, int64(h.PartitionArrayLBA)*int64(blockSize)); err != nil {
		return nil, fmt.Errorf("reading partition array at LBA %d: %w", h.PartitionArrayLBA, err)
	}
	if got := crc32.ChecksumIEEE(buf); got != h.PartitionArrayCRC32 {
		return nil, fmt.Errorf("%w: partition array at LBA %d has %#08x, computed %#08x",
			ErrChecksumMismatch, h.PartitionArrayLBA, h.PartitionArrayCRC32, got)
	}
	entries := make([]PartitionEntry, h.NumPartitionEntries)
	for idx := range entries {
		off := idx * int(h.PartitionEntrySize)
		rd := bytes.NewReader(buf[off : off+int(MinEntrySize)])
		if err := binary.Read(rd, binary.LittleEndian, &entries[idx]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// Table is a GPT read back from a disk image.
type Table struct {
	Primary    *Header
	Backup     *Header
	Partitions []*Partition
}

// Read reads both headers and the primary partition array of a disk image
// written by Serialize.
func Read(r io.ReaderAt, blockSize uint32) (*Table, error) {
	primary, err := ReadHeader(r, 1, blockSize)
	if err != nil {
		return nil, err
	}
	backup, err := ReadHeader(r, primary.AlternateLBA, blockSize)
	if err != nil {
		return nil, err
	}
	if backup.AlternateLBA != primary.MyLBA || backup.PartitionArrayCRC32 != primary.PartitionArrayCRC32 {
		return nil, fmt.Errorf("backup GPT header does not mirror the primary header")
	}
	entries, err := PartitionEntries(r, primary, blockSize)
	if err != nil {
		return nil, err
	}
	t := &Table{Primary: primary, Backup: backup}
	for idx := range entries {
		t.Partitions = append(t.Partitions, entries[idx].Partition())
	}
	return t, nil
}
