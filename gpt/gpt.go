// Package gpt builds GUID partition tables (GPT) and serializes them, together
// with a protective MBR, into disk images. A minimal reader for tables written
// by this package is provided for verification.
package gpt

import (
	"errors"
	"fmt"
	"unicode/utf16"

	"github.com/google/uuid"
)

const (
	Signature  = uint64(0x5452415020494645) // "EFI PART"
	Revision   = uint32(0x00010000)
	HeaderSize = uint32(92)

	// MinEntrySize is the size of one partition entry as laid out on disk.
	// Larger entry sizes are zero-padded.
	MinEntrySize = uint32(128)

	// NameLength is the number of UTF-16 code units in a partition name.
	NameLength = 36

	// arrayLBAs is the number of blocks reserved for each copy of the
	// partition entry array.
	arrayLBAs = 32

	primaryArrayLBA = 2
	firstUsableLBA  = primaryArrayLBA + arrayLBAs

	// MinDiskLBA is the smallest disk that fits the protective MBR, both
	// headers, both arrays and a one-block partition.
	MinDiskLBA = firstUsableLBA + arrayLBAs + 1 + 1
)

var (
	ErrInvalidBlockSize  = errors.New("gpt: block size must be a power of two of at least 512 bytes")
	ErrInvalidEntrySize  = errors.New("gpt: invalid partition entry size")
	ErrDiskTooSmall      = errors.New("gpt: disk too small")
	ErrPartitionTooLarge = errors.New("gpt: partition does not fit on disk")
	ErrTableFull         = errors.New("gpt: partition entry array is full")
)

// Attributes is the 64-bit partition attribute bitfield.
type Attributes uint64

const (
	AttrPlatformRequired   Attributes = 1 << 0
	AttrNoBlockIOProtocol  Attributes = 1 << 1
	AttrLegacyBIOSBootable Attributes = 1 << 2
)

// Header is one copy of the GPT header.
type Header struct {
	Signature           uint64
	Revision            uint32
	HeaderSize          uint32
	HeaderCRC32         uint32
	MyLBA               uint64
	AlternateLBA        uint64
	FirstUsableLBA      uint64
	LastUsableLBA       uint64
	DiskGUID            uuid.UUID
	PartitionArrayLBA   uint64
	NumPartitionEntries uint32
	PartitionEntrySize  uint32
	PartitionArrayCRC32 uint32
}

// encode writes the header in on-disk order, with crc in place of the
// header checksum field.
func (h *Header) encode(lw *leWriter, crc uint32) {
	lw.u64(h.Signature)
	lw.u32(h.Revision)
	lw.u32(h.HeaderSize)
	lw.u32(crc)
	lw.u32(0) // reserved
	lw.u64(h.MyLBA)
	lw.u64(h.AlternateLBA)
	lw.u64(h.FirstUsableLBA)
	lw.u64(h.LastUsableLBA)
	lw.guid(h.DiskGUID)
	lw.u64(h.PartitionArrayLBA)
	lw.u32(h.NumPartitionEntries)
	lw.u32(h.PartitionEntrySize)
	lw.u32(h.PartitionArrayCRC32)
}

// Checksum computes the header CRC32 with the checksum field treated as zero.
func (h *Header) Checksum() uint32 {
	d := NewDigest()
	h.encode(d.writer(), 0)
	return d.Sum32()
}

// Partition is one entry of the partition array.
type Partition struct {
	Type       uuid.UUID
	GUID       uuid.UUID
	StartLBA   uint64
	EndLBA     uint64 // inclusive
	Attributes Attributes
	Name       [NameLength]uint16
}

func (p *Partition) SizeLBA() uint64 {
	return p.EndLBA - p.StartLBA + 1
}

// NameString decodes the partition name up to the first NUL.
func (p *Partition) NameString() string {
	n := 0
	for n < len(p.Name) && p.Name[n] != 0 {
		n++
	}
	return string(utf16.Decode(p.Name[:n]))
}

func (p *Partition) String() string {
	return fmt.Sprintf("%q [%d, %d] type %s guid %s",
		p.NameString(), p.StartLBA, p.EndLBA, p.Type, p.GUID)
}

func (p *Partition) encode(lw *leWriter, entrySize uint32) {
	lw.guid(p.Type)
	lw.guid(p.GUID)
	lw.u64(p.StartLBA)
	lw.u64(p.EndLBA)
	lw.u64(uint64(p.Attributes))
	for _, c := range p.Name {
		lw.u16(c)
	}
	lw.zeros(int(entrySize - MinEntrySize))
}

// EncodeName converts s to a NUL-terminated partition name. Names longer than
// NameLength-1 code units are truncated.
func EncodeName(s string) [NameLength]uint16 {
	var name [NameLength]uint16
	copy(name[:NameLength-1], utf16.Encode([]rune(s)))
	return name
}

// PartitionOptions describes a partition to be appended to a Disk.
type PartitionOptions struct {
	Type uuid.UUID
	// GUID is the unique partition GUID. A random GUID is used if nil.
	GUID *uuid.UUID
	// SizeLBA is the requested size in blocks. Zero yields a one-block
	// partition.
	SizeLBA    uint64
	Attributes Attributes
	Name       string
}

type Option func(*Disk) error

// WithPartitionPadding sets the number of blocks left free between
// consecutive partitions. The default is 1.
func WithPartitionPadding(lba uint64) Option {
	return func(d *Disk) error {
		d.padding = lba
		return nil
	}
}

// WithEntrySize sets the size of one partition entry. It must be 128 times a
// power of two and fit into the reserved array area.
func WithEntrySize(size uint32) Option {
	return func(d *Disk) error {
		if size < MinEntrySize || size&(size-1) != 0 || uint64(size) > arrayLBAs*uint64(d.BlockSize) {
			return fmt.Errorf("%w: %d", ErrInvalidEntrySize, size)
		}
		d.entrySize = size
		return nil
	}
}

// Disk is the in-memory model of a GPT disk: both header copies and the
// ordered partition list.
type Disk struct {
	BlockSize uint32
	SizeLBA   uint64

	Primary Header
	Backup  Header

	padding    uint64
	entrySize  uint32
	partitions []*Partition
}

// NewDisk returns an empty disk of sizeLBA blocks. A random disk GUID is
// generated if diskGUID is nil.
func NewDisk(blockSize uint32, sizeLBA uint64, diskGUID *uuid.UUID, opts ...Option) (*Disk, error) {
	if blockSize < 512 || blockSize&(blockSize-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBlockSize, blockSize)
	}
	if sizeLBA < MinDiskLBA {
		return nil, fmt.Errorf("%w: %d blocks, need at least %d", ErrDiskTooSmall, sizeLBA, MinDiskLBA)
	}
	d := &Disk{
		BlockSize: blockSize,
		SizeLBA:   sizeLBA,
		padding:   1,
		entrySize: MinEntrySize,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	guid := uuid.New()
	if diskGUID != nil {
		guid = *diskGUID
	}
	d.Primary = Header{
		Signature:          Signature,
		Revision:           Revision,
		HeaderSize:         HeaderSize,
		MyLBA:              1,
		AlternateLBA:       sizeLBA - 1,
		FirstUsableLBA:     firstUsableLBA,
		LastUsableLBA:      sizeLBA - firstUsableLBA,
		DiskGUID:           guid,
		PartitionArrayLBA:  primaryArrayLBA,
		PartitionEntrySize: d.entrySize,
	}
	d.Backup = d.Primary
	d.Backup.MyLBA, d.Backup.AlternateLBA = d.Primary.AlternateLBA, d.Primary.MyLBA
	d.Backup.PartitionArrayLBA = sizeLBA - arrayLBAs - 1
	d.RefreshChecksums()
	return d, nil
}

// Partitions returns the partitions in creation order.
func (d *Disk) Partitions() []*Partition {
	return d.partitions
}

// MaxPartitions is the number of entries the reserved array area can hold.
func (d *Disk) MaxPartitions() int {
	return int(arrayLBAs * uint64(d.BlockSize) / uint64(d.entrySize))
}

// CreatePartition appends a partition directly after the previous one (plus
// the configured padding), or at the first usable block.
func (d *Disk) CreatePartition(opts PartitionOptions) (*Partition, error) {
	if len(d.partitions) >= d.MaxPartitions() {
		return nil, fmt.Errorf("%w: %d entries", ErrTableFull, len(d.partitions))
	}
	start := d.Primary.FirstUsableLBA
	if n := len(d.partitions); n > 0 {
		prev := d.partitions[n-1]
		start = prev.EndLBA + 1 + d.padding
		if start <= prev.EndLBA {
			return nil, fmt.Errorf("%w: %q: padding of %d blocks after block %d overflows",
				ErrPartitionTooLarge, opts.Name, d.padding, prev.EndLBA)
		}
	}
	size := opts.SizeLBA
	if size == 0 {
		size = 1
	}
	end := start + size - 1
	if end < start || end > d.Primary.LastUsableLBA {
		return nil, fmt.Errorf("%w: %q needs blocks [%d, %d], last usable block is %d",
			ErrPartitionTooLarge, opts.Name, start, start+size-1, d.Primary.LastUsableLBA)
	}
	guid := uuid.New()
	if opts.GUID != nil {
		guid = *opts.GUID
	}
	p := &Partition{
		Type:       opts.Type,
		GUID:       guid,
		StartLBA:   start,
		EndLBA:     end,
		Attributes: opts.Attributes,
		Name:       EncodeName(opts.Name),
	}
	d.partitions = append(d.partitions, p)
	d.Primary.NumPartitionEntries = uint32(len(d.partitions))
	d.Backup.NumPartitionEntries = uint32(len(d.partitions))
	return p, nil
}

// ArrayChecksum computes the CRC32 of the partition entry array as it is
// laid out on disk.
func (d *Disk) ArrayChecksum() uint32 {
	dg := NewDigest()
	for _, p := range d.partitions {
		p.encode(dg.writer(), d.entrySize)
	}
	return dg.Sum32()
}

// RefreshChecksums recomputes the partition array checksum of both headers,
// then their header checksums (which cover the former).
func (d *Disk) RefreshChecksums() {
	arrayCRC := d.ArrayChecksum()
	for _, h := range []*Header{&d.Primary, &d.Backup} {
		h.NumPartitionEntries = uint32(len(d.partitions))
		h.PartitionArrayCRC32 = arrayCRC
		h.HeaderCRC32 = h.Checksum()
	}
}
