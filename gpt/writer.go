package gpt

import (
	"bytes"
	"fmt"
	"io"

	"github.com/nellos/nellboot/mbr"
)

// Storage is the target of Serialize, e.g. an *os.File or a *memdisk.MemDisk.
type Storage interface {
	io.WriterAt
	Truncate(size int64) error
}

// SizeBytes is the size of the disk image in bytes.
func (d *Disk) SizeBytes() int64 {
	return int64(d.SizeLBA) * int64(d.BlockSize)
}

// Serialize resizes st to the disk size and writes, in order, the protective
// MBR, the primary header, the primary partition array, the backup partition
// array and the backup header. Checksums are always refreshed first.
//
// A failed Serialize leaves st in an undefined state.
func (d *Disk) Serialize(st Storage) error {
	d.RefreshChecksums()

	if err := st.Truncate(d.SizeBytes()); err != nil {
		return fmt.Errorf("resizing target to %d bytes: %w", d.SizeBytes(), err)
	}

	pmbr := mbr.Protective(d.SizeLBA)
	b := pmbr.Bytes()
	if _, err := st.WriteAt(b[:], 0); err != nil {
		return fmt.Errorf("writing protective MBR: %w", err)
	}
	if err := d.writeHeader(st, &d.Primary); err != nil {
		return err
	}
	if err := d.writeArray(st, &d.Primary); err != nil {
		return err
	}
	if err := d.writeArray(st, &d.Backup); err != nil {
		return err
	}
	return d.writeHeader(st, &d.Backup)
}

func (d *Disk) offset(lba uint64) int64 {
	return int64(lba) * int64(d.BlockSize)
}

// writeHeader writes h into its whole block, zero-padded.
func (d *Disk) writeHeader(w io.WriterAt, h *Header) error {
	var buf bytes.Buffer
	lw := &leWriter{w: &buf}
	h.encode(lw, h.HeaderCRC32)
	lw.zeros(int(d.BlockSize) - buf.Len())
	if _, err := w.WriteAt(buf.Bytes(), d.offset(h.MyLBA)); err != nil {
		return fmt.Errorf("writing GPT header at LBA %d: %w", h.MyLBA, err)
	}
	return nil
}

// writeArray writes the partition entries of h followed by zeros up to the
// end of the reserved array area.
func (d *Disk) writeArray(w io.WriterAt, h *Header) error {
	var buf bytes.Buffer
	lw := &leWriter{w: &buf}
	for _, p := range d.partitions {
		p.encode(lw, h.PartitionEntrySize)
	}
	lw.zeros(arrayLBAs*int(d.BlockSize) - buf.Len())
	if _, err := w.WriteAt(buf.Bytes(), d.offset(h.PartitionArrayLBA)); err != nil {
		return fmt.Errorf("writing partition array at LBA %d: %w", h.PartitionArrayLBA, err)
	}
	return nil
}

// WritePartitionContent copies r into the blocks of p, stopping at the
// partition's capacity. Space not covered by r is zeroed. It returns the
// number of bytes copied from r.
func (d *Disk) WritePartitionContent(w io.WriterAt, p *Partition, r io.Reader) (int64, error) {
	if p.EndLBA > d.Primary.LastUsableLBA || p.StartLBA < d.Primary.FirstUsableLBA {
		return 0, fmt.Errorf("%w: %v", ErrPartitionTooLarge, p)
	}
	capacity := int64(p.SizeLBA()) * int64(d.BlockSize)
	ow := io.NewOffsetWriter(w, d.offset(p.StartLBA))
	n, err := io.Copy(ow, io.LimitReader(r, capacity))
	if err != nil {
		return n, fmt.Errorf("writing content of partition %q: %w", p.NameString(), err)
	}
	if _, err := io.CopyN(ow, zeroReader{}, capacity-n); err != nil {
		return n, fmt.Errorf("zeroing partition %q: %w", p.NameString(), err)
	}
	return n, nil
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
