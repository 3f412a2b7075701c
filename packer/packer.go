// Package packer builds bootable GPT disk images: it formats one FAT file
// system per profile partition in memory, lays the partitions out on a GPT
// disk and copies the file systems into place.
package packer

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nellos/nellboot/fat"
	"github.com/nellos/nellboot/gpt"
	"github.com/nellos/nellboot/humanize"
	"github.com/nellos/nellboot/layout"
	"github.com/nellos/nellboot/memdisk"
	"github.com/nellos/nellboot/progress"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("service", "packer")

var (
	ErrMissingInput   = errors.New("packer: missing build input")
	ErrUnalignedStage = errors.New("packer: staging size is not a multiple of the block size")
)

// Input is the content of a build input such as the kernel.
type Input struct {
	Name    string
	ModTime time.Time
	Open    func() (io.ReadCloser, error)
}

// FileInput returns an Input reading the file at path.
func FileInput(path string) (Input, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Input{}, err
	}
	if !st.Mode().IsRegular() {
		return Input{}, fmt.Errorf("%s: not a regular file", path)
	}
	return Input{
		Name:    path,
		ModTime: st.ModTime(),
		Open:    func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

func BytesInput(name string, b []byte, modTime time.Time) Input {
	return Input{
		Name:    name,
		ModTime: modTime,
		Open:    func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(b)), nil },
	}
}

// Volume is the file system of one partition, staged in memory.
type Volume struct {
	Partition layout.Partition
	Disk      *memdisk.MemDisk
}

// SizeLBA returns the partition size needed for the volume.
func (v *Volume) SizeLBA() uint64 {
	return uint64(v.Disk.Size()) / layout.BlockSize
}

type Builder struct {
	Profile layout.Profile
	Inputs  map[layout.Source]Input

	// DiskSizeLBA overrides the profile's disk size if non-zero.
	DiskSizeLBA uint64

	// DiskGUID is random if nil.
	DiskGUID *uuid.UUID

	Options []gpt.Option

	// Progress receives status updates while partition contents are
	// written. It may be nil.
	Progress *progress.Reporter
}

func (b *Builder) copyInput(fw *fat.Writer, f layout.File) error {
	in, ok := b.Inputs[f.Source]
	if !ok || in.Open == nil {
		return fmt.Errorf("%w: %s (for %s)", ErrMissingInput, f.Source, f.Path)
	}
	rc, err := in.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	n, err := fw.CopyFile(f.Path, in.ModTime, rc)
	if err != nil {
		return fmt.Errorf("copying %s to %s: %w", in.Name, f.Path, err)
	}
	log.Debugf("copied %s to %s (%s)", in.Name, f.Path, humanize.Bytes(uint64(n)))
	return nil
}

// Stage formats the file system of partition p in memory.
func (b *Builder) Stage(p layout.Partition) (*Volume, error) {
	if p.StagingBytes <= 0 || p.StagingBytes%layout.BlockSize != 0 {
		return nil, fmt.Errorf("%w: %s: %d bytes", ErrUnalignedStage, p.Name, p.StagingBytes)
	}
	md := memdisk.New(int(p.StagingBytes))
	fw, err := fat.NewWriter(md,
		fat.WithSize(md.Size()),
		fat.WithVolumeLabel(p.VolumeLabel),
		fat.WithVolumeID(b.volumeID(p)))
	if err != nil {
		return nil, err
	}
	for _, f := range p.Files {
		if err := b.copyInput(fw, f); err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
	}
	if err := fw.Flush(); err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name, err)
	}
	return &Volume{Partition: p, Disk: md}, nil
}

// volumeID derives the FAT volume serial number of p from the disk GUID and
// the partition name, so that rebuilding with a fixed disk GUID yields
// identical file systems.
func (b *Builder) volumeID(p layout.Partition) uint32 {
	h := crc32.NewIEEE()
	if b.DiskGUID != nil {
		h.Write(b.DiskGUID[:])
	}
	io.WriteString(h, p.Name)
	return h.Sum32()
}

func (b *Builder) status(format string, args ...any) {
	if b.Progress != nil {
		b.Progress.SetStatus(fmt.Sprintf(format, args...))
	}
}

// Write stages all partitions of the profile and writes the disk image to
// st.
func (b *Builder) Write(st gpt.Storage) (*gpt.Disk, error) {
	volumes := make([]*Volume, 0, len(b.Profile.Partitions))
	for _, p := range b.Profile.Partitions {
		b.status("formatting %s", p.Name)
		v, err := b.Stage(p)
		if err != nil {
			return nil, err
		}
		volumes = append(volumes, v)
	}

	sizeLBA := b.DiskSizeLBA
	if sizeLBA == 0 {
		sizeLBA = b.Profile.DiskSizeLBA
	}
	d, err := gpt.NewDisk(layout.BlockSize, sizeLBA, b.DiskGUID, b.Options...)
	if err != nil {
		return nil, err
	}
	parts := make([]*gpt.Partition, len(volumes))
	var total uint64
	for i, v := range volumes {
		parts[i], err = d.CreatePartition(gpt.PartitionOptions{
			Type:    v.Partition.Type,
			GUID:    v.Partition.GUID,
			SizeLBA: v.SizeLBA(),
			Name:    v.Partition.Name,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", v.Partition.Name, err)
		}
		total += uint64(v.Disk.Size())
	}

	b.status("writing partition table")
	if err := d.Serialize(st); err != nil {
		return nil, err
	}

	progress.Reset()
	if b.Progress != nil {
		b.Progress.SetTotal(total)
	}
	for i, v := range volumes {
		p := parts[i]
		b.status("writing %s", v.Partition.Name)
		r := io.TeeReader(io.NewSectionReader(v.Disk, 0, v.Disk.Size()), progress.Writer{})
		n, err := d.WritePartitionContent(st, p, r)
		if err != nil {
			return nil, err
		}
		log.Infof("partition %d (%s, %s): %s, %s of content",
			i+1, p.NameString(), p.GUID, humanize.Extent(p.StartLBA, p.EndLBA, d.BlockSize), humanize.Bytes(uint64(n)))
	}
	return d, nil
}
