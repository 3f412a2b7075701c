package fat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"
)

var ErrNotFAT16 = errors.New("fat: not a FAT16 file system")

type bootSector struct {
	JumpCode          [3]byte
	OEM               [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntries       uint16
	TotalSectors16    uint16
	Media             uint8
	SectorsPerFAT     uint16
	SectorsPerTrack   uint16
	Heads             uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
	DriveNumber       uint8
	Reserved          uint8
	BootSignature     uint8
	VolumeID          uint32
	VolumeLabel       [11]byte
	FileSystemType    [8]byte
}

type rawDirEntry struct {
	Name         [8]byte
	Ext          [3]byte
	Attr         uint8
	Reserved     [10]byte
	Time         uint16
	Date         uint16
	FirstCluster uint16
	Size         uint32
}

// DirEntry describes a file or directory found in a FAT file system.
type DirEntry struct {
	Name         string
	IsDir        bool
	Size         uint32
	ModTime      time.Time
	FirstCluster uint16
}

// Reader provides read access to a FAT16 file system, e.g. one written by
// Writer.
type Reader struct {
	r   io.ReaderAt
	bs  bootSector
	fat []uint16

	dataStart   int64
	rootStart   int64
	clusterSize int64
}

// NewReader parses the boot sector and FAT of the file system in r.
func NewReader(r io.ReaderAt) (*Reader, error) {
	rd := &Reader{r: r}
	if err := binary.Read(io.NewSectionReader(r, 0, int64(sectorSize)), binary.LittleEndian, &rd.bs); err != nil {
		return nil, fmt.Errorf("reading boot sector: %w", err)
	}
	bs := &rd.bs
	if string(bs.FileSystemType[:5]) != "FAT16" || bs.BytesPerSector == 0 || bs.SectorsPerCluster == 0 || bs.NumFATs == 0 {
		return nil, ErrNotFAT16
	}
	bps := int64(bs.BytesPerSector)
	fatStart := int64(bs.ReservedSectors) * bps
	fatBytes := make([]byte, int64(bs.SectorsPerFAT)*bps)
	if _, err := r.ReadAt(fatBytes, fatStart); err != nil {
		return nil, fmt.Errorf("reading FAT: %w", err)
	}
	rd.fat = make([]uint16, len(fatBytes)/2)
	for i := range rd.fat {
		rd.fat[i] = binary.LittleEndian.Uint16(fatBytes[2*i:])
	}
	rd.rootStart = fatStart + int64(bs.NumFATs)*int64(len(fatBytes))
	rd.dataStart = rd.rootStart + int64(bs.RootEntries)*dirEntrySize
	rd.clusterSize = int64(bs.SectorsPerCluster) * bps
	return rd, nil
}

func (rd *Reader) VolumeID() uint32 {
	return rd.bs.VolumeID
}

// Label returns the volume label from the boot sector, without padding.
func (rd *Reader) Label() string {
	return strings.TrimRight(string(rd.bs.VolumeLabel[:]), " ")
}

func (rd *Reader) TotalSectors() int {
	if rd.bs.TotalSectors16 != 0 {
		return int(rd.bs.TotalSectors16)
	}
	return int(rd.bs.TotalSectors32)
}

func (rd *Reader) clusterOffset(cluster uint16) int64 {
	return rd.dataStart + int64(cluster-unusableClusters)*rd.clusterSize
}

// chain returns the clusters of the chain starting at first.
func (rd *Reader) chain(first uint16) ([]uint16, error) {
	var clusters []uint16
	for c := first; ; {
		if int(c) >= len(rd.fat) || c < unusableClusters {
			return nil, fmt.Errorf("fat: cluster %d out of range", c)
		}
		clusters = append(clusters, c)
		if len(clusters) > len(rd.fat) {
			return nil, fmt.Errorf("fat: cluster chain starting at %d loops", first)
		}
		next := rd.fat[c]
		if next >= 0xFFF8 {
			return clusters, nil
		}
		c = next
	}
}

func parseName(raw *rawDirEntry) string {
	name := strings.TrimRight(string(raw.Name[:]), " ")
	if ext := strings.TrimRight(string(raw.Ext[:]), " "); ext != "" {
		name += "." + ext
	}
	return name
}

func (rd *Reader) readEntries(buf []byte) []DirEntry {
	var entries []DirEntry
	for off := 0; off+dirEntrySize <= len(buf); off += dirEntrySize {
		var raw rawDirEntry
		// binary.Read from a bytes reader of sufficient size cannot fail
		binary.Read(bytes.NewReader(buf[off:off+dirEntrySize]), binary.LittleEndian, &raw)
		switch {
		case raw.Name[0] == 0x00:
			return entries
		case raw.Name[0] == 0xE5, raw.Name[0] == '.', raw.Attr&0x08 != 0:
			continue // deleted, dot entries and volume labels
		}
		entries = append(entries, DirEntry{
			Name:         parseName(&raw),
			IsDir:        raw.Attr&attrDirectory != 0,
			Size:         raw.Size,
			ModTime:      unmarshalTimeDate(raw.Time, raw.Date),
			FirstCluster: raw.FirstCluster,
		})
	}
	return entries
}

func (rd *Reader) readChain(first uint16) ([]byte, error) {
	clusters, err := rd.chain(first)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, int64(len(clusters))*rd.clusterSize)
	for i, c := range clusters {
		if _, err := rd.r.ReadAt(buf[int64(i)*rd.clusterSize:int64(i+1)*rd.clusterSize], rd.clusterOffset(c)); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (rd *Reader) dirEntries(d *DirEntry) ([]DirEntry, error) {
	if d == nil {
		buf := make([]byte, int(rd.bs.RootEntries)*dirEntrySize)
		if _, err := rd.r.ReadAt(buf, rd.rootStart); err != nil {
			return nil, fmt.Errorf("reading root directory: %w", err)
		}
		return rd.readEntries(buf), nil
	}
	buf, err := rd.readChain(d.FirstCluster)
	if err != nil {
		return nil, err
	}
	return rd.readEntries(buf), nil
}

// Stat looks up path. Names are matched case-insensitively.
func (rd *Reader) Stat(path string) (*DirEntry, error) {
	var cur *DirEntry // root
	for _, component := range strings.Split(path, "/") {
		if component == "" {
			continue
		}
		if cur != nil && !cur.IsDir {
			return nil, &fs.PathError{Op: "stat", Path: path, Err: fs.ErrNotExist}
		}
		entries, err := rd.dirEntries(cur)
		if err != nil {
			return nil, err
		}
		var found *DirEntry
		for i := range entries {
			if strings.EqualFold(entries[i].Name, component) {
				found = &entries[i]
				break
			}
		}
		if found == nil {
			return nil, &fs.PathError{Op: "stat", Path: path, Err: fs.ErrNotExist}
		}
		cur = found
	}
	if cur == nil {
		return &DirEntry{Name: "/", IsDir: true}, nil
	}
	return cur, nil
}

// ReadDir returns the entries of the directory at path.
func (rd *Reader) ReadDir(path string) ([]DirEntry, error) {
	d, err := rd.Stat(path)
	if err != nil {
		return nil, err
	}
	if !d.IsDir {
		return nil, &fs.PathError{Op: "readdir", Path: path, Err: errors.New("not a directory")}
	}
	if d.FirstCluster == 0 {
		return rd.dirEntries(nil)
	}
	return rd.dirEntries(d)
}

// ReadFile returns the contents of the file at path.
func (rd *Reader) ReadFile(path string) ([]byte, error) {
	d, err := rd.Stat(path)
	if err != nil {
		return nil, err
	}
	if d.IsDir {
		return nil, &fs.PathError{Op: "read", Path: path, Err: errors.New("is a directory")}
	}
	if d.Size == 0 {
		return []byte{}, nil
	}
	buf, err := rd.readChain(d.FirstCluster)
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) < int64(d.Size) {
		return nil, fmt.Errorf("fat: %s: cluster chain shorter than file size %d", path, d.Size)
	}
	return buf[:d.Size], nil
}

// Extents returns the offset and length of the file at path. Files written by
// Writer are stored contiguously.
func (rd *Reader) Extents(path string) (offset int64, length int64, _ error) {
	d, err := rd.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	if d.IsDir || d.Size == 0 {
		return 0, 0, fmt.Errorf("fat: %s has no extents", path)
	}
	clusters, err := rd.chain(d.FirstCluster)
	if err != nil {
		return 0, 0, err
	}
	for i := 1; i < len(clusters); i++ {
		if clusters[i] != clusters[i-1]+1 {
			return 0, 0, fmt.Errorf("fat: %s is fragmented", path)
		}
	}
	return rd.clusterOffset(d.FirstCluster), int64(d.Size), nil
}

func unmarshalTimeDate(t, d uint16) time.Time {
	return time.Date(
		1980+int(d>>9),
		time.Month((d>>5)&0xF),
		int(d&0x1F),
		int(t>>11),
		int((t>>5)&0x3F),
		int(t&0x1F)*2,
		0,
		time.UTC)
}
