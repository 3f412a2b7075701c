package fat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

const (
	sectorSize        = uint16(512)
	sectorsPerCluster = uint8(4)

	clusterSize = int(sectorSize) * int(sectorsPerCluster)

	// unusableSectors is the number of clusters which are always unusable in a
	// FAT: the first two entries have special meaning (copy of the media
	// descriptor and file system state).
	unusableClusters = uint16(2)

	// endOfChain marks the end of a cluster chain in the FAT.
	endOfChain = uint16(0xFFFF)

	// hardDisk is the media descriptor for a hard disk (as opposed to floppy).
	hardDisk = uint8(0xF8)

	// clean describes a cleanly unmounted FAT file system.
	clean = uint16(0xFFFF)

	// minClusters and maxClusters bound the cluster count of a FAT16 file
	// system. Fewer clusters would make readers assume FAT12.
	minClusters = 4085
	maxClusters = 65524

	dirEntrySize        = 32
	dirEntriesPerSector = int(sectorSize) / dirEntrySize

	attrReadOnly  = uint8(0x01)
	attrDirectory = uint8(0x10)
)

var (
	ErrInvalidName = errors.New("fat: name is not a valid 8.3 name")
	ErrVolumeFull  = errors.New("fat: volume full")
)

type paddingWriter struct {
	w     io.Writer
	count int
	padTo int
}

func (pw *paddingWriter) Write(p []byte) (n int, err error) {
	pw.count += int(len(p))
	return pw.w.Write(p)
}

func (pw *paddingWriter) Flush() error {
	if pw.count%pw.padTo == 0 {
		return nil
	}
	remainder := pw.padTo - (pw.count % pw.padTo)
	pw.count += remainder
	_, err := pw.w.Write(make([]byte, remainder))
	return err
}

type entry interface {
	Name() [8]byte
	Ext() [3]byte
	Attr() uint8
	Size() uint32
	FirstCluster() uint16
	Date() uint16
	Time() uint16
}

type common struct {
	name         string
	ext          string
	modTime      time.Time
	size         uint32
	firstCluster uint16
}

var empty = [8]byte{' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}

func (c *common) Name() [8]byte {
	var result [8]byte
	copy(result[:], empty[:])
	copy(result[:], []byte(c.name))
	return result
}

func (c *common) Ext() [3]byte {
	var result [3]byte
	copy(result[:], empty[:3])
	copy(result[:], []byte(c.ext))
	return result
}

func (c *common) Size() uint32 {
	return c.size
}

func (c *common) FirstCluster() uint16 {
	return c.firstCluster
}

// fatEpoch is the earliest representable timestamp, 1980-01-01.
const fatEpoch = uint16(1<<5 | 1)

func (c *common) Time() uint16 {
	if c.modTime.Year() < 1980 {
		return 0
	}
	return uint16(c.modTime.Hour())<<11 |
		uint16(c.modTime.Minute())<<5 |
		uint16(c.modTime.Second()/2)
}

func (c *common) Date() uint16 {
	if c.modTime.Year() < 1980 {
		return fatEpoch
	}
	return uint16(c.modTime.Year()-1980)<<9 |
		uint16(c.modTime.Month())<<5 |
		uint16(c.modTime.Day())
}

type file struct {
	common
}

func (f *file) Attr() uint8 {
	return attrReadOnly
}

type directory struct {
	common
	entries []entry
	byName  map[string]entry
	parent  *directory
}

func (d *directory) Attr() uint8 {
	return attrDirectory
}

// shortName splits a path component into the upper-cased name and extension
// of an 8.3 directory entry.
func shortName(component string) (name, ext string, _ error) {
	name, ext, _ = strings.Cut(strings.ToUpper(component), ".")
	if name == "" || len(name) > 8 || len(ext) > 3 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidName, component)
	}
	for _, r := range name + ext {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("!#$%&'()-@^_`{}~", r):
		default:
			return "", "", fmt.Errorf("%w: %q", ErrInvalidName, component)
		}
	}
	return name, ext, nil
}

type Option func(*Writer)

// WithVolumeLabel sets the volume label stored in the boot sector. Labels are
// upper-cased and truncated to 11 characters.
func WithVolumeLabel(label string) Option {
	return func(fw *Writer) {
		copy(fw.label[:], empty[:])
		copy(fw.label[8:], empty[:3])
		copy(fw.label[:], strings.ToUpper(label))
	}
}

func WithVolumeID(id uint32) Option {
	return func(fw *Writer) { fw.volumeID = id }
}

// WithSize makes the file system span size bytes (rounded down to whole
// sectors) instead of only the clusters its contents need. Flush fails with
// ErrVolumeFull if the contents do not fit.
func WithSize(size int64) Option {
	return func(fw *Writer) { fw.size = size }
}

type Writer struct {
	w io.Writer

	// data holds all file and directory data. Calling Flush writes the
	// appropriate headers (for which the file data must be known) to the
	// writer, then appends data.
	data bytes.Buffer

	// fat is a File Allocation Table holding one entry for each
	// cluster in the data area, pointing to the FAT entry index of the
	// next cluster or (with special value 0xFFFF) marking the end of
	// the file.
	fat []uint16

	root *directory

	pending *fatUpdatingWriter

	label    [11]byte
	volumeID uint32
	size     int64

	// TotalSectors is the size of the file system in sectors. It is set
	// by Flush.
	TotalSectors int
}

// NewWriter returns a Writer which will write a FAT16B file system
// image to w once Flush is called.
//
// Because the position of the data area in the resulting image
// depends on the size of the file allocation table and number of root
// directory entries, data is buffered in memory until Flush is called.
func NewWriter(w io.Writer, opts ...Option) (*Writer, error) {
	fw := &Writer{
		w:        w,
		volumeID: 0x4e454c4c,
		root: &directory{
			byName: make(map[string]entry),
		},
	}
	WithVolumeLabel("NO NAME")(fw)
	for _, opt := range opts {
		opt(fw)
	}
	return fw, nil
}

func (fw *Writer) currentCluster() uint16 {
	return unusableClusters + uint16(len(fw.fat))
}

func (fw *Writer) dir(p string) (*directory, error) {
	cur := fw.root
	for _, component := range strings.Split(p, "/") {
		if component == "" || component == "." {
			continue
		}
		key := strings.ToUpper(component)
		if _, ok := cur.byName[key]; !ok {
			name, ext, err := shortName(component)
			if err != nil {
				return nil, err
			}
			dir := &directory{
				common: common{
					name:    name,
					ext:     ext,
					modTime: cur.modTime,
				},
				parent: cur,
				byName: make(map[string]entry),
			}
			cur.entries = append(cur.entries, dir)
			cur.byName[key] = dir
		}
		var ok bool
		cur, ok = cur.byName[key].(*directory)
		if !ok {
			return nil, fmt.Errorf("path %q invalid: component %q identifies a file", p, component)
		}
	}
	return cur, nil
}

func (fw *Writer) closePending() error {
	if fw.pending == nil {
		return nil
	}
	err := fw.pending.Close()
	fw.pending = nil
	return err
}

// Mkdir creates an empty directory with the given full path,
// e.g. Mkdir("EFI/BOOT").
func (fw *Writer) Mkdir(path string, modTime time.Time) error {
	if err := fw.closePending(); err != nil {
		return err
	}
	d, err := fw.dir(path)
	if err != nil {
		return err
	}
	d.common.modTime = modTime.UTC()
	return nil
}

type fatUpdatingWriter struct {
	fw    *Writer
	pw    *paddingWriter
	count uint32
	file  *file
}

func (fuw *fatUpdatingWriter) Write(p []byte) (n int, err error) {
	fuw.count += uint32(len(p))
	return fuw.pw.Write(p)
}

func (fuw *fatUpdatingWriter) Close() error {
	if err := fuw.pw.Flush(); err != nil {
		return err
	}
	if fuw.pw.count == 0 {
		// empty files occupy no cluster
		if fuw.file != nil {
			fuw.file.firstCluster = 0
		}
		return nil
	}
	fw := fuw.fw // for convenience
	for i := 0; i < fuw.pw.count/clusterSize; i++ {
		// Append a pointer to the next FAT entry
		fw.fat = append(fw.fat, fw.currentCluster()+1)
	}
	fw.fat[len(fw.fat)-1] = endOfChain
	if fuw.file != nil {
		fuw.file.size = uint32(fuw.count)
	}
	return nil
}

// File creates a file with the specified path and modTime. The
// returned io.Writer stays valid until the next call to File, Flush
// or Mkdir.
func (fw *Writer) File(p string, modTime time.Time) (io.Writer, error) {
	if err := fw.closePending(); err != nil {
		return nil, err
	}
	dir, err := fw.dir(path.Dir(p))
	if err != nil {
		return nil, err
	}
	filename := path.Base(p)
	key := strings.ToUpper(filename)
	if _, ok := dir.byName[key]; ok {
		return nil, fmt.Errorf("path %q already exists", p)
	}
	name, ext, err := shortName(filename)
	if err != nil {
		return nil, err
	}
	f := &file{
		common: common{
			name:         name,
			ext:          ext,
			modTime:      modTime.UTC(),
			firstCluster: fw.currentCluster()}}
	dir.entries = append(dir.entries, f)
	dir.byName[key] = f
	fw.pending = &fatUpdatingWriter{
		fw: fw,
		pw: &paddingWriter{
			w:     &fw.data,
			padTo: clusterSize,
		},
		file: f,
	}
	return fw.pending, nil
}

// CopyFile creates a file at path p with the contents of r.
func (fw *Writer) CopyFile(p string, modTime time.Time, r io.Reader) (int64, error) {
	w, err := fw.File(p, modTime)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, r)
	if err != nil {
		return n, fmt.Errorf("copying %s: %w", p, err)
	}
	return n, nil
}

func (fw *Writer) writeFAT() error {
	w := &paddingWriter{
		w:     fw.w,
		padTo: int(sectorSize)}

	for _, entry := range append([]uint16{
		(uint16(0xFF) << 8) | uint16(hardDisk), // media descriptor
		clean,                                  // file system state
	}, fw.fat...) {
		if err := binary.Write(w, binary.LittleEndian, entry); err != nil {
			return err
		}
	}

	return w.Flush()
}

func (fw *Writer) writeBootSector(w io.Writer, fatSectors, reservedSectors, rootDirSectors int) error {
	var (
		jumpCode            = [3]byte{0xEB, 0x3C, 0x90}
		OEM                 = [8]byte{'N', 'E', 'L', 'L', 'B', 'O', 'O', 'T'}
		fileSystemType      = [8]byte{'F', 'A', 'T', '1', '6', ' ', ' ', ' '}
		bootCode            = [448]byte{}
		bootSectorSignature = [2]byte{0x55, 0xAA}
	)
	for _, v := range []interface{}{
		jumpCode,                // jump code: intel 80x86 jump instruction
		OEM,                     // OEM
		sectorSize,              // in bytes
		sectorsPerCluster,       // i.e. each FAT entry covers sectorsPerCluster*sectorSize bytes
		uint16(reservedSectors), // reserved sectors
		uint8(1),                // one copy of the FAT
		uint16(rootDirSectors * dirEntriesPerSector), // root directory entries, rounded up to entire sectors
		uint16(0),               // 0 = use uint32 number of sectors following later
		hardDisk,                // media descriptor
		uint16(fatSectors),      // number of sectors per FAT
		uint16(32),              // (only for bootcode) number of sectors per track
		uint16(4),               // (only for bootcode) number of heads
		uint32(1),               // no hidden sectors
		uint32(fw.TotalSectors), // total number of sectors
		uint8(0x80),             // (only for bootcode) drive number
		uint8(0),                // (only for bootcode) current head
		uint8(0x29),             // magic value: boot signature
		fw.volumeID,             // volume ID
		fw.label,                // volume label
		fileSystemType,
		bootCode,
		bootSectorSignature,
	} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func (fw *Writer) writeDirEntries(w io.Writer, d *directory) error {
	allEntries := d.entries
	// For non-root directories, add dot and dotdot
	if d.parent != nil {
		allEntries = append([]entry{
			&directory{
				common: common{
					name:         ".",
					modTime:      d.modTime,
					firstCluster: d.firstCluster,
				},
				parent: d,
			},
			&directory{
				common: common{
					name:         "..",
					modTime:      d.modTime,
					firstCluster: d.parent.firstCluster,
				},
				parent: d.parent,
			},
		}, allEntries...)
	}
	for _, entry := range allEntries {
		for _, v := range []interface{}{
			entry.Name(),
			entry.Ext(),
			entry.Attr(),
			[10]byte{}, // reserved
			entry.Time(),
			entry.Date(),
			entry.FirstCluster(),
			entry.Size(), // file size in bytes
		} {
			if err := binary.Write(w, binary.LittleEndian, v); err != nil {
				return err
			}
		}
	}

	return nil
}

// assignClusters reserves the cluster chains of d and its subdirectories in
// the order writeDir emits them, so that every directory entry can refer to
// its child's first cluster. It returns the first cluster after the tree.
func assignClusters(d *directory, next uint16) uint16 {
	d.firstCluster = next
	next += uint16(fullClusters((len(d.entries) + 2) * dirEntrySize))
	for _, e := range d.entries {
		if sub, ok := e.(*directory); ok {
			next = assignClusters(sub, next)
		}
	}
	return next
}

func (fw *Writer) writeDir(d *directory) error {
	if d.firstCluster != fw.currentCluster() {
		return fmt.Errorf("fat: directory %s reserved cluster %d, writing at %d", d.name, d.firstCluster, fw.currentCluster())
	}
	fuw := &fatUpdatingWriter{
		fw: fw,
		pw: &paddingWriter{
			w:     &fw.data,
			padTo: clusterSize,
		},
	}
	if err := fw.writeDirEntries(fuw, d); err != nil {
		return err
	}
	if err := fuw.Close(); err != nil {
		return err
	}

	for _, e := range d.entries {
		if sub, ok := e.(*directory); ok {
			if err := fw.writeDir(sub); err != nil {
				return err
			}
		}
	}
	return nil
}

func fullSectors(bytes int) int {
	sectors := bytes / int(sectorSize)
	if bytes%int(sectorSize) > 0 {
		sectors++
	}
	return sectors
}

func fullClusters(bytes int) int {
	clusters := bytes / clusterSize
	if bytes%clusterSize > 0 {
		clusters++
	}
	return clusters
}

// fatSectorsFor returns the number of sectors occupied by a FAT describing
// clusters data clusters plus the two reserved entries.
func fatSectorsFor(clusters int) int {
	return fullSectors((clusters + int(unusableClusters)) * 2)
}

// clustersFor returns the largest cluster count whose file system fits into
// totalSectors.
func clustersFor(totalSectors, reservedSectors, rootDirSectors int) int {
	clusters := (totalSectors - reservedSectors - rootDirSectors) / int(sectorsPerCluster)
	if clusters > maxClusters {
		clusters = maxClusters
	}
	for clusters > 0 && reservedSectors+fatSectorsFor(clusters)+rootDirSectors+clusters*int(sectorsPerCluster) > totalSectors {
		clusters--
	}
	return clusters
}

// Flush writes the image. The Writer must not be used after calling
// Flush.
func (fw *Writer) Flush() error {
	if err := fw.closePending(); err != nil {
		return err
	}

	// Reserve clusters for the whole directory tree before writing any
	// entries: a parent refers to its children's first cluster.
	next := fw.currentCluster()
	for _, e := range fw.root.entries {
		if sub, ok := e.(*directory); ok {
			next = assignClusters(sub, next)
		}
	}
	for _, e := range fw.root.entries {
		if sub, ok := e.(*directory); ok {
			if err := fw.writeDir(sub); err != nil {
				return err
			}
		}
	}

	rootDirSectors := fullSectors(len(fw.root.entries) * dirEntrySize)
	if rootDirSectors == 0 {
		rootDirSectors = 1
	}

	// We only need to reserve the boot sector, but the number of reserved
	// sectors must be aligned to clusters (at least on the Raspberry Pi 3).
	reservedSectors := fullClusters(1*int(sectorSize)) * int(sectorsPerCluster)

	// Blow up FAT to at least 4085 entries so that 16-bit FAT values
	// must be used, which is more convenient and the only size of FAT
	// values we support.
	clusters := minClusters
	if fw.size > 0 {
		clusters = clustersFor(int(fw.size/int64(sectorSize)), reservedSectors, rootDirSectors)
		if clusters < minClusters || len(fw.fat) > clusters {
			return fmt.Errorf("%w: %d clusters in use, %d bytes hold %d", ErrVolumeFull, len(fw.fat), fw.size, clusters)
		}
	}
	if len(fw.fat) > maxClusters {
		return fmt.Errorf("%w: %d clusters in use", ErrVolumeFull, len(fw.fat))
	}
	if len(fw.fat) < clusters {
		pad := make([]uint16, clusters-len(fw.fat))
		fw.fat = append(fw.fat, pad...)
	}

	fatSectors := fatSectorsFor(len(fw.fat))
	dataSectors := len(fw.fat) * int(sectorsPerCluster)
	fw.TotalSectors = reservedSectors + fatSectors + rootDirSectors + dataSectors

	pw := &paddingWriter{w: fw.w, padTo: clusterSize}
	if err := fw.writeBootSector(pw, fatSectors, reservedSectors, rootDirSectors); err != nil {
		return err
	}
	if err := pw.Flush(); err != nil {
		return err
	}

	if err := fw.writeFAT(); err != nil {
		return err
	}

	// root directory
	pw = &paddingWriter{
		w:     fw.w,
		padTo: rootDirSectors * int(sectorSize),
	}
	if err := fw.writeDirEntries(pw, fw.root); err != nil {
		return err
	}
	if pw.count == 0 {
		// paddingWriter does not pad an empty root directory
		if _, err := fw.w.Write(make([]byte, sectorSize)); err != nil {
			return err
		}
	}
	if err := pw.Flush(); err != nil {
		return err
	}

	// data area
	_, err := io.Copy(fw.w, &fw.data)
	return err
}
