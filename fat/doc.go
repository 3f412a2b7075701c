// Package fat implements writing FAT16B file system images, which are
// used to populate the EFI system partition and the boot stash partition
// before they are copied into a disk image. Reading files, directories and
// file extents back is implemented as well.
//
// The resulting images use a cluster size of 4 sectors and a sector
// size of 512 bytes, i.e. their size is limited to about 127 MB.
//
// Filenames are restricted to 8 characters + 3 characters for the
// file extension and are stored upper-cased.
package fat
