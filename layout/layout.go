// Package layout contains the on-disk contract shared by the image builder
// and the boot loader, and the partition layouts of the images we build.
package layout

import "github.com/google/uuid"

var (
	// BootPartitionGUID is the unique partition GUID of the boot stash
	// partition. The loader finds the partition by this GUID.
	BootPartitionGUID = uuid.MustParse("A4A4A4A4-A4A4-A4A4-A4A4-A4A4A4A4A4A4")

	// BootstashType is the partition type GUID of the boot stash partition.
	BootstashType = uuid.MustParse("77FFD558-C91D-42E0-B03D-7F1EFD959111")

	EFISystemType = uuid.MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B")
)

const (
	// KernelFile is the name of the kernel image in the root directory of
	// the boot stash partition.
	KernelFile = "KERNEL.ELF"

	// RemovableMediaPath is where firmware looks for a boot loader on
	// x86_64 when no boot entry is configured.
	RemovableMediaPath = "/EFI/BOOT/BOOTX64.EFI"

	BlockSize = 512
)

// Source identifies which build input a file is copied from.
type Source string

const (
	Bootloader Source = "bootloader"
	Kernel     Source = "kernel"
)

// File is a file stored on a partition's file system.
type File struct {
	Source Source
	// Path within the partition's file system.
	Path string
}

// Partition describes one partition of an image and the FAT file system it
// carries.
type Partition struct {
	Name string
	Type uuid.UUID
	// GUID is the unique partition GUID. A random one is used if nil.
	GUID *uuid.UUID
	// VolumeLabel is the FAT volume label.
	VolumeLabel string
	// StagingBytes is the size of the file system, which is also the size
	// of the partition. It must be a multiple of BlockSize.
	StagingBytes int64
	Files        []File
}

type Profile struct {
	// Slug is a unique, short string used on the command line to refer to
	// this profile.
	Slug string
	// DiskSizeLBA is the default disk size in blocks of BlockSize bytes.
	DiskSizeLBA uint64
	Partitions  []Partition
}

// stagingBytes matches the 32 MiB volumes we used to format with external
// tooling, plus slack for the FAT.
const stagingBytes = 33_548_800 + 1032*BlockSize

var (
	// Profiles contains a mapping from profile name to partition layout.
	Profiles = map[string]Profile{
		"nell x86_64": {
			Slug:        "nell-x86_64",
			DiskSizeLBA: (33_548_800 * 4) / BlockSize,
			Partitions: []Partition{
				{
					Name:         "UEFI System",
					Type:         EFISystemType,
					VolumeLabel:  "UEFI SYSTEM",
					StagingBytes: stagingBytes,
					Files: []File{
						// additional installations share the EFI system
						// partition, each in its own directory
						{Bootloader, "/EFI/NELL/NELLBOOT.EFI"},
						{Bootloader, RemovableMediaPath},
						{Bootloader, "/NELLBOOT.EFI"},
					},
				},
				{
					Name:         "Nell Boot",
					Type:         BootstashType,
					GUID:         &BootPartitionGUID,
					VolumeLabel:  "NELL BOOT",
					StagingBytes: stagingBytes,
					Files: []File{
						{Kernel, "/" + KernelFile},
					},
				},
			},
		},
		"QEMU testing": {
			Slug:        "qemutesting",
			DiskSizeLBA: 48 * 1024 * 1024 / BlockSize,
			Partitions: []Partition{
				{
					Name:         "UEFI System",
					Type:         EFISystemType,
					VolumeLabel:  "UEFI SYSTEM",
					StagingBytes: 9 * 1024 * 1024,
					Files: []File{
						{Bootloader, RemovableMediaPath},
					},
				},
				{
					Name:         "Nell Boot",
					Type:         BootstashType,
					GUID:         &BootPartitionGUID,
					VolumeLabel:  "NELL BOOT",
					StagingBytes: 9 * 1024 * 1024,
					Files: []File{
						{Kernel, "/" + KernelFile},
					},
				},
			},
		},
	}
)

func GetProfileBySlug(slug string) (Profile, bool) {
	for _, p := range Profiles {
		if p.Slug == slug {
			return p, true
		}
	}

	return Profile{}, false
}
