// Package config reads the image builder configuration: build inputs, disk
// geometry and output options.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("service", "config")

func userConfigDir() string {
	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatalf("https://golang.org/pkg/os/#UserConfigDir failed: %v", err)
	}
	return userConfigDir
}

// Typically ~/.config/nellboot on Linux
// Typically ~/Library/Application\ Support/nellboot on macOS/Darwin
func nellbootConfigDir() string {
	return filepath.Join(userConfigDir(), "nellboot")
}

func Dir() string { return nellbootConfigDir() }

const fileName = "config.json"

// Struct is the JSON configuration of one image build. Flags override the
// values read from a file.
type Struct struct {
	// Profile is the slug of the partition layout, see package layout.
	Profile string `json:"profile,omitempty"`

	// Bootloader is the path of the EFI application copied to the EFI
	// system partition.
	Bootloader string `json:"bootloader,omitempty"`

	// Kernel is the path of the ELF kernel image copied to the boot stash
	// partition.
	Kernel string `json:"kernel,omitempty"`

	// Output is the path of the image file or block device to write.
	Output string `json:"output,omitempty"`

	// DiskSizeLBA overrides the profile's disk size if non-zero.
	DiskSizeLBA uint64 `json:"disk_size_lba,omitempty"`

	// DiskGUID makes builds reproducible. A random GUID is used if empty.
	DiskGUID string `json:"disk_guid,omitempty"`

	// PartitionPadding is the number of free blocks between partitions.
	PartitionPadding *uint64 `json:"partition_padding,omitempty"`

	// Digest writes a BLAKE2b-256 checksum file next to the image.
	Digest bool `json:"digest,omitempty"`

	// Zstd writes a zstd-compressed copy of the image.
	Zstd bool `json:"zstd,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Struct {
	padding := uint64(1)
	return &Struct{
		Profile:          "nell-x86_64",
		Bootloader:       "bootloader_uefi/target/x86_64-unknown-uefi/debug/bootloader_uefi.efi",
		Output:           "build/boot.img",
		PartitionPadding: &padding,
	}
}

// ReadFromFile reads path and applies it on top of Default.
func ReadFromFile(path string) (*Struct, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// ProfileDir holds configuration specific to one profile.
type ProfileDir string

func ProfileSpecific(slug string) ProfileDir {
	return ProfileDir(filepath.Join(nellbootConfigDir(), "profiles", slug))
}

// Path returns the configuration file to use: the profile-specific one if it
// exists, the global one otherwise. It returns an empty string if neither
// exists.
func (p ProfileDir) Path() string {
	for _, path := range []string{
		filepath.Join(string(p), fileName),
		// fall back to global path
		filepath.Join(nellbootConfigDir(), fileName),
	} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Load reads the configuration for the profile, or returns Default if no
// configuration file exists.
func (p ProfileDir) Load() (*Struct, error) {
	path := p.Path()
	if path == "" {
		return Default(), nil
	}
	log.Debugf("reading configuration from %s", path)
	cfg, err := ReadFromFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}
