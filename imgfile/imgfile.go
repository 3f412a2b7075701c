// Package imgfile opens the output of an image build: a regular file, which
// is resized to the disk size, or a block device, which must be large enough.
package imgfile

import (
	"errors"
	"fmt"
	"os"
	"regexp"
)

var ErrDeviceTooSmall = errors.New("imgfile: block device too small")

// Target is an image file or block device opened for writing.
type Target struct {
	*os.File

	blockDevice bool
	deviceSize  int64
}

// Open opens path for reading and writing, creating a regular file if it does
// not exist.
func Open(path string) (*Target, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	t := &Target{File: f}
	if st.Mode()&os.ModeDevice != 0 {
		size, err := deviceSize(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		t.blockDevice = true
		t.deviceSize = size
	}
	return t, nil
}

func (t *Target) BlockDevice() bool { return t.blockDevice }

// Truncate resizes a regular file to size bytes. Block devices cannot be
// resized, so only their size is checked.
func (t *Target) Truncate(size int64) error {
	if !t.blockDevice {
		return t.File.Truncate(size)
	}
	if size > t.deviceSize {
		return fmt.Errorf("%w: %s holds %d bytes, need %d", ErrDeviceTooSmall, t.Name(), t.deviceSize, size)
	}
	return nil
}

var trailingDigit = regexp.MustCompile(`[0-9]$`)

// PartitionPath returns the device node of partition n (1-based) on the
// block device dev, e.g. /dev/sda2 or /dev/mmcblk0p2.
func PartitionPath(dev string, n int) string {
	if trailingDigit.MatchString(dev) {
		return fmt.Sprintf("%sp%d", dev, n)
	}
	return fmt.Sprintf("%s%d", dev, n)
}
