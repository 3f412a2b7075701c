package imgfile

import (
	"os"

	"golang.org/x/sys/unix"
)

func deviceSize(f *os.File) (int64, error) {
	size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, err
	}
	return int64(size), nil
}

// LogicalBlockSize returns the logical sector size of a block device.
func (t *Target) LogicalBlockSize() (int, error) {
	if !t.blockDevice {
		return 512, nil
	}
	return unix.IoctlGetInt(int(t.Fd()), unix.BLKSSZGET)
}
