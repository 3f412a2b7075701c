//go:build !linux

package imgfile

import (
	"errors"
	"os"
)

func deviceSize(f *os.File) (int64, error) {
	return 0, errors.New("writing to block devices is only supported on Linux")
}

func (t *Target) LogicalBlockSize() (int, error) {
	return 512, nil
}
