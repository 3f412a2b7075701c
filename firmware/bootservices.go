package firmware

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrMissingService      = errors.New("firmware: missing service")
	ErrUnsupportedRevision = errors.New("firmware: unsupported boot services revision")
)

// Revision encodes a UEFI specification version as major<<16 | minor.
func Revision(major, minor uint16) uint32 {
	return uint32(major)<<16 | uint32(minor)
}

// MinRevision is the oldest boot services revision the loader supports.
var MinRevision = Revision(2, 0)

// BootServices is the set of boot services the loader uses. All services
// are only valid until ExitBootServices returns.
type BootServices struct {
	Revision uint32

	// LocateHandles returns all handles supporting protocol.
	LocateHandles func(protocol uuid.UUID) ([]Handle, error)

	// DevicePath returns the raw device path of h, which is owned by the
	// firmware and must not be retained.
	DevicePath func(h Handle) ([]byte, error)

	// OpenVolume opens the root directory of the file system on h.
	OpenVolume func(h Handle) (Directory, error)

	AllocatePool func(size int) ([]byte, error)
	FreePool     func(buf []byte) error

	// AllocatePages allocates size bytes of memory at physical address
	// addr.
	AllocatePages func(addr, size uint64) ([]byte, error)

	ExitBootServices func() error
}

// Validate returns an error if bs is too old or lacks a service.
func (bs *BootServices) Validate() error {
	if bs == nil {
		return fmt.Errorf("%w: boot services", ErrMissingService)
	}
	if bs.Revision < MinRevision {
		return fmt.Errorf("%w: %d.%d", ErrUnsupportedRevision, bs.Revision>>16, bs.Revision&0xFFFF)
	}
	for _, svc := range []struct {
		name    string
		missing bool
	}{
		{"LocateHandles", bs.LocateHandles == nil},
		{"DevicePath", bs.DevicePath == nil},
		{"OpenVolume", bs.OpenVolume == nil},
		{"AllocatePool", bs.AllocatePool == nil},
		{"FreePool", bs.FreePool == nil},
		{"AllocatePages", bs.AllocatePages == nil},
		{"ExitBootServices", bs.ExitBootServices == nil},
	} {
		if svc.missing {
			return fmt.Errorf("%w: %s", ErrMissingService, svc.name)
		}
	}
	return nil
}
