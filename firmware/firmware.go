// Package firmware describes the UEFI boot services the boot loader consumes.
// Package emu provides an emulated machine implementing them.
package firmware

import (
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Handle identifies a firmware object, e.g. a file system volume.
type Handle uintptr

// Status is a UEFI status code.
type Status uint64

const errorBit = Status(1) << 63

const (
	Success          Status = 0
	LoadError        Status = errorBit | 1
	InvalidParameter Status = errorBit | 2
	Unsupported      Status = errorBit | 3
	BufferTooSmall   Status = errorBit | 5
	DeviceError      Status = errorBit | 7
	OutOfResources   Status = errorBit | 9
	NotFound         Status = errorBit | 14
	Aborted          Status = errorBit | 21
)

var statusNames = map[Status]string{
	Success:          "success",
	LoadError:        "load error",
	InvalidParameter: "invalid parameter",
	Unsupported:      "unsupported",
	BufferTooSmall:   "buffer too small",
	DeviceError:      "device error",
	OutOfResources:   "out of resources",
	NotFound:         "not found",
	Aborted:          "aborted",
}

func (s Status) IsError() bool { return s&errorBit != 0 }

// Error implements error, so that services can return a Status directly.
func (s Status) Error() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status %#x", uint64(s))
}

var (
	SimpleFileSystemProtocol = uuid.MustParse("964E5B22-6459-11D2-8E39-00A0C969723B")
	DevicePathProtocol       = uuid.MustParse("09576E91-6D3F-11D2-8E39-00A0C969723B")
)

// EndOfFile is the position which, passed to RegularFile.SetPosition, moves
// to the end of the file.
const EndOfFile = ^uint64(0)

// Node is a file or directory opened on a file system volume.
type Node interface {
	IsDir() bool
	Close() error
}

type Directory interface {
	Node
	// Open opens a file or directory relative to this directory. Path
	// components are separated by backslashes.
	Open(name string) (Node, error)
}

type RegularFile interface {
	Node
	io.Reader
	SetPosition(pos uint64) error
	Position() (uint64, error)
}

// SystemTable is what the firmware passes to the boot loader entry point.
type SystemTable struct {
	FirmwareVendor string

	// ConOut is the console. It may be io.Discard, but never nil.
	ConOut io.Writer

	Boot *BootServices

	// Transfer jumps to the kernel entry point. On hardware it does not
	// return; emulators return after recording the entry point.
	Transfer func(entry uint64) error

	// Halt stops the machine after a fatal error.
	Halt func()
}

// Validate checks the system table and its boot services once, so that
// collaborators can call services without nil checks.
func (st *SystemTable) Validate() error {
	if st == nil {
		return fmt.Errorf("%w: system table", ErrMissingService)
	}
	if st.ConOut == nil {
		return fmt.Errorf("%w: console output", ErrMissingService)
	}
	if st.Transfer == nil {
		return fmt.Errorf("%w: control transfer", ErrMissingService)
	}
	if st.Halt == nil {
		return fmt.Errorf("%w: halt", ErrMissingService)
	}
	return st.Boot.Validate()
}
