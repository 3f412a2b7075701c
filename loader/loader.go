// Package loader is the firmware-stage boot loader: it finds the boot stash
// partition among the file systems the firmware reports, loads the kernel
// image from it and transfers control to the kernel.
package loader

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"

	efi "github.com/canonical/go-efilib"
	"github.com/google/uuid"
	"github.com/nellos/nellboot/devicepath"
	"github.com/nellos/nellboot/firmware"
	"github.com/nellos/nellboot/layout"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoBootPartition        = errors.New("loader: no boot partition found")
	ErrAmbiguousBootPartition = errors.New("loader: more than one boot partition found")
	ErrNotRegularFile         = errors.New("loader: not a regular file")
	ErrShortRead              = errors.New("loader: short read")
	ErrOutOfMemory            = errors.New("loader: out of memory")
)

type Loader struct {
	st    *firmware.SystemTable
	bs    *firmware.BootServices
	alloc firmware.Allocator
	log   *logrus.Logger
}

// New validates st and activates the pool allocator.
func New(st *firmware.SystemTable) (*Loader, error) {
	if err := st.Validate(); err != nil {
		return nil, err
	}
	l := &Loader{
		st:  st,
		bs:  st.Boot,
		log: consoleLogger(st.ConOut),
	}
	if err := l.alloc.Activate(st.Boot); err != nil {
		return nil, err
	}
	return l, nil
}

// consoleLogger logs to the firmware console at the level of the standard
// logger.
func consoleLogger(w io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.GetLevel())
	log.Out = w
	log.Formatter = &logrus.TextFormatter{
		DisableTimestamp: true,
		DisableColors:    true,
	}
	return log
}

func describe(path []byte) string {
	dp, err := efi.ReadDevicePath(bytes.NewReader(path))
	if err != nil {
		return hex.EncodeToString(path)
	}
	return dp.String()
}

// Discover returns the handle of the only file system on a partition with
// unique partition GUID guid.
func (l *Loader) Discover(guid uuid.UUID) (firmware.Handle, error) {
	handles, err := l.bs.LocateHandles(firmware.SimpleFileSystemProtocol)
	if err != nil {
		return 0, fmt.Errorf("locating file systems: %w", err)
	}
	var found []firmware.Handle
	for _, h := range handles {
		path, err := l.bs.DevicePath(h)
		if err != nil {
			l.log.Warnf("file system %#x has no device path (%v), skipping", h, err)
			continue
		}
		if l.log.IsLevelEnabled(logrus.DebugLevel) {
			l.log.Debugf("file system %#x: %s", h, describe(path))
		}
		ok, err := devicepath.MatchesPartition(path, guid)
		if err != nil {
			return 0, fmt.Errorf("file system %#x: %w", h, err)
		}
		if ok {
			found = append(found, h)
		}
	}
	switch len(found) {
	case 0:
		return 0, fmt.Errorf("%w: partition GUID %s, %d file systems", ErrNoBootPartition, guid, len(handles))
	case 1:
		return found[0], nil
	default:
		return 0, fmt.Errorf("%w: partition GUID %s on handles %#x", ErrAmbiguousBootPartition, guid, found)
	}
}

// LoadFile reads the file name from the file system on h into a buffer
// allocated from the firmware pool.
func (l *Loader) LoadFile(h firmware.Handle, name string) ([]byte, error) {
	root, err := l.bs.OpenVolume(h)
	if err != nil {
		return nil, fmt.Errorf("opening volume %#x: %w", h, err)
	}
	defer root.Close()
	n, err := root.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	defer n.Close()
	f, ok := n.(firmware.RegularFile)
	if !ok || n.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegularFile, name)
	}

	if err := f.SetPosition(firmware.EndOfFile); err != nil {
		return nil, fmt.Errorf("%s: seeking to end: %w", name, err)
	}
	size, err := f.Position()
	if err != nil {
		return nil, fmt.Errorf("%s: querying size: %w", name, err)
	}
	if err := f.SetPosition(0); err != nil {
		return nil, fmt.Errorf("%s: seeking to start: %w", name, err)
	}
	if size > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrOutOfMemory, name, size)
	}

	buf := l.alloc.Allocate(int(size))
	if buf == nil {
		return nil, fmt.Errorf("%w: allocating %d bytes for %s", ErrOutOfMemory, size, name)
	}
	if read, err := io.ReadFull(f, buf); err != nil {
		if ferr := l.alloc.Free(buf); ferr != nil {
			l.log.Warnf("freeing %s buffer: %v", name, ferr)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %s: got %d of %d bytes", ErrShortRead, name, read, size)
		}
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return buf, nil
}

// Boot loads the kernel from the boot stash partition and transfers control
// to it.
func (l *Loader) Boot() error {
	l.log.Infof("nellboot on %s", l.st.FirmwareVendor)
	h, err := l.Discover(layout.BootPartitionGUID)
	if err != nil {
		return err
	}
	image, err := l.LoadFile(h, layout.KernelFile)
	if err != nil {
		return err
	}
	l.log.Infof("loaded %s (%d bytes)", layout.KernelFile, len(image))
	if err := l.Dispatch(image); err != nil {
		// no-op once the allocator is retired
		if ferr := l.alloc.Free(image); ferr != nil {
			l.log.Warnf("freeing %s: %v", layout.KernelFile, ferr)
		}
		return err
	}
	return nil
}

// Entry is the boot loader entry point. Errors are printed to the console
// and halt the machine.
func Entry(st *firmware.SystemTable) firmware.Status {
	l, err := New(st)
	if err == nil {
		err = l.Boot()
	}
	if err == nil {
		return firmware.Success
	}
	if st != nil {
		if st.ConOut != nil {
			consoleLogger(st.ConOut).Errorf("boot failed: %v", err)
		}
		if st.Halt != nil {
			st.Halt()
		}
	}
	return firmware.LoadError
}
