// Package emu emulates the firmware side of a UEFI boot over a disk image,
// so that the boot loader can be run on the host.
package emu

import (
	"errors"
	"fmt"
	"io"
	"sort"

	efi "github.com/canonical/go-efilib"
	"github.com/google/uuid"
	"github.com/nellos/nellboot/fat"
	"github.com/nellos/nellboot/firmware"
	"github.com/nellos/nellboot/gpt"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("service", "emu")

var errBootServicesExited = errors.New("emu: boot services already exited")

type volume struct {
	devicePath []byte
	fs         *fat.Reader
}

type region struct {
	addr uint64
	mem  []byte
}

// Machine is an emulated machine with one SimpleFileSystem handle per FAT
// volume.
type Machine struct {
	Revision uint32

	// PoolLimit caps the pool memory in use. Zero means no limit.
	PoolLimit int

	volumes map[firmware.Handle]*volume
	next    firmware.Handle

	poolInUse int
	regions   []region
	exited    bool

	// Entries lists the entry points control was transferred to.
	Entries []uint64
	Halted  bool
}

// New returns a machine without volumes.
func New() *Machine {
	return &Machine{
		Revision: firmware.Revision(2, 70),
		volumes:  make(map[firmware.Handle]*volume),
		next:     1,
	}
}

// pciRootPath is PciRoot(0x0)/Pci(0x1,0x1)/Sata(0x0,0xFFFF,0x0), where the
// disk image is attached.
func pciRootPath() (efi.DevicePath, error) {
	hid, err := efi.NewEISAID("PNP", 0x0a03)
	if err != nil {
		return nil, err
	}
	return efi.DevicePath{
		&efi.ACPIDevicePathNode{HID: hid},
		&efi.PCIDevicePathNode{Function: 1, Device: 1},
		&efi.SATADevicePathNode{PortMultiplierPortNumber: 0xFFFF},
	}, nil
}

// Open returns a machine with the FAT volumes of the GPT disk image in
// image. Partitions that do not carry a FAT file system are skipped.
func Open(image io.ReaderAt, size int64, blockSize uint32) (*Machine, error) {
	table, err := gpt.Read(image, blockSize)
	if err != nil {
		return nil, err
	}
	m := New()
	for i, p := range table.Partitions {
		sr := io.NewSectionReader(image, int64(p.StartLBA)*int64(blockSize), int64(p.SizeLBA())*int64(blockSize))
		hd, err := efi.NewHardDriveDevicePathNodeFromDevice(image, size, int64(blockSize), i+1)
		if err != nil {
			return nil, fmt.Errorf("partition %d: %w", i+1, err)
		}
		path, err := pciRootPath()
		if err != nil {
			return nil, err
		}
		path = append(path, hd)
		b, err := path.Bytes()
		if err != nil {
			return nil, err
		}
		h, err := m.AddVolume(b, sr)
		if errors.Is(err, fat.ErrNotFAT16) {
			log.Debugf("partition %d (%s) has no FAT file system, skipping", i+1, p.NameString())
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("partition %d: %w", i+1, err)
		}
		log.Debugf("handle %d: %s", h, path)
	}
	return m, nil
}

// AddVolume adds a handle for the FAT file system in r. devicePath may be
// nil for a volume without a device path.
func (m *Machine) AddVolume(devicePath []byte, r io.ReaderAt) (firmware.Handle, error) {
	fs, err := fat.NewReader(r)
	if err != nil {
		return 0, err
	}
	h := m.next
	m.next++
	m.volumes[h] = &volume{devicePath: devicePath, fs: fs}
	return h, nil
}

func (m *Machine) Handles() []firmware.Handle {
	handles := make([]firmware.Handle, 0, len(m.volumes))
	for h := range m.volumes {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles
}

// PoolInUse returns the number of pool bytes not yet freed.
func (m *Machine) PoolInUse() int { return m.poolInUse }

func (m *Machine) Exited() bool { return m.exited }

// Memory returns n bytes of page memory at addr, or nil if the range was not
// allocated.
func (m *Machine) Memory(addr, n uint64) []byte {
	for _, r := range m.regions {
		if addr >= r.addr && addr+n <= r.addr+uint64(len(r.mem)) {
			off := addr - r.addr
			return r.mem[off : off+n]
		}
	}
	return nil
}

// SystemTable returns a system table whose console is conout.
func (m *Machine) SystemTable(conout io.Writer) *firmware.SystemTable {
	return &firmware.SystemTable{
		FirmwareVendor: "nellboot emulator",
		ConOut:         conout,
		Boot:           m.BootServices(),
		Transfer:       m.transfer,
		Halt:           func() { m.Halted = true },
	}
}

func (m *Machine) BootServices() *firmware.BootServices {
	return &firmware.BootServices{
		Revision:         m.Revision,
		LocateHandles:    m.locateHandles,
		DevicePath:       m.devicePath,
		OpenVolume:       m.openVolume,
		AllocatePool:     m.allocatePool,
		FreePool:         m.freePool,
		AllocatePages:    m.allocatePages,
		ExitBootServices: m.exitBootServices,
	}
}

func (m *Machine) locateHandles(protocol uuid.UUID) ([]firmware.Handle, error) {
	if m.exited {
		return nil, errBootServicesExited
	}
	switch protocol {
	case firmware.SimpleFileSystemProtocol:
		return m.Handles(), nil
	case firmware.DevicePathProtocol:
		var handles []firmware.Handle
		for _, h := range m.Handles() {
			if m.volumes[h].devicePath != nil {
				handles = append(handles, h)
			}
		}
		return handles, nil
	}
	return nil, firmware.NotFound
}

func (m *Machine) devicePath(h firmware.Handle) ([]byte, error) {
	if m.exited {
		return nil, errBootServicesExited
	}
	v, ok := m.volumes[h]
	if !ok {
		return nil, firmware.InvalidParameter
	}
	if v.devicePath == nil {
		return nil, firmware.Unsupported
	}
	return v.devicePath, nil
}

func (m *Machine) openVolume(h firmware.Handle) (firmware.Directory, error) {
	if m.exited {
		return nil, errBootServicesExited
	}
	v, ok := m.volumes[h]
	if !ok {
		return nil, firmware.InvalidParameter
	}
	return &dirNode{fs: v.fs, path: "/"}, nil
}

func (m *Machine) allocatePool(size int) ([]byte, error) {
	if m.exited {
		return nil, errBootServicesExited
	}
	if size < 0 || (m.PoolLimit > 0 && m.poolInUse+size > m.PoolLimit) {
		return nil, firmware.OutOfResources
	}
	m.poolInUse += size
	return make([]byte, size), nil
}

func (m *Machine) freePool(buf []byte) error {
	if m.exited {
		return errBootServicesExited
	}
	m.poolInUse -= len(buf)
	return nil
}

func (m *Machine) allocatePages(addr, size uint64) ([]byte, error) {
	if m.exited {
		return nil, errBootServicesExited
	}
	if addr+size < addr {
		return nil, firmware.InvalidParameter
	}
	for _, r := range m.regions {
		if addr < r.addr+uint64(len(r.mem)) && r.addr < addr+size {
			return nil, fmt.Errorf("%w: %#x+%#x overlaps %#x+%#x",
				firmware.OutOfResources, addr, size, r.addr, len(r.mem))
		}
	}
	mem := make([]byte, size)
	m.regions = append(m.regions, region{addr: addr, mem: mem})
	return mem, nil
}

func (m *Machine) exitBootServices() error {
	if m.exited {
		return errBootServicesExited
	}
	m.exited = true
	return nil
}

func (m *Machine) transfer(entry uint64) error {
	if !m.exited {
		return fmt.Errorf("emu: control transferred to %#x before exiting boot services", entry)
	}
	if m.Memory(entry, 1) == nil {
		return fmt.Errorf("emu: entry point %#x is not in loaded memory", entry)
	}
	m.Entries = append(m.Entries, entry)
	return nil
}
