package loader

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"
)

var (
	ErrNotELF64             = errors.New("loader: not a 64-bit ELF image")
	ErrNotExecutable        = errors.New("loader: not an executable ELF image")
	ErrEntryOutsideSegments = errors.New("loader: entry point outside loaded segments")
)

// Dispatch copies the loadable segments of the ELF image to their physical
// addresses, exits boot services and transfers control to the entry point.
// image must have been returned by LoadFile; it is freed before boot
// services are exited.
func (l *Loader) Dispatch(image []byte) error {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotELF64, err)
	}
	if f.Class != elf.ELFCLASS64 {
		return fmt.Errorf("%w: class %v", ErrNotELF64, f.Class)
	}
	if f.Type != elf.ET_EXEC {
		return fmt.Errorf("%w: type %v", ErrNotExecutable, f.Type)
	}

	entry, ok := uint64(0), false
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}
		if prog.Filesz > prog.Memsz {
			return fmt.Errorf("%w: segment at %#x has %d bytes in file but %d in memory",
				ErrNotExecutable, prog.Paddr, prog.Filesz, prog.Memsz)
		}
		mem, err := l.bs.AllocatePages(prog.Paddr, prog.Memsz)
		if err != nil {
			return fmt.Errorf("allocating %#x bytes at %#x: %w", prog.Memsz, prog.Paddr, err)
		}
		if _, err := io.ReadFull(prog.Open(), mem[:prog.Filesz]); err != nil {
			return fmt.Errorf("%w: segment at %#x: %v", ErrShortRead, prog.Paddr, err)
		}
		clear(mem[prog.Filesz:])
		l.log.Debugf("segment %#x-%#x (%d bytes from file)", prog.Paddr, prog.Paddr+prog.Memsz, prog.Filesz)

		if f.Entry >= prog.Vaddr && f.Entry-prog.Vaddr < prog.Memsz {
			entry, ok = prog.Paddr+(f.Entry-prog.Vaddr), true
		}
	}
	if !ok {
		return fmt.Errorf("%w: %#x", ErrEntryOutsideSegments, f.Entry)
	}

	if err := l.alloc.Free(image); err != nil {
		l.log.Warnf("freeing kernel image: %v", err)
	}
	l.alloc.Retire()
	l.log.Infof("starting kernel at %#x", entry)
	if err := l.bs.ExitBootServices(); err != nil {
		return fmt.Errorf("exiting boot services: %w", err)
	}
	return l.st.Transfer(entry)
}
