package emu

import (
	"errors"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/nellos/nellboot/fat"
	"github.com/nellos/nellboot/firmware"
)

type dirNode struct {
	fs   *fat.Reader
	path string
}

func (d *dirNode) IsDir() bool  { return true }
func (d *dirNode) Close() error { return nil }

// Open resolves name relative to d. A leading backslash starts at the root
// of the volume.
func (d *dirNode) Open(name string) (firmware.Node, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	p := name
	if !strings.HasPrefix(name, "/") {
		p = path.Join(d.path, name)
	}
	p = path.Clean("/" + p)
	ent, err := d.fs.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, firmware.NotFound
	}
	if err != nil {
		return nil, firmware.DeviceError
	}
	if ent.IsDir {
		return &dirNode{fs: d.fs, path: p}, nil
	}
	data, err := d.fs.ReadFile(p)
	if err != nil {
		return nil, firmware.DeviceError
	}
	return &fileNode{data: data}, nil
}

type fileNode struct {
	data []byte
	pos  uint64
}

func (f *fileNode) IsDir() bool  { return false }
func (f *fileNode) Close() error { return nil }

func (f *fileNode) Read(p []byte) (int, error) {
	if f.pos >= uint64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[f.pos:])
	f.pos += uint64(n)
	return n, nil
}

func (f *fileNode) SetPosition(pos uint64) error {
	if pos == firmware.EndOfFile {
		f.pos = uint64(len(f.data))
		return nil
	}
	f.pos = pos
	return nil
}

func (f *fileNode) Position() (uint64, error) { return f.pos, nil }
