// Package devicepath walks raw UEFI device paths as handed out by the
// firmware, to find the volume whose hard drive node carries a given GPT
// partition GUID.
package devicepath

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nellos/nellboot/gpt"
)

// Node types.
const (
	Hardware  = uint8(0x01)
	ACPI      = uint8(0x02)
	Messaging = uint8(0x03)
	Media     = uint8(0x04)
	BBS       = uint8(0x05)
	End       = uint8(0x7F)
)

const (
	// HardDrive is the Media subtype of hard drive partition nodes.
	HardDrive = uint8(0x01)

	// SignatureTypeGUID marks a hard drive signature as a GPT unique
	// partition GUID.
	SignatureTypeGUID = uint8(0x02)

	headerSize = 4

	// offsets within a hard drive node, counted from the node start
	signatureOffset     = 24
	signatureTypeOffset = 41
	hardDriveNodeSize   = 42
)

var ErrMalformed = errors.New("devicepath: malformed device path")

// Node is one device path node. Data includes the 4 byte header.
type Node struct {
	Type    uint8
	SubType uint8
	Data    []byte
}

// Walk calls fn for each node up to, not including, the first End node. An
// error from fn stops the walk and is returned.
func Walk(path []byte, fn func(Node) error) error {
	for off := 0; ; {
		if off+headerSize > len(path) {
			return fmt.Errorf("%w: no end node after %d bytes", ErrMalformed, off)
		}
		typ, subType := path[off], path[off+1]
		length := int(binary.LittleEndian.Uint16(path[off+2:]))
		if length < headerSize || off+length > len(path) {
			return fmt.Errorf("%w: node at offset %d has length %d", ErrMalformed, off, length)
		}
		if typ == End {
			return nil
		}
		if err := fn(Node{Type: typ, SubType: subType, Data: path[off : off+length]}); err != nil {
			return err
		}
		off += length
	}
}

// HardDriveSignature returns the signature type and signature of a Media
// hard drive node.
func (n Node) HardDriveSignature() (sigType uint8, sig [16]byte, ok bool) {
	if n.Type != Media || n.SubType != HardDrive || len(n.Data) < hardDriveNodeSize {
		return 0, sig, false
	}
	copy(sig[:], n.Data[signatureOffset:signatureOffset+16])
	return n.Data[signatureTypeOffset], sig, true
}

// MatchesPartition reports whether path contains a hard drive node whose GPT
// signature is guid. The whole path is walked, so malformed paths are
// reported even after a match.
func MatchesPartition(path []byte, guid uuid.UUID) (bool, error) {
	want := gpt.EncodeGUID(guid)
	var match bool
	err := Walk(path, func(n Node) error {
		if n.Type != Media || n.SubType != HardDrive {
			return nil
		}
		sigType, sig, ok := n.HardDriveSignature()
		if !ok {
			return fmt.Errorf("%w: hard drive node of %d bytes", ErrMalformed, len(n.Data))
		}
		if sigType == SignatureTypeGUID && sig == want {
			match = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return match, nil
}
