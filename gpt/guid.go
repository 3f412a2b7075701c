package gpt

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// EncodeGUID returns the GPT on-disk representation of g: the first three
// fields are stored little-endian, the remaining 8 bytes verbatim.
func EncodeGUID(g uuid.UUID) [16]byte {
	return swapGUID(g)
}

// DecodeGUID is the inverse of EncodeGUID.
func DecodeGUID(b [16]byte) uuid.UUID {
	return uuid.UUID(swapGUID(b))
}

func swapGUID(in [16]byte) [16]byte {
	var out [16]byte
	binary.LittleEndian.PutUint32(out[0:4], binary.BigEndian.Uint32(in[0:4]))
	binary.LittleEndian.PutUint16(out[4:6], binary.BigEndian.Uint16(in[4:6]))
	binary.LittleEndian.PutUint16(out[6:8], binary.BigEndian.Uint16(in[6:8]))
	copy(out[8:], in[8:])
	return out
}

// GUIDFromBytes returns the canonical string representation of the specified
// GUID, given in on-disk byte order.
func GUIDFromBytes(b []byte) string {
	// See Intel EFI specification, Appendix A: GUID and Time Formats
	// https://www.intel.de/content/dam/doc/product-specification/efi-v1-10-specification.pdf
	var (
		timeLow                 uint32
		timeMid                 uint16
		timeHighAndVersion      uint16
		clockSeqHighAndReserved uint8
		clockSeqLow             uint8
		node                    [6]byte
	)
	timeLow = binary.LittleEndian.Uint32(b[0:4])
	timeMid = binary.LittleEndian.Uint16(b[4:6])
	timeHighAndVersion = binary.LittleEndian.Uint16(b[6:8])
	clockSeqHighAndReserved = b[8]
	clockSeqLow = b[9]
	copy(node[:], b[10:])
	return fmt.Sprintf("%08X-%04X-%04X-%02X%02X-%012X",
		timeLow,
		timeMid,
		timeHighAndVersion,
		clockSeqHighAndReserved,
		clockSeqLow,
		node)
}
