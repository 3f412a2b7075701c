package devicepath

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/nellos/nellboot/gpt"
)

var bootGUID = uuid.MustParse("60c24cc1-f3f9-427a-8199-2e18c40c0001")

func node(typ, subType uint8, payload []byte) []byte {
	b := make([]byte, headerSize+len(payload))
	b[0], b[1] = typ, subType
	binary.LittleEndian.PutUint16(b[2:], uint16(len(b)))
	copy(b[headerSize:], payload)
	return b
}

func hardDrive(guid uuid.UUID) []byte {
	b := node(Media, HardDrive, make([]byte, hardDriveNodeSize-headerSize))
	binary.LittleEndian.PutUint32(b[4:], 2)
	binary.LittleEndian.PutUint64(b[8:], 2048)
	binary.LittleEndian.PutUint64(b[16:], 4096)
	sig := gpt.EncodeGUID(guid)
	copy(b[signatureOffset:], sig[:])
	b[40] = 0x02
	b[signatureTypeOffset] = SignatureTypeGUID
	return b
}

func endNode() []byte { return node(End, 0xFF, nil) }

func join(nodes ...[]byte) []byte {
	var b []byte
	for _, n := range nodes {
		b = append(b, n...)
	}
	return b
}

func TestWalk(t *testing.T) {
	path := join(
		node(ACPI, 1, []byte{0xd0, 0x41, 0x03, 0x0a, 0, 0, 0, 0}),
		node(Hardware, 1, []byte{1, 1}),
		hardDrive(bootGUID),
		endNode(),
		node(Hardware, 1, []byte{9, 9}), // after End, never visited
	)
	type seen struct{ Type, SubType uint8 }
	var got []seen
	if err := Walk(path, func(n Node) error {
		got = append(got, seen{n.Type, n.SubType})
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	want := []seen{{ACPI, 1}, {Hardware, 1}, {Media, HardDrive}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Walk: unexpected nodes: diff (-want +got):\n%s", diff)
	}
}

func TestMatchesPartition(t *testing.T) {
	other := hardDrive(bootGUID)
	other[signatureOffset] ^= 0xFF

	mbrSig := hardDrive(bootGUID)
	mbrSig[signatureTypeOffset] = 0x01

	for _, tt := range []struct {
		name string
		path []byte
		want bool
	}{
		{
			name: "match",
			path: join(node(Hardware, 1, []byte{1, 1}), hardDrive(bootGUID), endNode()),
			want: true,
		},
		{
			name: "one byte differs",
			path: join(node(Hardware, 1, []byte{1, 1}), other, endNode()),
			want: false,
		},
		{
			name: "mbr signature type",
			path: join(mbrSig, endNode()),
			want: false,
		},
		{
			name: "no hard drive node",
			path: join(node(Messaging, 0x12, make([]byte, 6)), endNode()),
			want: false,
		},
		{
			name: "only end",
			path: endNode(),
			want: false,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MatchesPartition(tt.path, bootGUID)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("MatchesPartition = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMalformed(t *testing.T) {
	zeroLength := node(Hardware, 1, []byte{1, 1})
	binary.LittleEndian.PutUint16(zeroLength[2:], 0)

	overrun := node(Hardware, 1, []byte{1, 1})
	binary.LittleEndian.PutUint16(overrun[2:], 200)

	for _, tt := range []struct {
		name string
		path []byte
	}{
		{"empty", nil},
		{"missing end", hardDrive(bootGUID)},
		{"zero length", join(zeroLength, endNode())},
		{"overrun", join(overrun, endNode())},
		{"short hard drive node", join(node(Media, HardDrive, make([]byte, 10)), endNode())},
		{"truncated header", []byte{End, 0xFF}},
		// a matching node does not excuse a broken tail
		{"match then garbage", join(hardDrive(bootGUID), []byte{1, 1, 2, 0})},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MatchesPartition(tt.path, bootGUID)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("MatchesPartition = %v, want %v", err, ErrMalformed)
			}
		})
	}
}
