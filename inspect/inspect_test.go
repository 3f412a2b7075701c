package inspect

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nellos/nellboot/gpt"
	"github.com/nellos/nellboot/layout"
	"github.com/nellos/nellboot/memdisk"
)

func TestPrint(t *testing.T) {
	var sb strings.Builder
	rows := []Row{
		{1, "UEFI System", "3d5b8f4e-0d43-4bba-a3c5-1f3b6b0f30e1", layout.EFISystemType.String(), 34, 18465},
		{2, "Nell Boot", layout.BootPartitionGUID.String(), layout.BootstashType.String(), 18467, 36898},
	}
	if err := Print(&sb, layout.BlockSize, rows); err != nil {
		t.Fatal(err)
	}
	want := `#  name         unique GUID                           type             extent
1  UEFI System  3D5B8F4E-0D43-4BBA-A3C5-1F3B6B0F30E1  EFI System       LBA 34-18465 (9 MiB)
2  Nell Boot    A4A4A4A4-A4A4-A4A4-A4A4-A4A4A4A4A4A4  nell boot stash  LBA 18467-36898 (9 MiB)
`
	if diff := cmp.Diff(want, sb.String()); diff != "" {
		t.Errorf("Print: diff (-want +got):\n%s", diff)
	}
}

func TestTypeName(t *testing.T) {
	for _, tt := range []struct {
		guid string
		want string
	}{
		{"c12a7328-f81f-11d2-ba4b-00a0c93ec93b", "EFI System"},
		{"0FC63DAF-8483-4772-8E79-3D69D8477DE4", "0FC63DAF-8483-4772-8E79-3D69D8477DE4"},
		{"garbage", "garbage"},
	} {
		if got := TypeName(tt.guid); got != tt.want {
			t.Errorf("TypeName(%q) = %q, want %q", tt.guid, got, tt.want)
		}
	}
}

func TestVerify(t *testing.T) {
	d, err := gpt.NewDisk(layout.BlockSize, 4096, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.CreatePartition(gpt.PartitionOptions{Type: layout.EFISystemType, SizeLBA: 100, Name: "UEFI System"}); err != nil {
		t.Fatal(err)
	}
	md := memdisk.New(0)
	if err := d.Serialize(md); err != nil {
		t.Fatal(err)
	}
	table, err := Verify(md, layout.BlockSize)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(table.Partitions); got != 1 {
		t.Fatalf("%d partitions, want 1", got)
	}

	// flip a bit in the partition name
	md.Bytes()[2*layout.BlockSize+56] ^= 1
	if _, err := Verify(md, layout.BlockSize); !errors.Is(err, gpt.ErrChecksumMismatch) {
		t.Errorf("Verify(corrupted): got err %v, want %v", err, gpt.ErrChecksumMismatch)
	}
}
