package packer

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/nellos/nellboot/config"
	"github.com/nellos/nellboot/fat"
	"github.com/nellos/nellboot/gpt"
	"github.com/nellos/nellboot/layout"
	"github.com/nellos/nellboot/memdisk"
	"golang.org/x/crypto/blake2b"
)

var (
	modTime    = time.Date(2023, 8, 1, 12, 0, 0, 0, time.UTC)
	bootloader = bytes.Repeat([]byte("MZ"), 3000)
	kernel     = bytes.Repeat([]byte("\x7fELF"), 5000)
)

func testBuilder() *Builder {
	diskGUID := uuid.MustParse("0badc0de-1234-4321-abcd-0123456789ab")
	return &Builder{
		Profile: layout.Profiles["QEMU testing"],
		Inputs: map[layout.Source]Input{
			layout.Bootloader: BytesInput("bootloader", bootloader, modTime),
			layout.Kernel:     BytesInput("kernel", kernel, modTime),
		},
		DiskGUID: &diskGUID,
	}
}

func readVolume(t *testing.T, md *memdisk.MemDisk, p *gpt.Partition) *fat.Reader {
	t.Helper()
	sr := io.NewSectionReader(md, int64(p.StartLBA)*layout.BlockSize, int64(p.SizeLBA())*layout.BlockSize)
	rd, err := fat.NewReader(sr)
	if err != nil {
		t.Fatalf("partition %q: %v", p.NameString(), err)
	}
	return rd
}

func TestWrite(t *testing.T) {
	md := memdisk.New(0)
	d, err := testBuilder().Write(md)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := md.Size(), int64(48*1024*1024); got != want {
		t.Fatalf("image size = %d, want %d", got, want)
	}

	table, err := gpt.Read(md, layout.BlockSize)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := table.Primary.DiskGUID, *testBuilder().DiskGUID; got != want {
		t.Errorf("disk GUID = %v, want %v", got, want)
	}
	type part struct {
		Name     string
		Type     uuid.UUID
		StartLBA uint64
		SizeLBA  uint64
	}
	var got []part
	for _, p := range table.Partitions {
		got = append(got, part{p.NameString(), p.Type, p.StartLBA, p.SizeLBA()})
	}
	volumeLBA := uint64(9 * 1024 * 1024 / layout.BlockSize)
	want := []part{
		{"UEFI System", layout.EFISystemType, 34, volumeLBA},
		{"Nell Boot", layout.BootstashType, 34 + volumeLBA + 1, volumeLBA},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("partitions: diff (-want +got):\n%s", diff)
	}
	if got, want := table.Partitions[1].GUID, layout.BootPartitionGUID; got != want {
		t.Errorf("boot partition GUID = %v, want %v", got, want)
	}
	if len(d.Partitions()) != 2 {
		t.Errorf("Write returned a disk with %d partitions, want 2", len(d.Partitions()))
	}

	esp := readVolume(t, md, table.Partitions[0])
	if got, want := esp.Label(), "UEFI SYSTEM"; got != want {
		t.Errorf("ESP label = %q, want %q", got, want)
	}
	b, err := esp.ReadFile(layout.RemovableMediaPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, bootloader) {
		t.Errorf("%s: content differs", layout.RemovableMediaPath)
	}

	stash := readVolume(t, md, table.Partitions[1])
	b, err = stash.ReadFile("/" + layout.KernelFile)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, kernel) {
		t.Errorf("%s: content differs", layout.KernelFile)
	}
}

func TestStageVolumeID(t *testing.T) {
	stage := func(b *Builder, p layout.Partition) uint32 {
		t.Helper()
		v, err := b.Stage(p)
		if err != nil {
			t.Fatal(err)
		}
		rd, err := fat.NewReader(v.Disk)
		if err != nil {
			t.Fatal(err)
		}
		return rd.VolumeID()
	}
	parts := testBuilder().Profile.Partitions
	esp := stage(testBuilder(), parts[0])
	if again := stage(testBuilder(), parts[0]); again != esp {
		t.Errorf("volume ID not reproducible: %#08x, then %#08x", esp, again)
	}
	if stash := stage(testBuilder(), parts[1]); stash == esp {
		t.Errorf("%s and %s share volume ID %#08x", parts[0].Name, parts[1].Name, esp)
	}

	other := testBuilder()
	otherGUID := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	other.DiskGUID = &otherGUID
	if got := stage(other, parts[0]); got == esp {
		t.Errorf("volume ID %#08x does not depend on the disk GUID", got)
	}
}

func TestWriteErrors(t *testing.T) {
	missing := testBuilder()
	delete(missing.Inputs, layout.Kernel)
	if _, err := missing.Write(memdisk.New(0)); !errors.Is(err, ErrMissingInput) {
		t.Errorf("Write without kernel: got err %v, want %v", err, ErrMissingInput)
	}

	small := testBuilder()
	small.DiskSizeLBA = 9 * 1024 * 1024 / layout.BlockSize
	if _, err := small.Write(memdisk.New(0)); !errors.Is(err, gpt.ErrPartitionTooLarge) {
		t.Errorf("Write to small disk: got err %v, want %v", err, gpt.ErrPartitionTooLarge)
	}

	unaligned := testBuilder()
	unaligned.Profile.Partitions = []layout.Partition{{Name: "odd", StagingBytes: 9*1024*1024 + 1}}
	if _, err := unaligned.Write(memdisk.New(0)); !errors.Is(err, ErrUnalignedStage) {
		t.Errorf("Write with unaligned staging size: got err %v, want %v", err, ErrUnalignedStage)
	}

	full := testBuilder()
	full.Inputs[layout.Kernel] = BytesInput("kernel", make([]byte, 10*1024*1024), modTime)
	if _, err := full.Write(memdisk.New(0)); !errors.Is(err, fat.ErrVolumeFull) {
		t.Errorf("Write with oversized kernel: got err %v, want %v", err, fat.ErrVolumeFull)
	}
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Profile = "qemutesting"
	cfg.Bootloader = filepath.Join(dir, "bootloader.efi")
	cfg.Kernel = filepath.Join(dir, "kernel.elf")
	cfg.Output = filepath.Join(dir, "out", "boot.img")
	cfg.DiskGUID = "0badc0de-1234-4321-abcd-0123456789ab"
	cfg.Digest = true
	cfg.Zstd = true
	if err := os.WriteFile(cfg.Bootloader, bootloader, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.Kernel, kernel, 0644); err != nil {
		t.Fatal(err)
	}

	res, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	image, err := os.ReadFile(cfg.Output)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := int64(len(image)), res.Disk.SizeBytes(); got != want {
		t.Fatalf("image size = %d, want %d", got, want)
	}

	sum := blake2b.Sum256(image)
	if diff := cmp.Diff(sum[:], res.Digest); diff != "" {
		t.Errorf("digest: diff (-want +got):\n%s", diff)
	}
	b2sum, err := os.ReadFile(cfg.Output + ".b2sum")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := strings.TrimSpace(string(b2sum)), hex.EncodeToString(sum[:])+"  boot.img"; got != want {
		t.Errorf("b2sum file = %q, want %q", got, want)
	}

	f, err := os.Open(res.ZstdPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	decompressed, err := io.ReadAll(dec)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decompressed, image) {
		t.Errorf("decompressed image differs from %s", cfg.Output)
	}
}

func TestNewBuilderErrors(t *testing.T) {
	for _, tt := range []struct {
		name string
		mod  func(*config.Struct)
	}{
		{"unknown profile", func(c *config.Struct) { c.Profile = "pdp-11" }},
		{"missing kernel file", func(c *config.Struct) { c.Kernel = filepath.Join(t.TempDir(), "nonexistent") }},
		{"bad disk GUID", func(c *config.Struct) { c.DiskGUID = "not-a-guid" }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Bootloader = ""
			tt.mod(cfg)
			if _, err := NewBuilder(cfg); err == nil {
				t.Errorf("NewBuilder succeeded unexpectedly")
			}
		})
	}
}
