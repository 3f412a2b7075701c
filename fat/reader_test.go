package fat

import (
	"bytes"
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestUnmarshalTimeDate(t *testing.T) {
	t.Parallel()

	arbitrary := time.Date(2017, 9, 6, 8, 13, 28, 0, time.UTC)
	arbitraryC := common{modTime: arbitrary}

	for _, entry := range []struct {
		t, d uint16
		want time.Time
	}{
		{
			t:    arbitraryC.Time(),
			d:    arbitraryC.Date(),
			want: arbitrary,
		},
		{
			d:    0x2B14,
			want: time.Date(2001, 8, 20, 0, 0, 0, 0, time.UTC),
		},
		{
			t:    0x5401,
			d:    0x0021, // minimum date
			want: time.Date(1980, 1, 1, 10, 32, 2, 0, time.UTC),
		},
		{
			t:    0x5401,
			d:    0xFC46, // maximum date
			want: time.Date(2106, 2, 6, 10, 32, 2, 0, time.UTC),
		},
	} {
		entry := entry // copy
		t.Run(entry.want.String(), func(t *testing.T) {
			t.Parallel()
			got := unmarshalTimeDate(entry.t, entry.d)
			if !got.Equal(entry.want) {
				t.Fatalf("unexpected time: got %v, want %v", got, entry.want)
			}
		})
	}
}

type testFile struct {
	path     string
	contents []byte
}

func writeImage(t *testing.T, files []testFile, opts ...Option) (*bytes.Reader, *Writer) {
	t.Helper()
	var buf bytes.Buffer
	fw, err := NewWriter(&buf, opts...)
	if err != nil {
		t.Fatal(err)
	}
	modTime := time.Date(2021, 3, 14, 15, 9, 26, 0, time.UTC)
	for _, f := range files {
		if _, err := fw.CopyFile(f.path, modTime, bytes.NewReader(f.contents)); err != nil {
			t.Fatal(err)
		}
	}
	if err := fw.Flush(); err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(buf.Bytes()), fw
}

func TestExtents(t *testing.T) {
	t.Parallel()

	bStartup := []byte("fs0:\\EFI\\BOOT\\BOOTX64.EFI")
	bEntry := bytes.Repeat([]byte("options root=PARTUUID=a4a4a4a4\n"), 200)
	img, _ := writeImage(t, []testFile{
		{"/STARTUP.NSH", bStartup},
		{"/EFI/NELL/NELL.CFG", bEntry},
	})

	rd, err := NewReader(img)
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		path string
		want []byte
	}{
		{"/STARTUP.NSH", bStartup},
		{"/efi/nell/nell.cfg", bEntry},
	} {
		offset, length, err := rd.Extents(tt.path)
		if err != nil {
			t.Fatal(err)
		}
		got := make([]byte, length)
		if _, err := img.ReadAt(got, offset); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Fatalf("unexpected %s contents: diff (-want +got):\n%s", tt.path, diff)
		}
	}
}

func TestReadFile(t *testing.T) {
	t.Parallel()

	kernel := bytes.Repeat([]byte{0x7f, 'E', 'L', 'F'}, 3000) // spans several clusters
	img, fw := writeImage(t, []testFile{
		{"/KERNEL.ELF", kernel},
		{"/EMPTY", nil},
		{"/EFI/BOOT/BOOTX64.EFI", []byte("MZ")},
	}, WithVolumeLabel("nell boot"))

	rd, err := NewReader(img)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := rd.Label(), "NELL BOOT"; got != want {
		t.Errorf("Label() = %q, want %q", got, want)
	}
	if got, want := rd.TotalSectors(), fw.TotalSectors; got != want {
		t.Errorf("TotalSectors() = %d, want %d", got, want)
	}

	got, err := rd.ReadFile("/kernel.elf")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(kernel, got); diff != "" {
		t.Errorf("unexpected kernel contents: diff (-want +got):\n%s", diff)
	}

	got, err = rd.ReadFile("/EMPTY")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("EMPTY has %d bytes, want 0", len(got))
	}

	if _, err := rd.ReadFile("/EFI/BOOT"); err == nil {
		t.Errorf("ReadFile(directory) unexpectedly succeeded")
	}
	if _, err := rd.ReadFile("/MISSING.ELF"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile(missing): got err %v, want fs.ErrNotExist", err)
	}
}

func TestReadDir(t *testing.T) {
	t.Parallel()

	img, _ := writeImage(t, []testFile{
		{"/KERNEL.ELF", []byte("kernel")},
		{"/EFI/BOOT/BOOTX64.EFI", []byte("MZ")},
		{"/EFI/NELL/NELLBOOT.EFI", []byte("MZ")},
	})
	rd, err := NewReader(img)
	if err != nil {
		t.Fatal(err)
	}
	names := func(entries []DirEntry) []string {
		var result []string
		for _, e := range entries {
			result = append(result, e.Name)
		}
		return result
	}
	for _, tt := range []struct {
		path string
		want []string
	}{
		{"/", []string{"KERNEL.ELF", "EFI"}},
		{"/EFI", []string{"BOOT", "NELL"}},
		{"/EFI/NELL", []string{"NELLBOOT.EFI"}},
	} {
		entries, err := rd.ReadDir(tt.path)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(tt.want, names(entries)); diff != "" {
			t.Errorf("ReadDir(%s): diff (-want +got):\n%s", tt.path, diff)
		}
	}
}

func TestManyRootEntries(t *testing.T) {
	t.Parallel()

	var files []testFile
	for i := 0; i < 40; i++ {
		files = append(files, testFile{path: "/F" + string(rune('A'+i%26)) + string(rune('A'+i/26)) + ".TXT", contents: []byte{byte(i)}})
	}
	img, _ := writeImage(t, files)
	rd, err := NewReader(img)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := rd.ReadDir("/")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(entries), 40; got != want {
		t.Fatalf("root directory has %d entries, want %d", got, want)
	}
}

func TestInvalidNames(t *testing.T) {
	t.Parallel()

	fw, err := NewWriter(&bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{
		"/bootloader.efi",
		"/EFI/BOOT/BOOT.CONF",
		"/a b.txt",
		"/.hidden",
	} {
		if _, err := fw.File(path, time.Now()); !errors.Is(err, ErrInvalidName) {
			t.Errorf("File(%q): got err %v, want %v", path, err, ErrInvalidName)
		}
	}
}

func TestWithSize(t *testing.T) {
	t.Parallel()

	const size = 34 * 1024 * 1024
	var buf bytes.Buffer
	fw, err := NewWriter(&buf, WithSize(size))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.CopyFile("/KERNEL.ELF", time.Now(), bytes.NewReader([]byte("kernel"))); err != nil {
		t.Fatal(err)
	}
	if err := fw.Flush(); err != nil {
		t.Fatal(err)
	}
	if fw.TotalSectors*512 > size {
		t.Fatalf("file system spans %d sectors, more than %d bytes", fw.TotalSectors, size)
	}
	if fw.TotalSectors*512 < size-clusterSize-512 {
		t.Fatalf("file system spans only %d sectors of %d bytes", fw.TotalSectors, size)
	}

	fw, err = NewWriter(&bytes.Buffer{}, WithSize(9*1024*1024))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.CopyFile("/BIG.BIN", time.Now(), bytes.NewReader(make([]byte, 10*1024*1024))); err != nil {
		t.Fatal(err)
	}
	if err := fw.Flush(); !errors.Is(err, ErrVolumeFull) {
		t.Fatalf("Flush: got err %v, want %v", err, ErrVolumeFull)
	}
}
