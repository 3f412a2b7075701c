package fat_test

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/nellos/nellboot/fat"
)

// padToTotalSectors extends f so that dosfsck can access the entire file
// system, which our FAT writer might not fill up.
func padToTotalSectors(t *testing.T, f *os.File, fw *fat.Writer) {
	t.Helper()
	size, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		t.Fatal(err)
	}
	if pad := fw.TotalSectors*512 - int(size); pad > 0 {
		if _, err := f.Write(bytes.Repeat([]byte{0}, pad)); err != nil {
			t.Fatal(err)
		}
	}
}

func dosfsck(t *testing.T, path string) error {
	t.Helper()
	cmd := exec.Command("dosfsck", "-n", "-v", path)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func TestDosfsck(t *testing.T) {
	if _, err := exec.LookPath("dosfsck"); err != nil {
		t.Skip("dosfsck not found in $PATH")
	}

	tmp, err := os.CreateTemp("", "nellfat")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())

	fw, err := fat.NewWriter(tmp, fat.WithVolumeLabel("UEFI SYSTEM"))
	if err != nil {
		t.Fatal(err)
	}

	for _, f := range []struct {
		path     string
		contents []byte
	}{
		{"/EMPTY.TXT", nil},
		{"/STARTUP.NSH", []byte("fs0:\\EFI\\BOOT\\BOOTX64.EFI")},
		{"/EFI/BOOT/BOOTX64.EFI", make([]byte, 10*1024*1024)},
		{"/EFI/NELL/NELLBOOT.EFI", []byte("short file")},
		{"/S.TXT", []byte("short file name")},
	} {
		if _, err := fw.CopyFile(f.path, time.Now(), bytes.NewReader(f.contents)); err != nil {
			t.Fatal(err)
		}
	}

	if err := fw.Flush(); err != nil {
		t.Fatal(err)
	}
	padToTotalSectors(t, tmp, fw)
	if err := tmp.Close(); err != nil {
		t.Fatal(err)
	}

	if err := dosfsck(t, tmp.Name()); err != nil {
		t.Fatal(err)
	}
}
