package fat_test

import (
	"bytes"
	"log"
	"time"

	"github.com/nellos/nellboot/fat"
	"github.com/nellos/nellboot/memdisk"
)

func Example() {
	volume := memdisk.New(16 * 1024 * 1024)

	fw, err := fat.NewWriter(volume, fat.WithSize(volume.Size()), fat.WithVolumeLabel("NELL BOOT"))
	if err != nil {
		log.Fatal(err)
	}

	if _, err := fw.CopyFile("/KERNEL.ELF", time.Now(), bytes.NewReader([]byte("\x7fELF"))); err != nil {
		log.Fatal(err)
	}

	if err := fw.Flush(); err != nil {
		log.Fatal(err)
	}

	log.Printf("file system spans %d of %d sectors", fw.TotalSectors, volume.Size()/512)
}
