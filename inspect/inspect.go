// Package inspect prints the partition table of a built image. The table is
// parsed by go-diskfs, independently of the writer, and the checksums are
// verified with package gpt.
package inspect

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/diskfs/go-diskfs"
	dgpt "github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/google/uuid"
	"github.com/nellos/nellboot/gpt"
	"github.com/nellos/nellboot/humanize"
	"github.com/nellos/nellboot/layout"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("service", "inspect")

// Row is one partition as printed by Print.
type Row struct {
	Number   int
	Name     string
	GUID     string
	Type     string
	StartLBA uint64
	EndLBA   uint64
}

var typeNames = map[uuid.UUID]string{
	layout.EFISystemType: "EFI System",
	layout.BootstashType: "nell boot stash",
}

// TypeName returns a readable name for a partition type GUID.
func TypeName(guid string) string {
	u, err := uuid.Parse(guid)
	if err != nil {
		return guid
	}
	if name, ok := typeNames[u]; ok {
		return name
	}
	return strings.ToUpper(u.String())
}

// Print writes rows as a table.
func Print(w io.Writer, blockSize uint32, rows []Row) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tname\tunique GUID\ttype\textent")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			r.Number, r.Name, strings.ToUpper(r.GUID), TypeName(r.Type), humanize.Extent(r.StartLBA, r.EndLBA, blockSize))
	}
	return tw.Flush()
}

// Verify checks both GPT headers and the partition array checksums of the
// image in r.
func Verify(r io.ReaderAt, blockSize uint32) (*gpt.Table, error) {
	t, err := gpt.Read(r, blockSize)
	if err != nil {
		return nil, err
	}
	log.Debugf("primary header CRC %#08x, backup header CRC %#08x, partition array CRC %#08x",
		t.Primary.HeaderCRC32, t.Backup.HeaderCRC32, t.Primary.PartitionArrayCRC32)
	return t, nil
}

// Image prints the partition table of the image at path and verifies its
// checksums.
func Image(w io.Writer, path string) error {
	d, err := diskfs.Open(path)
	if err != nil {
		return err
	}
	defer d.File.Close()
	pt, err := d.GetPartitionTable()
	if err != nil {
		return fmt.Errorf("%s: reading partition table: %w", path, err)
	}
	table, ok := pt.(*dgpt.Table)
	if !ok {
		return fmt.Errorf("%s: not a GPT disk (%s)", path, pt.Type())
	}
	blockSize := uint32(table.LogicalSectorSize)
	if blockSize == 0 {
		blockSize = layout.BlockSize
	}

	fmt.Fprintf(w, "%s: %s, disk GUID %s\n", path, humanize.Bytes(uint64(d.Size)), strings.ToUpper(table.GUID))
	var rows []Row
	for i, p := range table.Partitions {
		if p.Type == dgpt.Unused {
			continue
		}
		rows = append(rows, Row{
			Number:   i + 1,
			Name:     p.Name,
			GUID:     p.GUID,
			Type:     string(p.Type),
			StartLBA: p.Start,
			EndLBA:   p.End,
		})
	}
	if err := Print(w, blockSize, rows); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	t, err := Verify(f, blockSize)
	if err != nil {
		return err
	}
	if len(t.Partitions) != len(rows) {
		return fmt.Errorf("%s: go-diskfs found %d partitions, checksummed array has %d", path, len(rows), len(t.Partitions))
	}
	fmt.Fprintf(w, "checksums ok (partition array %#08x)\n", t.Primary.PartitionArrayCRC32)
	return nil
}
