package main

import (
	"fmt"
	"os"

	"github.com/nellos/nellboot/firmware"
	"github.com/nellos/nellboot/firmware/emu"
	"github.com/nellos/nellboot/layout"
	"github.com/nellos/nellboot/loader"
	"github.com/spf13/cobra"
)

var bootCmd = &cobra.Command{
	Use:   "boot <image>",
	Short: "run the boot loader against an image on an emulated machine",
	Long: `Run the boot loader against an image on an emulated machine: find the boot
stash partition, load and place the kernel, and report its entry point.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		st, err := f.Stat()
		if err != nil {
			return err
		}
		m, err := emu.Open(f, st.Size(), layout.BlockSize)
		if err != nil {
			return err
		}
		log.Debugf("%d file systems", len(m.Handles()))
		if status := loader.Entry(m.SystemTable(os.Stdout)); status != firmware.Success {
			return fmt.Errorf("boot loader returned %v", status)
		}
		fmt.Printf("control transferred to %#x\n", m.Entries[len(m.Entries)-1])
		return nil
	},
}
