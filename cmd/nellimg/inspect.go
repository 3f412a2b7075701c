package main

import (
	"os"

	"github.com/nellos/nellboot/inspect"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <image>",
	Short: "print the partition table of an image and verify its checksums",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return inspect.Image(os.Stdout, args[0])
	},
}
