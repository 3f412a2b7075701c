package main

import (
	"github.com/nellos/nellboot/config"
	"github.com/nellos/nellboot/humanize"
	"github.com/nellos/nellboot/packer"
	"github.com/nellos/nellboot/profileflag"
	"github.com/nellos/nellboot/progress"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "build a disk image",
	Long: `Build a GPT disk image with an EFI system partition holding the boot
loader and a boot stash partition holding the kernel.

Settings are read from the profile's config.json (see --profiles_dir) and
overridden by flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildImpl.config(cmd.Flags())
		if err != nil {
			return err
		}
		var rep *progress.Reporter
		if buildImpl.progress {
			rep = &progress.Reporter{}
		}
		res, err := packer.Build(cmd.Context(), cfg, rep)
		if err != nil {
			return err
		}
		log.Infof("wrote %s (%s)", res.Path, humanize.Bytes(uint64(res.Disk.SizeBytes())))
		return nil
	},
}

type buildConfig struct {
	configPath string
	file       config.Struct
	padding    uint64
	progress   bool
}

var buildImpl buildConfig

func init() {
	buildImpl.registerFlags(buildCmd.Flags())
}

func (b *buildConfig) registerFlags(fs *pflag.FlagSet) {
	profileflag.RegisterPflags(fs)
	fs.StringVar(&b.configPath, "config", "", "path to a config.json, instead of the profile's")
	fs.StringVar(&b.file.Bootloader, "bootloader", "", "EFI application to install in the EFI system partition")
	fs.StringVar(&b.file.Kernel, "kernel", "", "ELF kernel image to install in the boot stash partition")
	fs.StringVarP(&b.file.Output, "output", "o", "", "image file or block device to write")
	fs.Uint64Var(&b.file.DiskSizeLBA, "disk_size_lba", 0, "disk size in 512 byte blocks (default: the profile's)")
	fs.StringVar(&b.file.DiskGUID, "disk_guid", "", "disk GUID, for reproducible images (default: random)")
	fs.Uint64Var(&b.padding, "partition_padding", 1, "free blocks between partitions")
	fs.BoolVar(&b.file.Digest, "digest", false, "write a BLAKE2b-256 checksum to <output>.b2sum")
	fs.BoolVar(&b.file.Zstd, "zstd", false, "write a zstd-compressed copy to <output>.zst")
	fs.BoolVar(&b.progress, "progress", true, "show a progress line while writing")
}

// config reads the configuration file and applies the flags that were set
// on the command line.
func (b *buildConfig) config(fs *pflag.FlagSet) (*config.Struct, error) {
	var (
		cfg *config.Struct
		err error
	)
	if b.configPath != "" {
		cfg, err = config.ReadFromFile(b.configPath)
	} else {
		cfg, err = profileflag.Dir().Load()
	}
	if err != nil {
		return nil, err
	}

	if fs.Changed("profile") || cfg.Profile == "" {
		cfg.Profile = profileflag.Profile()
	}
	for flag, apply := range map[string]func(){
		"bootloader":        func() { cfg.Bootloader = b.file.Bootloader },
		"kernel":            func() { cfg.Kernel = b.file.Kernel },
		"output":            func() { cfg.Output = b.file.Output },
		"disk_size_lba":     func() { cfg.DiskSizeLBA = b.file.DiskSizeLBA },
		"disk_guid":         func() { cfg.DiskGUID = b.file.DiskGUID },
		"partition_padding": func() { cfg.PartitionPadding = &b.padding },
		"digest":            func() { cfg.Digest = b.file.Digest },
		"zstd":              func() { cfg.Zstd = b.file.Zstd },
	} {
		if fs.Changed(flag) {
			apply()
		}
	}
	return cfg, nil
}
