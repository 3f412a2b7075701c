package packer

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/nellos/nellboot/config"
	"github.com/nellos/nellboot/gpt"
	"github.com/nellos/nellboot/imgfile"
	"github.com/nellos/nellboot/layout"
	"github.com/nellos/nellboot/progress"
	"golang.org/x/crypto/blake2b"
)

// Result describes a built image.
type Result struct {
	Path string
	Disk *gpt.Disk

	// Digest is the BLAKE2b-256 checksum of the image, if requested.
	Digest   []byte
	ZstdPath string
}

// NewBuilder returns a Builder for cfg, reading inputs from the file system.
func NewBuilder(cfg *config.Struct) (*Builder, error) {
	profile, ok := layout.GetProfileBySlug(cfg.Profile)
	if !ok {
		return nil, fmt.Errorf("unknown profile %q", cfg.Profile)
	}
	b := &Builder{
		Profile:     profile,
		Inputs:      make(map[layout.Source]Input),
		DiskSizeLBA: cfg.DiskSizeLBA,
	}
	for src, path := range map[layout.Source]string{
		layout.Bootloader: cfg.Bootloader,
		layout.Kernel:     cfg.Kernel,
	} {
		if path == "" {
			continue
		}
		in, err := FileInput(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", src, err)
		}
		b.Inputs[src] = in
	}
	if cfg.DiskGUID != "" {
		guid, err := uuid.Parse(cfg.DiskGUID)
		if err != nil {
			return nil, fmt.Errorf("disk GUID: %w", err)
		}
		b.DiskGUID = &guid
	}
	if cfg.PartitionPadding != nil {
		b.Options = append(b.Options, gpt.WithPartitionPadding(*cfg.PartitionPadding))
	}
	return b, nil
}

// Build writes the image described by cfg to cfg.Output. If rep is non-nil,
// a live progress line is shown while writing.
func Build(ctx context.Context, cfg *config.Struct, rep *progress.Reporter) (*Result, error) {
	b, err := NewBuilder(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Output), 0755); err != nil {
		return nil, err
	}
	t, err := imgfile.Open(cfg.Output)
	if err != nil {
		return nil, err
	}
	defer t.Close()
	if t.BlockDevice() {
		bs, err := t.LogicalBlockSize()
		if err != nil {
			return nil, err
		}
		if bs != layout.BlockSize {
			return nil, fmt.Errorf("%s: logical block size is %d, images use %d", cfg.Output, bs, layout.BlockSize)
		}
		log.Warnf("writing to block device %s", cfg.Output)
	}

	if rep != nil {
		b.Progress = rep
		ctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			rep.Report(ctx)
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	d, err := b.Write(t)
	if err != nil {
		return nil, err
	}
	if err := t.Sync(); err != nil {
		return nil, err
	}

	if t.BlockDevice() {
		for i, p := range d.Partitions() {
			log.Infof("%s: %s", imgfile.PartitionPath(cfg.Output, i+1), p)
		}
	}

	res := &Result{Path: cfg.Output, Disk: d}
	if cfg.Digest || cfg.Zstd {
		if err := res.postProcess(io.NewSectionReader(t, 0, d.SizeBytes()), cfg); err != nil {
			return nil, err
		}
	}
	return res, t.Close()
}

// postProcess computes the digest and the compressed copy of the image in a
// single pass.
func (res *Result) postProcess(image io.Reader, cfg *config.Struct) error {
	var writers []io.Writer
	h, err := blake2b.New256(nil)
	if err != nil {
		return err
	}
	if cfg.Digest {
		writers = append(writers, h)
	}

	var (
		zf  *os.File
		enc *zstd.Encoder
	)
	if cfg.Zstd {
		res.ZstdPath = cfg.Output + ".zst"
		zf, err = os.Create(res.ZstdPath)
		if err != nil {
			return err
		}
		defer zf.Close()
		enc, err = zstd.NewWriter(zf)
		if err != nil {
			return err
		}
		writers = append(writers, enc)
	}

	if _, err := io.Copy(io.MultiWriter(writers...), image); err != nil {
		return err
	}

	if enc != nil {
		if err := enc.Close(); err != nil {
			return err
		}
		if err := zf.Close(); err != nil {
			return err
		}
		log.Infof("compressed image written to %s", res.ZstdPath)
	}
	if cfg.Digest {
		res.Digest = h.Sum(nil)
		sum := hex.EncodeToString(res.Digest)
		line := fmt.Sprintf("%s  %s\n", sum, filepath.Base(cfg.Output))
		if err := os.WriteFile(cfg.Output+".b2sum", []byte(line), 0644); err != nil {
			return err
		}
		log.Infof("BLAKE2b-256 %s", sum)
	}
	return nil
}
