package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestReadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	const contents = `{
  "kernel": "kernel/target/x86_64-nell/release/kernel",
  "disk_guid": "7B1E6F2C-9D40-4A55-8C1E-2F3A4B5C6D7E",
  "partition_padding": 0,
  "zstd": true
}`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	want.Kernel = "kernel/target/x86_64-nell/release/kernel"
	want.DiskGUID = "7B1E6F2C-9D40-4A55-8C1E-2F3A4B5C6D7E"
	zero := uint64(0)
	want.PartitionPadding = &zero
	want.Zstd = true
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected config: diff (-want +got):\n%s", diff)
	}
}

func TestLoadFallsBack(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	t.Setenv("HOME", home)

	got, err := ProfileSpecific("qemutesting").Load()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), got); diff != "" {
		t.Fatalf("unexpected config without files: diff (-want +got):\n%s", diff)
	}

	global := filepath.Join(Dir(), fileName)
	if err := os.MkdirAll(filepath.Dir(global), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(global, []byte(`{"digest": true}`), 0644); err != nil {
		t.Fatal(err)
	}
	got, err = ProfileSpecific("qemutesting").Load()
	if err != nil {
		t.Fatal(err)
	}
	if !got.Digest {
		t.Fatalf("global config not applied: %+v", got)
	}

	specific := filepath.Join(string(ProfileSpecific("qemutesting")), fileName)
	if err := os.MkdirAll(filepath.Dir(specific), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(specific, []byte(`{"output": "/dev/sdz"}`), 0644); err != nil {
		t.Fatal(err)
	}
	got, err = ProfileSpecific("qemutesting").Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.Output != "/dev/sdz" || got.Digest {
		t.Fatalf("profile-specific config not preferred: %+v", got)
	}
}
