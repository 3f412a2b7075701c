package profileflag

import (
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func TestProfileFromDir(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "profiles")
	for _, tt := range []struct {
		wd   string
		want string
	}{
		{filepath.Join(parent, "qemutesting"), "qemutesting"},
		{filepath.Join(parent, "nell-x86_64", "out"), "nell-x86_64"},
		{parent, ""},
		{"/", ""},
		{parent + "-other/qemutesting", ""},
	} {
		if got := profileFromDir(tt.wd, parent); got != tt.want {
			t.Errorf("profileFromDir(%q) = %q, want %q", tt.wd, got, tt.want)
		}
	}
}

func TestRegisterPflags(t *testing.T) {
	defer SetProfile(Profile())
	defer func(dir string) { parentDir = dir }(ParentDir())
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterPflags(fs)
	if err := fs.Parse([]string{"-p", "qemutesting", "--profiles_dir", "/etc/nellboot/profiles"}); err != nil {
		t.Fatal(err)
	}
	if got, want := Profile(), "qemutesting"; got != want {
		t.Errorf("Profile() = %q, want %q", got, want)
	}
	if got, want := string(Dir()), "/etc/nellboot/profiles/qemutesting"; got != want {
		t.Errorf("Dir() = %q, want %q", got, want)
	}
}
