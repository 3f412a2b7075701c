// Package profileflag provides the --profile flag shared by nellimg
// commands. Without the flag, the profile is taken from $NELLBOOT_PROFILE or
// from the working directory when it is inside a profile directory.
package profileflag

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nellos/nellboot/config"
	"github.com/spf13/pflag"
)

const defaultProfile = "nell-x86_64"

var (
	parentDir = func() string {
		def := os.Getenv("NELLBOOT_PROFILES_DIR")
		if def == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				configDir = fmt.Sprintf("os.UserConfigDir failed: %v", err)
			}
			def = filepath.Join(configDir, "nellboot", "profiles")
		}
		return def
	}()

	profile = func() string {
		def := os.Getenv("NELLBOOT_PROFILE")
		if def == "" {
			def = profileFromPWD()
		}
		if def == "" {
			def = defaultProfile
		}
		return def
	}()
)

func profileFromPWD() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return profileFromDir(wd, parentDir)
}

func profileFromDir(wd, parent string) string {
	wdAbs, err := filepath.Abs(wd)
	if err != nil {
		return ""
	}

	parentAbs, err := filepath.Abs(parent)
	if err != nil {
		return ""
	}

	if !strings.HasPrefix(wdAbs, parentAbs+"/") {
		return ""
	}

	// Process is running in a profile directory (a subdirectory of the
	// parent dir), so default the profile flag to that same
	// subdirectory.
	p := strings.TrimPrefix(wdAbs, parentAbs+"/")
	if idx := strings.IndexRune(p, '/'); idx > -1 {
		p = p[:idx]
	}
	return p
}

func RegisterPflags(fs *pflag.FlagSet) {
	fs.StringVarP(&profile,
		"profile",
		"p",
		profile,
		`partition layout profile, identified by slug`)

	fs.StringVar(&parentDir,
		"profiles_dir",
		parentDir,
		`parent directory: contains one configuration subdirectory per profile`)
}

func SetProfile(p string) {
	profile = p
}

func Profile() string {
	return profile
}

func ParentDir() string {
	return parentDir
}

// Dir returns the configuration directory of the selected profile.
func Dir() config.ProfileDir {
	return config.ProfileDir(filepath.Join(parentDir, profile))
}
