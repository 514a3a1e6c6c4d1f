package launcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/ZebulonRouseFrantzich/buckle/internal/config"
)

var errNotRegular = errors.New("not a regular file")

// Select picks the binary to run among the declared ones:
//
//  1. selector (BUCKLE_BINARY), which must name a declared binary;
//  2. the base name of argv0, for multi-call symlinks;
//  3. the first binary, when declarations are ordered or there is only one.
//
// Otherwise the choice is ambiguous.
func Select(cfg *config.EffectiveConfig, selector, argv0 string) (config.Binary, error) {
	if selector != "" {
		if b, ok := cfg.FindBinary(selector); ok {
			return b, nil
		}
		return config.Binary{}, &LaunchError{Kind: KindUnknownBinary, Binary: selector, Candidates: cfg.BinaryNames()}
	}

	if argv0 != "" {
		if b, ok := cfg.FindBinary(invokedName(argv0)); ok {
			return b, nil
		}
	}

	if len(cfg.Binaries) == 1 || (cfg.BinariesOrdered && len(cfg.Binaries) > 0) {
		return cfg.Binaries[0], nil
	}
	return config.Binary{}, &LaunchError{Kind: KindAmbiguousBinary, Candidates: cfg.BinaryNames()}
}

func invokedName(argv0 string) string {
	name := filepath.Base(argv0)
	if runtime.GOOS == "windows" {
		name = strings.TrimSuffix(strings.ToLower(name), ".exe")
	}
	return name
}

// CheckExecutable reports a KindMissingExecutable error unless path is a
// regular file with an execute bit set. The bit is not checked on Windows.
func CheckExecutable(name, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &LaunchError{Kind: KindMissingExecutable, Binary: name, Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return &LaunchError{Kind: KindMissingExecutable, Binary: name, Path: path, Err: errNotRegular}
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return &LaunchError{Kind: KindMissingExecutable, Binary: name, Path: path, Err: fs.ErrPermission}
	}
	return nil
}
