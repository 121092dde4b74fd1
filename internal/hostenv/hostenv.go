// Package hostenv is the thin seam between Minima and its host platform:
// file modification times and the compiled-module cache root (spec.md §1
// non-goal "platform filesystem/logging helpers treated abstractly"). Text
// I/O is not here: the VM takes its io.Reader/io.Writer through the
// vm.Input/vm.Output options, after db47h/ngaro's vm/io.go.
package hostenv

import (
	"os"
	"path/filepath"
	"runtime"
)

// ModTime returns path's modification time, used by the module loader's MX
// freshness check (spec.md §4.8: "MX modification time >= MI modification
// time").
func ModTime(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.ModTime().Unix(), nil
}

// DefaultCacheRoot computes the platform-default cache root when
// --cache-dir is not supplied (spec.md §6): LOCALAPPDATA/minima on
// Windows, XDG_CACHE_HOME/minima or HOME/.cache/minima on Unix, falling
// back to the system temp directory.
func DefaultCacheRoot() string {
	if runtime.GOOS == "windows" {
		if base := os.Getenv("LOCALAPPDATA"); base != "" {
			return filepath.Join(base, "minima")
		}
		return filepath.Join(os.TempDir(), "minima")
	}
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "minima")
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".cache", "minima")
	}
	return filepath.Join(os.TempDir(), "minima")
}
