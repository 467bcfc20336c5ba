// CLAUDE:SUMMARY Atomic file writes (temp file in the target directory + rename) with permission failures mapped to ErrOutputLocked.
package export

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutputLocked is returned when an output file cannot be written because
// of permissions, typically because another program holds it open.
var ErrOutputLocked = errors.New("output locked")

const tempMarker = ".tmp-"

// IsTempFile reports whether name is an in-flight temp file created by this
// package. Directory scans use it to skip half-written outputs.
func IsTempFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, ".") && strings.Contains(base, tempMarker)
}

// writeAtomic streams write into a temp file next to path and renames it
// over path once complete. On any failure path is left untouched.
func writeAtomic(path string, write func(io.Writer) error) error {
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+name+tempMarker+"*")
	if err != nil {
		return locked(path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return locked(path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return locked(path, err)
	}
	return nil
}

func locked(path string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: cannot write %s (close it in any program that has it open, e.g. a spreadsheet, and check the directory permissions): %v",
			ErrOutputLocked, path, err)
	}
	return fmt.Errorf("write %s: %w", path, err)
}
