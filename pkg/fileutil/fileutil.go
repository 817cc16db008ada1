// Package fileutil provides small filesystem helpers shared by the sandbox
// and session packages that need crash-safe writes.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to path via a temp file + rename so readers
// never observe a partially-written file. The parent directory is created
// if missing, using a directory mode derived from perm (adding the execute
// bit wherever a read bit is set, the usual convention for turning a file
// mode into a usable directory mode).
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	dirPerm := dirModeFor(perm)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}
	_ = os.Chmod(dir, dirPerm)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("fileutil: rename temp file: %w", err)
	}

	_ = os.Chmod(path, perm)
	return nil
}

func dirModeFor(perm os.FileMode) os.FileMode {
	mode := perm
	if mode&0o400 != 0 {
		mode |= 0o100
	}
	if mode&0o040 != 0 {
		mode |= 0o010
	}
	if mode&0o004 != 0 {
		mode |= 0o001
	}
	return mode
}
