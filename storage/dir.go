package storage

import (
	"fmt"
	"os"
	"strings"
)

// Dir manages the user data directory of a browser.
type Dir struct {
	// Dir is the path of the directory after Make.
	Dir string

	// remove is true when the directory was created by Make.
	remove bool

	fsMkdirTemp func(dir, pattern string) (string, error)
	fsRemoveAll func(path string) error
}

// Make sets Dir to dir when it is a non-empty string. Otherwise it creates
// a new temporary directory in tmpDir, or in the default temporary
// directory if tmpDir is empty, and removes it on Cleanup.
func (d *Dir) Make(tmpDir string, dir any) error {
	if d.fsMkdirTemp == nil {
		d.fsMkdirTemp = os.MkdirTemp
	}
	if d.fsRemoveAll == nil {
		d.fsRemoveAll = os.RemoveAll
	}

	if s, ok := dir.(string); ok && strings.TrimSpace(s) != "" {
		d.Dir = s
		return nil
	}

	var err error
	if d.Dir, err = d.fsMkdirTemp(tmpDir, "xk6-webview-data-*"); err != nil {
		return fmt.Errorf("creating a temporary directory: %w", err)
	}
	d.remove = true

	return nil
}

// Cleanup removes the directory if Make created it.
func (d *Dir) Cleanup() error {
	if !d.remove || d.Dir == "" {
		return nil
	}
	if err := d.fsRemoveAll(d.Dir); err != nil {
		return fmt.Errorf("removing the directory %q: %w", d.Dir, err)
	}
	d.remove = false

	return nil
}
