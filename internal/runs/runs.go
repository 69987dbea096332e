// Package runs allocates the isolated directory tree a job owns for the
// whole of its life. No two jobs ever share a tree, and a tree is removed
// only by explicit cleanup.
package runs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/nwestra/loopmix/internal/assets"
)

// Scratch and output sub-areas alongside the asset class directories.
const (
	outputDir  = "output"
	scratchDir = ".tmp"
)

// Dir is one job's run directory tree.
type Dir struct {
	// ID is the globally unique run identifier (job id + random suffix).
	ID string
	// Root is the absolute path of the tree.
	Root string
}

// allocAttempts bounds the retry loop on suffix collision. With an 8-hex
// suffix a single retry is already vanishingly unlikely.
const allocAttempts = 5

// Allocate creates a fresh run directory for the job under root. Creation
// is atomic check-and-create: concurrent calls can never end up sharing a
// tree, because os.Mkdir fails on an existing path.
func Allocate(root string, jobID int64) (*Dir, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create runs root: %w", err)
	}

	for attempt := 0; attempt < allocAttempts; attempt++ {
		id := fmt.Sprintf("run-%d-%s", jobID, uuid.NewString()[:8])
		dir := filepath.Join(root, id)

		err := os.Mkdir(dir, 0755)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create run directory: %w", err)
		}

		d := &Dir{ID: id, Root: dir}
		if err := d.createSubdirs(); err != nil {
			_ = os.RemoveAll(dir)
			return nil, err
		}
		return d, nil
	}
	return nil, fmt.Errorf("could not allocate unique run directory for job %d", jobID)
}

// Open rehydrates a Dir from a persisted root path without touching the
// filesystem. Used when acting on jobs loaded from the store.
func Open(runID, rootPath string) *Dir {
	return &Dir{ID: runID, Root: rootPath}
}

func (d *Dir) createSubdirs() error {
	names := make([]string, 0, len(assets.Classes)+2)
	for _, c := range assets.Classes {
		names = append(names, string(c))
	}
	names = append(names, outputDir, scratchDir)

	for _, name := range names {
		if err := os.MkdirAll(filepath.Join(d.Root, name), 0755); err != nil {
			return fmt.Errorf("create run subdirectory %s: %w", name, err)
		}
	}
	return nil
}

// ClassDir returns the directory holding one asset class.
func (d *Dir) ClassDir(class assets.Class) string {
	return filepath.Join(d.Root, string(class))
}

// OutputDir returns where the finished video is written.
func (d *Dir) OutputDir() string {
	return filepath.Join(d.Root, outputDir)
}

// ScratchDir returns the intermediate-file area the renderer works in.
func (d *Dir) ScratchDir() string {
	return filepath.Join(d.Root, scratchDir)
}

// AssetPath returns the on-disk location for a (class, filename) pair.
func (d *Dir) AssetPath(class assets.Class, filename string) string {
	return filepath.Join(d.ClassDir(class), filename)
}

// ClearScratch empties the intermediate-file area, keeping inputs and
// output intact. Called after every render attempt.
func (d *Dir) ClearScratch() error {
	scratch := d.ScratchDir()
	if err := os.RemoveAll(scratch); err != nil {
		return err
	}
	return os.MkdirAll(scratch, 0755)
}

// Remove deletes this run's entire tree. It never reaches outside Root,
// so removing one job's tree cannot affect another's.
func (d *Dir) Remove() error {
	return os.RemoveAll(d.Root)
}
