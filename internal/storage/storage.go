package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// MainModule is the bundled entry module written by the bundler.
	MainModule = "main.js"
	// MainSourceMap is the source map emitted next to MainModule.
	MainSourceMap = "main.js.map"
)

var (
	// ErrUnsafeDir indicates an output directory that must never be wiped.
	ErrUnsafeDir = errors.New("refusing to clear unsafe output directory")
)

// ArtifactFiles lists the files read back after a build, in upload order.
var ArtifactFiles = []string{MainModule, MainSourceMap}

// Artifact is one built file as it will be uploaded.
type Artifact struct {
	ModuleName string
	SizeBytes  int64
	Contents   string
}

// Dist manages the build output directory.
type Dist struct {
	dir string
}

// NewDist returns a Dist rooted at dir.
func NewDist(dir string) *Dist {
	return &Dist{dir: dir}
}

// Dir returns the directory managed by d.
func (d *Dist) Dir() string {
	return d.dir
}

// Path returns the location of name inside the output directory.
func (d *Dist) Path(name string) string {
	return filepath.Join(d.dir, name)
}

// Clear removes the output directory and everything in it, then recreates it empty.
func (d *Dist) Clear() error {
	if err := checkSafe(d.dir); err != nil {
		return err
	}

	if err := os.RemoveAll(d.dir); err != nil {
		return fmt.Errorf("remove %s: %w", d.dir, err)
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", d.dir, err)
	}
	return nil
}

// Write stores contents under name, creating the output directory if needed.
func (d *Dist) Write(name string, contents []byte) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", d.dir, err)
	}
	if err := os.WriteFile(d.Path(name), contents, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Remove deletes the named files. Files that do not exist are skipped.
func (d *Dist) Remove(names ...string) error {
	var errs []error
	for _, name := range names {
		if err := os.Remove(d.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Read loads one built file.
func (d *Dist) Read(name string) (Artifact, error) {
	data, err := os.ReadFile(d.Path(name))
	if err != nil {
		return Artifact{}, fmt.Errorf("read %s: %w", name, err)
	}

	return Artifact{
		ModuleName: ModuleName(name),
		SizeBytes:  int64(len(data)),
		Contents:   string(data),
	}, nil
}

// ReadAll loads the named files in order, stopping at the first failure.
func (d *Dist) ReadAll(names ...string) ([]Artifact, error) {
	artifacts := make([]Artifact, 0, len(names))
	for _, name := range names {
		artifact, err := d.Read(name)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}

// ModuleName derives the module name a file is uploaded under: a trailing ".js" is
// dropped, anything else is kept verbatim.
func ModuleName(filename string) string {
	return strings.TrimSuffix(filename, ".js")
}

// TotalSize sums the sizes of artifacts.
func TotalSize(artifacts []Artifact) int64 {
	var total int64
	for _, a := range artifacts {
		total += a.SizeBytes
	}
	return total
}

// Modules maps module names to file contents.
func Modules(artifacts []Artifact) map[string]string {
	modules := make(map[string]string, len(artifacts))
	for _, a := range artifacts {
		modules[a.ModuleName] = a.Contents
	}
	return modules
}

func checkSafe(dir string) error {
	cleaned := filepath.Clean(strings.TrimSpace(dir))
	if strings.TrimSpace(dir) == "" || cleaned == "." || cleaned == ".." {
		return fmt.Errorf("%w: %q", ErrUnsafeDir, dir)
	}
	if cleaned == filepath.VolumeName(cleaned)+string(filepath.Separator) {
		return fmt.Errorf("%w: %q", ErrUnsafeDir, dir)
	}
	return nil
}
