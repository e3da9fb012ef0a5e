package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Dir loads hardhat artifacts from an artifacts directory
// (artifacts/contracts/**/<Name>.json).
type Dir struct {
	root string

	mu    sync.Mutex
	cache map[string]*Artifact
}

// NewDir creates a directory-backed source. The directory must exist.
func NewDir(root string) (*Dir, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("artifacts directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("artifacts path %s is not a directory", root)
	}
	return &Dir{root: root, cache: make(map[string]*Artifact)}, nil
}

var errFound = errors.New("found")

// Load finds and parses the artifact for name. Results are memoized.
func (d *Dir) Load(name string) (*Artifact, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if a, ok := d.cache[name]; ok {
		return a, nil
	}

	var path string
	err := filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if entry.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.Name() == name+".json" {
			path = p
			return errFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return nil, fmt.Errorf("searching artifacts for %s: %w", name, err)
	}
	if path == "" {
		return nil, &NotFoundError{Name: name}
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path found under the artifacts root
	if err != nil {
		return nil, fmt.Errorf("reading artifact %s: %w", name, err)
	}
	a, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}

	bi, err := loadBuildInfo(path)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}
	a.BuildInfo = bi

	d.cache[name] = a
	return a, nil
}

// loadBuildInfo follows the <Name>.dbg.json pointer next to an artifact.
// A missing debug file is not an error.
func loadBuildInfo(artifactPath string) (*BuildInfo, error) {
	dbgPath := strings.TrimSuffix(artifactPath, ".json") + ".dbg.json"
	data, err := os.ReadFile(dbgPath) //nolint:gosec // G304: sibling of a located artifact
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading debug file: %w", err)
	}

	var dbg struct {
		BuildInfo string `json:"buildInfo"`
	}
	if err := json.Unmarshal(data, &dbg); err != nil {
		return nil, fmt.Errorf("decoding debug file: %w", err)
	}
	if dbg.BuildInfo == "" {
		return nil, nil
	}

	biPath := filepath.Join(filepath.Dir(artifactPath), filepath.FromSlash(dbg.BuildInfo))
	data, err = os.ReadFile(biPath) //nolint:gosec // G304: path relative to the artifacts tree
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading build info: %w", err)
	}
	var bi BuildInfo
	if err := json.Unmarshal(data, &bi); err != nil {
		return nil, fmt.Errorf("decoding build info: %w", err)
	}
	return &bi, nil
}

// Memory is an in-memory source, used for simulations and tests.
type Memory struct {
	artifacts map[string]*Artifact
}

// NewMemory creates a source holding the given artifacts.
func NewMemory(list ...*Artifact) *Memory {
	m := &Memory{artifacts: make(map[string]*Artifact, len(list))}
	for _, a := range list {
		m.artifacts[a.Name] = a
	}
	return m
}

// Load returns the artifact registered under name.
func (m *Memory) Load(name string) (*Artifact, error) {
	a, ok := m.artifacts[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return a, nil
}
