package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"kiln/internal/arch"
	"kiln/internal/gen"
	"kiln/internal/heap"
	"kiln/internal/rt"
)

type projectManifest struct {
	Path   string
	Root   string
	Config projectConfig
}

type projectConfig struct {
	Package packageConfig `toml:"package"`
	Target  targetConfig  `toml:"target"`
	Heap    heapConfig    `toml:"heap"`
}

type packageConfig struct {
	Name string `toml:"name"`
}

type targetConfig struct {
	Arch string `toml:"arch"`
}

type heapConfig struct {
	InlineTLAB     *bool `toml:"inline_tlab"`
	LogAllocations bool  `toml:"log_allocations"`
	Alignment      int   `toml:"alignment"`
}

func findKilnToml(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, "kiln.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// loadProjectManifest walks up from startDir looking for kiln.toml. A
// missing manifest is not an error; the caller falls back to defaults.
func loadProjectManifest(startDir string) (*projectManifest, bool, error) {
	manifestPath, ok, err := findKilnToml(startDir)
	if err != nil || !ok {
		return nil, ok, err
	}
	cfg, err := loadProjectConfig(manifestPath)
	if err != nil {
		return nil, true, err
	}
	return &projectManifest{
		Path:   manifestPath,
		Root:   filepath.Dir(manifestPath),
		Config: cfg,
	}, true, nil
}

func loadProjectConfig(path string) (projectConfig, error) {
	var cfg projectConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return projectConfig{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if !meta.IsDefined("package") {
		return projectConfig{}, fmt.Errorf("%s: missing [package]", path)
	}
	if !meta.IsDefined("package", "name") || strings.TrimSpace(cfg.Package.Name) == "" {
		return projectConfig{}, fmt.Errorf("%s: missing [package].name", path)
	}
	return cfg, nil
}

// buildConfig resolves the catalog configuration: command-line target
// first, then the manifest, then amd64 with the default heap scheme.
func buildConfig(targetFlag string, manifest *projectManifest) (gen.Config, error) {
	name := strings.TrimSpace(targetFlag)
	scheme := heap.Default()
	if manifest != nil {
		if name == "" {
			name = strings.TrimSpace(manifest.Config.Target.Arch)
		}
		hc := manifest.Config.Heap
		if hc.InlineTLAB != nil {
			scheme.InlineTLAB = *hc.InlineTLAB
		}
		scheme.LogAllocations = hc.LogAllocations
		if hc.Alignment != 0 {
			if hc.Alignment < 0 || hc.Alignment&(hc.Alignment-1) != 0 {
				return gen.Config{}, fmt.Errorf("%s: [heap].alignment must be a power of two", manifest.Path)
			}
			scheme.ObjectAlignment = hc.Alignment
		}
	}
	if name == "" {
		name = "amd64"
	}
	target, err := arch.ByName(name)
	if err != nil {
		return gen.Config{}, err
	}
	reg := rt.NewRegistry()
	if err := rt.StandardBindings(reg); err != nil {
		return gen.Config{}, err
	}
	return gen.Config{Arch: target, Heap: scheme, Registry: reg}, nil
}
