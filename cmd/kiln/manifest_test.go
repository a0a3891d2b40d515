package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "kiln.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFindKilnTomlWalksUp(t *testing.T) {
	root := t.TempDir()
	path := writeManifest(t, root, "[package]\nname = \"demo\"\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	got, ok, err := findKilnToml(nested)
	if err != nil || !ok {
		t.Fatalf("findKilnToml: %v, %v", ok, err)
	}
	if got != path {
		t.Errorf("found %q, want %q", got, path)
	}

	_, ok, err = findKilnToml(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("found a manifest where none exists")
	}
}

func TestLoadProjectConfigValidation(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[target]\narch = \"arm64\"\n")
	if _, _, err := loadProjectManifest(dir); err == nil {
		t.Error("missing [package] must be rejected")
	}
}

func TestBuildConfigFromManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `[package]
name = "demo"

[target]
arch = "arm64"

[heap]
inline_tlab = false
log_allocations = true
alignment = 16
`)
	manifest, ok, err := loadProjectManifest(dir)
	if err != nil || !ok {
		t.Fatalf("loadProjectManifest: %v, %v", ok, err)
	}
	cfg, err := buildConfig("", manifest)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Arch.Name != "arm64" {
		t.Errorf("arch = %q", cfg.Arch.Name)
	}
	if cfg.Heap.InlineTLAB {
		t.Error("inline_tlab = false not honored")
	}
	if !cfg.Heap.LogAllocations || cfg.Heap.ObjectAlignment != 16 {
		t.Errorf("heap config: %+v", cfg.Heap)
	}

	// The command-line target outranks the manifest.
	cfg, err = buildConfig("riscv64", manifest)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Arch.Name != "riscv64" {
		t.Errorf("arch = %q, want the flag to win", cfg.Arch.Name)
	}
}

func TestBuildConfigRejectsBadAlignment(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[package]\nname = \"demo\"\n\n[heap]\nalignment = 12\n")
	manifest, _, err := loadProjectManifest(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := buildConfig("", manifest); err == nil {
		t.Error("non power-of-two alignment must be rejected")
	}
}

func TestBuildConfigDefaults(t *testing.T) {
	cfg, err := buildConfig("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Arch.Name != "amd64" || !cfg.Heap.InlineTLAB {
		t.Errorf("defaults: %s, %+v", cfg.Arch.Name, cfg.Heap)
	}
	if cfg.Registry == nil {
		t.Error("registry not populated")
	}
}
