package version

import (
	"strings"
	"testing"
)

func TestVersionDefault(t *testing.T) {
	if Version == "" {
		t.Error("Version should have a default value")
	}
	if !strings.Contains(Version, ".") {
		t.Errorf("Version %q does not look semantic", Version)
	}
}

func TestVersionOverride(t *testing.T) {
	orig := Version
	defer func() { Version = orig }()

	// Simulates build-time ldflags.
	Version = "1.2.3"
	if Version != "1.2.3" {
		t.Errorf("Version = %q, want 1.2.3", Version)
	}
}
