package observ

import (
	"errors"
	"strings"
	"testing"
)

func TestTimerPhases(t *testing.T) {
	tm := NewTimer()
	idx := tm.Begin("build")
	tm.End(idx, "142 templates")

	if err := tm.Measure("export", func() error { return nil }); err != nil {
		t.Fatalf("Measure: %v", err)
	}
	boom := errors.New("boom")
	if err := tm.Measure("verify", func() error { return boom }); err != boom {
		t.Fatalf("Measure must pass the error through, got %v", err)
	}

	report := tm.Report()
	if len(report.Phases) != 3 {
		t.Fatalf("phases = %d, want 3", len(report.Phases))
	}
	if report.Phases[0].Note != "142 templates" {
		t.Errorf("note = %q", report.Phases[0].Note)
	}
	if report.Phases[2].Note != "failed" {
		t.Errorf("failed phase note = %q", report.Phases[2].Note)
	}

	sum := tm.Summary()
	for _, want := range []string{"build", "export", "verify", "total"} {
		if !strings.Contains(sum, want) {
			t.Errorf("summary missing %q:\n%s", want, sum)
		}
	}
}

func TestTimerEndOutOfRange(t *testing.T) {
	tm := NewTimer()
	tm.End(5, "ignored")
	if got := tm.Report(); len(got.Phases) != 0 {
		t.Errorf("phases = %d, want 0", len(got.Phases))
	}
}
