package arch

import (
	"testing"

	"kiln/internal/kind"
	"kiln/internal/tir"
)

func emitAlign(t *testing.T, target Arch, elemSize int) *tir.Template {
	t.Helper()
	a := tir.NewAssembler()
	a.Restart(kind.Void)
	length := a.NewParam("length", kind.Int)
	size := a.NewTemp("arraySize", kind.Word)
	target.Aligner().AlignArraySize(a, length, size, elemSize, int32(elemSize), 16, 8)
	tpl, err := a.Finish("align")
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return tpl
}

func countOp(tpl *tir.Template, op tir.Op) int {
	n := 0
	for _, in := range tpl.Instrs {
		if in.Op == op {
			n++
		}
	}
	return n
}

func TestMaskAlignerSkipsMaskForAlignedElements(t *testing.T) {
	// 8-byte elements on an 8-byte-aligned heap cannot misalign the size,
	// so the straight-line form is two instructions.
	tpl := emitAlign(t, AMD64(), 8)
	if len(tpl.Instrs) != 2 {
		t.Fatalf("instrs = %d, want 2:\n%v", len(tpl.Instrs), tpl.Instrs)
	}
	if countOp(tpl, tir.OpAnd) != 0 {
		t.Error("aligned element size still masks")
	}
}

func TestMaskAlignerMasksSmallElements(t *testing.T) {
	tpl := emitAlign(t, AMD64(), 4)
	if countOp(tpl, tir.OpAnd) != 1 {
		t.Errorf("mask count = %d, want 1", countOp(tpl, tir.OpAnd))
	}
	if countOp(tpl, tir.OpJeq) != 0 {
		t.Error("straight-line family must not branch")
	}
}

func TestBranchAlignerBranches(t *testing.T) {
	target := ARM()
	tpl := emitAlign(t, target, 4)
	if countOp(tpl, tir.OpJeq) != 1 {
		t.Errorf("branch count = %d, want 1", countOp(tpl, tir.OpJeq))
	}
	// The low-bits test runs in the family's scratch register.
	found := false
	for _, id := range tpl.Temps {
		if tpl.Operand(id).Register == target.Scratch {
			found = true
		}
	}
	if !found {
		t.Errorf("no temp pinned to scratch register %s", target.Scratch)
	}
}

func TestByName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"amd64", "amd64"},
		{"x86_64", "amd64"},
		{"AArch64", "arm64"},
		{"rv64", "riscv64"},
		{"armv7", "arm"},
	}
	for _, tc := range cases {
		got, err := ByName(tc.in)
		if err != nil {
			t.Errorf("ByName(%q): %v", tc.in, err)
			continue
		}
		if got.Name != tc.want {
			t.Errorf("ByName(%q) = %s, want %s", tc.in, got.Name, tc.want)
		}
	}
	if _, err := ByName("vax"); err == nil {
		t.Error("unknown target accepted")
	}
}

func TestWordSizes(t *testing.T) {
	for _, target := range []Arch{AMD64(), ARM64(), RISCV64()} {
		if target.WordSize != 8 {
			t.Errorf("%s word size = %d", target.Name, target.WordSize)
		}
	}
	if ARM().WordSize != 4 {
		t.Errorf("arm word size = %d", ARM().WordSize)
	}
}
