package tir

import (
	"strings"
	"testing"

	"kiln/internal/kind"
)

func TestFinishFreezesTemplate(t *testing.T) {
	a := NewAssembler()
	res := a.Restart(kind.Int)
	x := a.NewParam("x", kind.Int)
	y := a.NewParam("y", kind.Int)
	a.Add(res, x, y)
	first, err := a.Finish("sum")
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	// A later build on the same assembler must not disturb the frozen one.
	a.Restart(kind.Void)
	a.Safepoint()
	a.Safepoint()
	if _, err := a.Finish("poll"); err != nil {
		t.Fatalf("second Finish: %v", err)
	}
	if len(first.Instrs) != 1 || first.Instrs[0].Op != OpAdd {
		t.Errorf("frozen template mutated: %+v", first.Instrs)
	}
	if got := first.ParamKinds(); len(got) != 2 || got[0] != kind.Int || got[1] != kind.Int {
		t.Errorf("param kinds = %v", got)
	}
}

func TestFinishBeforeRestart(t *testing.T) {
	a := NewAssembler()
	if _, err := a.Finish("empty"); err == nil {
		t.Error("finish before restart must fail")
	}
}

func TestUnboundLabelRejected(t *testing.T) {
	a := NewAssembler()
	a.Restart(kind.Void)
	x := a.NewParam("x", kind.Int)
	miss := a.InlineLabel("miss")
	a.Jeq(miss, x, a.I(0))
	if _, err := a.Finish("dangling"); err == nil || !strings.Contains(err.Error(), "never bound") {
		t.Errorf("unbound label: %v", err)
	}
}

func TestDoubleBindRejected(t *testing.T) {
	a := NewAssembler()
	a.Restart(kind.Void)
	l := a.InlineLabel("twice")
	a.Bind(l)
	a.Safepoint()
	a.Bind(l)
	if _, err := a.Finish("rebound"); err == nil || !strings.Contains(err.Error(), "bound twice") {
		t.Errorf("double bind: %v", err)
	}
}

func TestStubArityChecked(t *testing.T) {
	a := NewAssembler()
	res := a.Restart(kind.Word)
	p := a.NewParam("size", kind.Int)
	a.CallBinding("allocate", res, p)
	stub, err := a.FinishStub("stub:allocate")
	if err != nil {
		t.Fatalf("FinishStub: %v", err)
	}
	if !stub.IsStub {
		t.Error("stub flag not set")
	}

	res = a.Restart(kind.Word)
	a.CallStub(stub, res)
	if _, err := a.Finish("caller"); err == nil {
		t.Error("stub call with missing argument must fail the build")
	}
}

func TestStubRefsDeduplicated(t *testing.T) {
	a := NewAssembler()
	res := a.Restart(kind.Word)
	a.CallBinding("probe", res)
	stub, err := a.FinishStub("stub:probe")
	if err != nil {
		t.Fatal(err)
	}

	res = a.Restart(kind.Word)
	a.CallStub(stub, res)
	a.CallStub(stub, res)
	tpl, err := a.Finish("twice")
	if err != nil {
		t.Fatal(err)
	}
	if refs := tpl.StubRefs(); len(refs) != 1 || refs[0] != stub {
		t.Errorf("stub refs = %v", refs)
	}
}

func TestNewSnippetValidation(t *testing.T) {
	a := NewAssembler()
	res := a.Restart(kind.Int)
	obj := a.NewParam("object", kind.Word)
	off := a.NewConstParam("offset", kind.Int)
	a.Load(kind.Int, res, obj, off, true)
	tpl, err := a.Finish("read")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewSnippet(tpl, WordArg(0x1000), IntArg(8)); err != nil {
		t.Errorf("valid snippet rejected: %v", err)
	}
	if _, err := NewSnippet(tpl, WordArg(0x1000)); err == nil {
		t.Error("arity mismatch accepted")
	}
	if _, err := NewSnippet(tpl, IntArg(0), IntArg(8)); err == nil {
		t.Error("kind mismatch accepted")
	}
	if _, err := NewSnippet(nil); err == nil {
		t.Error("nil template accepted")
	}
}

func TestDumpListsLabelsAndParams(t *testing.T) {
	a := NewAssembler()
	res := a.Restart(kind.Word)
	length := a.NewParam("length", kind.Int)
	slow := a.OutOfLineLabel("slowPath")
	done := a.InlineLabel("done")
	a.Jlt(slow, length, a.I(0))
	a.Mov(res, a.W(1))
	a.Jmp(done)
	a.Bind(slow)
	a.Unreachable()
	a.Bind(done)
	tpl, err := a.Finish("clamp")
	if err != nil {
		t.Fatal(err)
	}

	var b strings.Builder
	tpl.Dump(&b)
	out := b.String()
	for _, want := range []string{"clamp(length:int) -> word", "slowPath:", "[out-of-line]", "done:"} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q:\n%s", want, out)
		}
	}
}
