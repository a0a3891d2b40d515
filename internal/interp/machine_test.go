package interp

import (
	"testing"

	"kiln/internal/arch"
	"kiln/internal/heap"
	"kiln/internal/kind"
	"kiln/internal/rt"
	"kiln/internal/tir"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	w, err := rt.NewWorld(arch.AMD64(), heap.Default())
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	th, err := rt.NewThread(w)
	if err != nil {
		t.Fatalf("NewThread: %v", err)
	}
	reg := rt.NewRegistry()
	if err := rt.StandardBindings(reg); err != nil {
		t.Fatalf("StandardBindings: %v", err)
	}
	return New(&rt.Env{World: w, Thread: th}, reg)
}

func mustRun(t *testing.T, m *Machine, tpl *tir.Template, args ...tir.Arg) rt.Value {
	t.Helper()
	s, err := tir.NewSnippet(tpl, args...)
	if err != nil {
		t.Fatalf("NewSnippet(%s): %v", tpl.Name, err)
	}
	v, err := m.Run(s)
	if err != nil {
		t.Fatalf("Run(%s): %v", tpl.Name, err)
	}
	return v
}

func TestArithmeticAndBranch(t *testing.T) {
	a := tir.NewAssembler()
	res := a.Restart(kind.Int)
	x := a.NewParam("x", kind.Int)
	y := a.NewParam("y", kind.Int)
	bigger := a.InlineLabel("bigger")
	done := a.InlineLabel("done")
	a.Jgt(bigger, x, y)
	a.Sub(res, y, x)
	a.Jmp(done)
	a.Bind(bigger)
	a.Sub(res, x, y)
	a.Bind(done)
	tpl, err := a.Finish("absdiff")
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	m := newTestMachine(t)
	cases := []struct{ x, y, want int32 }{
		{5, 3, 2},
		{3, 5, 2},
		{-4, 4, 8},
		{7, 7, 0},
	}
	for _, tc := range cases {
		got := mustRun(t, m, tpl, tir.IntArg(tc.x), tir.IntArg(tc.y))
		if got.Int() != tc.want {
			t.Errorf("absdiff(%d, %d) = %d, want %d", tc.x, tc.y, got.Int(), tc.want)
		}
	}
}

func TestIntArithmeticWraps(t *testing.T) {
	a := tir.NewAssembler()
	res := a.Restart(kind.Int)
	x := a.NewParam("x", kind.Int)
	a.Add(res, x, a.I(1))
	tpl, err := a.Finish("inc")
	if err != nil {
		t.Fatal(err)
	}
	m := newTestMachine(t)
	got := mustRun(t, m, tpl, tir.IntArg(2147483647))
	if got.Int() != -2147483648 {
		t.Errorf("max int + 1 = %d, want wraparound", got.Int())
	}
}

func TestLoadStoreRoundtrip(t *testing.T) {
	m := newTestMachine(t)
	w := m.Env.World
	cell, err := w.Reserve(64)
	if err != nil {
		t.Fatal(err)
	}

	a := tir.NewAssembler()
	a.Restart(kind.Void)
	base := a.NewParam("base", kind.Word)
	val := a.NewParam("value", kind.Short)
	a.Store(kind.Short, base, a.I(10), val, false)
	storeT, err := a.Finish("storeShort")
	if err != nil {
		t.Fatal(err)
	}

	res := a.Restart(kind.Short)
	base = a.NewParam("base", kind.Word)
	a.Load(kind.Short, res, base, a.I(10), false)
	loadT, err := a.Finish("loadShort")
	if err != nil {
		t.Fatal(err)
	}

	mustRun(t, m, storeT, tir.WordArg(int64(cell)), tir.KindArg(kind.Short, -123))
	got := mustRun(t, m, loadT, tir.WordArg(int64(cell)))
	if int16(got.Bits) != -123 {
		t.Errorf("load = %d, want -123 sign-extended", int16(got.Bits))
	}
}

func TestTrappingLoadOnNull(t *testing.T) {
	a := tir.NewAssembler()
	res := a.Restart(kind.Int)
	obj := a.NewParam("object", kind.Word)
	a.Load(kind.Int, res, obj, a.I(8), true)
	tpl, err := a.Finish("loadField")
	if err != nil {
		t.Fatal(err)
	}
	m := newTestMachine(t)
	s, err := tir.NewSnippet(tpl, tir.WordArg(0))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Run(s); !rt.IsVMError(err, rt.ErrNullPointer) {
		t.Errorf("trapping load on null: %v", err)
	}
}

func TestStubCallFlowsThroughBinding(t *testing.T) {
	m := newTestMachine(t)
	w := m.Env.World
	cls, err := w.DefineClass(rt.ClassInfo{Name: "Box"})
	if err != nil {
		t.Fatal(err)
	}

	// Stub: transfers into allocateTuple.
	a := tir.NewAssembler()
	sres := a.Restart(kind.Word)
	hub := a.NewParam("hub", kind.Word)
	a.CallBinding(rt.BindAllocateTuple, sres, hub)
	stub, err := a.FinishStub("stub-allocateTuple")
	if err != nil {
		t.Fatal(err)
	}

	res := a.Restart(kind.Word)
	hubParam := a.NewConstParam("hub", kind.Ref)
	a.CallStub(stub, res, hubParam)
	tpl, err := a.Finish("new")
	if err != nil {
		t.Fatal(err)
	}

	got := mustRun(t, m, tpl, tir.RefArg(cls.Hub))
	if got.Bits == 0 {
		t.Fatal("allocation returned null")
	}
	if c, err := w.ClassOf(got.Bits); err != nil || c != cls {
		t.Errorf("allocated class = %v, %v", c, err)
	}
}

func TestDeoptSurfacesAsSentinel(t *testing.T) {
	a := tir.NewAssembler()
	a.Restart(kind.Void)
	a.Deopt()
	tpl, err := a.Finish("alwaysDeopt")
	if err != nil {
		t.Fatal(err)
	}
	m := newTestMachine(t)
	s, err := tir.NewSnippet(tpl)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Run(s); err != rt.ErrDeoptimized {
		t.Errorf("got %v, want ErrDeoptimized", err)
	}
	if m.Deopts != 1 {
		t.Errorf("deopt count = %d", m.Deopts)
	}
}

func TestLatchTempCarriesThreadLocals(t *testing.T) {
	m := newTestMachine(t)
	a := tir.NewAssembler()
	res := a.Restart(kind.Word)
	tla := a.NewRegisterTemp("tla", kind.Word, m.Env.World.Arch.Latch)
	a.Mov(res, tla)
	tpl, err := a.Finish("readLatch")
	if err != nil {
		t.Fatal(err)
	}
	got := mustRun(t, m, tpl)
	if got.Bits != m.Env.Thread.TLA {
		t.Errorf("latch = %#x, want TLA %#x", got.Bits, m.Env.Thread.TLA)
	}
}
