package rt

import (
	"testing"

	"kiln/internal/kind"
)

func newTestEnv(t *testing.T) *Env {
	t.Helper()
	w := newTestWorld(t)
	th, err := NewThread(w)
	if err != nil {
		t.Fatalf("NewThread: %v", err)
	}
	return &Env{World: w, Thread: th}
}

func callBinding(t *testing.T, env *Env, reg *Registry, name string, args ...Value) (Value, error) {
	t.Helper()
	b, ok := reg.Lookup(name)
	if !ok {
		t.Fatalf("binding %q not registered", name)
	}
	if len(args) != len(b.Params) {
		t.Fatalf("binding %q called with %d args, signature has %d", name, len(args), len(b.Params))
	}
	return b.Fn(env, args)
}

func TestStandardBindingsRegister(t *testing.T) {
	reg := NewRegistry()
	if err := StandardBindings(reg); err != nil {
		t.Fatalf("StandardBindings: %v", err)
	}
	for _, name := range []string{
		BindResolveFieldOffset, BindResolveVirtualOffset, BindSlowPathAllocate,
		BindAllocateArray, BindCheckcast, BindMonitorEnter, BindLoadException,
		MultiArrayBinding(2), MultiArrayBinding(6),
	} {
		if _, ok := reg.Lookup(name); !ok {
			t.Errorf("binding %q missing", name)
		}
	}
	if err := StandardBindings(reg); err == nil {
		t.Error("double registration should fail")
	}
}

func TestStaticResolutionForcesInit(t *testing.T) {
	env := newTestEnv(t)
	reg := NewRegistry()
	if err := StandardBindings(reg); err != nil {
		t.Fatal(err)
	}
	cls, err := env.World.DefineClass(ClassInfo{
		Name:   "S",
		Fields: []FieldInfo{{Name: "c", Kind: kind.Int, Static: true}},
	})
	if err != nil {
		t.Fatal(err)
	}

	p := NewPool()
	g := p.FieldGuard("S", "c")
	garg := RefVal(env.World.Intern(g), g)

	off, err := callBinding(t, env, reg, BindResolveStaticFieldOffset, garg)
	if err != nil {
		t.Fatalf("resolve static field: %v", err)
	}
	if off.Int() != cls.FieldByName("c").Offset {
		t.Errorf("offset = %d, want %d", off.Int(), cls.FieldByName("c").Offset)
	}
	if !cls.Initialized() {
		t.Error("static field resolution must force class init")
	}

	tuple, err := callBinding(t, env, reg, BindResolveStaticTuple, garg)
	if err != nil {
		t.Fatalf("resolve static tuple: %v", err)
	}
	if tuple.Bits != cls.StaticTuple {
		t.Errorf("static tuple = %#x, want %#x", tuple.Bits, cls.StaticTuple)
	}
	if cls.InitCount() != 1 {
		t.Errorf("init ran %d times, want 1", cls.InitCount())
	}
}

func TestVirtualOffsetMatchesHubSlot(t *testing.T) {
	env := newTestEnv(t)
	reg := NewRegistry()
	if err := StandardBindings(reg); err != nil {
		t.Fatal(err)
	}
	cls, err := env.World.DefineClass(ClassInfo{Name: "V", Methods: []string{"run"}})
	if err != nil {
		t.Fatal(err)
	}
	m := cls.MethodByName("run")

	p := NewPool()
	g := p.MethodGuard("V", "run")
	off, err := callBinding(t, env, reg, BindResolveVirtualOffset, RefVal(env.World.Intern(g), g))
	if err != nil {
		t.Fatalf("resolve virtual: %v", err)
	}
	entry, err := env.World.LoadWord(cls.Hub.Addr + uint64(off.Int()))
	if err != nil {
		t.Fatal(err)
	}
	if entry != m.Entry {
		t.Errorf("hub word at offset %d = %#x, want entry %#x", off.Int(), entry, m.Entry)
	}
}

func TestLinkToVirtualSelectsOverride(t *testing.T) {
	env := newTestEnv(t)
	reg := NewRegistry()
	if err := StandardBindings(reg); err != nil {
		t.Fatal(err)
	}
	base, err := env.World.DefineClass(ClassInfo{Name: "B", Methods: []string{"f"}})
	if err != nil {
		t.Fatal(err)
	}
	sub, err := env.World.DefineClass(ClassInfo{Name: "D", Super: base, Methods: []string{"f"}})
	if err != nil {
		t.Fatal(err)
	}
	obj, err := env.World.CreateTuple(sub.Hub)
	if err != nil {
		t.Fatal(err)
	}

	member := base.MethodByName("f")
	got, err := callBinding(t, env, reg, BindLinkToVirtual,
		WordVal(obj), RefVal(env.World.Intern(member), member))
	if err != nil {
		t.Fatalf("linkToVirtual: %v", err)
	}
	if want := sub.MethodByName("f").Entry; got.Bits != want {
		t.Errorf("linked entry %#x, want override %#x", got.Bits, want)
	}
}

func TestSlowPathAllocateInstallsTLAB(t *testing.T) {
	env := newTestEnv(t)
	reg := NewRegistry()
	if err := StandardBindings(reg); err != nil {
		t.Fatal(err)
	}
	etla, err := env.Thread.ETLA()
	if err != nil {
		t.Fatal(err)
	}
	cell, err := callBinding(t, env, reg, BindSlowPathAllocate, IntVal(64), WordVal(etla))
	if err != nil {
		t.Fatalf("slowPathAllocate: %v", err)
	}
	mark, err := env.Thread.TLABMark()
	if err != nil {
		t.Fatal(err)
	}
	top, err := env.Thread.TLABTop()
	if err != nil {
		t.Fatal(err)
	}
	if mark != cell.Bits+64 {
		t.Errorf("mark = %#x, want cell+64 = %#x", mark, cell.Bits+64)
	}
	if top < mark {
		t.Errorf("top %#x below mark %#x", top, mark)
	}
}

func TestLoadExceptionDrainsPending(t *testing.T) {
	env := newTestEnv(t)
	reg := NewRegistry()
	if err := StandardBindings(reg); err != nil {
		t.Fatal(err)
	}
	thrown := Throwf(ErrClassCast, "boom")
	env.Thread.SetPendingException(thrown)

	v, err := callBinding(t, env, reg, BindLoadException)
	if err != nil {
		t.Fatalf("loadException: %v", err)
	}
	if obj, ok := env.World.InternedAt(v.Bits); !ok || obj != thrown {
		t.Errorf("materialized %#x/%v, want the pending exception", v.Bits, obj)
	}
	if _, err := callBinding(t, env, reg, BindLoadException); err == nil {
		t.Error("second load should fail, slot drained")
	}
}
