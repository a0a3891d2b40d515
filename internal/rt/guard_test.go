package rt

import (
	"sync"
	"testing"

	"kiln/internal/kind"
)

func TestGuardPoolDedupes(t *testing.T) {
	p := NewPool()
	if p.FieldGuard("A", "x") != p.FieldGuard("A", "x") {
		t.Error("same symbol should share one guard")
	}
	if p.FieldGuard("A", "x") == p.FieldGuard("A", "y") {
		t.Error("distinct members should not share a guard")
	}
	if p.ClassGuard("A") == p.ArrayGuard("A") {
		t.Error("class and array-of-class are distinct resolutions")
	}
}

func TestGuardResolutionIsMonotonic(t *testing.T) {
	w := newTestWorld(t)
	if _, err := w.DefineClass(ClassInfo{Name: "P", Fields: []FieldInfo{{Name: "n", Kind: kind.Int}}}); err != nil {
		t.Fatal(err)
	}
	p := NewPool()
	g := p.FieldGuard("P", "n")
	if g.Resolved() {
		t.Fatal("fresh guard should be unresolved")
	}

	f1, err := g.ResolveField(w)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	f2, err := g.ResolveField(w)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if f1 != f2 {
		t.Error("resolution changed between calls")
	}
	if !g.Resolved() {
		t.Error("guard should stay resolved")
	}
}

func TestGuardConcurrentResolutionConverges(t *testing.T) {
	w := newTestWorld(t)
	cls, err := w.DefineClass(ClassInfo{Name: "C", Methods: []string{"m"}})
	if err != nil {
		t.Fatal(err)
	}
	want := cls.MethodByName("m")

	p := NewPool()
	const workers = 16
	results := make([]*Method, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := p.MethodGuard("C", "m").ResolveMethod(w)
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			results[i] = m
		}(i)
	}
	wg.Wait()
	for i, m := range results {
		if m != want {
			t.Errorf("worker %d resolved %v, want %v", i, m, want)
		}
	}
}

func TestGuardLinkageErrors(t *testing.T) {
	w := newTestWorld(t)
	if _, err := w.DefineClass(ClassInfo{Name: "Known"}); err != nil {
		t.Fatal(err)
	}
	p := NewPool()

	if _, err := p.ClassGuard("Missing").ResolveClass(w); !IsVMError(err, ErrLinkage) {
		t.Errorf("missing class: %v", err)
	}
	if _, err := p.FieldGuard("Known", "nope").ResolveField(w); !IsVMError(err, ErrLinkage) {
		t.Errorf("missing field: %v", err)
	}
	if _, err := p.MethodGuard("Known", "nope").ResolveMethod(w); !IsVMError(err, ErrLinkage) {
		t.Errorf("missing method: %v", err)
	}
}

func TestResolvedClassGuardIsPrefilled(t *testing.T) {
	w := newTestWorld(t)
	cls, err := w.DefineClass(ClassInfo{Name: "R"})
	if err != nil {
		t.Fatal(err)
	}
	p := NewPool()
	g := p.ResolvedClassGuard(cls)
	if !g.Resolved() {
		t.Fatal("guard should be resolved at creation")
	}
	got, err := g.ResolveClass(w)
	if err != nil || got != cls {
		t.Errorf("ResolveClass = %v, %v", got, err)
	}
	// The plain class guard for the same name shares the cell.
	if p.ClassGuard("R") != g {
		t.Error("resolved guard should be the pooled guard")
	}
}
