package catalogdisk

import (
	"testing"

	"kiln/internal/arch"
	"kiln/internal/gen"
	"kiln/internal/heap"
	"kiln/internal/rt"
)

func buildCatalog(t *testing.T, scheme heap.Scheme) *gen.Catalog {
	t.Helper()
	reg := rt.NewRegistry()
	if err := rt.StandardBindings(reg); err != nil {
		t.Fatalf("StandardBindings: %v", err)
	}
	c, err := gen.NewCatalog(gen.Config{Arch: arch.AMD64(), Heap: scheme, Registry: reg})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return c
}

func TestSummaryRoundTrip(t *testing.T) {
	cat := buildCatalog(t, heap.Default())
	sum := Summarize(cat)
	if len(sum.Templates) == 0 {
		t.Fatal("empty summary")
	}
	if sum.Target != "amd64" || sum.WordSize != 8 || !sum.InlineTLAB {
		t.Errorf("config fields: %+v", sum)
	}

	store, err := OpenAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	key := Key(sum)
	if err := store.Put(key, sum); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var got Summary
	ok, err := store.Get(key, &got)
	if err != nil || !ok {
		t.Fatalf("Get: %v, %v", ok, err)
	}
	if len(got.Templates) != len(sum.Templates) {
		t.Fatalf("templates = %d, want %d", len(got.Templates), len(sum.Templates))
	}
	for i := range got.Templates {
		a, b := got.Templates[i], sum.Templates[i]
		if a.Name != b.Name || a.Instrs != b.Instrs || a.OutOfLine != b.OutOfLine {
			t.Errorf("template %d differs: %+v vs %+v", i, a, b)
		}
	}
}

func TestGetMiss(t *testing.T) {
	store, err := OpenAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	var out Summary
	ok, err := store.Get(Digest{1}, &out)
	if err != nil {
		t.Fatalf("miss must not error: %v", err)
	}
	if ok {
		t.Error("hit on an empty store")
	}
}

func TestKeySeparatesConfigs(t *testing.T) {
	tlab := Summarize(buildCatalog(t, heap.Default()))
	runtimeOnly := Summarize(buildCatalog(t, heap.RuntimeCallOnly()))
	if Key(tlab) == Key(runtimeOnly) {
		t.Error("different schemes share a key")
	}
	if Key(tlab) != Key(Summarize(buildCatalog(t, heap.Default()))) {
		t.Error("identical configs disagree")
	}
}

func TestDropAll(t *testing.T) {
	store, err := OpenAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	sum := Summarize(buildCatalog(t, heap.Default()))
	key := Key(sum)
	if err := store.Put(key, sum); err != nil {
		t.Fatal(err)
	}
	if err := store.DropAll(); err != nil {
		t.Fatalf("DropAll: %v", err)
	}
	var out Summary
	if ok, _ := store.Get(key, &out); ok {
		t.Error("entry survived DropAll")
	}
}
