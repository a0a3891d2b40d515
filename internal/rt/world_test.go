package rt

import (
	"sync"
	"testing"

	"kiln/internal/arch"
	"kiln/internal/heap"
	"kiln/internal/kind"
)

func newTestWorld(t *testing.T) *World {
	t.Helper()
	w, err := NewWorld(arch.AMD64(), heap.Default())
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	return w
}

func TestFieldLayout(t *testing.T) {
	w := newTestWorld(t)
	base, err := w.DefineClass(ClassInfo{
		Name: "Base",
		Fields: []FieldInfo{
			{Name: "b", Kind: kind.Byte},
			{Name: "l", Kind: kind.Long},
			{Name: "i", Kind: kind.Int},
		},
	})
	if err != nil {
		t.Fatalf("DefineClass: %v", err)
	}

	first := int32(w.Layout.FirstElementOffset)
	if got := base.FieldByName("b").Offset; got != first {
		t.Errorf("b offset = %d, want %d", got, first)
	}
	if got := base.FieldByName("l").Offset; got != first+8 {
		t.Errorf("l offset = %d, want %d (aligned past the byte)", got, first+8)
	}
	if got := base.FieldByName("i").Offset; got != first+16 {
		t.Errorf("i offset = %d, want %d", got, first+16)
	}

	sub, err := w.DefineClass(ClassInfo{
		Name:   "Sub",
		Super:  base,
		Fields: []FieldInfo{{Name: "x", Kind: kind.Int}},
	})
	if err != nil {
		t.Fatalf("DefineClass: %v", err)
	}
	if got := sub.FieldByName("x").Offset; got < base.TupleSize {
		t.Errorf("subclass field at %d overlaps superclass tuple of size %d", got, base.TupleSize)
	}
	if got := sub.FieldByName("l"); got == nil || got.Offset != first+8 {
		t.Errorf("inherited field lookup broken: %+v", got)
	}
}

func TestStaticFieldsLiveInStaticTuple(t *testing.T) {
	w := newTestWorld(t)
	c, err := w.DefineClass(ClassInfo{
		Name: "Holder",
		Fields: []FieldInfo{
			{Name: "s", Kind: kind.Int, Static: true},
			{Name: "i", Kind: kind.Int},
		},
	})
	if err != nil {
		t.Fatalf("DefineClass: %v", err)
	}
	if c.StaticTuple == 0 {
		t.Fatal("no static tuple")
	}
	f := c.FieldByName("s")
	if !f.Static {
		t.Fatal("s should be static")
	}
	if err := w.Store32(c.StaticTuple+uint64(f.Offset), 77); err != nil {
		t.Fatalf("store static: %v", err)
	}
	got, err := w.Load32(c.StaticTuple + uint64(f.Offset))
	if err != nil || got != 77 {
		t.Fatalf("static roundtrip = %d, %v", got, err)
	}
}

func TestVTableInheritanceAndOverride(t *testing.T) {
	w := newTestWorld(t)
	base, err := w.DefineClass(ClassInfo{Name: "Base", Methods: []string{"size", "hash"}})
	if err != nil {
		t.Fatalf("DefineClass: %v", err)
	}
	sub, err := w.DefineClass(ClassInfo{Name: "Sub", Super: base, Methods: []string{"hash", "extra"}})
	if err != nil {
		t.Fatalf("DefineClass: %v", err)
	}

	bSize := base.MethodByName("size")
	sSize := sub.MethodByName("size")
	if sSize != bSize {
		t.Errorf("size should be inherited, got %v", sSize)
	}
	bHash := base.MethodByName("hash")
	sHash := sub.MethodByName("hash")
	if sHash == bHash {
		t.Error("hash should be overridden")
	}
	if sHash.VTableIndex != bHash.VTableIndex {
		t.Errorf("override changed vtable slot: %d vs %d", sHash.VTableIndex, bHash.VTableIndex)
	}
	if sub.MethodByName("extra").VTableIndex <= sHash.VTableIndex {
		t.Error("new method should occupy a fresh slot")
	}

	// The hub table holds each method's entry at index*wordSize past the
	// first element offset.
	for _, m := range []*Method{sSize, sHash, sub.MethodByName("extra")} {
		addr := sub.Hub.Addr + uint64(w.Layout.FirstElementOffset) + uint64(m.VTableIndex)*uint64(w.Arch.WordSize)
		entry, err := w.LoadWord(addr)
		if err != nil {
			t.Fatalf("load vtable word: %v", err)
		}
		if entry != m.Entry {
			t.Errorf("%s: hub slot holds %#x, want %#x", m.FullName(), entry, m.Entry)
		}
	}
}

func TestMTableProbesDoNotAlias(t *testing.T) {
	w := newTestWorld(t)
	var ifaces []*Class
	for _, name := range []string{"Walker", "Runner", "Swimmer", "Flyer"} {
		in, err := w.DefineInterface(name, "go")
		if err != nil {
			t.Fatalf("DefineInterface: %v", err)
		}
		ifaces = append(ifaces, in)
	}
	c, err := w.DefineClass(ClassInfo{Name: "Athlete", Ifaces: ifaces, Methods: []string{"go"}})
	if err != nil {
		t.Fatalf("DefineClass: %v", err)
	}
	h := c.Hub

	tableWord := func(idx int32) uint64 {
		v, err := w.LoadWord(h.Addr + uint64(w.Layout.FirstElementOffset) + uint64(idx)*uint64(w.Arch.WordSize))
		if err != nil {
			t.Fatalf("load table word %d: %v", idx, err)
		}
		return v
	}
	mtableEntry := func(slot int32) int32 {
		v, err := w.Load32(h.Addr + uint64(w.Layout.FirstElementOffset) + uint64(slot)*4)
		if err != nil {
			t.Fatalf("load mtable slot %d: %v", slot, err)
		}
		return v
	}

	impl := c.MethodByName("go")
	seen := make(map[int32]bool)
	for _, in := range ifaces {
		slot := h.MTableStart + in.TypeID%h.MTableLength
		if seen[slot] {
			t.Fatalf("interfaces %v share mtable slot %d", in.Name, slot)
		}
		seen[slot] = true
		block := mtableEntry(slot)
		if id := tableWord(block); id != uint64(uint32(in.TypeID)) {
			t.Errorf("%s: probe word holds id %d, want %d", in.Name, id, in.TypeID)
		}
		im := in.MethodByName("go")
		if entry := tableWord(block + im.IfaceIndex); entry != impl.Entry {
			t.Errorf("%s: itable entry %#x, want %#x", in.Name, entry, impl.Entry)
		}
	}

	// Every unclaimed slot probes the reserved zero word, which matches no
	// interface id.
	for slot := h.MTableStart; slot < h.MTableStart+h.MTableLength; slot++ {
		if seen[slot] {
			continue
		}
		block := mtableEntry(slot)
		if id := tableWord(block); id != 0 {
			t.Errorf("empty slot %d probes id %d, want 0", slot, id)
		}
	}
}

func TestSubtyping(t *testing.T) {
	w := newTestWorld(t)
	iface, err := w.DefineInterface("Closer", "close")
	if err != nil {
		t.Fatal(err)
	}
	base, err := w.DefineClass(ClassInfo{Name: "Base", Ifaces: []*Class{iface}, Methods: []string{"close"}})
	if err != nil {
		t.Fatal(err)
	}
	sub, err := w.DefineClass(ClassInfo{Name: "Sub", Super: base})
	if err != nil {
		t.Fatal(err)
	}
	other, err := w.DefineClass(ClassInfo{Name: "Other"})
	if err != nil {
		t.Fatal(err)
	}
	subArr, err := w.ArrayOf(sub)
	if err != nil {
		t.Fatal(err)
	}
	baseArr, err := w.ArrayOf(base)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		c, tgt *Class
		want   bool
	}{
		{"self", base, base, true},
		{"super chain", sub, base, true},
		{"reverse", base, sub, false},
		{"interface direct", base, iface, true},
		{"interface inherited", sub, iface, true},
		{"unrelated", other, base, false},
		{"array covariance", subArr, baseArr, true},
		{"array contravariance", baseArr, subArr, false},
		{"array to root", subArr, w.Root(), true},
		{"prim array kinds", w.PrimArray(kind.Int), w.PrimArray(kind.Long), false},
	}
	for _, tc := range cases {
		if got := tc.c.IsSubtypeOf(tc.tgt); got != tc.want {
			t.Errorf("%s: %s <: %s = %v, want %v", tc.name, tc.c.Name, tc.tgt.Name, got, tc.want)
		}
	}
}

func TestCreateArray(t *testing.T) {
	w := newTestWorld(t)
	intArr := w.PrimArray(kind.Int)

	arr, err := w.CreateArray(intArr.Hub, 5)
	if err != nil {
		t.Fatalf("CreateArray: %v", err)
	}
	if n, _ := w.ArrayLength(arr); n != 5 {
		t.Errorf("length = %d, want 5", n)
	}
	cls, err := w.ClassOf(arr)
	if err != nil || cls != intArr {
		t.Errorf("ClassOf = %v, %v", cls, err)
	}

	if _, err := w.CreateArray(intArr.Hub, -3); !IsVMError(err, ErrNegativeArraySize) {
		t.Errorf("negative length: got %v, want negative array size", err)
	}
}

func TestHybridLengthSlotStamp(t *testing.T) {
	w := newTestWorld(t)
	c, err := w.DefineClass(ClassInfo{Name: "HubLike", Hybrid: true, Fields: []FieldInfo{{Name: "w0", Kind: kind.Word}}})
	if err != nil {
		t.Fatal(err)
	}
	obj, err := w.CreateHybrid(c.Hub)
	if err != nil {
		t.Fatalf("CreateHybrid: %v", err)
	}
	got, err := w.Load32(obj + uint64(w.Layout.ArrayLengthOffset))
	if err != nil {
		t.Fatal(err)
	}
	if got != w.Layout.HybridFirstWordIndex {
		t.Errorf("hybrid length slot = %d, want %d", got, w.Layout.HybridFirstWordIndex)
	}
}

func TestMultiArrayZeroLengthTerminates(t *testing.T) {
	w := newTestWorld(t)
	intArr := w.PrimArray(kind.Int)
	arr2, err := w.ArrayOf(intArr)
	if err != nil {
		t.Fatal(err)
	}
	arr3, err := w.ArrayOf(arr2)
	if err != nil {
		t.Fatal(err)
	}

	top, err := createMultiArray(w, arr3.Hub, []int32{2, 0, 7})
	if err != nil {
		t.Fatalf("createMultiArray: %v", err)
	}
	if n, _ := w.ArrayLength(top); n != 2 {
		t.Fatalf("outer length = %d, want 2", n)
	}
	for i := int32(0); i < 2; i++ {
		sub, err := w.LoadWord(w.ElemAddr(top, kind.Ref, i))
		if err != nil {
			t.Fatal(err)
		}
		if n, _ := w.ArrayLength(sub); n != 0 {
			t.Errorf("middle[%d] length = %d, want 0", i, n)
		}
	}

	if _, err := createMultiArray(w, arr3.Hub, []int32{2, -1, 7}); !IsVMError(err, ErrNegativeArraySize) {
		t.Errorf("negative middle length: got %v", err)
	}
}

func TestForceInitRunsOnce(t *testing.T) {
	w := newTestWorld(t)
	c, err := w.DefineClass(ClassInfo{Name: "Init"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Initialized() {
		t.Fatal("fresh class should not be initialized")
	}
	w.ForceInit(c)
	w.ForceInit(c)
	w.ForceInit(c)
	if !c.Initialized() || c.InitCount() != 1 {
		t.Errorf("init count = %d, want 1", c.InitCount())
	}
}

func TestMonitors(t *testing.T) {
	w := newTestWorld(t)
	c, err := w.DefineClass(ClassInfo{Name: "Lockee"})
	if err != nil {
		t.Fatal(err)
	}
	obj, err := w.CreateTuple(c.Hub)
	if err != nil {
		t.Fatal(err)
	}

	if err := w.MonitorExit(obj); !IsVMError(err, ErrIllegalMonitorState) {
		t.Errorf("exit without enter: %v", err)
	}
	if err := w.MonitorEnter(obj); err != nil {
		t.Fatal(err)
	}
	if err := w.MonitorEnter(obj); err != nil {
		t.Fatal(err)
	}
	if got := w.MonitorCount(obj); got != 2 {
		t.Errorf("count = %d, want 2", got)
	}
	if err := w.MonitorExit(obj); err != nil {
		t.Fatal(err)
	}
	if err := w.MonitorEnter(0); !IsVMError(err, ErrIllegalMonitorState) {
		t.Errorf("enter on null: %v", err)
	}
}

func TestArrayOfConvergesUnderContention(t *testing.T) {
	w := newTestWorld(t)
	elem, err := w.DefineClass(ClassInfo{Name: "Elem"})
	if err != nil {
		t.Fatal(err)
	}

	const definers = 16
	classes := make([]*Class, definers)
	errs := make([]error, definers)
	var wg sync.WaitGroup
	for i := 0; i < definers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			classes[i], errs[i] = w.ArrayOf(elem)
		}(i)
	}
	wg.Wait()

	for i := 0; i < definers; i++ {
		if errs[i] != nil {
			t.Fatalf("definer %d: %v", i, errs[i])
		}
		if classes[i] != classes[0] {
			t.Fatalf("definer %d got a different class record", i)
		}
	}
	if classes[0] == nil || classes[0].Hub == nil {
		t.Fatal("array class not prepared")
	}
	if classes[0].Name != "Elem[]" {
		t.Errorf("name = %q", classes[0].Name)
	}
}
