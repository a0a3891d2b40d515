package rt

import (
	"encoding/binary"
	"fmt"
	"sync"

	"fortio.org/safecast"

	"kiln/internal/arch"
	"kiln/internal/heap"
	"kiln/internal/kind"
)

const (
	memBase    uint64 = 0x10000
	entryBase  uint64 = 0x7000_0000
	internBase uint64 = 0x7d00_0000
)

// World owns the runtime universe templates execute against: a flat
// byte-addressable memory, the class registry with materialized hubs,
// method entry points, interned out-of-memory constants, and monitors.
//
// Memory is carved under a single lock; the contents of disjoint carved
// regions may then be accessed concurrently by their owning threads.
type World struct {
	Arch   arch.Arch
	Layout Layout
	Scheme heap.Scheme

	// defineMu serializes on-demand class definition so concurrent
	// resolvers converge on one class record instead of racing register.
	defineMu sync.Mutex

	mu        sync.Mutex
	mem       []byte
	classes   map[string]*Class
	nextType  int32
	hubs      map[uint64]*Hub
	entries   map[uint64]*Method
	nextEntry uint64
	interned  map[any]uint64
	internRev map[uint64]any
	monitors  map[uint64]int

	root       *Class
	primArrays map[kind.Kind]*Class
	refArrays  map[*Class]*Class
}

// Hub is the materialized per-type metadata block: scalar fields plus one
// word table holding the vtable, the mtable hash and the itable blocks.
type Hub struct {
	Class     *Class
	Addr      uint64
	Component *Hub

	MTableStart  int32 // int-index into the table region
	MTableLength int32
	TableWords   int32
	vtableLen    int32
}

// NewWorld creates a world for the given target and heap scheme, with the
// root class and the primitive array classes prepared.
func NewWorld(a arch.Arch, s heap.Scheme) (*World, error) {
	w := &World{
		Arch:       a,
		Layout:     NewLayout(a.WordSize),
		Scheme:     s,
		classes:    make(map[string]*Class, 32),
		nextType:   1,
		hubs:       make(map[uint64]*Hub, 32),
		entries:    make(map[uint64]*Method, 64),
		nextEntry:  entryBase,
		interned:   make(map[any]uint64, 32),
		internRev:  make(map[uint64]any, 32),
		monitors:   make(map[uint64]int),
		primArrays: make(map[kind.Kind]*Class, 8),
		refArrays:  make(map[*Class]*Class, 8),
	}
	root, err := w.DefineClass(ClassInfo{Name: "Object"})
	if err != nil {
		return nil, err
	}
	w.root = root
	for _, k := range []kind.Kind{kind.Boolean, kind.Byte, kind.Short, kind.Char, kind.Int, kind.Float, kind.Long, kind.Double} {
		cls, err := w.defineArray(k.String()+"[]", nil, k)
		if err != nil {
			return nil, err
		}
		w.primArrays[k] = cls
	}
	return w, nil
}

// Root returns the root class.
func (w *World) Root() *Class { return w.root }

// ClassByName looks a class up without resolving.
func (w *World) ClassByName(name string) (*Class, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.classes[name]
	return c, ok
}

// ResolveClass resolves a class by name; a missing class is a linkage
// error, surfaced at the instantiation site that forced resolution.
func (w *World) ResolveClass(name string) (*Class, error) {
	if c, ok := w.ClassByName(name); ok {
		return c, nil
	}
	return nil, Throwf(ErrLinkage, "class %q not found", name)
}

// PrimArray returns the array class for a primitive element kind.
func (w *World) PrimArray(k kind.Kind) *Class { return w.primArrays[k] }

// ArrayOf returns (creating on first use) the reference array class of
// elem.
func (w *World) ArrayOf(elem *Class) (*Class, error) {
	w.defineMu.Lock()
	defer w.defineMu.Unlock()
	w.mu.Lock()
	cached := w.refArrays[elem]
	w.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	cls, err := w.defineArray(elem.Name+"[]", elem, kind.Ref)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.refArrays[elem] = cls
	w.mu.Unlock()
	return cls, nil
}

// ForceInit runs class initialization once. Static access resolution
// triggers it.
func (w *World) ForceInit(c *Class) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !c.initialized {
		c.initialized = true
		c.initCount++
	}
}

// FieldInfo declares one field of a class under definition.
type FieldInfo struct {
	Name   string
	Kind   kind.Kind
	Static bool
}

// ClassInfo declares a class under definition. Virtual methods are matched
// against superclass slots by name; interface methods are implemented by
// the virtual method of the same name.
type ClassInfo struct {
	Name    string
	Super   *Class
	Final   bool
	Hybrid  bool
	Ifaces  []*Class
	Fields  []FieldInfo
	Methods []string
}

// DefineInterface declares an interface with the given method names.
func (w *World) DefineInterface(name string, methods ...string) (*Class, error) {
	c := &Class{Name: name, Interface: true}
	for i, m := range methods {
		idx, err := safecast.Conv[int32](i + 1)
		if err != nil {
			return nil, err
		}
		c.Methods = append(c.Methods, &Method{Class: c, Name: m, VTableIndex: -1, IfaceIndex: idx})
	}
	if err := w.register(c); err != nil {
		return nil, err
	}
	return c, w.prepare(c, nil)
}

// DefineClass declares and prepares a concrete class: field offsets are
// assigned, the vtable is derived from the superclass, the interface
// tables are built, and the hub is materialized into memory.
func (w *World) DefineClass(info ClassInfo) (*Class, error) {
	super := info.Super
	if super == nil {
		super = w.root // nil for the root itself
	}
	c := &Class{
		Name:   info.Name,
		Super:  super,
		Final:  info.Final,
		Hybrid: info.Hybrid,
		Ifaces: append([]*Class(nil), info.Ifaces...),
	}

	// Field layout: instance fields continue past the superclass tuple,
	// statics start at the static tuple's field base.
	instOff := int64(w.Layout.FirstElementOffset)
	if super != nil {
		instOff = int64(super.TupleSize)
	}
	staticOff := int64(w.Layout.FirstElementOffset)
	for _, fi := range info.Fields {
		f := &Field{Class: c, Name: fi.Name, Kind: fi.Kind, Static: fi.Static}
		size := int64(fi.Kind.Size(w.Arch.WordSize))
		align := int64(fi.Kind.Align(w.Arch.WordSize))
		if fi.Static {
			staticOff = (staticOff + align - 1) &^ (align - 1)
			off, err := safecast.Conv[int32](staticOff)
			if err != nil {
				return nil, err
			}
			f.Offset = off
			staticOff += size
		} else {
			instOff = (instOff + align - 1) &^ (align - 1)
			off, err := safecast.Conv[int32](instOff)
			if err != nil {
				return nil, err
			}
			f.Offset = off
			instOff += size
		}
		c.Fields = append(c.Fields, f)
	}
	tupleSize, err := safecast.Conv[int32](Align(instOff, w.Scheme.ObjectAlignment))
	if err != nil {
		return nil, err
	}
	c.TupleSize = tupleSize

	// Virtual method table: superclass slots first, overrides in place,
	// new methods appended.
	var vtable []*Method
	if super != nil && super.Hub != nil {
		vtable = append(vtable, w.vtableOf(super)...)
	}
	for _, name := range info.Methods {
		m := &Method{Class: c, Name: name, Entry: w.newEntry()}
		overridden := false
		for slot, sm := range vtable {
			if sm.Name == name {
				m.VTableIndex = sm.VTableIndex
				vtable[slot] = m
				overridden = true
				break
			}
		}
		if !overridden {
			slot, err := safecast.Conv[int32](len(vtable))
			if err != nil {
				return nil, err
			}
			m.VTableIndex = w.Layout.HubFirstTableWord + slot
			vtable = append(vtable, m)
		}
		w.mu.Lock()
		w.entries[m.Entry] = m
		w.mu.Unlock()
		c.Methods = append(c.Methods, m)
	}

	if err := w.register(c); err != nil {
		return nil, err
	}
	if err := w.prepare(c, vtable); err != nil {
		return nil, err
	}

	// Static tuple: a plain cell holding the class's static fields.
	staticSize := Align(staticOff, w.Scheme.ObjectAlignment)
	addr, err := w.Reserve(staticSize)
	if err != nil {
		return nil, err
	}
	if err := w.StoreWord(addr+uint64(w.Layout.HubOffset), c.Hub.Addr); err != nil {
		return nil, err
	}
	c.StaticTuple = addr
	return c, nil
}

func (w *World) defineArray(name string, elem *Class, elemKind kind.Kind) (*Class, error) {
	c := &Class{
		Name:     name,
		Super:    w.root,
		Array:    true,
		Elem:     elem,
		ElemKind: elemKind,
	}
	c.TupleSize = w.Layout.FirstElementOffset
	if err := w.register(c); err != nil {
		return nil, err
	}
	if err := w.prepare(c, w.vtableOf(w.root)); err != nil {
		return nil, err
	}
	if elem != nil && elem.Hub != nil {
		c.Hub.Component = elem.Hub
	}
	return c, nil
}

func (w *World) register(c *Class) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, dup := w.classes[c.Name]; dup {
		return fmt.Errorf("class %q defined twice", c.Name)
	}
	c.TypeID = w.nextType
	w.nextType++
	w.classes[c.Name] = c
	return nil
}

func (w *World) vtableOf(c *Class) []*Method {
	if c == nil || c.Hub == nil {
		return nil
	}
	slots := int(c.Hub.vtableLen)
	out := make([]*Method, slots)
	copy(out, c.vtable)
	return out
}

func (w *World) newEntry() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	addr := w.nextEntry
	w.nextEntry += 16
	return addr
}

// MethodAt maps a code entry address back to its method.
func (w *World) MethodAt(addr uint64) (*Method, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	m, ok := w.entries[addr]
	return m, ok
}

// HubAt maps a hub address back to its hub record.
func (w *World) HubAt(addr uint64) (*Hub, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, ok := w.hubs[addr]
	return h, ok
}

// ClassOf reads an object's hub pointer and returns its class.
func (w *World) ClassOf(obj uint64) (*Class, error) {
	hubAddr, err := w.LoadWord(obj + uint64(w.Layout.HubOffset))
	if err != nil {
		return nil, err
	}
	h, ok := w.HubAt(hubAddr)
	if !ok {
		return nil, fmt.Errorf("object %#x has no hub", obj)
	}
	return h.Class, nil
}

// Intern assigns a pseudo-address to an object that lives outside
// simulated memory (a guard, a member name, a class record).
func (w *World) Intern(obj any) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if addr, ok := w.interned[obj]; ok {
		return addr
	}
	addr := internBase + uint64(len(w.interned)+1)*16
	w.interned[obj] = addr
	w.internRev[addr] = obj
	return addr
}

// InternedAt resolves a pseudo-address back to its object.
func (w *World) InternedAt(addr uint64) (any, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	obj, ok := w.internRev[addr]
	return obj, ok
}

// MonitorEnter acquires the monitor of obj (counting, non-blocking model).
func (w *World) MonitorEnter(obj uint64) error {
	if obj == 0 {
		return Throwf(ErrIllegalMonitorState, "monitorenter on null")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.monitors[obj]++
	return nil
}

// MonitorExit releases the monitor of obj.
func (w *World) MonitorExit(obj uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.monitors[obj] == 0 {
		return Throwf(ErrIllegalMonitorState, "monitorexit without enter on %#x", obj)
	}
	w.monitors[obj]--
	return nil
}

// MonitorCount reports the current hold count of obj's monitor.
func (w *World) MonitorCount(obj uint64) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.monitors[obj]
}

// Reserve carves n zeroed bytes out of memory and returns their address.
func (w *World) Reserve(n int64) (uint64, error) {
	if n < 0 {
		return 0, fmt.Errorf("reserve of negative size %d", n)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	aligned := Align(int64(len(w.mem)), w.Arch.WordSize)
	grow := aligned + n - int64(len(w.mem))
	w.mem = append(w.mem, make([]byte, grow)...)
	return memBase + uint64(aligned), nil
}

func (w *World) slice(addr uint64, n int) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if addr < memBase || addr+uint64(n) > memBase+uint64(len(w.mem)) {
		return nil, fmt.Errorf("wild memory access at %#x (+%d)", addr, n)
	}
	off := addr - memBase
	return w.mem[off : off+uint64(n) : off+uint64(n)], nil
}

// Load reads a value of kind k at addr, sign-extending signed kinds.
func (w *World) Load(k kind.Kind, addr uint64) (uint64, error) {
	n := k.Size(w.Arch.WordSize)
	buf, err := w.slice(addr, n)
	if err != nil {
		return 0, err
	}
	switch n {
	case 1:
		if k == kind.Byte {
			return uint64(int64(int8(buf[0]))), nil
		}
		return uint64(buf[0]), nil
	case 2:
		v := binary.LittleEndian.Uint16(buf)
		if k == kind.Short {
			return uint64(int64(int16(v))), nil
		}
		return uint64(v), nil
	case 4:
		v := binary.LittleEndian.Uint32(buf)
		if k == kind.Int {
			return uint64(int64(int32(v))), nil
		}
		return uint64(v), nil
	case 8:
		return binary.LittleEndian.Uint64(buf), nil
	default:
		return 0, fmt.Errorf("load of kind %s", k)
	}
}

// Store writes a value of kind k at addr, truncating to the kind's width.
func (w *World) Store(k kind.Kind, addr uint64, bits uint64) error {
	n := k.Size(w.Arch.WordSize)
	buf, err := w.slice(addr, n)
	if err != nil {
		return err
	}
	switch n {
	case 1:
		buf[0] = byte(bits)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(bits))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(bits))
	case 8:
		binary.LittleEndian.PutUint64(buf, bits)
	default:
		return fmt.Errorf("store of kind %s", k)
	}
	return nil
}

// LoadWord reads a machine word.
func (w *World) LoadWord(addr uint64) (uint64, error) { return w.Load(kind.Word, addr) }

// StoreWord writes a machine word.
func (w *World) StoreWord(addr uint64, bits uint64) error { return w.Store(kind.Word, addr, bits) }

// Load32 reads an int.
func (w *World) Load32(addr uint64) (int32, error) {
	v, err := w.Load(kind.Int, addr)
	return int32(uint32(v)), err
}

// Store32 writes an int.
func (w *World) Store32(addr uint64, v int32) error {
	return w.Store(kind.Int, addr, uint64(uint32(v)))
}
