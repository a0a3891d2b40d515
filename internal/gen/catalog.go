// Package gen builds the template catalog: one immutable code shape per
// VM operation variant, specialized by value kind, resolution state and
// the capabilities of the target and heap scheme.
package gen

import (
	"fmt"
	"io"
	"sort"

	"kiln/internal/arch"
	"kiln/internal/heap"
	"kiln/internal/kind"
	"kiln/internal/rt"
	"kiln/internal/tir"
)

// maxMultiArrayRank is the highest rank with a specialized runtime-call
// template; deeper allocations go through the generic entry with a
// materialized length array.
const maxMultiArrayRank = 6

// Config parameterizes a catalog build.
type Config struct {
	Arch     arch.Arch
	Heap     heap.Scheme
	Registry *rt.Registry
}

// Pair holds the resolved and unresolved variant of one operation.
type Pair struct {
	Resolved   *tir.Template
	Unresolved *tir.Template
}

// Catalog is the built template set. It is immutable after NewCatalog
// returns and safe to share across compiler threads; per-site state lives
// in snippets only.
type Catalog struct {
	cfg     Config
	layout  rt.Layout
	aligner arch.ArraySizeAligner

	stubs map[string]*tir.Template
	all   []*tir.Template

	safepoint       *tir.Template
	prologue        *tir.Template
	epilogue        *tir.Template
	arrayLength     *tir.Template
	monitorEnter    *tir.Template
	monitorExit     *tir.Template
	exceptionObject *tir.Template

	resolveClassRecord *tir.Template
	resolveClassHub    *tir.Template
	resolveArrayHub    *tir.Template
	resolveStatics     *tir.Template

	getField  [kind.Count]Pair
	putField  [kind.Count]Pair
	getStatic [kind.Count]Pair
	putStatic [kind.Count]Pair

	arrayLoad   [kind.Count]*tir.Template
	arrayLoadNB [kind.Count]*tir.Template
	arrayStore  [kind.Count]*tir.Template
	// No-bounds-check variants; the ref slot additionally has
	// no-store-check forms.
	arrayStoreNB        *tir.Template
	arrayStoreNSC       *tir.Template
	arrayStoreNBNSC     *tir.Template
	arrayStorePrimNB    [kind.Count]*tir.Template
	invokeStatic        Pair
	invokeSpecial       Pair
	invokeSpecialNCE    *tir.Template
	invokeVirtual       Pair
	invokeInterface     Pair
	linkToStatic        *tir.Template
	linkToSpecial       *tir.Template
	linkToVirtual       *tir.Template
	linkToInterface     *tir.Template
	invokeHandle        *tir.Template
	newTuple            Pair
	newHybrid           *tir.Template
	newArray            [kind.Count]*tir.Template
	newArrayUnresolved  *tir.Template
	multiNewArray       [maxMultiArrayRank + 1]Pair
	multiNewArrayBig    Pair
	checkcastLeaf       *tir.Template
	checkcastNonLeaf    *tir.Template
	checkcastInterface  *tir.Template
	checkcastUnresolved *tir.Template
	typeAssert          *tir.Template
	instanceOfLeaf      *tir.Template
	instanceOfNonLeaf   *tir.Template
	instanceOfInterface *tir.Template
	instanceOfUnres     *tir.Template
}

// NewCatalog builds the full template set for cfg. The build is
// deterministic: the same config produces the same catalog.
func NewCatalog(cfg Config) (*Catalog, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("catalog build needs a binding registry")
	}
	if cfg.Arch.WordSize == 0 {
		return nil, fmt.Errorf("catalog build needs a target")
	}
	if cfg.Heap.ObjectAlignment == 0 {
		return nil, fmt.Errorf("catalog build needs a heap scheme")
	}
	c := &Catalog{
		cfg:     cfg,
		layout:  rt.NewLayout(cfg.Arch.WordSize),
		aligner: cfg.Arch.Aligner(),
		stubs:   make(map[string]*tir.Template, 64),
	}
	a := tir.NewAssembler()
	builders := []func(*tir.Assembler) error{
		c.buildStubs,
		c.buildMisc,
		c.buildAccess,
		c.buildArrays,
		c.buildDispatch,
		c.buildAlloc,
		c.buildTypeChecks,
	}
	for _, build := range builders {
		if err := build(a); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Layout exposes the object model the catalog was built against.
func (c *Catalog) Layout() rt.Layout { return c.layout }

// Arch exposes the build target.
func (c *Catalog) Arch() arch.Arch { return c.cfg.Arch }

// Heap exposes the memory-management scheme the catalog was built for.
func (c *Catalog) Heap() heap.Scheme { return c.cfg.Heap }

// Templates lists every built template, stubs included, sorted by name.
func (c *Catalog) Templates() []*tir.Template {
	out := append([]*tir.Template(nil), c.all...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Template finds a built template by name.
func (c *Catalog) Template(name string) (*tir.Template, bool) {
	for _, t := range c.all {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// Dump writes a readable listing of the whole catalog.
func (c *Catalog) Dump(w io.Writer) {
	for i, t := range c.Templates() {
		if i > 0 {
			fmt.Fprintln(w)
		}
		t.Dump(w)
	}
}

func (c *Catalog) finish(a *tir.Assembler, name string) (*tir.Template, error) {
	t, err := a.Finish(name)
	if err != nil {
		return nil, err
	}
	c.all = append(c.all, t)
	return t, nil
}

// dataKinds lists the kinds field and array templates are specialized
// for.
func dataKinds() []kind.Kind {
	var out []kind.Kind
	for _, k := range kind.All() {
		if k != kind.Void {
			out = append(out, k)
		}
	}
	return out
}

func snip(t *tir.Template, args ...tir.Arg) (tir.Snippet, error) {
	if t == nil {
		return tir.Snippet{}, fmt.Errorf("no template built for this operation")
	}
	return tir.NewSnippet(t, args...)
}
