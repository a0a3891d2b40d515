package gen

import (
	"kiln/internal/kind"
	"kiln/internal/rt"
	"kiln/internal/tir"
)

func (c *Catalog) buildMisc(a *tir.Assembler) error {
	var err error

	// Safepoint: the poll is a load through the latch register; word 0 of
	// the thread-locals area points back at itself while the thread runs.
	a.Restart(kind.Void)
	tla := a.NewRegisterTemp("tla", kind.Word, c.cfg.Arch.Latch)
	a.Safepoint()
	a.Load(kind.Word, tla, tla, a.I(0), false)
	if c.safepoint, err = c.finish(a, "safepoint"); err != nil {
		return err
	}

	a.Restart(kind.Void)
	a.PushFrame()
	a.StackOverflowCheck()
	if c.prologue, err = c.finish(a, "prologue"); err != nil {
		return err
	}

	a.Restart(kind.Void)
	a.PopFrame()
	if c.epilogue, err = c.finish(a, "epilogue"); err != nil {
		return err
	}

	res := a.Restart(kind.Int)
	array := a.NewParam("array", kind.Word)
	a.Load(kind.Int, res, array, a.I(c.layout.ArrayLengthOffset), true)
	if c.arrayLength, err = c.finish(a, "arraylength"); err != nil {
		return err
	}

	for _, m := range []struct {
		name    string
		binding string
		tpl     **tir.Template
	}{
		{"monitorenter", rt.BindMonitorEnter, &c.monitorEnter},
		{"monitorexit", rt.BindMonitorExit, &c.monitorExit},
	} {
		stub, err := c.stub(m.binding)
		if err != nil {
			return err
		}
		a.Restart(kind.Void)
		object := a.NewParam("object", kind.Word)
		a.NullCheck(object)
		a.CallStub(stub, tir.NoOperand, object)
		if *m.tpl, err = c.finish(a, m.name); err != nil {
			return err
		}
	}

	// Exception entry: materialize the in-flight exception into the
	// result register. The handler address is a safepoint.
	loadExc, err := c.stub(rt.BindLoadException)
	if err != nil {
		return err
	}
	res = a.Restart(kind.Word)
	a.Safepoint()
	a.CallStub(loadExc, res)
	if c.exceptionObject, err = c.finish(a, "exceptionobject"); err != nil {
		return err
	}

	// The four representations an unresolved class constant can be asked
	// for: the class record, its hub, the hub of its array class, and its
	// static tuple.
	for _, r := range []struct {
		name    string
		binding string
		result  kind.Kind
		tpl     **tir.Template
	}{
		{"resolveclass<record>", rt.BindResolveClassRecord, kind.Ref, &c.resolveClassRecord},
		{"resolveclass<hub>", rt.BindResolveHub, kind.Word, &c.resolveClassHub},
		{"resolveclass<arrayhub>", rt.BindResolveArrayHub, kind.Word, &c.resolveArrayHub},
		{"resolveclass<statics>", rt.BindResolveStaticTuple, kind.Ref, &c.resolveStatics},
	} {
		stub, err := c.stub(r.binding)
		if err != nil {
			return err
		}
		res = a.Restart(r.result)
		guard := a.NewConstParam("guard", kind.Ref)
		a.CallStub(stub, res, guard)
		if *r.tpl, err = c.finish(a, r.name); err != nil {
			return err
		}
	}
	return nil
}

// GenSafepoint emits a cooperative pause poll.
func (c *Catalog) GenSafepoint() (tir.Snippet, error) {
	return snip(c.safepoint)
}

// GenPrologue emits the method entry sequence.
func (c *Catalog) GenPrologue() (tir.Snippet, error) {
	return snip(c.prologue)
}

// GenEpilogue emits the method exit sequence.
func (c *Catalog) GenEpilogue() (tir.Snippet, error) {
	return snip(c.epilogue)
}

// GenArrayLength reads an array's length with an implicit null check.
func (c *Catalog) GenArrayLength(array tir.Arg) (tir.Snippet, error) {
	return snip(c.arrayLength, array)
}

// GenMonitorEnter acquires an object's monitor.
func (c *Catalog) GenMonitorEnter(object tir.Arg) (tir.Snippet, error) {
	return snip(c.monitorEnter, object)
}

// GenMonitorExit releases an object's monitor.
func (c *Catalog) GenMonitorExit(object tir.Arg) (tir.Snippet, error) {
	return snip(c.monitorExit, object)
}

// GenExceptionObject materializes the in-flight exception at a handler
// entry.
func (c *Catalog) GenExceptionObject() (tir.Snippet, error) {
	return snip(c.exceptionObject)
}

// ClassRepresentation selects what GenResolveClass materializes.
type ClassRepresentation uint8

const (
	// ReprRecord is the class record object.
	ReprRecord ClassRepresentation = iota
	// ReprHub is the class's hub.
	ReprHub
	// ReprArrayHub is the hub of the class's array class.
	ReprArrayHub
	// ReprStatics is the class's static tuple; resolving it forces class
	// initialization.
	ReprStatics
)

// GenResolveClass materializes one representation of an unresolved class
// constant.
func (c *Catalog) GenResolveClass(g *rt.Guard, repr ClassRepresentation) (tir.Snippet, error) {
	var t *tir.Template
	switch repr {
	case ReprRecord:
		t = c.resolveClassRecord
	case ReprHub:
		t = c.resolveClassHub
	case ReprArrayHub:
		t = c.resolveArrayHub
	case ReprStatics:
		t = c.resolveStatics
	}
	return snip(t, tir.RefArg(g))
}
