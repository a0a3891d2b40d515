package gen

import (
	"kiln/internal/kind"
	"kiln/internal/rt"
	"kiln/internal/tir"
)

// buildTypeChecks builds checkcast, instanceof and the speculative type
// assertion. Leaf targets (final, non-array classes) need only an exact
// hub compare. Interface targets run the mtable probe inline and fall
// back to the runtime for the rare miss; non-leaf class targets compare
// the exact hub first and leave the subclass walk to the runtime.
func (c *Catalog) buildTypeChecks(a *tir.Assembler) error {
	checkcast, err := c.stub(rt.BindCheckcast)
	if err != nil {
		return err
	}
	instanceOf, err := c.stub(rt.BindInstanceOf)
	if err != nil {
		return err
	}
	throwCast, err := c.stub(rt.BindThrowClassCast)
	if err != nil {
		return err
	}

	// checkcast<leaf>: null passes, exact hub match passes, anything else
	// throws. The result is the checked object, letting the compiler keep
	// it in a register with the narrowed type.
	res := a.Restart(kind.Word)
	object := a.NewParam("object", kind.Word)
	hub := a.NewConstParam("hub", kind.Ref)
	done := a.InlineLabel("done")
	fail := a.OutOfLineLabel("fail")
	objHub := a.NewTemp("objectHub", kind.Word)
	a.Mov(res, object)
	a.Jeq(done, object, a.W(0))
	a.Load(kind.Word, objHub, object, a.I(c.layout.HubOffset), false)
	a.Jneq(fail, objHub, hub)
	a.Jmp(done)
	a.Bind(fail)
	a.CallStub(throwCast, tir.NoOperand, hub, object)
	a.Unreachable()
	a.Bind(done)
	if c.checkcastLeaf, err = c.finish(a, "checkcast<leaf>"); err != nil {
		return err
	}

	// checkcast<class>: exact hub fast path; the miss calls the runtime,
	// which walks the superclass chain and throws on failure.
	res = a.Restart(kind.Word)
	object = a.NewParam("object", kind.Word)
	hub = a.NewConstParam("hub", kind.Ref)
	target := a.NewConstParam("target", kind.Ref)
	done = a.InlineLabel("done")
	slow := a.OutOfLineLabel("slowPath")
	objHub = a.NewTemp("objectHub", kind.Word)
	a.Mov(res, object)
	a.Jeq(done, object, a.W(0))
	a.Load(kind.Word, objHub, object, a.I(c.layout.HubOffset), false)
	a.Jneq(slow, objHub, hub)
	a.Jmp(done)
	a.Bind(slow)
	a.CallStub(checkcast, res, object, target)
	a.Bind(done)
	if c.checkcastNonLeaf, err = c.finish(a, "checkcast<class>"); err != nil {
		return err
	}

	// checkcast<interface>: probe the mtable and compare the block's id
	// word against the interface id. An empty slot probes the reserved
	// zero word and misses.
	buildInterfaceCheck := func(name string, cast bool) (*tir.Template, error) {
		var res tir.OperandID
		if cast {
			res = a.Restart(kind.Word)
		} else {
			res = a.Restart(kind.Boolean)
		}
		object := a.NewParam("object", kind.Word)
		ifaceID := a.NewConstParam("interfaceID", kind.Int)
		target := a.NewConstParam("target", kind.Ref)
		done := a.InlineLabel("done")
		slow := a.OutOfLineLabel("slowPath")
		objHub := a.NewTemp("objectHub", kind.Word)
		mtableLength := a.NewTemp("mtableLength", kind.Int)
		mtableStart := a.NewTemp("mtableStart", kind.Int)
		slot := a.NewTemp("slot", kind.Int)
		blockIndex := a.NewTemp("blockIndex", kind.Int)
		probedID := a.NewTemp("probedID", kind.Int)

		if cast {
			a.Mov(res, object)
			a.Jeq(done, object, a.W(0))
		} else {
			a.Mov(res, a.B(false))
			a.Jeq(done, object, a.W(0))
		}
		a.Load(kind.Word, objHub, object, a.I(c.layout.HubOffset), false)
		a.Load(kind.Int, mtableLength, objHub, a.I(c.layout.HubMTableLengthOffset), false)
		a.Load(kind.Int, mtableStart, objHub, a.I(c.layout.HubMTableStartOffset), false)
		a.Mod(slot, ifaceID, mtableLength)
		a.Add(slot, slot, mtableStart)
		a.LoadElem(kind.Int, blockIndex, objHub, slot, c.layout.FirstElementOffset, 4, false)
		a.LoadElem(kind.Int, probedID, objHub, blockIndex, c.layout.FirstElementOffset, int32(c.cfg.Arch.WordSize), false)
		a.Jneq(slow, probedID, ifaceID)
		if !cast {
			a.Mov(res, a.B(true))
		}
		a.Jmp(done)
		a.Bind(slow)
		if cast {
			a.CallStub(checkcast, res, object, target)
		} else {
			a.CallStub(instanceOf, res, object, target)
		}
		a.Bind(done)
		return c.finish(a, name)
	}
	if c.checkcastInterface, err = buildInterfaceCheck("checkcast<interface>", true); err != nil {
		return err
	}
	if c.instanceOfInterface, err = buildInterfaceCheck("instanceof<interface>", false); err != nil {
		return err
	}

	// Unresolved checks always go through the runtime; resolution happens
	// inside the stub on first execution.
	res = a.Restart(kind.Word)
	object = a.NewParam("object", kind.Word)
	guard := a.NewConstParam("guard", kind.Ref)
	a.CallStub(checkcast, res, object, guard)
	if c.checkcastUnresolved, err = c.finish(a, "checkcast<unresolved>"); err != nil {
		return err
	}

	res = a.Restart(kind.Boolean)
	object = a.NewParam("object", kind.Word)
	guard = a.NewConstParam("guard", kind.Ref)
	a.CallStub(instanceOf, res, object, guard)
	if c.instanceOfUnres, err = c.finish(a, "instanceof<unresolved>"); err != nil {
		return err
	}

	// typeassert: the speculative form. Any mismatch, null included,
	// abandons the compiled frame instead of raising an error.
	a.Restart(kind.Void)
	object = a.NewParam("object", kind.Word)
	hub = a.NewConstParam("hub", kind.Ref)
	bail := a.OutOfLineLabel("bail")
	ok := a.InlineLabel("ok")
	objHub = a.NewTemp("objectHub", kind.Word)
	a.Jeq(bail, object, a.W(0))
	a.Load(kind.Word, objHub, object, a.I(c.layout.HubOffset), false)
	a.Jneq(bail, objHub, hub)
	a.Jmp(ok)
	a.Bind(bail)
	a.Deopt()
	a.Bind(ok)
	if c.typeAssert, err = c.finish(a, "typeassert"); err != nil {
		return err
	}

	// instanceof<leaf> and instanceof<class>.
	res = a.Restart(kind.Boolean)
	object = a.NewParam("object", kind.Word)
	hub = a.NewConstParam("hub", kind.Ref)
	done = a.InlineLabel("done")
	objHub = a.NewTemp("objectHub", kind.Word)
	a.Mov(res, a.B(false))
	a.Jeq(done, object, a.W(0))
	a.Load(kind.Word, objHub, object, a.I(c.layout.HubOffset), false)
	a.Jneq(done, objHub, hub)
	a.Mov(res, a.B(true))
	a.Bind(done)
	if c.instanceOfLeaf, err = c.finish(a, "instanceof<leaf>"); err != nil {
		return err
	}

	res = a.Restart(kind.Boolean)
	object = a.NewParam("object", kind.Word)
	hub = a.NewConstParam("hub", kind.Ref)
	target = a.NewConstParam("target", kind.Ref)
	done = a.InlineLabel("done")
	slow = a.OutOfLineLabel("slowPath")
	objHub = a.NewTemp("objectHub", kind.Word)
	a.Mov(res, a.B(false))
	a.Jeq(done, object, a.W(0))
	a.Load(kind.Word, objHub, object, a.I(c.layout.HubOffset), false)
	a.Jneq(slow, objHub, hub)
	a.Mov(res, a.B(true))
	a.Jmp(done)
	a.Bind(slow)
	a.CallStub(instanceOf, res, object, target)
	a.Bind(done)
	if c.instanceOfNonLeaf, err = c.finish(a, "instanceof<class>"); err != nil {
		return err
	}
	return nil
}

// GenCheckcast checks that an object is assignable to a type, yielding
// the object. Null always passes.
func (c *Catalog) GenCheckcast(object tir.Arg, tr TypeRef) (tir.Snippet, error) {
	if err := tr.check(); err != nil {
		return tir.Snippet{}, err
	}
	if !tr.IsResolved() {
		return snip(c.checkcastUnresolved, object, tir.RefArg(tr.Guard))
	}
	cls := tr.Class
	switch {
	case cls.IsLeaf():
		return snip(c.checkcastLeaf, object, tir.RefArg(cls.Hub))
	case cls.Interface:
		return snip(c.checkcastInterface, object, tir.IntArg(cls.TypeID), tir.RefArg(cls))
	default:
		return snip(c.checkcastNonLeaf, object, tir.RefArg(cls.Hub), tir.RefArg(cls))
	}
}

// GenInstanceOf tests assignability, yielding a boolean. Null is never an
// instance of anything.
func (c *Catalog) GenInstanceOf(object tir.Arg, tr TypeRef) (tir.Snippet, error) {
	if err := tr.check(); err != nil {
		return tir.Snippet{}, err
	}
	if !tr.IsResolved() {
		return snip(c.instanceOfUnres, object, tir.RefArg(tr.Guard))
	}
	cls := tr.Class
	switch {
	case cls.IsLeaf():
		return snip(c.instanceOfLeaf, object, tir.RefArg(cls.Hub))
	case cls.Interface:
		return snip(c.instanceOfInterface, object, tir.IntArg(cls.TypeID), tir.RefArg(cls))
	default:
		return snip(c.instanceOfNonLeaf, object, tir.RefArg(cls.Hub), tir.RefArg(cls))
	}
}

// GenTypeAssert emits the speculative type check; a mismatch deoptimizes
// rather than throwing.
func (c *Catalog) GenTypeAssert(object tir.Arg, cls *rt.Class) (tir.Snippet, error) {
	return snip(c.typeAssert, object, tir.RefArg(cls.Hub))
}
