package gen

import (
	"fmt"

	"kiln/internal/kind"
	"kiln/internal/rt"
	"kiln/internal/tir"
)

// buildDispatch builds the call-target selection templates. Each produces
// the callee entry address as its result; emitting the call itself is the
// instruction selector's job.
func (c *Catalog) buildDispatch(a *tir.Assembler) error {
	var err error
	stubFor := func(name string) *tir.Template {
		t, serr := c.stub(name)
		if serr != nil && err == nil {
			err = serr
		}
		return t
	}
	resolveStatic := stubFor(rt.BindResolveStaticMethod)
	resolveSpecial := stubFor(rt.BindResolveSpecialMethod)
	resolveVirtual := stubFor(rt.BindResolveVirtualOffset)
	resolveIfaceID := stubFor(rt.BindResolveInterfaceID)
	resolveIfaceIdx := stubFor(rt.BindResolveInterfaceIndex)
	if err != nil {
		return err
	}

	// invokestatic: the resolved entry is a per-site constant. Resolution
	// of the unresolved form forces class initialization.
	res := a.Restart(kind.Word)
	entry := a.NewConstParam("entry", kind.Word)
	a.Mov(res, entry)
	if c.invokeStatic.Resolved, err = c.finish(a, "invokestatic"); err != nil {
		return err
	}

	res = a.Restart(kind.Word)
	guard := a.NewConstParam("guard", kind.Ref)
	a.CallStub(resolveStatic, res, guard)
	if c.invokeStatic.Unresolved, err = c.finish(a, "invokestatic:unresolved"); err != nil {
		return err
	}

	res = a.Restart(kind.Word)
	entry = a.NewConstParam("entry", kind.Word)
	a.Mov(res, entry)
	if c.invokeSpecial.Resolved, err = c.finish(a, "invokespecial"); err != nil {
		return err
	}

	// The null-checked form covers sites where the receiver is not proven
	// non-null; the check must happen at the call site even though the
	// target is static.
	res = a.Restart(kind.Word)
	receiver := a.NewParam("receiver", kind.Word)
	entry = a.NewConstParam("entry", kind.Word)
	a.NullCheck(receiver)
	a.Mov(res, entry)
	if c.invokeSpecialNCE, err = c.finish(a, "invokespecial:nce"); err != nil {
		return err
	}

	res = a.Restart(kind.Word)
	receiver = a.NewParam("receiver", kind.Word)
	guard = a.NewConstParam("guard", kind.Ref)
	a.NullCheck(receiver)
	a.CallStub(resolveSpecial, res, guard)
	if c.invokeSpecial.Unresolved, err = c.finish(a, "invokespecial:unresolved"); err != nil {
		return err
	}

	// invokevirtual: entry = hub[vtable offset]. The offset is global and
	// already biased past the hub scalar block.
	res = a.Restart(kind.Word)
	receiver = a.NewParam("receiver", kind.Word)
	vtableOffset := a.NewConstParam("vtableOffset", kind.Int)
	hub := a.NewTemp("hub", kind.Word)
	a.Load(kind.Word, hub, receiver, a.I(c.layout.HubOffset), true)
	a.Load(kind.Word, res, hub, vtableOffset, false)
	if c.invokeVirtual.Resolved, err = c.finish(a, "invokevirtual"); err != nil {
		return err
	}

	res = a.Restart(kind.Word)
	receiver = a.NewParam("receiver", kind.Word)
	guard = a.NewConstParam("guard", kind.Ref)
	off := a.NewTemp("vtableOffset", kind.Int)
	hub = a.NewTemp("hub", kind.Word)
	a.CallStub(resolveVirtual, off, guard)
	a.Load(kind.Word, hub, receiver, a.I(c.layout.HubOffset), true)
	a.Load(kind.Word, res, hub, off, false)
	if c.invokeVirtual.Unresolved, err = c.finish(a, "invokevirtual:unresolved"); err != nil {
		return err
	}

	// invokeinterface: hash the interface id into the mtable, follow the
	// slot to the itable block, and index the block by the method's
	// 1-based slot. Block word 0 holds the interface id; an empty mtable
	// slot points at a reserved zero word, so a miss can never alias a
	// method entry.
	buildInterface := func(name string, unresolved bool) (*tir.Template, error) {
		res := a.Restart(kind.Word)
		receiver := a.NewParam("receiver", kind.Word)
		var ifaceID, methodIndex tir.OperandID
		if unresolved {
			guard := a.NewConstParam("guard", kind.Ref)
			ifaceID = a.NewTemp("interfaceID", kind.Int)
			methodIndex = a.NewTemp("methodIndex", kind.Int)
			a.CallStub(resolveIfaceID, ifaceID, guard)
			a.CallStub(resolveIfaceIdx, methodIndex, guard)
		} else {
			ifaceID = a.NewConstParam("interfaceID", kind.Int)
			methodIndex = a.NewConstParam("methodIndex", kind.Int)
		}
		hub := a.NewTemp("hub", kind.Word)
		mtableLength := a.NewTemp("mtableLength", kind.Int)
		mtableStart := a.NewTemp("mtableStart", kind.Int)
		slot := a.NewTemp("slot", kind.Int)
		blockIndex := a.NewTemp("blockIndex", kind.Int)
		entryIndex := a.NewTemp("entryIndex", kind.Int)
		a.Load(kind.Word, hub, receiver, a.I(c.layout.HubOffset), true)
		a.Load(kind.Int, mtableLength, hub, a.I(c.layout.HubMTableLengthOffset), false)
		a.Load(kind.Int, mtableStart, hub, a.I(c.layout.HubMTableStartOffset), false)
		a.Mod(slot, ifaceID, mtableLength)
		a.Add(slot, slot, mtableStart)
		a.LoadElem(kind.Int, blockIndex, hub, slot, c.layout.FirstElementOffset, 4, false)
		a.Add(entryIndex, blockIndex, methodIndex)
		a.LoadElem(kind.Word, res, hub, entryIndex, c.layout.FirstElementOffset, int32(c.cfg.Arch.WordSize), false)
		return c.finish(a, name)
	}
	if c.invokeInterface.Resolved, err = buildInterface("invokeinterface", false); err != nil {
		return err
	}
	if c.invokeInterface.Unresolved, err = buildInterface("invokeinterface:unresolved", true); err != nil {
		return err
	}

	// Method-handle linkage: the trailing member argument carries the
	// target; virtual and interface forms also re-dispatch through the
	// receiver.
	for _, l := range []struct {
		name     string
		binding  string
		receiver bool
		tpl      **tir.Template
	}{
		{"linktostatic", rt.BindLinkToStatic, false, &c.linkToStatic},
		{"linktospecial", rt.BindLinkToSpecial, false, &c.linkToSpecial},
		{"linktovirtual", rt.BindLinkToVirtual, true, &c.linkToVirtual},
		{"linktointerface", rt.BindLinkToInterface, true, &c.linkToInterface},
		{"invokehandle", rt.BindInvokeHandle, false, &c.invokeHandle},
	} {
		stub, serr := c.stub(l.binding)
		if serr != nil {
			return serr
		}
		res := a.Restart(kind.Word)
		if l.receiver {
			receiver := a.NewParam("receiver", kind.Word)
			member := a.NewParam("member", kind.Ref)
			a.NullCheck(receiver)
			a.CallStub(stub, res, receiver, member)
		} else {
			member := a.NewParam("member", kind.Ref)
			a.CallStub(stub, res, member)
		}
		if *l.tpl, err = c.finish(a, l.name); err != nil {
			return err
		}
	}
	return nil
}

// GenInvokeStatic selects the entry of a static call.
func (c *Catalog) GenInvokeStatic(m MethodRef) (tir.Snippet, error) {
	if err := m.check(); err != nil {
		return tir.Snippet{}, err
	}
	if m.IsResolved() {
		return snip(c.invokeStatic.Resolved, tir.WordArg(int64(m.Method.Entry)))
	}
	return snip(c.invokeStatic.Unresolved, tir.RefArg(m.Guard))
}

// GenInvokeSpecial selects the entry of a direct call, null-checking the
// receiver unless the site proved it.
func (c *Catalog) GenInvokeSpecial(receiver tir.Arg, m MethodRef, site Site) (tir.Snippet, error) {
	if err := m.check(); err != nil {
		return tir.Snippet{}, err
	}
	if !m.IsResolved() {
		return snip(c.invokeSpecial.Unresolved, receiver, tir.RefArg(m.Guard))
	}
	if site.NullChecked {
		return snip(c.invokeSpecial.Resolved, tir.WordArg(int64(m.Method.Entry)))
	}
	return snip(c.invokeSpecialNCE, receiver, tir.WordArg(int64(m.Method.Entry)))
}

// GenInvokeVirtual selects the entry of a vtable call.
func (c *Catalog) GenInvokeVirtual(receiver tir.Arg, m MethodRef) (tir.Snippet, error) {
	if err := m.check(); err != nil {
		return tir.Snippet{}, err
	}
	if m.IsResolved() {
		if m.Method.VTableIndex < 0 {
			return tir.Snippet{}, fmt.Errorf("%s has no vtable slot", m.Method.FullName())
		}
		off := m.Method.VTableIndex*int32(c.cfg.Arch.WordSize) + c.layout.FirstElementOffset
		return snip(c.invokeVirtual.Resolved, receiver, tir.IntArg(off))
	}
	return snip(c.invokeVirtual.Unresolved, receiver, tir.RefArg(m.Guard))
}

// GenInvokeInterface selects the entry of an interface call through the
// mtable probe.
func (c *Catalog) GenInvokeInterface(receiver tir.Arg, m MethodRef) (tir.Snippet, error) {
	if err := m.check(); err != nil {
		return tir.Snippet{}, err
	}
	if m.IsResolved() {
		if m.Method.IfaceIndex <= 0 {
			return tir.Snippet{}, fmt.Errorf("%s is not an interface method", m.Method.FullName())
		}
		return snip(c.invokeInterface.Resolved, receiver,
			tir.IntArg(m.Method.Class.TypeID), tir.IntArg(m.Method.IfaceIndex))
	}
	return snip(c.invokeInterface.Unresolved, receiver, tir.RefArg(m.Guard))
}

// GenLinkToStatic links a method-handle static target.
func (c *Catalog) GenLinkToStatic(member tir.Arg) (tir.Snippet, error) {
	return snip(c.linkToStatic, member)
}

// GenLinkToSpecial links a method-handle direct target.
func (c *Catalog) GenLinkToSpecial(member tir.Arg) (tir.Snippet, error) {
	return snip(c.linkToSpecial, member)
}

// GenLinkToVirtual links a method-handle virtual target through the
// receiver.
func (c *Catalog) GenLinkToVirtual(receiver, member tir.Arg) (tir.Snippet, error) {
	return snip(c.linkToVirtual, receiver, member)
}

// GenLinkToInterface links a method-handle interface target through the
// receiver.
func (c *Catalog) GenLinkToInterface(receiver, member tir.Arg) (tir.Snippet, error) {
	return snip(c.linkToInterface, receiver, member)
}

// GenInvokeHandle selects the entry behind a method handle.
func (c *Catalog) GenInvokeHandle(handle tir.Arg) (tir.Snippet, error) {
	return snip(c.invokeHandle, handle)
}
