package gen

import (
	"fmt"

	"kiln/internal/heap"
	"kiln/internal/kind"
	"kiln/internal/rt"
	"kiln/internal/tir"
)

// buildAccess builds the field and static access templates, specialized
// per value kind and resolution state. Instance accesses fold the field
// offset into the template as a per-site constant; unresolved accesses
// fetch it through the resolution stub first.
func (c *Catalog) buildAccess(a *tir.Assembler) error {
	fieldOff, err := c.stub(rt.BindResolveFieldOffset)
	if err != nil {
		return err
	}
	staticOff, err := c.stub(rt.BindResolveStaticFieldOffset)
	if err != nil {
		return err
	}
	statics, err := c.stub(rt.BindResolveStaticTuple)
	if err != nil {
		return err
	}

	for _, k := range dataKinds() {
		res := a.Restart(k)
		object := a.NewParam("object", kind.Word)
		offset := a.NewConstParam("offset", kind.Int)
		a.Load(k, res, object, offset, true)
		if c.getField[k].Resolved, err = c.finish(a, fmt.Sprintf("getfield<%s>", k)); err != nil {
			return err
		}

		res = a.Restart(k)
		object = a.NewParam("object", kind.Word)
		guard := a.NewConstParam("guard", kind.Ref)
		off := a.NewTemp("offset", kind.Int)
		a.CallStub(fieldOff, off, guard)
		a.Load(k, res, object, off, true)
		if c.getField[k].Unresolved, err = c.finish(a, fmt.Sprintf("getfield<%s:unresolved>", k)); err != nil {
			return err
		}

		a.Restart(kind.Void)
		object = a.NewParam("object", kind.Word)
		value := a.NewParam("value", k)
		offset = a.NewConstParam("offset", kind.Int)
		c.tupleBarrier(a, heap.TuplePre, k, object)
		a.Store(k, object, offset, value, true)
		c.tupleBarrier(a, heap.TuplePost, k, object)
		if c.putField[k].Resolved, err = c.finish(a, fmt.Sprintf("putfield<%s>", k)); err != nil {
			return err
		}

		a.Restart(kind.Void)
		object = a.NewParam("object", kind.Word)
		value = a.NewParam("value", k)
		guard = a.NewConstParam("guard", kind.Ref)
		off = a.NewTemp("offset", kind.Int)
		a.CallStub(fieldOff, off, guard)
		c.tupleBarrier(a, heap.TuplePre, k, object)
		a.Store(k, object, off, value, true)
		c.tupleBarrier(a, heap.TuplePost, k, object)
		if c.putField[k].Unresolved, err = c.finish(a, fmt.Sprintf("putfield<%s:unresolved>", k)); err != nil {
			return err
		}

		// Resolved static access: the static tuple is a per-site constant,
		// so no null check and no resolution stub. Class initialization
		// already ran when the site resolved.
		res = a.Restart(k)
		tuple := a.NewConstParam("statics", kind.Word)
		offset = a.NewConstParam("offset", kind.Int)
		a.Load(k, res, tuple, offset, false)
		if c.getStatic[k].Resolved, err = c.finish(a, fmt.Sprintf("getstatic<%s>", k)); err != nil {
			return err
		}

		res = a.Restart(k)
		guard = a.NewConstParam("guard", kind.Ref)
		off = a.NewTemp("offset", kind.Int)
		tupleT := a.NewTemp("statics", kind.Word)
		a.CallStub(staticOff, off, guard)
		a.CallStub(statics, tupleT, guard)
		a.Load(k, res, tupleT, off, false)
		if c.getStatic[k].Unresolved, err = c.finish(a, fmt.Sprintf("getstatic<%s:unresolved>", k)); err != nil {
			return err
		}

		a.Restart(kind.Void)
		value = a.NewParam("value", k)
		tuple = a.NewConstParam("statics", kind.Word)
		offset = a.NewConstParam("offset", kind.Int)
		c.tupleBarrier(a, heap.TuplePre, k, tuple)
		a.Store(k, tuple, offset, value, false)
		c.tupleBarrier(a, heap.TuplePost, k, tuple)
		if c.putStatic[k].Resolved, err = c.finish(a, fmt.Sprintf("putstatic<%s>", k)); err != nil {
			return err
		}

		a.Restart(kind.Void)
		value = a.NewParam("value", k)
		guard = a.NewConstParam("guard", kind.Ref)
		off = a.NewTemp("offset", kind.Int)
		tupleT = a.NewTemp("statics", kind.Word)
		a.CallStub(staticOff, off, guard)
		a.CallStub(statics, tupleT, guard)
		c.tupleBarrier(a, heap.TuplePre, k, tupleT)
		a.Store(k, tupleT, off, value, false)
		c.tupleBarrier(a, heap.TuplePost, k, tupleT)
		if c.putStatic[k].Unresolved, err = c.finish(a, fmt.Sprintf("putstatic<%s:unresolved>", k)); err != nil {
			return err
		}
	}
	return nil
}

// tupleBarrier injects the heap scheme's write barrier around reference
// field writes. Non-reference writes never carry barriers.
func (c *Catalog) tupleBarrier(a *tir.Assembler, p heap.BarrierPoint, k kind.Kind, object tir.OperandID) {
	if k != kind.Ref {
		return
	}
	c.cfg.Heap.Barrier(p).Emit(a, object)
}

// GenGetField reads an instance field.
func (c *Catalog) GenGetField(k kind.Kind, object tir.Arg, f FieldRef) (tir.Snippet, error) {
	if err := f.check(); err != nil {
		return tir.Snippet{}, err
	}
	if f.IsResolved() {
		return snip(c.getField[k].Resolved, object, tir.IntArg(f.Field.Offset))
	}
	return snip(c.getField[k].Unresolved, object, tir.RefArg(f.Guard))
}

// GenPutField writes an instance field.
func (c *Catalog) GenPutField(k kind.Kind, object tir.Arg, f FieldRef, value tir.Arg) (tir.Snippet, error) {
	if err := f.check(); err != nil {
		return tir.Snippet{}, err
	}
	if f.IsResolved() {
		return snip(c.putField[k].Resolved, object, value, tir.IntArg(f.Field.Offset))
	}
	return snip(c.putField[k].Unresolved, object, value, tir.RefArg(f.Guard))
}

// GenGetStatic reads a static field.
func (c *Catalog) GenGetStatic(k kind.Kind, f FieldRef) (tir.Snippet, error) {
	if err := f.check(); err != nil {
		return tir.Snippet{}, err
	}
	if f.IsResolved() {
		return snip(c.getStatic[k].Resolved,
			tir.WordArg(int64(f.Field.Class.StaticTuple)), tir.IntArg(f.Field.Offset))
	}
	return snip(c.getStatic[k].Unresolved, tir.RefArg(f.Guard))
}

// GenPutStatic writes a static field.
func (c *Catalog) GenPutStatic(k kind.Kind, f FieldRef, value tir.Arg) (tir.Snippet, error) {
	if err := f.check(); err != nil {
		return tir.Snippet{}, err
	}
	if f.IsResolved() {
		return snip(c.putStatic[k].Resolved, value,
			tir.WordArg(int64(f.Field.Class.StaticTuple)), tir.IntArg(f.Field.Offset))
	}
	return snip(c.putStatic[k].Unresolved, value, tir.RefArg(f.Guard))
}
