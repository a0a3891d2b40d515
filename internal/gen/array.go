package gen

import (
	"fmt"

	"kiln/internal/heap"
	"kiln/internal/kind"
	"kiln/internal/rt"
	"kiln/internal/tir"
)

// buildArrays builds element load and store templates. The bounds check
// is a single unsigned compare of the index against the length; the
// failing path never computes an element address, it transfers straight
// to the out-of-line throw. Reference stores additionally check
// covariance against the array hub's component type, with an exact-hub
// fast path before the runtime call.
func (c *Catalog) buildArrays(a *tir.Assembler) error {
	throwIndex, err := c.stub(rt.BindThrowArrayIndex)
	if err != nil {
		return err
	}
	storeCheck, err := c.stub(rt.BindArrayHubStoreCheck)
	if err != nil {
		return err
	}

	for _, k := range dataKinds() {
		elemSize := int32(k.Size(c.cfg.Arch.WordSize))

		build := func(name string, bounds, check bool, store bool) (*tir.Template, error) {
			var res tir.OperandID
			if store {
				a.Restart(kind.Void)
			} else {
				res = a.Restart(k)
			}
			array := a.NewParam("array", kind.Word)
			index := a.NewParam("index", kind.Int)
			var value tir.OperandID
			if store {
				value = a.NewParam("value", k)
			}

			if bounds {
				fail := a.OutOfLineLabel("outOfBounds")
				length := a.NewTemp("length", kind.Int)
				a.Load(kind.Int, length, array, a.I(c.layout.ArrayLengthOffset), true)
				a.Jugteq(fail, index, length)
				c.emitElemAccess(a, k, res, array, index, value, elemSize, store, check, storeCheck)
				done := a.InlineLabel("done")
				a.Jmp(done)
				a.Bind(fail)
				a.CallStub(throwIndex, tir.NoOperand, array, index)
				a.Unreachable()
				a.Bind(done)
			} else {
				a.NullCheck(array)
				c.emitElemAccess(a, k, res, array, index, value, elemSize, store, check, storeCheck)
			}
			return c.finish(a, name)
		}

		if c.arrayLoad[k], err = build(fmt.Sprintf("arrayload<%s>", k), true, false, false); err != nil {
			return err
		}
		if c.arrayLoadNB[k], err = build(fmt.Sprintf("arrayload<%s:nobounds>", k), false, false, false); err != nil {
			return err
		}

		if k == kind.Ref {
			if c.arrayStore[k], err = build("arraystore<ref>", true, true, true); err != nil {
				return err
			}
			if c.arrayStoreNB, err = build("arraystore<ref:nobounds>", false, true, true); err != nil {
				return err
			}
			if c.arrayStoreNSC, err = build("arraystore<ref:nocheck>", true, false, true); err != nil {
				return err
			}
			if c.arrayStoreNBNSC, err = build("arraystore<ref:nobounds:nocheck>", false, false, true); err != nil {
				return err
			}
			continue
		}
		if c.arrayStore[k], err = build(fmt.Sprintf("arraystore<%s>", k), true, false, true); err != nil {
			return err
		}
		if c.arrayStorePrimNB[k], err = build(fmt.Sprintf("arraystore<%s:nobounds>", k), false, false, true); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) emitElemAccess(a *tir.Assembler, k kind.Kind, res, array, index, value tir.OperandID, elemSize int32, store, check bool, storeCheck *tir.Template) {
	if !store {
		a.LoadElem(k, res, array, index, c.layout.FirstElementOffset, elemSize, false)
		return
	}
	if check {
		doStore := a.InlineLabel("covariant")
		arrayHub := a.NewTemp("arrayHub", kind.Word)
		valueHub := a.NewTemp("valueHub", kind.Word)
		compHub := a.NewTemp("componentHub", kind.Word)
		// A null value stores without any check.
		a.Jeq(doStore, value, a.W(0))
		a.Load(kind.Word, arrayHub, array, a.I(c.layout.HubOffset), false)
		a.Load(kind.Word, valueHub, value, a.I(c.layout.HubOffset), false)
		a.Load(kind.Word, compHub, arrayHub, a.I(c.layout.HubComponentOffset), false)
		a.Jeq(doStore, valueHub, compHub)
		a.CallStub(storeCheck, tir.NoOperand, arrayHub, valueHub)
		a.Bind(doStore)
	}
	if k == kind.Ref {
		c.cfg.Heap.Barrier(heap.ArrayPre).Emit(a, array, index)
	}
	a.StoreElem(k, array, index, value, c.layout.FirstElementOffset, elemSize, false)
	if k == kind.Ref {
		c.cfg.Heap.Barrier(heap.ArrayPost).Emit(a, array, index)
	}
}

// GenArrayLoad reads one array element.
func (c *Catalog) GenArrayLoad(k kind.Kind, array, index tir.Arg, site Site) (tir.Snippet, error) {
	t := c.arrayLoad[k]
	if site.SkipBoundsCheck {
		t = c.arrayLoadNB[k]
	}
	return snip(t, array, index)
}

// GenArrayStore writes one array element, with the covariance check for
// reference elements unless the site proved it away.
func (c *Catalog) GenArrayStore(k kind.Kind, array, index, value tir.Arg, site Site) (tir.Snippet, error) {
	var t *tir.Template
	switch {
	case k != kind.Ref:
		if site.SkipBoundsCheck {
			t = c.arrayStorePrimNB[k]
		} else {
			t = c.arrayStore[k]
		}
	case site.SkipBoundsCheck && site.SkipStoreCheck:
		t = c.arrayStoreNBNSC
	case site.SkipBoundsCheck:
		t = c.arrayStoreNB
	case site.SkipStoreCheck:
		t = c.arrayStoreNSC
	default:
		t = c.arrayStore[k]
	}
	return snip(t, array, index, value)
}
