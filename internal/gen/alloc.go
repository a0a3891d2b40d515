package gen

import (
	"fmt"

	"kiln/internal/kind"
	"kiln/internal/rt"
	"kiln/internal/tir"
)

// buildAlloc builds the allocation templates. When the heap scheme allows
// it, tuples and arrays allocate inline by bumping the thread-local
// buffer mark; the overflow path refills the buffer through the runtime
// allocator and the scheme decides whether it sits out of line. Hybrids
// always allocate out of line. Schemes without inline allocation route
// everything through the runtime.
func (c *Catalog) buildAlloc(a *tir.Assembler) error {
	var err error
	stubFor := func(name string) *tir.Template {
		t, serr := c.stub(name)
		if serr != nil && err == nil {
			err = serr
		}
		return t
	}
	slowPath := stubFor(rt.BindSlowPathAllocate)
	allocTuple := stubFor(rt.BindAllocateTuple)
	allocHybrid := stubFor(rt.BindAllocateHybrid)
	allocArray := stubFor(rt.BindAllocateArray)
	allocIntArray := stubFor(rt.BindAllocateIntArray)
	resolveNew := stubFor(rt.BindResolveNew)
	resolveNewArray := stubFor(rt.BindResolveNewArray)
	resolveHub := stubFor(rt.BindResolveHub)
	allocMultiBig := stubFor(rt.BindAllocateMultiArray)
	profiler := stubFor(rt.BindCallProfiler)
	profilerArray := stubFor(rt.BindCallProfilerArray)
	flushLog := stubFor(rt.BindFlushLog)
	throwNegative := stubFor(rt.BindThrowNegativeArraySize)
	if err != nil {
		return err
	}

	// new: resolved tuple allocation.
	if c.cfg.Heap.InlineTLAB {
		res := a.Restart(kind.Word)
		hub := a.NewConstParam("hub", kind.Ref)
		size := a.NewConstParam("tupleSize", kind.Int)
		c.emitTLABTuple(a, res, hub, size, slowPath, flushLog, profiler)
		if c.newTuple.Resolved, err = c.finish(a, "new"); err != nil {
			return err
		}
	} else {
		res := a.Restart(kind.Word)
		hub := a.NewConstParam("hub", kind.Ref)
		a.CallStub(allocTuple, res, hub)
		if c.newTuple.Resolved, err = c.finish(a, "new"); err != nil {
			return err
		}
	}

	// Unresolved new: resolve (forcing class initialization), then hand
	// the hub to the runtime allocator. Hybrid classes are VM-internal
	// and always resolved, so the tuple allocator suffices here.
	res := a.Restart(kind.Word)
	guard := a.NewConstParam("guard", kind.Ref)
	hubT := a.NewTemp("hub", kind.Word)
	a.CallStub(resolveNew, hubT, guard)
	a.CallStub(allocTuple, res, hubT)
	if c.newTuple.Unresolved, err = c.finish(a, "new:unresolved"); err != nil {
		return err
	}

	// Hybrids carry both fields and a word table; their length slot stamp
	// makes inline allocation not worth specializing.
	res = a.Restart(kind.Word)
	hub := a.NewConstParam("hub", kind.Ref)
	a.CallStub(allocHybrid, res, hub)
	if c.newHybrid, err = c.finish(a, "newhybrid"); err != nil {
		return err
	}

	// newarray, per element kind.
	for _, k := range dataKinds() {
		name := fmt.Sprintf("newarray<%s>", k)
		if c.cfg.Heap.InlineTLAB {
			res := a.Restart(kind.Word)
			hub := a.NewConstParam("hub", kind.Ref)
			length := a.NewParam("length", kind.Int)
			c.emitTLABArray(a, k, res, hub, length, slowPath, flushLog, profilerArray, throwNegative)
			if c.newArray[k], err = c.finish(a, name); err != nil {
				return err
			}
		} else {
			res := a.Restart(kind.Word)
			hub := a.NewConstParam("hub", kind.Ref)
			length := a.NewParam("length", kind.Int)
			a.CallStub(allocArray, res, hub, length)
			if c.newArray[k], err = c.finish(a, name); err != nil {
				return err
			}
		}
	}

	res = a.Restart(kind.Word)
	guard = a.NewConstParam("guard", kind.Ref)
	length := a.NewParam("length", kind.Int)
	hubT = a.NewTemp("hub", kind.Word)
	a.CallStub(resolveNewArray, hubT, guard)
	a.CallStub(allocArray, res, hubT, length)
	if c.newArrayUnresolved, err = c.finish(a, "newarray:unresolved"); err != nil {
		return err
	}

	// multianewarray: one runtime-call template per rank up to the
	// specialization limit. The unresolved ranks materialize the length
	// array in-template and hand it to the generic allocator.
	for rank := 2; rank <= maxMultiArrayRank; rank++ {
		allocN, serr := c.stub(rt.MultiArrayBinding(rank))
		if serr != nil {
			return serr
		}
		res := a.Restart(kind.Word)
		hub := a.NewConstParam("hub", kind.Ref)
		lengths := make([]tir.OperandID, rank)
		for i := range lengths {
			lengths[i] = a.NewParam(fmt.Sprintf("length%d", i), kind.Int)
		}
		a.CallStub(allocN, res, append([]tir.OperandID{hub}, lengths...)...)
		if c.multiNewArray[rank].Resolved, err = c.finish(a, fmt.Sprintf("multianewarray<%d>", rank)); err != nil {
			return err
		}

		res = a.Restart(kind.Word)
		guard := a.NewConstParam("guard", kind.Ref)
		lengths = lengths[:0]
		for i := 0; i < rank; i++ {
			lengths = append(lengths, a.NewParam(fmt.Sprintf("length%d", i), kind.Int))
		}
		lengthArray := a.NewTemp("lengthArray", kind.Word)
		a.CallStub(allocIntArray, lengthArray, a.I(int32(rank)))
		for i, l := range lengths {
			a.Store(kind.Int, lengthArray, a.I(c.layout.FirstElementOffset+int32(i)*4), l, false)
		}
		hubT := a.NewTemp("hub", kind.Word)
		a.CallStub(resolveHub, hubT, guard)
		a.CallStub(allocMultiBig, res, hubT, lengthArray)
		if c.multiNewArray[rank].Unresolved, err = c.finish(a, fmt.Sprintf("multianewarray<%d:unresolved>", rank)); err != nil {
			return err
		}
	}

	res = a.Restart(kind.Word)
	hub = a.NewConstParam("hub", kind.Ref)
	lengthArray := a.NewParam("lengths", kind.Word)
	a.CallStub(allocMultiBig, res, hub, lengthArray)
	if c.multiNewArrayBig.Resolved, err = c.finish(a, "multianewarray<big>"); err != nil {
		return err
	}

	res = a.Restart(kind.Word)
	guard = a.NewConstParam("guard", kind.Ref)
	lengthArray = a.NewParam("lengths", kind.Word)
	hubT = a.NewTemp("hub", kind.Word)
	a.CallStub(resolveHub, hubT, guard)
	a.CallStub(allocMultiBig, res, hubT, lengthArray)
	if c.multiNewArrayBig.Unresolved, err = c.finish(a, "multianewarray<big:unresolved>"); err != nil {
		return err
	}
	return nil
}

// emitTLABTuple emits the whole inline tuple allocation body: the bump,
// the slow-path refill placed per the scheme, the hub plant, the log
// record and the profiler call. Both paths converge before the cell is
// formatted, so slow-path cells are profiled too.
func (c *Catalog) emitTLABTuple(a *tir.Assembler, res, hub, size tir.OperandID, slowPath, flushLog, profiler *tir.Template) {
	etla := c.etlaOf(a)
	cell := a.NewTemp("cell", kind.Word)
	newMark := a.NewTemp("newMark", kind.Word)
	top := a.NewTemp("tlabTop", kind.Word)
	done := a.InlineLabel("done")

	a.Load(kind.Word, cell, etla, a.I(c.cfg.Heap.TLABMarkOffset), false)
	a.Lea(newMark, cell, size, 0, 1)
	a.Load(kind.Word, top, etla, a.I(c.cfg.Heap.TLABTopOffset), false)
	if c.cfg.Heap.OutOfLineSlowPath {
		slow := a.OutOfLineLabel("slowPath")
		end := a.InlineLabel("end")
		a.Jgt(slow, newMark, top)
		a.Store(kind.Word, etla, a.I(c.cfg.Heap.TLABMarkOffset), newMark, false)
		c.emitAllocLog(a, etla, size, cell, flushLog)
		a.Bind(done)
		a.Store(kind.Word, cell, a.I(c.layout.HubOffset), hub, false)
		a.Mov(res, cell)
		a.CallStub(profiler, tir.NoOperand, size, hub, cell)
		a.Jmp(end)
		a.Bind(slow)
		a.CallStub(slowPath, cell, size, etla)
		a.Jmp(done)
		a.Bind(end)
		return
	}
	ok := a.InlineLabel("bumped")
	a.Jlteq(ok, newMark, top)
	a.CallStub(slowPath, cell, size, etla)
	a.Jmp(done)
	a.Bind(ok)
	a.Store(kind.Word, etla, a.I(c.cfg.Heap.TLABMarkOffset), newMark, false)
	c.emitAllocLog(a, etla, size, cell, flushLog)
	a.Bind(done)
	a.Store(kind.Word, cell, a.I(c.layout.HubOffset), hub, false)
	a.Mov(res, cell)
	a.CallStub(profiler, tir.NoOperand, size, hub, cell)
}

// emitTLABArray is the array counterpart: the negative-length check runs
// before any size arithmetic and transfers to the out-of-line throw.
func (c *Catalog) emitTLABArray(a *tir.Assembler, k kind.Kind, res, hub, length tir.OperandID, slowPath, flushLog, profilerArray, throwNegative *tir.Template) {
	negErr := a.OutOfLineLabel("lengthError")
	done := a.InlineLabel("done")
	end := a.InlineLabel("end")
	cell := a.NewTemp("cell", kind.Word)
	arraySize := a.NewTemp("arraySize", kind.Word)
	newMark := a.NewTemp("newMark", kind.Word)
	top := a.NewTemp("tlabTop", kind.Word)

	a.Jlt(negErr, length, a.I(0))
	etla := c.etlaOf(a)
	elemSize := k.Size(c.cfg.Arch.WordSize)
	c.aligner.AlignArraySize(a, length, arraySize, elemSize, int32(elemSize),
		int(c.layout.FirstElementOffset), c.cfg.Heap.ObjectAlignment)
	a.Load(kind.Word, cell, etla, a.I(c.cfg.Heap.TLABMarkOffset), false)
	a.Lea(newMark, cell, arraySize, 0, 1)
	a.Load(kind.Word, top, etla, a.I(c.cfg.Heap.TLABTopOffset), false)
	if c.cfg.Heap.OutOfLineSlowPath {
		slow := a.OutOfLineLabel("slowPath")
		a.Jgt(slow, newMark, top)
		a.Store(kind.Word, etla, a.I(c.cfg.Heap.TLABMarkOffset), newMark, false)
		c.emitAllocLog(a, etla, arraySize, cell, flushLog)
		a.Bind(done)
		a.Store(kind.Word, cell, a.I(c.layout.HubOffset), hub, false)
		a.Store(kind.Int, cell, a.I(c.layout.ArrayLengthOffset), length, false)
		a.Mov(res, cell)
		a.CallStub(profilerArray, tir.NoOperand, arraySize, hub, cell)
		a.Jmp(end)
		a.Bind(slow)
		a.CallStub(slowPath, cell, arraySize, etla)
		a.Jmp(done)
	} else {
		ok := a.InlineLabel("bumped")
		a.Jlteq(ok, newMark, top)
		a.CallStub(slowPath, cell, arraySize, etla)
		a.Jmp(done)
		a.Bind(ok)
		a.Store(kind.Word, etla, a.I(c.cfg.Heap.TLABMarkOffset), newMark, false)
		c.emitAllocLog(a, etla, arraySize, cell, flushLog)
		a.Bind(done)
		a.Store(kind.Word, cell, a.I(c.layout.HubOffset), hub, false)
		a.Store(kind.Int, cell, a.I(c.layout.ArrayLengthOffset), length, false)
		a.Mov(res, cell)
		a.CallStub(profilerArray, tir.NoOperand, arraySize, hub, cell)
		a.Jmp(end)
	}
	a.Bind(negErr)
	a.CallStub(throwNegative, tir.NoOperand, length)
	a.Unreachable()
	a.Bind(end)
}

func (c *Catalog) etlaOf(a *tir.Assembler) tir.OperandID {
	tla := a.NewRegisterTemp("tla", kind.Word, c.cfg.Arch.Latch)
	etla := a.NewTemp("etla", kind.Word)
	a.Load(kind.Word, etla, tla, a.I(c.cfg.Heap.ETLAOffset), false)
	return etla
}

// emitAllocLog records {site, cell, size} at the allocation log tail and
// advances it; a full buffer flushes out of line and retries the record.
// A thread without a log buffer carries a null tail word and skips the
// whole block.
func (c *Catalog) emitAllocLog(a *tir.Assembler, etla, size, cell tir.OperandID, flushLog *tir.Template) {
	if !c.cfg.Heap.LogAllocations {
		return
	}
	w := int32(c.cfg.Arch.WordSize)
	flush := a.OutOfLineLabel("flushLog")
	record := a.InlineLabel("recordInLog")
	logDone := a.InlineLabel("logDone")
	logTail := a.NewTemp("logTail", kind.Word)
	logEndMark := a.NewTemp("logEndMark", kind.Word)
	site := a.NewTemp("allocationSite", kind.Word)

	a.Load(kind.Word, logTail, etla, a.I(c.cfg.Heap.LogTailOffset), false)
	a.Jeq(logDone, logTail, a.W(0))
	a.Load(kind.Word, logEndMark, logTail, a.I(0), false)
	a.Jeq(flush, logEndMark, logTail)
	a.Bind(record)
	a.Here(site)
	a.Store(kind.Word, logTail, a.I(0), site, false)
	a.Store(kind.Word, logTail, a.I(w), cell, false)
	a.Store(kind.Word, logTail, a.I(2*w), size, false)
	a.Add(logTail, logTail, a.I(3*w))
	a.Store(kind.Word, etla, a.I(c.cfg.Heap.LogTailOffset), logTail, false)
	a.Jmp(logDone)
	a.Bind(flush)
	a.CallStub(flushLog, logTail, logTail)
	a.Jmp(record)
	a.Bind(logDone)
}

// GenNewInstance allocates an instance of a class.
func (c *Catalog) GenNewInstance(tr TypeRef) (tir.Snippet, error) {
	if err := tr.check(); err != nil {
		return tir.Snippet{}, err
	}
	if !tr.IsResolved() {
		return snip(c.newTuple.Unresolved, tir.RefArg(tr.Guard))
	}
	cls := tr.Class
	if cls.Array {
		return tir.Snippet{}, fmt.Errorf("new of array class %s", cls.Name)
	}
	if cls.Hybrid {
		return snip(c.newHybrid, tir.RefArg(cls.Hub))
	}
	if c.cfg.Heap.InlineTLAB {
		size := rt.Align(int64(cls.TupleSize), c.cfg.Heap.ObjectAlignment)
		return snip(c.newTuple.Resolved, tir.RefArg(cls.Hub), tir.IntArg(int32(size)))
	}
	return snip(c.newTuple.Resolved, tir.RefArg(cls.Hub))
}

// GenNewArray allocates a one-dimensional array. A resolved reference
// names the array class itself.
func (c *Catalog) GenNewArray(tr TypeRef, length tir.Arg) (tir.Snippet, error) {
	if err := tr.check(); err != nil {
		return tir.Snippet{}, err
	}
	if !tr.IsResolved() {
		return snip(c.newArrayUnresolved, tir.RefArg(tr.Guard), length)
	}
	cls := tr.Class
	if !cls.Array {
		return tir.Snippet{}, fmt.Errorf("newarray of non-array class %s", cls.Name)
	}
	return snip(c.newArray[cls.ElemKind], tir.RefArg(cls.Hub), length)
}

// GenMultiNewArray allocates a multi-dimensional array. Rank one lowers
// to the plain array allocation; ranks past the specialization limit
// need GenMultiNewArrayBig.
func (c *Catalog) GenMultiNewArray(tr TypeRef, lengths []tir.Arg) (tir.Snippet, error) {
	if err := tr.check(); err != nil {
		return tir.Snippet{}, err
	}
	rank := len(lengths)
	switch {
	case rank == 0:
		return tir.Snippet{}, fmt.Errorf("multianewarray of rank 0")
	case rank == 1:
		return c.GenNewArray(tr, lengths[0])
	case rank > maxMultiArrayRank:
		return tir.Snippet{}, fmt.Errorf("rank %d exceeds the %d-dimension templates; materialize the lengths", rank, maxMultiArrayRank)
	}
	if tr.IsResolved() {
		if !tr.Class.Array {
			return tir.Snippet{}, fmt.Errorf("multianewarray of non-array class %s", tr.Class.Name)
		}
		args := append([]tir.Arg{tir.RefArg(tr.Class.Hub)}, lengths...)
		return snip(c.multiNewArray[rank].Resolved, args...)
	}
	args := append([]tir.Arg{tir.RefArg(tr.Guard)}, lengths...)
	return snip(c.multiNewArray[rank].Unresolved, args...)
}

// GenMultiNewArrayBig allocates past the specialization limit from a
// compiler-materialized int array of dimension lengths.
func (c *Catalog) GenMultiNewArrayBig(tr TypeRef, lengthArray tir.Arg) (tir.Snippet, error) {
	if err := tr.check(); err != nil {
		return tir.Snippet{}, err
	}
	if tr.IsResolved() {
		return snip(c.multiNewArrayBig.Resolved, tir.RefArg(tr.Class.Hub), lengthArray)
	}
	return snip(c.multiNewArrayBig.Unresolved, tir.RefArg(tr.Guard), lengthArray)
}
