// Package heap describes the capabilities of the active memory-management
// scheme that templates must respect: whether inline bump-pointer
// allocation is available, the thread-local buffer field offsets, and the
// write barriers a collector wants around reference writes.
package heap

// Scheme is the capability object a collector implementation supplies to
// the catalog build. Templates never hard-code a memory-management policy;
// everything policy-specific flows through here.
type Scheme struct {
	// InlineTLAB enables the bump-pointer fast path. Collectors that
	// cannot tolerate inline allocation (tagging or fully concurrent
	// schemes) leave it off and every allocation goes through the
	// runtime allocator.
	InlineTLAB bool

	// ObjectAlignment is the cell alignment unit in bytes.
	ObjectAlignment int

	// OutOfLineSlowPath places the TLAB overflow call on an out-of-line
	// label; otherwise the slow path is stitched inline.
	OutOfLineSlowPath bool

	// LogAllocations records each fast-path allocation in the in-buffer
	// event log.
	LogAllocations bool

	// Thread-local field offsets. ETLAOffset is relative to the latch
	// register; the rest are relative to the ETLA pointer.
	ETLAOffset     int32
	TLABMarkOffset int32
	TLABTopOffset  int32
	LogTailOffset  int32
	ProfilerOffset int32

	// Barriers supplies the write-barrier generators. Nil means no
	// barriers.
	Barriers BarrierSpec
}

// Default returns a scheme with the TLAB fast path enabled and no write
// barriers, matching a stop-the-world moving collector.
func Default() Scheme {
	return Scheme{
		InlineTLAB:        true,
		ObjectAlignment:   8,
		OutOfLineSlowPath: true,
		ETLAOffset:        8,
		TLABMarkOffset:    16,
		TLABTopOffset:     24,
		ProfilerOffset:    32,
		LogTailOffset:     40,
	}
}

// RuntimeCallOnly returns a scheme with inline allocation disabled; every
// allocation calls into the managed allocator.
func RuntimeCallOnly() Scheme {
	s := Default()
	s.InlineTLAB = false
	return s
}

// Barrier returns the generator for point p, falling back to the no-op
// generator when the scheme declares none.
func (s Scheme) Barrier(p BarrierPoint) BarrierGen {
	if s.Barriers == nil {
		return nullBarrier{}
	}
	g := s.Barriers.Generator(p)
	if g == nil {
		return nullBarrier{}
	}
	return g
}
