package heap

import "kiln/internal/tir"

// BarrierPoint identifies where in a reference write a barrier is injected.
type BarrierPoint uint8

const (
	// TuplePre runs before a reference field write; the operand is the
	// written object.
	TuplePre BarrierPoint = iota
	// TuplePost runs after a reference field write.
	TuplePost
	// ArrayPre runs before a reference element write; the operands are
	// the array and the element index.
	ArrayPre
	// ArrayPost runs after a reference element write.
	ArrayPost
)

// BarrierGen emits barrier code into a template under construction.
type BarrierGen interface {
	Emit(a *tir.Assembler, operands ...tir.OperandID)
}

// BarrierSpec maps barrier points to generators. A collector implements it
// to inject its own barriers; returning nil for a point means no code.
type BarrierSpec interface {
	Generator(p BarrierPoint) BarrierGen
}

// BarrierFunc adapts a function to BarrierGen.
type BarrierFunc func(a *tir.Assembler, operands ...tir.OperandID)

// Emit calls f.
func (f BarrierFunc) Emit(a *tir.Assembler, operands ...tir.OperandID) { f(a, operands...) }

type nullBarrier struct{}

func (nullBarrier) Emit(*tir.Assembler, ...tir.OperandID) {}
