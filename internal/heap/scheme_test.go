package heap

import (
	"testing"

	"kiln/internal/kind"
	"kiln/internal/tir"
)

type recordingSpec struct {
	points map[BarrierPoint]int
}

func (s *recordingSpec) Generator(p BarrierPoint) BarrierGen {
	if p == ArrayPost {
		return nil
	}
	return BarrierFunc(func(a *tir.Assembler, operands ...tir.OperandID) {
		s.points[p]++
		a.Safepoint()
	})
}

func TestBarrierFallsBackToNoop(t *testing.T) {
	a := tir.NewAssembler()
	a.Restart(kind.Void)

	s := Default()
	s.Barrier(TuplePre).Emit(a)
	s.Barrier(ArrayPost).Emit(a)

	tpl, err := a.Finish("writes")
	if err != nil {
		t.Fatal(err)
	}
	if len(tpl.Instrs) != 0 {
		t.Errorf("no-barrier scheme emitted %d instructions", len(tpl.Instrs))
	}
}

func TestBarrierSpecDispatch(t *testing.T) {
	spec := &recordingSpec{points: make(map[BarrierPoint]int)}
	s := Default()
	s.Barriers = spec

	a := tir.NewAssembler()
	a.Restart(kind.Void)
	s.Barrier(TuplePre).Emit(a)
	s.Barrier(TuplePost).Emit(a)
	s.Barrier(ArrayPost).Emit(a)

	tpl, err := a.Finish("writes")
	if err != nil {
		t.Fatal(err)
	}
	if spec.points[TuplePre] != 1 || spec.points[TuplePost] != 1 {
		t.Errorf("points = %v", spec.points)
	}
	// ArrayPost declared nil and must degrade to the no-op generator.
	if len(tpl.Instrs) != 2 {
		t.Errorf("instrs = %d, want 2", len(tpl.Instrs))
	}
}

func TestSchemeDefaults(t *testing.T) {
	s := Default()
	if !s.InlineTLAB || s.ObjectAlignment != 8 || !s.OutOfLineSlowPath {
		t.Errorf("default scheme: %+v", s)
	}
	if s.TLABMarkOffset == s.TLABTopOffset {
		t.Error("mark and top share an offset")
	}

	r := RuntimeCallOnly()
	if r.InlineTLAB {
		t.Error("runtime-only scheme keeps the TLAB fast path")
	}
}
