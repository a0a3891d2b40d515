package tir

import (
	"fmt"

	"kiln/internal/kind"
)

// Assembler accumulates operands, labels and instructions for one template.
// It is reused across consecutive template builds via Restart. An Assembler
// must not be shared between concurrent compilations; each compilation
// clones its own with Copy.
type Assembler struct {
	operands []Operand
	params   []OperandID
	temps    []OperandID
	labels   []Label
	instrs   []Instr

	result     OperandID
	resultKind kind.Kind

	started bool
	err     error
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{result: NoOperand}
}

// Copy returns an independent assembler with no in-progress state. Buffered
// template state is never carried across compilations.
func (a *Assembler) Copy() *Assembler {
	return NewAssembler()
}

// Restart discards any in-progress template and begins a new one producing
// a result of kind k. The returned operand is the result slot, or NoOperand
// when k is Void.
func (a *Assembler) Restart(k kind.Kind) OperandID {
	a.operands = a.operands[:0]
	a.params = a.params[:0]
	a.temps = a.temps[:0]
	a.labels = a.labels[:0]
	a.instrs = a.instrs[:0]
	a.result = NoOperand
	a.resultKind = k
	a.started = true
	a.err = nil
	if k != kind.Void {
		a.result = a.newOperand("result", k, RoleResult)
	}
	return a.result
}

func (a *Assembler) fail(format string, args ...any) {
	if a.err == nil {
		a.err = fmt.Errorf(format, args...)
	}
}

func (a *Assembler) newOperand(name string, k kind.Kind, role Role) OperandID {
	id := OperandID(len(a.operands))
	a.operands = append(a.operands, Operand{ID: id, Name: name, Kind: k, Role: role})
	return id
}

// NewParam declares an input parameter filled with a runtime value at each
// call site.
func (a *Assembler) NewParam(name string, k kind.Kind) OperandID {
	id := a.newOperand(name, k, RoleParam)
	a.params = append(a.params, id)
	return id
}

// NewConstParam declares an input parameter whose per-site value is a
// compile-time constant.
func (a *Assembler) NewConstParam(name string, k kind.Kind) OperandID {
	id := a.newOperand(name, k, RoleConstParam)
	a.params = append(a.params, id)
	return id
}

// NewTemp declares an internal temporary.
func (a *Assembler) NewTemp(name string, k kind.Kind) OperandID {
	id := a.newOperand(name, k, RoleTemp)
	a.temps = append(a.temps, id)
	return id
}

// NewRegisterTemp declares a temporary pinned to a named machine register.
func (a *Assembler) NewRegisterTemp(name string, k kind.Kind, register string) OperandID {
	id := a.newOperand(name, k, RoleRegisterTemp)
	a.operands[id].Register = register
	a.temps = append(a.temps, id)
	return id
}

func (a *Assembler) newConst(c Const) OperandID {
	id := a.newOperand("", c.Kind, RoleConst)
	a.operands[id].Const = c
	return id
}

// I embeds an int constant.
func (a *Assembler) I(v int32) OperandID {
	return a.newConst(Const{Kind: kind.Int, Bits: int64(v)})
}

// W embeds a word constant.
func (a *Assembler) W(v int64) OperandID {
	return a.newConst(Const{Kind: kind.Word, Bits: v})
}

// B embeds a boolean constant.
func (a *Assembler) B(v bool) OperandID {
	bits := int64(0)
	if v {
		bits = 1
	}
	return a.newConst(Const{Kind: kind.Boolean, Bits: bits})
}

// Null embeds the null reference constant.
func (a *Assembler) Null() OperandID {
	return a.newConst(Const{Kind: kind.Ref})
}

// Obj embeds a reference constant (a hub or a resolution guard).
func (a *Assembler) Obj(v any) OperandID {
	return a.newConst(Const{Kind: kind.Ref, Obj: v})
}

// InlineLabel creates an unbound label on the fast path.
func (a *Assembler) InlineLabel(name string) LabelID {
	return a.newLabel(name, false)
}

// OutOfLineLabel creates an unbound label on the out-of-line slow path.
func (a *Assembler) OutOfLineLabel(name string) LabelID {
	return a.newLabel(name, true)
}

func (a *Assembler) newLabel(name string, outOfLine bool) LabelID {
	id := LabelID(len(a.labels))
	a.labels = append(a.labels, Label{ID: id, Name: name, OutOfLine: outOfLine, Pos: -1})
	return id
}

// Bind attaches a label before the next emitted instruction.
func (a *Assembler) Bind(l LabelID) {
	if int(l) < 0 || int(l) >= len(a.labels) {
		a.fail("bind of unknown label %d", l)
		return
	}
	if a.labels[l].Pos >= 0 {
		a.fail("label %q bound twice", a.labels[l].Name)
		return
	}
	a.labels[l].Pos = len(a.instrs)
}

func (a *Assembler) emit(in Instr) {
	a.instrs = append(a.instrs, in)
}

// Mov copies src into dst.
func (a *Assembler) Mov(dst, src OperandID) {
	a.emit(Instr{Op: OpMov, A: dst, B: src, C: NoOperand, Label: NoLabel})
}

// Add computes dst = x + y.
func (a *Assembler) Add(dst, x, y OperandID) {
	a.emit(Instr{Op: OpAdd, A: dst, B: x, C: y, Label: NoLabel})
}

// Sub computes dst = x - y.
func (a *Assembler) Sub(dst, x, y OperandID) {
	a.emit(Instr{Op: OpSub, A: dst, B: x, C: y, Label: NoLabel})
}

// And computes dst = x & y.
func (a *Assembler) And(dst, x, y OperandID) {
	a.emit(Instr{Op: OpAnd, A: dst, B: x, C: y, Label: NoLabel})
}

// Mod computes dst = x mod y.
func (a *Assembler) Mod(dst, x, y OperandID) {
	a.emit(Instr{Op: OpMod, A: dst, B: x, C: y, Label: NoLabel})
}

// Lea computes dst = base + index*scale + disp without a memory access.
func (a *Assembler) Lea(dst, base, index OperandID, disp, scale int32) {
	a.emit(Instr{Op: OpLea, A: dst, B: base, C: index, Disp: disp, Scale: scale, Label: NoLabel})
}

// Load loads dst = mem[base+off] of the given kind. canTrap marks the load
// as an implicit null check of base.
func (a *Assembler) Load(k kind.Kind, dst, base, off OperandID, canTrap bool) {
	a.emit(Instr{Op: OpLoad, Kind: k, A: dst, B: base, C: off, CanTrap: canTrap, Label: NoLabel})
}

// Store stores mem[base+off] = value of the given kind.
func (a *Assembler) Store(k kind.Kind, base, off, value OperandID, canTrap bool) {
	a.emit(Instr{Op: OpStore, Kind: k, A: base, B: off, C: value, CanTrap: canTrap, Label: NoLabel})
}

// LoadElem loads dst = mem[base + index*scale + disp].
func (a *Assembler) LoadElem(k kind.Kind, dst, base, index OperandID, disp, scale int32, canTrap bool) {
	a.emit(Instr{Op: OpLoadIdx, Kind: k, A: dst, B: base, C: index, Disp: disp, Scale: scale, CanTrap: canTrap, Label: NoLabel})
}

// StoreElem stores mem[base + index*scale + disp] = value.
func (a *Assembler) StoreElem(k kind.Kind, base, index, value OperandID, disp, scale int32, canTrap bool) {
	a.emit(Instr{Op: OpStoreIdx, Kind: k, A: base, B: index, C: value, Disp: disp, Scale: scale, CanTrap: canTrap, Label: NoLabel})
}

// Jmp jumps unconditionally.
func (a *Assembler) Jmp(l LabelID) {
	a.emit(Instr{Op: OpJmp, A: NoOperand, B: NoOperand, C: NoOperand, Label: l})
}

func (a *Assembler) jcc(op Op, l LabelID, x, y OperandID) {
	a.emit(Instr{Op: op, A: x, B: y, C: NoOperand, Label: l})
}

// Jeq jumps if x == y.
func (a *Assembler) Jeq(l LabelID, x, y OperandID) { a.jcc(OpJeq, l, x, y) }

// Jneq jumps if x != y.
func (a *Assembler) Jneq(l LabelID, x, y OperandID) { a.jcc(OpJneq, l, x, y) }

// Jlt jumps if x < y, signed.
func (a *Assembler) Jlt(l LabelID, x, y OperandID) { a.jcc(OpJlt, l, x, y) }

// Jgt jumps if x > y, signed.
func (a *Assembler) Jgt(l LabelID, x, y OperandID) { a.jcc(OpJgt, l, x, y) }

// Jlteq jumps if x <= y, signed.
func (a *Assembler) Jlteq(l LabelID, x, y OperandID) { a.jcc(OpJlteq, l, x, y) }

// Jugteq jumps if x >= y, unsigned.
func (a *Assembler) Jugteq(l LabelID, x, y OperandID) { a.jcc(OpJugteq, l, x, y) }

// NullCheck traps if x is null.
func (a *Assembler) NullCheck(x OperandID) {
	a.emit(Instr{Op: OpNullCheck, A: x, B: NoOperand, C: NoOperand, Label: NoLabel})
}

// Safepoint emits a cooperative pause point marker.
func (a *Assembler) Safepoint() {
	a.emit(Instr{Op: OpSafepoint, A: NoOperand, B: NoOperand, C: NoOperand, Label: NoLabel})
}

// Here captures the current code address into dst.
func (a *Assembler) Here(dst OperandID) {
	a.emit(Instr{Op: OpHere, A: dst, B: NoOperand, C: NoOperand, Label: NoLabel})
}

// CallStub calls a runtime-call stub template. result is NoOperand for
// void stubs.
func (a *Assembler) CallStub(stub *Template, result OperandID, args ...OperandID) {
	if stub == nil {
		a.fail("call of nil stub")
		return
	}
	if len(args) != len(stub.Params) {
		a.fail("stub %q takes %d arguments, got %d", stub.Name, len(stub.Params), len(args))
		return
	}
	a.emit(Instr{Op: OpCallStub, A: result, B: NoOperand, C: NoOperand, Label: NoLabel, Stub: stub, StubArgs: args})
}

// CallBinding transfers into a registered runtime binding. Only the stub
// registry emits it.
func (a *Assembler) CallBinding(name string, result OperandID, args ...OperandID) {
	a.emit(Instr{Op: OpCallBinding, A: result, B: NoOperand, C: NoOperand, Label: NoLabel, Binding: name, StubArgs: args})
}

// Deopt abandons the compiled frame for a lower execution tier.
func (a *Assembler) Deopt() {
	a.emit(Instr{Op: OpDeopt, A: NoOperand, B: NoOperand, C: NoOperand, Label: NoLabel})
}

// PushFrame establishes the method frame.
func (a *Assembler) PushFrame() {
	a.emit(Instr{Op: OpPushFrame, A: NoOperand, B: NoOperand, C: NoOperand, Label: NoLabel})
}

// PopFrame tears the method frame down.
func (a *Assembler) PopFrame() {
	a.emit(Instr{Op: OpPopFrame, A: NoOperand, B: NoOperand, C: NoOperand, Label: NoLabel})
}

// StackOverflowCheck emits the stack bang.
func (a *Assembler) StackOverflowCheck() {
	a.emit(Instr{Op: OpStackCheck, A: NoOperand, B: NoOperand, C: NoOperand, Label: NoLabel})
}

// Unreachable marks statically unreachable code.
func (a *Assembler) Unreachable() {
	a.emit(Instr{Op: OpUnreachable, A: NoOperand, B: NoOperand, C: NoOperand, Label: NoLabel})
}

// Finish validates and freezes the in-progress template.
func (a *Assembler) Finish(name string) (*Template, error) {
	return a.finish(name, false)
}

// FinishStub is Finish for runtime-call stub templates.
func (a *Assembler) FinishStub(name string) (*Template, error) {
	return a.finish(name, true)
}

func (a *Assembler) finish(name string, isStub bool) (*Template, error) {
	if !a.started {
		return nil, fmt.Errorf("finish of %q before restart", name)
	}
	if a.err != nil {
		return nil, a.err
	}
	if err := a.validate(name); err != nil {
		return nil, err
	}
	t := &Template{
		Name:       name,
		IsStub:     isStub,
		ResultKind: a.resultKind,
		Result:     a.result,
		Operands:   append([]Operand(nil), a.operands...),
		Params:     append([]OperandID(nil), a.params...),
		Temps:      append([]OperandID(nil), a.temps...),
		Labels:     append([]Label(nil), a.labels...),
		Instrs:     append([]Instr(nil), a.instrs...),
	}
	a.started = false
	return t, nil
}

func (a *Assembler) validate(name string) error {
	for _, l := range a.labels {
		if l.Pos < 0 {
			return fmt.Errorf("template %q: label %q never bound", name, l.Name)
		}
		if l.Pos > len(a.instrs) {
			return fmt.Errorf("template %q: label %q bound past the end", name, l.Name)
		}
	}
	check := func(id OperandID, instr int) error {
		if id == NoOperand {
			return nil
		}
		if int(id) < 0 || int(id) >= len(a.operands) {
			return fmt.Errorf("template %q: instruction %d references unknown operand %d", name, instr, id)
		}
		return nil
	}
	for i, in := range a.instrs {
		for _, id := range [...]OperandID{in.A, in.B, in.C} {
			if err := check(id, i); err != nil {
				return err
			}
		}
		for _, id := range in.StubArgs {
			if err := check(id, i); err != nil {
				return err
			}
		}
		if in.Label != NoLabel && (int(in.Label) < 0 || int(in.Label) >= len(a.labels)) {
			return fmt.Errorf("template %q: instruction %d jumps to unknown label %d", name, i, in.Label)
		}
		switch in.Op {
		case OpJmp, OpJeq, OpJneq, OpJlt, OpJgt, OpJlteq, OpJugteq:
			if in.Label == NoLabel {
				return fmt.Errorf("template %q: branch at %d has no target", name, i)
			}
		}
	}
	return nil
}
