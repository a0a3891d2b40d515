package tir

import "kiln/internal/kind"

// Op enumerates template instruction opcodes.
type Op uint8

const (
	// OpMov copies B into A.
	OpMov Op = iota
	// OpAdd computes A = B + C.
	OpAdd
	// OpSub computes A = B - C.
	OpSub
	// OpAnd computes A = B & C.
	OpAnd
	// OpMod computes A = B mod C (non-negative result for non-negative B).
	OpMod
	// OpLea computes A = B + C*Scale + Disp without touching memory.
	OpLea
	// OpLoad loads A = mem[B + C] where C is an offset operand.
	OpLoad
	// OpStore stores mem[A + B] = C where B is an offset operand.
	OpStore
	// OpLoadIdx loads A = mem[B + C*Scale + Disp].
	OpLoadIdx
	// OpStoreIdx stores mem[A + B*Scale + Disp] = C.
	OpStoreIdx
	// OpJmp jumps unconditionally to Label.
	OpJmp
	// OpJeq jumps to Label if A == B.
	OpJeq
	// OpJneq jumps to Label if A != B.
	OpJneq
	// OpJlt jumps to Label if A < B (signed).
	OpJlt
	// OpJgt jumps to Label if A > B (signed).
	OpJgt
	// OpJlteq jumps to Label if A <= B (signed).
	OpJlteq
	// OpJugteq jumps to Label if A >= B (unsigned). A single unsigned
	// compare covers both the negative-index and the index>=length case.
	OpJugteq
	// OpNullCheck traps if A is null.
	OpNullCheck
	// OpSafepoint marks a cooperative pause point; the latch load that
	// follows it is what actually parks the thread.
	OpSafepoint
	// OpHere captures the current code address into A.
	OpHere
	// OpCallStub calls another template (a runtime-call stub) with Args,
	// result in A (NoOperand for void stubs).
	OpCallStub
	// OpCallBinding transfers directly into a registered runtime binding.
	// Only stub templates contain it.
	OpCallBinding
	// OpDeopt abandons the compiled frame and falls back to a lower
	// execution tier. Never returns.
	OpDeopt
	// OpPushFrame establishes the method frame.
	OpPushFrame
	// OpPopFrame tears the method frame down.
	OpPopFrame
	// OpStackCheck performs the stack-overflow bang.
	OpStackCheck
	// OpUnreachable marks statically unreachable code.
	OpUnreachable
)

// Instr is one template instruction. Operand slots not used by the opcode
// hold NoOperand; Label holds NoLabel for non-branches.
type Instr struct {
	Op   Op
	Kind kind.Kind // memory access or comparison kind
	A    OperandID
	B    OperandID
	C    OperandID

	Disp  int32
	Scale int32

	Label LabelID

	// CanTrap marks a memory access that doubles as an implicit null
	// check of its base.
	CanTrap bool

	// Stub call payload.
	Stub     *Template
	StubArgs []OperandID

	// Binding is the logical runtime operation name for OpCallBinding.
	Binding string
}

func (op Op) String() string {
	switch op {
	case OpMov:
		return "mov"
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpAnd:
		return "and"
	case OpMod:
		return "mod"
	case OpLea:
		return "lea"
	case OpLoad:
		return "load"
	case OpStore:
		return "store"
	case OpLoadIdx:
		return "loadidx"
	case OpStoreIdx:
		return "storeidx"
	case OpJmp:
		return "jmp"
	case OpJeq:
		return "jeq"
	case OpJneq:
		return "jneq"
	case OpJlt:
		return "jlt"
	case OpJgt:
		return "jgt"
	case OpJlteq:
		return "jlteq"
	case OpJugteq:
		return "jugteq"
	case OpNullCheck:
		return "nullcheck"
	case OpSafepoint:
		return "safepoint"
	case OpHere:
		return "here"
	case OpCallStub:
		return "callstub"
	case OpCallBinding:
		return "callbinding"
	case OpDeopt:
		return "deopt"
	case OpPushFrame:
		return "pushframe"
	case OpPopFrame:
		return "popframe"
	case OpStackCheck:
		return "stackcheck"
	case OpUnreachable:
		return "unreachable"
	default:
		return "op?"
	}
}
