// Package interp executes templates against a simulated runtime world.
// It is the reference executor the template catalog is tested with; a
// real backend would lower the same instructions to machine code.
package interp

import (
	"fmt"

	"kiln/internal/kind"
	"kiln/internal/rt"
	"kiln/internal/tir"
)

// maxSteps bounds one template run. Templates are short straight-line
// shapes; hitting the bound means a branch cycle, which is a build bug.
const maxSteps = 1 << 16

// Machine runs snippets. One machine serves one thread; the world behind
// it may be shared.
type Machine struct {
	Env      *rt.Env
	Registry *rt.Registry

	// Safepoints counts cooperative pause markers crossed.
	Safepoints int
	// Deopts counts abandoned frames.
	Deopts int
}

// New creates a machine for env dispatching runtime calls through reg.
func New(env *rt.Env, reg *rt.Registry) *Machine {
	return &Machine{Env: env, Registry: reg}
}

// Run executes a snippet and returns its result value.
func (m *Machine) Run(s tir.Snippet) (rt.Value, error) {
	vals := make([]rt.Value, len(s.Args))
	for i, arg := range s.Args {
		vals[i] = m.argValue(arg)
	}
	return m.run(s.Template, vals)
}

func (m *Machine) argValue(arg tir.Arg) rt.Value {
	if arg.IsObj {
		return m.refValue(arg.Obj)
	}
	return rt.Value{Bits: uint64(arg.Bits)}
}

// refValue maps a reference constant to its simulated address. Hubs live
// in simulated memory; guards, members and class records are interned.
func (m *Machine) refValue(obj any) rt.Value {
	switch v := obj.(type) {
	case nil:
		return rt.NullVal()
	case *rt.Hub:
		return rt.RefVal(v.Addr, v)
	default:
		return rt.RefVal(m.Env.World.Intern(obj), obj)
	}
}

func (m *Machine) run(t *tir.Template, args []rt.Value) (rt.Value, error) {
	if len(args) != len(t.Params) {
		return rt.Value{}, fmt.Errorf("template %q: %d args for %d params", t.Name, len(args), len(t.Params))
	}
	regs := make([]rt.Value, len(t.Operands))
	for i, id := range t.Params {
		regs[id] = args[i]
	}
	for _, op := range t.Operands {
		switch op.Role {
		case tir.RoleConst:
			if op.Kind == kind.Ref {
				regs[op.ID] = m.refValue(op.Const.Obj)
			} else {
				regs[op.ID] = rt.Value{Bits: uint64(op.Const.Bits)}
			}
		case tir.RoleRegisterTemp:
			// The latch register carries the thread-locals pointer into
			// every template.
			if op.Register == m.Env.World.Arch.Latch {
				regs[op.ID] = rt.WordVal(m.Env.Thread.TLA)
			}
		}
	}

	get := func(id tir.OperandID) rt.Value { return regs[id] }
	kindOf := func(id tir.OperandID) kind.Kind { return t.Operands[id].Kind }

	pc := 0
	for steps := 0; ; steps++ {
		if steps >= maxSteps {
			return rt.Value{}, fmt.Errorf("template %q: step limit hit at pc %d", t.Name, pc)
		}
		if pc < 0 || pc > len(t.Instrs) {
			return rt.Value{}, fmt.Errorf("template %q: pc %d out of range", t.Name, pc)
		}
		if pc == len(t.Instrs) {
			break
		}
		in := t.Instrs[pc]
		branch := false
		switch in.Op {
		case tir.OpMov:
			regs[in.A] = get(in.B)
		case tir.OpAdd, tir.OpSub, tir.OpAnd, tir.OpMod:
			v, err := arith(t, in, get(in.B), get(in.C), kindOf(in.A))
			if err != nil {
				return rt.Value{}, err
			}
			regs[in.A] = v
		case tir.OpLea:
			addr := get(in.B).Bits + uint64(int64(in.Disp))
			if in.C != tir.NoOperand {
				addr += uint64(signedOf(kindOf(in.C), get(in.C).Bits) * int64(in.Scale))
			}
			regs[in.A] = rt.WordVal(addr)
		case tir.OpLoad:
			base := get(in.B)
			if err := m.trapCheck(in, base); err != nil {
				return rt.Value{}, err
			}
			addr := base.Bits + uint64(signedOf(kindOf(in.C), get(in.C).Bits))
			bits, err := m.Env.World.Load(in.Kind, addr)
			if err != nil {
				return rt.Value{}, fmt.Errorf("template %q pc %d: %w", t.Name, pc, err)
			}
			regs[in.A] = rt.Value{Bits: bits}
		case tir.OpStore:
			base := get(in.A)
			if err := m.trapCheck(in, base); err != nil {
				return rt.Value{}, err
			}
			addr := base.Bits + uint64(signedOf(kindOf(in.B), get(in.B).Bits))
			if err := m.Env.World.Store(in.Kind, addr, get(in.C).Bits); err != nil {
				return rt.Value{}, fmt.Errorf("template %q pc %d: %w", t.Name, pc, err)
			}
		case tir.OpLoadIdx:
			base := get(in.B)
			if err := m.trapCheck(in, base); err != nil {
				return rt.Value{}, err
			}
			addr := elemAddr(base.Bits, signedOf(kindOf(in.C), get(in.C).Bits), in)
			bits, err := m.Env.World.Load(in.Kind, addr)
			if err != nil {
				return rt.Value{}, fmt.Errorf("template %q pc %d: %w", t.Name, pc, err)
			}
			regs[in.A] = rt.Value{Bits: bits}
		case tir.OpStoreIdx:
			base := get(in.A)
			if err := m.trapCheck(in, base); err != nil {
				return rt.Value{}, err
			}
			addr := elemAddr(base.Bits, signedOf(kindOf(in.B), get(in.B).Bits), in)
			if err := m.Env.World.Store(in.Kind, addr, get(in.C).Bits); err != nil {
				return rt.Value{}, fmt.Errorf("template %q pc %d: %w", t.Name, pc, err)
			}
		case tir.OpJmp:
			pc = t.Labels[in.Label].Pos
			branch = true
		case tir.OpJeq, tir.OpJneq, tir.OpJlt, tir.OpJgt, tir.OpJlteq, tir.OpJugteq:
			if compare(in.Op, kindOf(in.A), get(in.A).Bits, get(in.B).Bits) {
				pc = t.Labels[in.Label].Pos
				branch = true
			}
		case tir.OpNullCheck:
			if get(in.A).Bits == 0 {
				return rt.Value{}, rt.Throwf(rt.ErrNullPointer, "template %q", t.Name)
			}
		case tir.OpSafepoint:
			m.Safepoints++
		case tir.OpHere:
			// A fake return address: templates only need it to be a
			// stable non-zero word.
			regs[in.A] = rt.WordVal(uint64(0x6000_0000) + uint64(pc))
		case tir.OpCallStub:
			stubArgs := make([]rt.Value, len(in.StubArgs))
			for i, id := range in.StubArgs {
				stubArgs[i] = get(id)
			}
			res, err := m.run(in.Stub, stubArgs)
			if err != nil {
				return rt.Value{}, err
			}
			if in.A != tir.NoOperand {
				regs[in.A] = res
			}
		case tir.OpCallBinding:
			b, ok := m.Registry.Lookup(in.Binding)
			if !ok {
				return rt.Value{}, fmt.Errorf("template %q: unknown binding %q", t.Name, in.Binding)
			}
			if len(in.StubArgs) != len(b.Params) {
				return rt.Value{}, fmt.Errorf("template %q: binding %q takes %d args, got %d", t.Name, b.Name, len(b.Params), len(in.StubArgs))
			}
			bArgs := make([]rt.Value, len(in.StubArgs))
			for i, id := range in.StubArgs {
				bArgs[i] = get(id)
			}
			res, err := b.Fn(m.Env, bArgs)
			if err != nil {
				return rt.Value{}, err
			}
			if in.A != tir.NoOperand {
				regs[in.A] = res
			}
		case tir.OpDeopt:
			m.Deopts++
			return rt.Value{}, rt.ErrDeoptimized
		case tir.OpPushFrame, tir.OpPopFrame, tir.OpStackCheck:
			// Frame bookkeeping has no observable effect here.
		case tir.OpUnreachable:
			return rt.Value{}, fmt.Errorf("template %q: unreachable executed at pc %d", t.Name, pc)
		default:
			return rt.Value{}, fmt.Errorf("template %q: bad opcode %v at pc %d", t.Name, in.Op, pc)
		}
		if !branch {
			pc++
		}
	}

	if t.Result != tir.NoOperand {
		return regs[t.Result], nil
	}
	return rt.Value{}, nil
}

func (m *Machine) trapCheck(in tir.Instr, base rt.Value) error {
	if in.CanTrap && base.Bits == 0 {
		return rt.Throwf(rt.ErrNullPointer, "implicit check on %s", in.Op)
	}
	return nil
}

func elemAddr(base uint64, index int64, in tir.Instr) uint64 {
	return base + uint64(index*int64(in.Scale)+int64(in.Disp))
}

// signedOf widens raw operand bits to a signed 64-bit value under the
// operand's kind.
func signedOf(k kind.Kind, bits uint64) int64 {
	switch k {
	case kind.Boolean, kind.Byte:
		return int64(int8(bits))
	case kind.Short:
		return int64(int16(bits))
	case kind.Char:
		return int64(uint16(bits))
	case kind.Int:
		return int64(int32(bits))
	default:
		return int64(bits)
	}
}

func arith(t *tir.Template, in tir.Instr, x, y rt.Value, resKind kind.Kind) (rt.Value, error) {
	xs := signedOf(resKind, x.Bits)
	ys := signedOf(resKind, y.Bits)
	var r int64
	switch in.Op {
	case tir.OpAdd:
		r = xs + ys
	case tir.OpSub:
		r = xs - ys
	case tir.OpAnd:
		r = xs & ys
	case tir.OpMod:
		if ys == 0 {
			return rt.Value{}, fmt.Errorf("template %q: mod by zero", t.Name)
		}
		r = xs % ys
	}
	if resKind == kind.Int {
		return rt.Value{Bits: uint64(uint32(int32(r)))}, nil
	}
	return rt.Value{Bits: uint64(r)}, nil
}

func compare(op tir.Op, k kind.Kind, a, b uint64) bool {
	if op == tir.OpJugteq {
		if k == kind.Int {
			return uint32(a) >= uint32(b)
		}
		return a >= b
	}
	x := signedOf(k, a)
	y := signedOf(k, b)
	switch op {
	case tir.OpJeq:
		return x == y
	case tir.OpJneq:
		return x != y
	case tir.OpJlt:
		return x < y
	case tir.OpJgt:
		return x > y
	case tir.OpJlteq:
		return x <= y
	default:
		return false
	}
}
