package tir

import (
	"fmt"
	"io"
	"strings"

	"kiln/internal/kind"
)

// Template is an immutable, named low-level code shape for one VM operation
// variant. Templates are built once during the catalog build phase and are
// thereafter shared read-only across compiler threads.
type Template struct {
	Name       string
	IsStub     bool
	ResultKind kind.Kind
	Result     OperandID
	Operands   []Operand
	Params     []OperandID
	Temps      []OperandID
	Labels     []Label
	Instrs     []Instr
}

// Operand returns the operand record for id.
func (t *Template) Operand(id OperandID) Operand {
	return t.Operands[id]
}

// ParamKinds lists the kinds of the template's input parameters in order.
func (t *Template) ParamKinds() []kind.Kind {
	out := make([]kind.Kind, len(t.Params))
	for i, id := range t.Params {
		out[i] = t.Operands[id].Kind
	}
	return out
}

// StubRefs lists the distinct stub templates this template calls.
func (t *Template) StubRefs() []*Template {
	seen := make(map[*Template]bool, 4)
	var out []*Template
	for _, in := range t.Instrs {
		if in.Op == OpCallStub && in.Stub != nil && !seen[in.Stub] {
			seen[in.Stub] = true
			out = append(out, in.Stub)
		}
	}
	return out
}

func (t *Template) operandName(id OperandID) string {
	if id == NoOperand {
		return "_"
	}
	o := t.Operands[id]
	if o.Role == RoleConst {
		return o.String()
	}
	if o.Name != "" {
		return o.Name
	}
	return fmt.Sprintf("v%d", id)
}

// Dump writes a readable listing of the template.
func (t *Template) Dump(w io.Writer) {
	kindTag := ""
	if t.ResultKind != kind.Void {
		kindTag = " -> " + t.ResultKind.String()
	}
	params := make([]string, len(t.Params))
	for i, id := range t.Params {
		o := t.Operands[id]
		tag := ""
		if o.Role == RoleConstParam {
			tag = "const "
		}
		params[i] = fmt.Sprintf("%s%s:%s", tag, o.Name, o.Kind)
	}
	fmt.Fprintf(w, "%s(%s)%s\n", t.Name, strings.Join(params, ", "), kindTag)

	byPos := make(map[int][]Label, len(t.Labels))
	for _, l := range t.Labels {
		byPos[l.Pos] = append(byPos[l.Pos], l)
	}
	printLabels := func(pos int) {
		for _, l := range byPos[pos] {
			tag := ""
			if l.OutOfLine {
				tag = " [out-of-line]"
			}
			fmt.Fprintf(w, "%s:%s\n", l.Name, tag)
		}
	}
	for i, in := range t.Instrs {
		printLabels(i)
		fmt.Fprintf(w, "  %s\n", t.instrString(in))
	}
	printLabels(len(t.Instrs))
}

func (t *Template) instrString(in Instr) string {
	n := t.operandName
	switch in.Op {
	case OpMov:
		return fmt.Sprintf("mov %s, %s", n(in.A), n(in.B))
	case OpAdd, OpSub, OpAnd, OpMod:
		return fmt.Sprintf("%s %s, %s, %s", in.Op, n(in.A), n(in.B), n(in.C))
	case OpLea:
		return fmt.Sprintf("lea %s, [%s + %s*%d + %d]", n(in.A), n(in.B), n(in.C), in.Scale, in.Disp)
	case OpLoad:
		return fmt.Sprintf("load.%s %s, [%s + %s]%s", in.Kind, n(in.A), n(in.B), n(in.C), trapTag(in))
	case OpStore:
		return fmt.Sprintf("store.%s [%s + %s], %s%s", in.Kind, n(in.A), n(in.B), n(in.C), trapTag(in))
	case OpLoadIdx:
		return fmt.Sprintf("load.%s %s, [%s + %s*%d + %d]%s", in.Kind, n(in.A), n(in.B), n(in.C), in.Scale, in.Disp, trapTag(in))
	case OpStoreIdx:
		return fmt.Sprintf("store.%s [%s + %s*%d + %d], %s%s", in.Kind, n(in.A), n(in.B), in.Scale, in.Disp, n(in.C), trapTag(in))
	case OpJmp:
		return "jmp " + t.Labels[in.Label].Name
	case OpJeq, OpJneq, OpJlt, OpJgt, OpJlteq, OpJugteq:
		return fmt.Sprintf("%s %s, %s, %s", in.Op, t.Labels[in.Label].Name, n(in.A), n(in.B))
	case OpNullCheck:
		return "nullcheck " + n(in.A)
	case OpSafepoint:
		return "safepoint"
	case OpHere:
		return "here " + n(in.A)
	case OpCallStub:
		args := make([]string, len(in.StubArgs))
		for i, id := range in.StubArgs {
			args[i] = n(id)
		}
		return fmt.Sprintf("callstub %s, %q(%s)", n(in.A), in.Stub.Name, strings.Join(args, ", "))
	case OpCallBinding:
		args := make([]string, len(in.StubArgs))
		for i, id := range in.StubArgs {
			args[i] = n(id)
		}
		return fmt.Sprintf("callbinding %s, %q(%s)", n(in.A), in.Binding, strings.Join(args, ", "))
	default:
		return in.Op.String()
	}
}

func trapTag(in Instr) string {
	if in.CanTrap {
		return " !trap"
	}
	return ""
}
