package tir

import (
	"fmt"

	"kiln/internal/kind"
)

// OperandID identifies an operand within one template.
type OperandID int32

// NoOperand marks an absent operand slot.
const NoOperand OperandID = -1

// Role describes how an operand slot is filled.
type Role uint8

const (
	// RoleParam is an input parameter bound to a runtime value per call site.
	RoleParam Role = iota
	// RoleConstParam is an input parameter whose per-site value is a
	// compile-time constant (foldable by the instruction selector).
	RoleConstParam
	// RoleTemp is an internal temporary.
	RoleTemp
	// RoleRegisterTemp is a temporary pinned to a named machine register.
	RoleRegisterTemp
	// RoleConst is a template-embedded constant.
	RoleConst
	// RoleResult is the template result.
	RoleResult
)

func (r Role) String() string {
	switch r {
	case RoleParam:
		return "param"
	case RoleConstParam:
		return "const-param"
	case RoleTemp:
		return "temp"
	case RoleRegisterTemp:
		return "reg-temp"
	case RoleConst:
		return "const"
	case RoleResult:
		return "result"
	default:
		return "role?"
	}
}

// Const is the payload of a RoleConst operand. Ref constants carry the
// object itself (a hub, a resolution guard, or nil); everything else is
// carried in Bits.
type Const struct {
	Kind kind.Kind
	Bits int64
	Obj  any
}

// Operand is one typed slot of a template: a parameter, a temporary, a
// pinned register or an embedded constant.
type Operand struct {
	ID       OperandID
	Name     string
	Kind     kind.Kind
	Role     Role
	Register string // RoleRegisterTemp only
	Const    Const  // RoleConst only
}

func (o Operand) String() string {
	switch o.Role {
	case RoleConst:
		if o.Const.Obj != nil {
			return fmt.Sprintf("obj(%v)", o.Const.Obj)
		}
		return fmt.Sprintf("%s(%d)", o.Kind, o.Const.Bits)
	case RoleRegisterTemp:
		return fmt.Sprintf("%s@%s:%s", o.Name, o.Register, o.Kind)
	default:
		return fmt.Sprintf("%s:%s", o.Name, o.Kind)
	}
}
