package rt

import (
	"kiln/internal/kind"
)

// Field is a declared field with its assigned offset. Instance field
// offsets are relative to the object origin, static field offsets to the
// class's static tuple.
type Field struct {
	Class  *Class
	Name   string
	Kind   kind.Kind
	Static bool
	Offset int32
}

// Method is a declared method. Virtual methods carry their global vtable
// word index; interface methods carry their 1-based index within the
// declaring interface (slot 0 of an itable block holds the interface id).
type Method struct {
	Class  *Class
	Name   string
	Static bool
	// VTableIndex is the global word index of the method's vtable slot,
	// already offset past the hub scalar block. -1 for statics and
	// interface declarations.
	VTableIndex int32
	// IfaceIndex is the 1-based slot of an interface method within its
	// interface's itable block. 0 for everything else.
	IfaceIndex int32
	// Entry is the method's code entry address.
	Entry uint64
}

// FullName returns Class.Name dot method name.
func (m *Method) FullName() string { return m.Class.Name + "." + m.Name }

// Class is a runtime type: a plain class, an interface, or an array type.
type Class struct {
	Name      string
	TypeID    int32
	Super     *Class
	Interface bool
	Final     bool
	// Hybrid marks classes whose instances carry both fields and a word
	// array (the hub's own shape); allocation stamps their length slot.
	Hybrid bool

	// Array types.
	Array    bool
	Elem     *Class    // component type for reference arrays
	ElemKind kind.Kind // element kind (Ref for reference arrays)

	// Declared interfaces (direct), fields and methods.
	Ifaces  []*Class
	Fields  []*Field
	Methods []*Method

	// Prepared state.
	Hub         *Hub
	StaticTuple uint64
	TupleSize   int32
	vtable      []*Method

	initialized bool
	initCount   int
}

// IsLeaf reports whether the class admits the single-comparison type
// check: final and not an array.
func (c *Class) IsLeaf() bool { return c.Final && !c.Array }

// FieldByName finds a declared or inherited field.
func (c *Class) FieldByName(name string) *Field {
	for cur := c; cur != nil; cur = cur.Super {
		for _, f := range cur.Fields {
			if f.Name == name {
				return f
			}
		}
	}
	return nil
}

// MethodByName finds a declared or inherited method.
func (c *Class) MethodByName(name string) *Method {
	for cur := c; cur != nil; cur = cur.Super {
		for _, m := range cur.Methods {
			if m.Name == name {
				return m
			}
		}
	}
	return nil
}

// AllInterfaces returns the transitively implemented interfaces, including
// superinterfaces and interfaces of superclasses, deduplicated in
// discovery order.
func (c *Class) AllInterfaces() []*Class {
	seen := make(map[*Class]bool, 8)
	var out []*Class
	var walk func(cls *Class)
	walk = func(cls *Class) {
		if cls == nil {
			return
		}
		for _, in := range cls.Ifaces {
			if !seen[in] {
				seen[in] = true
				out = append(out, in)
				walk(in)
			}
		}
		walk(cls.Super)
	}
	if c.Interface {
		seen[c] = true
		out = append(out, c)
	}
	walk(c)
	return out
}

// IsSubtypeOf reports whether c is assignable to target.
func (c *Class) IsSubtypeOf(target *Class) bool {
	if c == target {
		return true
	}
	if target.Interface {
		for _, in := range c.AllInterfaces() {
			if in == target {
				return true
			}
		}
		return false
	}
	if c.Array {
		if target.Array {
			if c.Elem != nil && target.Elem != nil {
				return c.Elem.IsSubtypeOf(target.Elem)
			}
			return c.ElemKind == target.ElemKind
		}
		// Arrays are assignable to the root class only.
		return target.Super == nil && !target.Array
	}
	for cur := c.Super; cur != nil; cur = cur.Super {
		if cur == target {
			return true
		}
	}
	return false
}

// Initialized reports whether class initialization has run.
func (c *Class) Initialized() bool { return c.initialized }

// InitCount returns how many times initialization was forced; it never
// exceeds one effective run.
func (c *Class) InitCount() int { return c.initCount }
