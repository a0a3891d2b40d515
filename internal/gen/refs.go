package gen

import (
	"fmt"

	"kiln/internal/rt"
)

// TypeRef names a class at a generation site. Exactly one variant is set:
// a resolved class, or the guard that will resolve it on first execution.
type TypeRef struct {
	Class *rt.Class
	Guard *rt.Guard
}

// ResolvedType makes a resolved type reference.
func ResolvedType(c *rt.Class) TypeRef { return TypeRef{Class: c} }

// UnresolvedType makes a guarded type reference.
func UnresolvedType(g *rt.Guard) TypeRef { return TypeRef{Guard: g} }

// IsResolved reports which variant the reference carries.
func (r TypeRef) IsResolved() bool { return r.Class != nil }

func (r TypeRef) check() error {
	if (r.Class == nil) == (r.Guard == nil) {
		return fmt.Errorf("type reference must carry exactly one of class and guard")
	}
	return nil
}

// FieldRef names a field at a generation site.
type FieldRef struct {
	Field *rt.Field
	Guard *rt.Guard
}

// ResolvedField makes a resolved field reference.
func ResolvedField(f *rt.Field) FieldRef { return FieldRef{Field: f} }

// UnresolvedField makes a guarded field reference.
func UnresolvedField(g *rt.Guard) FieldRef { return FieldRef{Guard: g} }

// IsResolved reports which variant the reference carries.
func (r FieldRef) IsResolved() bool { return r.Field != nil }

func (r FieldRef) check() error {
	if (r.Field == nil) == (r.Guard == nil) {
		return fmt.Errorf("field reference must carry exactly one of field and guard")
	}
	return nil
}

// MethodRef names a method at a generation site.
type MethodRef struct {
	Method *rt.Method
	Guard  *rt.Guard
}

// ResolvedMethod makes a resolved method reference.
func ResolvedMethod(m *rt.Method) MethodRef { return MethodRef{Method: m} }

// UnresolvedMethod makes a guarded method reference.
func UnresolvedMethod(g *rt.Guard) MethodRef { return MethodRef{Guard: g} }

// IsResolved reports which variant the reference carries.
func (r MethodRef) IsResolved() bool { return r.Method != nil }

func (r MethodRef) check() error {
	if (r.Method == nil) == (r.Guard == nil) {
		return fmt.Errorf("method reference must carry exactly one of method and guard")
	}
	return nil
}

// Site carries the per-site facts the compiler has already established,
// letting the generator pick a cheaper template variant.
type Site struct {
	// SkipBoundsCheck drops the array bounds check when the index is
	// proven in range.
	SkipBoundsCheck bool
	// SkipStoreCheck drops the array covariance check when the value's
	// type is proven assignable.
	SkipStoreCheck bool
	// NullChecked marks the receiver as already proven non-null.
	NullChecked bool
}
