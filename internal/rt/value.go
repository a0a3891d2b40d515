package rt

// Value is a runtime operand value: the raw machine word plus, for
// reference constants that exist outside simulated memory (resolution
// guards, member names, class records), the Go object itself.
type Value struct {
	Bits uint64
	Obj  any
}

// WordVal wraps a raw machine word.
func WordVal(bits uint64) Value { return Value{Bits: bits} }

// IntVal wraps a 32-bit value.
func IntVal(v int32) Value { return Value{Bits: uint64(uint32(v))} }

// RefVal wraps an address together with the object it denotes.
func RefVal(addr uint64, obj any) Value { return Value{Bits: addr, Obj: obj} }

// NullVal is the null reference.
func NullVal() Value { return Value{} }

// Int returns the value as a signed 32-bit integer.
func (v Value) Int() int32 { return int32(uint32(v.Bits)) }

// IsNull reports whether the value is the null reference.
func (v Value) IsNull() bool { return v.Bits == 0 && v.Obj == nil }
