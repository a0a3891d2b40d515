package kind

// Kind enumerates the value kinds templates are specialized on.
//
// Ref and Word are pointer-sized: their size and alignment depend on the
// target word size and must be queried through Size/Align.
type Kind uint8

const (
	Void Kind = iota
	Boolean
	Byte
	Short
	Char
	Int
	Float
	Long
	Double
	// Ref is a heap reference.
	Ref
	// Word is a machine word (raw address arithmetic, not traced).
	Word
)

// Count is the number of kinds, for building per-kind template arrays.
const Count = int(Word) + 1

// All lists every kind in ordinal order.
func All() []Kind {
	return []Kind{Void, Boolean, Byte, Short, Char, Int, Float, Long, Double, Ref, Word}
}

// Size returns the storage size of the kind in bytes for the given target
// word size. Void has size 0.
func (k Kind) Size(wordSize int) int {
	switch k {
	case Void:
		return 0
	case Boolean, Byte:
		return 1
	case Short, Char:
		return 2
	case Int, Float:
		return 4
	case Long, Double:
		return 8
	case Ref, Word:
		return wordSize
	default:
		return 0
	}
}

// Align returns the alignment requirement of the kind in bytes. Every kind
// is naturally aligned.
func (k Kind) Align(wordSize int) int {
	s := k.Size(wordSize)
	if s == 0 {
		return 1
	}
	return s
}

// IsRef reports whether the kind is a traced heap reference.
func (k Kind) IsRef() bool { return k == Ref }

// Numeric reports whether the kind carries a primitive numeric or boolean
// payload (everything except Void, Ref and Word).
func (k Kind) Numeric() bool {
	return k >= Boolean && k <= Double
}

func (k Kind) String() string {
	switch k {
	case Void:
		return "void"
	case Boolean:
		return "boolean"
	case Byte:
		return "byte"
	case Short:
		return "short"
	case Char:
		return "char"
	case Int:
		return "int"
	case Float:
		return "float"
	case Long:
		return "long"
	case Double:
		return "double"
	case Ref:
		return "ref"
	case Word:
		return "word"
	default:
		return "kind?"
	}
}
