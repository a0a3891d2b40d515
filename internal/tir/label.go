package tir

// LabelID identifies a label within one template.
type LabelID int32

// NoLabel marks an absent label reference.
const NoLabel LabelID = -1

// Label is a branch target. Inline labels sit on the fast path; out-of-line
// labels collect the slow path, which the instruction selector emits after
// the method body so the common case stays branch-free.
type Label struct {
	ID        LabelID
	Name      string
	OutOfLine bool
	// Pos is the index of the instruction the label is bound before.
	// Unbound labels have Pos == -1 and fail template validation.
	Pos int
}
