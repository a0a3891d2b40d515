package arch

import (
	"kiln/internal/kind"
	"kiln/internal/tir"
)

// ArraySizeAligner emits the code that rounds an array allocation size
// (header + length*elemSize) up to the heap's object alignment. Families
// differ in how cheaply they can express the masking.
type ArraySizeAligner interface {
	AlignArraySize(a *tir.Assembler, length, arraySize tir.OperandID, elemSize int, scale int32, headerSize, objectAlignment int)
}

// Aligner selects the family's alignment strategy. Chosen once at catalog
// build time.
func (ar Arch) Aligner() ArraySizeAligner {
	if ar.Family == FamilyARM {
		return branchAligner{scratch: ar.Scratch}
	}
	return maskAligner{}
}

// maskAligner is the straight-line sequence used on amd64, arm64 and
// riscv64: bias by the alignment mask and clear the low bits. When the
// element size already equals the alignment unit the header-plus-length lea
// cannot produce a misaligned size, so the mask step is skipped entirely.
type maskAligner struct{}

func (maskAligner) AlignArraySize(a *tir.Assembler, length, arraySize tir.OperandID, elemSize int, scale int32, headerSize, objectAlignment int) {
	mask := int32(objectAlignment - 1)
	if elemSize == objectAlignment {
		a.Mov(arraySize, a.I(int32(headerSize)))
		a.Lea(arraySize, arraySize, length, 0, scale)
		return
	}
	a.Mov(arraySize, a.I(int32(headerSize)+mask))
	a.Lea(arraySize, arraySize, length, 0, scale)
	a.And(arraySize, arraySize, a.I(^mask))
}

// branchAligner is the 32-bit ARM sequence: compute the unbiased size, test
// the low bits in a scratch register, and only redo the biased-and-masked
// computation when the size is actually misaligned.
type branchAligner struct {
	scratch string
}

func (b branchAligner) AlignArraySize(a *tir.Assembler, length, arraySize tir.OperandID, elemSize int, scale int32, headerSize, objectAlignment int) {
	mask := int32(objectAlignment - 1)
	scratch := a.NewRegisterTemp("scratch", kind.Word, b.scratch)
	aligned := a.InlineLabel("aligned")
	a.Mov(arraySize, a.I(int32(headerSize)))
	a.Lea(arraySize, arraySize, length, 0, scale)
	a.And(scratch, arraySize, a.I(mask))
	a.Jeq(aligned, scratch, a.I(0))
	a.Mov(arraySize, a.I(int32(headerSize)+mask))
	a.Lea(arraySize, arraySize, length, 0, scale)
	a.And(arraySize, arraySize, a.I(^mask))
	a.Bind(aligned)
}
