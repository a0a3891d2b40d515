package rt

// Layout fixes the byte offsets templates bake in: the object header, the
// array header, and the hub's scalar block. The hub's vtable, mtable and
// itable share one table region whose indices are pre-offset past the
// scalar block, so every table access uses FirstElementOffset as its base.
type Layout struct {
	WordSize int

	// HubOffset is where an object's hub pointer lives.
	HubOffset int32
	// ArrayLengthOffset holds the element count of arrays. Hybrid
	// objects reuse the same slot for their first-word index.
	ArrayLengthOffset int32
	// FirstElementOffset is where array payload begins. It is also the
	// base of the hub table region.
	FirstElementOffset int32

	// Hub scalar block, overlaid on the first table words.
	HubTypeIDOffset       int32
	HubMTableStartOffset  int32
	HubMTableLengthOffset int32
	HubTupleSizeOffset    int32
	HubComponentOffset    int32

	// HubFirstTableWord is the word index (relative to
	// FirstElementOffset) where the vtable begins, past the scalar block.
	HubFirstTableWord int32

	// HybridFirstWordIndex is the constant stamped into a hybrid
	// instance's length slot.
	HybridFirstWordIndex int32
}

// NewLayout derives the layout for a word size.
func NewLayout(wordSize int) Layout {
	w := int32(wordSize)
	first := 2 * w
	return Layout{
		WordSize:              wordSize,
		HubOffset:             0,
		ArrayLengthOffset:     w,
		FirstElementOffset:    first,
		HubTypeIDOffset:       first,
		HubMTableStartOffset:  first + 4,
		HubMTableLengthOffset: first + 8,
		HubTupleSizeOffset:    first + 12,
		HubComponentOffset:    first + 16,
		HubFirstTableWord:     16/w + 1,
		HybridFirstWordIndex:  2,
	}
}

// Align rounds n up to the given alignment.
func Align(n int64, alignment int) int64 {
	a := int64(alignment)
	return (n + a - 1) &^ (a - 1)
}
