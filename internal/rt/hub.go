package rt

import (
	"fmt"

	"fortio.org/safecast"

	"kiln/internal/kind"
)

// prepare builds and materializes the class's hub.
//
// The hub is one cell whose table region starts at the first array element
// offset. Scalar hub fields overlay the leading table words, so the first
// usable word index is Layout.HubFirstTableWord. The vtable occupies the
// words after that; the mtable (an int hash table) follows the vtable; the
// itable blocks follow the mtable, one reserved all-zero word first so that
// empty mtable slots probe a word that matches no interface id.
func (w *World) prepare(c *Class, vtable []*Method) error {
	c.vtable = vtable
	vtableLen := len(vtable)

	ifaces := c.AllInterfaces()
	mtableLen := pickMTableLength(ifaces)
	mtableStart := (int(w.Layout.HubFirstTableWord) + vtableLen) * w.Arch.WordSize / 4

	// First word index past the mtable, rounded up to a word boundary.
	itableStart := ((mtableStart+mtableLen)*4 + w.Arch.WordSize - 1) / w.Arch.WordSize

	blockWords := 0
	for _, in := range ifaces {
		blockWords += 1 + len(in.Methods)
	}
	totalWords := itableStart + 1 + blockWords

	size := Align(int64(w.Layout.FirstElementOffset)+int64(totalWords)*int64(w.Arch.WordSize), w.Scheme.ObjectAlignment)
	addr, err := w.Reserve(size)
	if err != nil {
		return err
	}

	mtStart32, err := safecast.Conv[int32](mtableStart)
	if err != nil {
		return err
	}
	mtLen32, err := safecast.Conv[int32](mtableLen)
	if err != nil {
		return err
	}
	vtLen32, err := safecast.Conv[int32](vtableLen)
	if err != nil {
		return err
	}

	h := &Hub{
		Class:        c,
		Addr:         addr,
		MTableStart:  mtStart32,
		MTableLength: mtLen32,
		vtableLen:    vtLen32,
	}

	if err := w.Store32(addr+uint64(w.Layout.HubTypeIDOffset), c.TypeID); err != nil {
		return err
	}
	if err := w.Store32(addr+uint64(w.Layout.HubMTableStartOffset), mtStart32); err != nil {
		return err
	}
	if err := w.Store32(addr+uint64(w.Layout.HubMTableLengthOffset), mtLen32); err != nil {
		return err
	}
	if err := w.Store32(addr+uint64(w.Layout.HubTupleSizeOffset), c.TupleSize); err != nil {
		return err
	}
	if c.Elem != nil && c.Elem.Hub != nil {
		h.Component = c.Elem.Hub
		if err := w.StoreWord(addr+uint64(w.Layout.HubComponentOffset), c.Elem.Hub.Addr); err != nil {
			return err
		}
	}

	for slot, m := range vtable {
		idx := int(w.Layout.HubFirstTableWord) + slot
		if err := w.storeTableWord(addr, idx, m.Entry); err != nil {
			return err
		}
	}

	// Empty mtable slots point at the reserved zero word.
	empty, err := safecast.Conv[int32](itableStart)
	if err != nil {
		return err
	}
	for i := 0; i < mtableLen; i++ {
		if err := w.storeTableInt(addr, mtableStart+i, empty); err != nil {
			return err
		}
	}

	block := itableStart + 1
	for _, in := range ifaces {
		blk32, err := safecast.Conv[int32](block)
		if err != nil {
			return err
		}
		slot := mtableStart + int(in.TypeID)%mtableLen
		if err := w.storeTableInt(addr, slot, blk32); err != nil {
			return err
		}
		if err := w.storeTableWord(addr, block, uint64(uint32(in.TypeID))); err != nil {
			return err
		}
		for _, im := range in.Methods {
			impl := c.MethodByName(im.Name)
			if impl != nil && impl.Entry != 0 {
				if err := w.storeTableWord(addr, block+int(im.IfaceIndex), impl.Entry); err != nil {
					return err
				}
			}
		}
		block += 1 + len(in.Methods)
	}

	tw32, err := safecast.Conv[int32](totalWords)
	if err != nil {
		return err
	}
	h.TableWords = tw32

	c.Hub = h
	w.mu.Lock()
	w.hubs[addr] = h
	w.mu.Unlock()
	return nil
}

// pickMTableLength chooses the smallest table length under which the
// implemented interface ids occupy distinct slots.
func pickMTableLength(ifaces []*Class) int {
	n := len(ifaces)
	if n == 0 {
		return 1
	}
	for l := n; ; l++ {
		used := make(map[int]bool, n)
		ok := true
		for _, in := range ifaces {
			s := int(in.TypeID) % l
			if used[s] {
				ok = false
				break
			}
			used[s] = true
		}
		if ok {
			return l
		}
	}
}

func (w *World) storeTableWord(hub uint64, wordIdx int, v uint64) error {
	return w.StoreWord(hub+uint64(w.Layout.FirstElementOffset)+uint64(wordIdx*w.Arch.WordSize), v)
}

func (w *World) storeTableInt(hub uint64, intIdx int, v int32) error {
	return w.Store32(hub+uint64(w.Layout.FirstElementOffset)+uint64(intIdx*4), v)
}

// CreateTuple allocates a plain instance of the hub's class.
func (w *World) CreateTuple(h *Hub) (uint64, error) {
	if h.Class.Array {
		return 0, fmt.Errorf("tuple allocation of array class %s", h.Class.Name)
	}
	addr, err := w.Reserve(int64(h.Class.TupleSize))
	if err != nil {
		return 0, err
	}
	return addr, w.StoreWord(addr+uint64(w.Layout.HubOffset), h.Addr)
}

// CreateHybrid allocates an instance that is both a tuple and a word
// array; its length slot records the first word-array index.
func (w *World) CreateHybrid(h *Hub) (uint64, error) {
	addr, err := w.CreateTuple(h)
	if err != nil {
		return 0, err
	}
	return addr, w.Store32(addr+uint64(w.Layout.ArrayLengthOffset), w.Layout.HybridFirstWordIndex)
}

// CreateArray allocates an array of the hub's class with the given length.
func (w *World) CreateArray(h *Hub, length int32) (uint64, error) {
	if !h.Class.Array {
		return 0, fmt.Errorf("array allocation of non-array class %s", h.Class.Name)
	}
	if length < 0 {
		return 0, Throwf(ErrNegativeArraySize, "length %d", length)
	}
	elemSize := int64(h.Class.ElemKind.Size(w.Arch.WordSize))
	size := Align(int64(w.Layout.FirstElementOffset)+int64(length)*elemSize, w.Scheme.ObjectAlignment)
	addr, err := w.Reserve(size)
	if err != nil {
		return 0, err
	}
	if err := w.StoreWord(addr+uint64(w.Layout.HubOffset), h.Addr); err != nil {
		return 0, err
	}
	return addr, w.Store32(addr+uint64(w.Layout.ArrayLengthOffset), length)
}

// ArrayLength reads an array's length slot.
func (w *World) ArrayLength(addr uint64) (int32, error) {
	return w.Load32(addr + uint64(w.Layout.ArrayLengthOffset))
}

// ElemAddr computes the address of one array element.
func (w *World) ElemAddr(arr uint64, elemKind kind.Kind, index int32) uint64 {
	return arr + uint64(w.Layout.FirstElementOffset) + uint64(index)*uint64(elemKind.Size(w.Arch.WordSize))
}
