package rt

import "fmt"

// defaultTLABChunk is the refill granularity of the bump allocator.
const defaultTLABChunk = 16 << 10

// allocRecordWords is the size of one allocation log record: the
// allocation site, the cell and the cell size.
const allocRecordWords = 3

// Thread models one mutator thread: its thread-locals area and its
// pending exception slot.
//
// The TLA is a small cell in simulated memory. Word 0 is the thread's
// self pointer; the word at Scheme.ETLAOffset points at the safepoint
// enabled view of the same cell (here, the cell itself), and the TLAB
// mark, TLAB top, profiler and allocation log words live at the scheme's
// offsets relative to that view.
type Thread struct {
	World *World
	TLA   uint64

	logStart   uint64
	logEnd     uint64
	logFlushes int

	pending error
}

// AllocRecord is one decoded allocation log entry.
type AllocRecord struct {
	Site uint64
	Cell uint64
	Size int64
}

// NewThread creates a thread with an empty TLAB. The first inline
// allocation takes the slow path and refills it.
func NewThread(w *World) (*Thread, error) {
	tla, err := w.Reserve(int64(w.Scheme.LogTailOffset) + int64(w.Arch.WordSize))
	if err != nil {
		return nil, err
	}
	t := &Thread{World: w, TLA: tla}
	if err := w.StoreWord(tla, tla); err != nil {
		return nil, err
	}
	if err := w.StoreWord(tla+uint64(w.Scheme.ETLAOffset), tla); err != nil {
		return nil, err
	}
	return t, nil
}

// ETLA returns the safepoint-enabled thread-locals pointer.
func (t *Thread) ETLA() (uint64, error) {
	return t.World.LoadWord(t.TLA + uint64(t.World.Scheme.ETLAOffset))
}

// TLABMark reads the bump pointer.
func (t *Thread) TLABMark() (uint64, error) {
	etla, err := t.ETLA()
	if err != nil {
		return 0, err
	}
	return t.World.LoadWord(etla + uint64(t.World.Scheme.TLABMarkOffset))
}

// TLABTop reads the TLAB limit.
func (t *Thread) TLABTop() (uint64, error) {
	etla, err := t.ETLA()
	if err != nil {
		return 0, err
	}
	return t.World.LoadWord(etla + uint64(t.World.Scheme.TLABTopOffset))
}

// SetTLAB installs a bump region.
func (t *Thread) SetTLAB(mark, top uint64) error {
	etla, err := t.ETLA()
	if err != nil {
		return err
	}
	if err := t.World.StoreWord(etla+uint64(t.World.Scheme.TLABMarkOffset), mark); err != nil {
		return err
	}
	return t.World.StoreWord(etla+uint64(t.World.Scheme.TLABTopOffset), top)
}

// RefillTLAB carves a fresh chunk, satisfies an allocation of size bytes
// from its start, and installs the remainder as the new TLAB.
func (t *Thread) RefillTLAB(size int64) (uint64, error) {
	chunk := int64(defaultTLABChunk)
	if size > chunk {
		chunk = size
	}
	cell, err := t.World.Reserve(chunk)
	if err != nil {
		return 0, err
	}
	if err := t.SetTLAB(cell+uint64(size), cell+uint64(chunk)); err != nil {
		return 0, err
	}
	return cell, nil
}

// EnableAllocationLog installs an allocation log buffer holding the
// given number of records. The word past the last record slot holds its
// own address; the fast path reads it through the tail pointer to detect
// a full buffer and flush. A thread without a buffer has a null tail
// word and logging templates skip the record block.
func (t *Thread) EnableAllocationLog(records int) error {
	if records < 1 {
		return fmt.Errorf("allocation log needs at least one record slot")
	}
	word := int64(t.World.Arch.WordSize)
	span := int64(records)*allocRecordWords*word + word
	start, err := t.World.Reserve(span)
	if err != nil {
		return err
	}
	end := start + uint64(int64(records)*allocRecordWords*word)
	if err := t.World.StoreWord(end, end); err != nil {
		return err
	}
	if err := t.setLogTail(start); err != nil {
		return err
	}
	t.logStart = start
	t.logEnd = end
	return nil
}

// FlushAllocationLog drains a full buffer and returns the record area
// start for the caller to continue recording at.
func (t *Thread) FlushAllocationLog(tail uint64) (uint64, error) {
	if t.logStart == 0 {
		return 0, fmt.Errorf("flush without an allocation log")
	}
	t.logFlushes++
	return t.logStart, nil
}

// LogFlushes reports how many times the allocation log filled up.
func (t *Thread) LogFlushes() int { return t.logFlushes }

// AllocationLog decodes the records between the buffer start and the
// current tail.
func (t *Thread) AllocationLog() ([]AllocRecord, error) {
	if t.logStart == 0 {
		return nil, nil
	}
	etla, err := t.ETLA()
	if err != nil {
		return nil, err
	}
	tail, err := t.World.LoadWord(etla + uint64(t.World.Scheme.LogTailOffset))
	if err != nil {
		return nil, err
	}
	word := uint64(t.World.Arch.WordSize)
	var out []AllocRecord
	for at := t.logStart; at+allocRecordWords*word <= tail; at += allocRecordWords * word {
		site, err := t.World.LoadWord(at)
		if err != nil {
			return nil, err
		}
		cell, err := t.World.LoadWord(at + word)
		if err != nil {
			return nil, err
		}
		size, err := t.World.LoadWord(at + 2*word)
		if err != nil {
			return nil, err
		}
		out = append(out, AllocRecord{Site: site, Cell: cell, Size: int64(size)})
	}
	return out, nil
}

func (t *Thread) setLogTail(tail uint64) error {
	etla, err := t.ETLA()
	if err != nil {
		return err
	}
	return t.World.StoreWord(etla+uint64(t.World.Scheme.LogTailOffset), tail)
}

// ProfileAllocation bumps the allocation profiler word. The inline
// allocation templates call it through a stub for every cell they hand
// out.
func (t *Thread) ProfileAllocation() error {
	etla, err := t.ETLA()
	if err != nil {
		return err
	}
	at := etla + uint64(t.World.Scheme.ProfilerOffset)
	n, err := t.World.LoadWord(at)
	if err != nil {
		return err
	}
	return t.World.StoreWord(at, n+1)
}

// ProfiledAllocs reads the allocation profiler word.
func (t *Thread) ProfiledAllocs() (uint64, error) {
	etla, err := t.ETLA()
	if err != nil {
		return 0, err
	}
	return t.World.LoadWord(etla + uint64(t.World.Scheme.ProfilerOffset))
}

// SetPendingException records an in-flight exception on the thread.
func (t *Thread) SetPendingException(err error) { t.pending = err }

// TakePendingException removes and returns the in-flight exception.
func (t *Thread) TakePendingException() error {
	err := t.pending
	t.pending = nil
	return err
}
