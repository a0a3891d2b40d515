package catalogdisk

import (
	"crypto/sha256"
	"encoding/binary"

	"kiln/internal/gen"
	"kiln/internal/tir"
)

// Summary is the serializable shape of a built catalog: enough to diff
// template inventories and slow-path structure across builds, without the
// instruction streams themselves.
type Summary struct {
	Schema uint16

	// Build configuration.
	Target     string
	WordSize   int
	InlineTLAB bool

	Templates []TemplateInfo
}

// TemplateInfo is the per-template record.
type TemplateInfo struct {
	Name   string
	Stub   bool
	Params []uint8
	Result uint8
	// Instrs counts the template's instructions; OutOfLine counts labels
	// placed off the fast path.
	Instrs    int
	OutOfLine int
	// Stubs lists the runtime stubs the template calls, by name.
	Stubs []string
}

// Summarize condenses a built catalog.
func Summarize(c *gen.Catalog) *Summary {
	templates := c.Templates()
	sum := &Summary{
		Schema:     schemaVersion,
		Target:     c.Arch().Name,
		WordSize:   c.Arch().WordSize,
		InlineTLAB: c.Heap().InlineTLAB,
		Templates:  make([]TemplateInfo, 0, len(templates)),
	}
	for _, t := range templates {
		sum.Templates = append(sum.Templates, summarizeTemplate(t))
	}
	return sum
}

func summarizeTemplate(t *tir.Template) TemplateInfo {
	info := TemplateInfo{
		Name:   t.Name,
		Stub:   t.IsStub,
		Result: uint8(t.ResultKind),
		Instrs: len(t.Instrs),
	}
	for _, k := range t.ParamKinds() {
		info.Params = append(info.Params, uint8(k))
	}
	for _, l := range t.Labels {
		if l.OutOfLine {
			info.OutOfLine++
		}
	}
	for _, s := range t.StubRefs() {
		info.Stubs = append(info.Stubs, s.Name)
	}
	return info
}

// Key derives the store key from the summary's build configuration and
// template inventory.
func Key(sum *Summary) Digest {
	h := sha256.New()
	var buf [8]byte
	binary.LittleEndian.PutUint16(buf[:2], sum.Schema)
	h.Write(buf[:2])
	h.Write([]byte(sum.Target))
	binary.LittleEndian.PutUint64(buf[:], uint64(sum.WordSize))
	h.Write(buf[:])
	if sum.InlineTLAB {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	for _, t := range sum.Templates {
		h.Write([]byte(t.Name))
		h.Write([]byte{0})
	}
	var d Digest
	h.Sum(d[:0])
	return d
}
