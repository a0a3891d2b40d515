package gen

import (
	"fmt"

	"kiln/internal/tir"
)

// buildStubs derives one stub template per registered binding. A stub is
// the callable shape of a runtime operation: its parameters mirror the
// binding's signature exactly, so a template calling a stub with the
// wrong arity fails the build rather than an execution.
func (c *Catalog) buildStubs(a *tir.Assembler) error {
	for _, name := range c.cfg.Registry.Names() {
		b, _ := c.cfg.Registry.Lookup(name)
		res := a.Restart(b.Result)
		params := make([]tir.OperandID, len(b.Params))
		for i, k := range b.Params {
			params[i] = a.NewParam(fmt.Sprintf("arg%d", i), k)
		}
		a.CallBinding(b.Name, res, params...)
		t, err := a.FinishStub("stub:" + name)
		if err != nil {
			return err
		}
		c.stubs[name] = t
		c.all = append(c.all, t)
	}
	return nil
}

// stub returns the stub for a binding name; a missing binding is a
// catalog build inconsistency surfaced immediately.
func (c *Catalog) stub(name string) (*tir.Template, error) {
	t, ok := c.stubs[name]
	if !ok {
		return nil, fmt.Errorf("no binding registered for %q", name)
	}
	return t, nil
}
