package rt

import (
	"fmt"
	"sort"

	"kiln/internal/kind"
)

// Env is what a runtime binding executes against: the world it allocates
// and resolves in, and the thread it runs on.
type Env struct {
	World  *World
	Thread *Thread
}

// BindingFunc is the native implementation of one logical runtime
// operation.
type BindingFunc func(env *Env, args []Value) (Value, error)

// Binding is a statically registered runtime operation: a logical name, a
// typed signature, and the implementation. The catalog build checks stub
// call sites against the signature; there is no reflection.
type Binding struct {
	Name   string
	Params []kind.Kind
	Result kind.Kind
	Fn     BindingFunc
}

// Registry is the static table of runtime bindings. It is populated before
// the catalog build and read-only afterwards.
type Registry struct {
	byName map[string]Binding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Binding, 64)}
}

// Register adds a binding. A duplicate logical name is a build-phase
// inconsistency.
func (r *Registry) Register(b Binding) error {
	if b.Name == "" {
		return fmt.Errorf("binding with empty name")
	}
	if b.Fn == nil {
		return fmt.Errorf("binding %q has no implementation", b.Name)
	}
	if _, dup := r.byName[b.Name]; dup {
		return fmt.Errorf("binding %q registered twice", b.Name)
	}
	r.byName[b.Name] = b
	return nil
}

// Lookup returns the binding for a logical name.
func (r *Registry) Lookup(name string) (Binding, bool) {
	b, ok := r.byName[name]
	return b, ok
}

// Names lists registered names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
