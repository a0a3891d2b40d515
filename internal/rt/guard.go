package rt

import (
	"sync"
	"sync/atomic"
)

// GuardKind says what a resolution guard names.
type GuardKind uint8

const (
	GuardClass GuardKind = iota
	GuardField
	GuardMethod
)

// Guard is the mutable cell behind an unresolved template: it names a
// symbolic class or member and caches the resolution once made. Resolution
// is monotonic; concurrent resolvers converge on the same artifact and a
// guard never goes back to unresolved.
type Guard struct {
	Kind       GuardKind
	ClassName  string
	MemberName string
	// ForArray asks for the array class of the named class.
	ForArray bool

	mu  sync.Mutex
	res atomic.Pointer[resolution]
}

type resolution struct {
	class  *Class
	field  *Field
	method *Method
}

// Resolved reports whether the guard has been resolved.
func (g *Guard) Resolved() bool { return g.res.Load() != nil }

// ResolveClass resolves the guard's class, caching the result.
func (g *Guard) ResolveClass(w *World) (*Class, error) {
	if r := g.res.Load(); r != nil {
		return r.class, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if r := g.res.Load(); r != nil {
		return r.class, nil
	}
	c, err := w.ResolveClass(g.ClassName)
	if err != nil {
		return nil, err
	}
	if g.ForArray {
		c, err = w.ArrayOf(c)
		if err != nil {
			return nil, err
		}
	}
	g.res.Store(&resolution{class: c})
	return c, nil
}

// ResolveField resolves the guard's field. Whether resolution also forces
// class initialization is the caller's concern (static accesses do).
func (g *Guard) ResolveField(w *World) (*Field, error) {
	if r := g.res.Load(); r != nil {
		return r.field, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if r := g.res.Load(); r != nil {
		return r.field, nil
	}
	c, err := w.ResolveClass(g.ClassName)
	if err != nil {
		return nil, err
	}
	f := c.FieldByName(g.MemberName)
	if f == nil {
		return nil, Throwf(ErrLinkage, "field %s.%s not found", g.ClassName, g.MemberName)
	}
	g.res.Store(&resolution{class: c, field: f})
	return f, nil
}

// ResolveMethod resolves the guard's method.
func (g *Guard) ResolveMethod(w *World) (*Method, error) {
	if r := g.res.Load(); r != nil {
		return r.method, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if r := g.res.Load(); r != nil {
		return r.method, nil
	}
	c, err := w.ResolveClass(g.ClassName)
	if err != nil {
		return nil, err
	}
	m := c.MethodByName(g.MemberName)
	if m == nil {
		return nil, Throwf(ErrLinkage, "method %s.%s not found", g.ClassName, g.MemberName)
	}
	g.res.Store(&resolution{class: c, method: m})
	return m, nil
}

type guardKey struct {
	kind     GuardKind
	class    string
	member   string
	forArray bool
}

// Pool dedupes guards so every site naming the same symbol shares one
// cell, and one site's resolution is visible to all.
type Pool struct {
	mu     sync.Mutex
	guards map[guardKey]*Guard
}

// NewPool creates an empty guard pool.
func NewPool() *Pool {
	return &Pool{guards: make(map[guardKey]*Guard, 32)}
}

func (p *Pool) get(k guardKey) *Guard {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.guards[k]; ok {
		return g
	}
	g := &Guard{Kind: k.kind, ClassName: k.class, MemberName: k.member, ForArray: k.forArray}
	p.guards[k] = g
	return g
}

// ClassGuard returns the guard for a symbolic class.
func (p *Pool) ClassGuard(name string) *Guard {
	return p.get(guardKey{kind: GuardClass, class: name})
}

// ArrayGuard returns the guard for the array class of a symbolic class.
func (p *Pool) ArrayGuard(elemName string) *Guard {
	return p.get(guardKey{kind: GuardClass, class: elemName, forArray: true})
}

// FieldGuard returns the guard for a symbolic field.
func (p *Pool) FieldGuard(class, field string) *Guard {
	return p.get(guardKey{kind: GuardField, class: class, member: field})
}

// MethodGuard returns the guard for a symbolic method.
func (p *Pool) MethodGuard(class, method string) *Guard {
	return p.get(guardKey{kind: GuardMethod, class: class, member: method})
}

// ResolvedClassGuard returns the class guard pre-filled with an already
// resolved class.
func (p *Pool) ResolvedClassGuard(c *Class) *Guard {
	g := p.get(guardKey{kind: GuardClass, class: c.Name})
	g.mu.Lock()
	if g.res.Load() == nil {
		g.res.Store(&resolution{class: c})
	}
	g.mu.Unlock()
	return g
}
