package tir

import (
	"fmt"

	"kiln/internal/kind"
)

// Arg is a concrete per-call-site argument value. Reference arguments carry
// the object itself (hub, resolution guard, or nil); all other kinds are
// carried in Bits.
type Arg struct {
	Kind  kind.Kind
	Bits  int64
	Obj   any
	IsObj bool
}

// IntArg makes an int argument.
func IntArg(v int32) Arg { return Arg{Kind: kind.Int, Bits: int64(v)} }

// WordArg makes a machine-word argument.
func WordArg(v int64) Arg { return Arg{Kind: kind.Word, Bits: v} }

// RefArg makes a reference argument carrying v (nil for the null reference).
func RefArg(v any) Arg { return Arg{Kind: kind.Ref, Obj: v, IsObj: true} }

// KindArg makes an argument of an arbitrary kind from raw bits.
func KindArg(k kind.Kind, bits int64) Arg { return Arg{Kind: k, Bits: bits} }

// Snippet is a template bound to concrete call-site arguments, ready for
// instruction selection. Snippets are per-compilation and never shared.
type Snippet struct {
	Template *Template
	Args     []Arg
}

// NewSnippet binds args to the template's input parameters, checking arity
// and kinds.
func NewSnippet(t *Template, args ...Arg) (Snippet, error) {
	if t == nil {
		return Snippet{}, fmt.Errorf("snippet of nil template")
	}
	if len(args) != len(t.Params) {
		return Snippet{}, fmt.Errorf("template %q takes %d arguments, got %d", t.Name, len(t.Params), len(args))
	}
	for i, arg := range args {
		want := t.Operands[t.Params[i]].Kind
		if arg.Kind != want {
			return Snippet{}, fmt.Errorf("template %q argument %d: have %s, want %s", t.Name, i, arg.Kind, want)
		}
	}
	return Snippet{Template: t, Args: args}, nil
}
