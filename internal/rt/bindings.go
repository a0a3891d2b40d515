package rt

import (
	"fmt"

	"kiln/internal/kind"
)

// Logical names of the standard runtime bindings. Templates call these
// through stubs; the catalog build checks each call site against the
// registered signature.
const (
	BindResolveFieldOffset       = "resolveFieldOffset"
	BindResolveStaticFieldOffset = "resolveStaticFieldOffset"
	BindResolveStaticTuple       = "resolveStaticTuple"
	BindResolveClassRecord       = "resolveClassRecord"
	BindResolveHub               = "resolveHub"
	BindResolveArrayHub          = "resolveArrayHub"
	BindResolveNew               = "resolveNew"
	BindResolveNewArray          = "resolveNewArray"
	BindResolveVirtualOffset     = "resolveVirtualMethodOffset"
	BindResolveInterfaceID       = "resolveInterfaceID"
	BindResolveInterfaceIndex    = "resolveInterfaceMethodIndex"
	BindResolveStaticMethod      = "resolveStaticMethod"
	BindResolveSpecialMethod     = "resolveSpecialMethod"
	BindLinkToStatic             = "linkToStatic"
	BindLinkToSpecial            = "linkToSpecial"
	BindLinkToVirtual            = "linkToVirtual"
	BindLinkToInterface          = "linkToInterface"
	BindInvokeHandle             = "invokeHandle"
	BindSlowPathAllocate         = "slowPathAllocate"
	BindAllocateTuple            = "allocateTuple"
	BindAllocateHybrid           = "allocateHybrid"
	BindAllocateArray            = "allocateArray"
	BindAllocateIntArray         = "allocateIntArray"
	BindAllocateMultiArray       = "allocateMultiArray"
	BindCallProfiler             = "callProfiler"
	BindCallProfilerArray        = "callProfilerArray"
	BindFlushLog                 = "flushLog"
	BindCheckcast                = "checkcast"
	BindInstanceOf               = "instanceOf"
	BindArrayHubStoreCheck       = "arrayHubStoreCheck"
	BindThrowClassCast           = "throwClassCastException"
	BindThrowArrayIndex          = "throwArrayIndexOutOfBoundsException"
	BindThrowNegativeArraySize   = "throwNegativeArraySizeException"
	BindMonitorEnter             = "monitorEnter"
	BindMonitorExit              = "monitorExit"
	BindLoadException            = "loadException"
)

// MultiArrayBinding returns the per-rank allocator name for ranks the
// generator specializes (2 up to the maximum template rank).
func MultiArrayBinding(rank int) string {
	return fmt.Sprintf("allocateMultiArray%d", rank)
}

func argGuard(env *Env, v Value) (*Guard, error) {
	if g, ok := v.Obj.(*Guard); ok {
		return g, nil
	}
	if obj, ok := env.World.InternedAt(v.Bits); ok {
		if g, ok := obj.(*Guard); ok {
			return g, nil
		}
	}
	return nil, fmt.Errorf("operand %#x is not a resolution guard", v.Bits)
}

// argClassTarget accepts either a resolved class record or a guard that
// resolves to one; fast-path templates pass the class, unresolved sites
// pass their guard.
func argClassTarget(env *Env, v Value) (*Class, error) {
	obj := v.Obj
	if obj == nil {
		if interned, ok := env.World.InternedAt(v.Bits); ok {
			obj = interned
		}
	}
	switch t := obj.(type) {
	case *Class:
		return t, nil
	case *Guard:
		return t.ResolveClass(env.World)
	}
	return nil, fmt.Errorf("operand %#x names no type", v.Bits)
}

func argMethod(env *Env, v Value) (*Method, error) {
	if m, ok := v.Obj.(*Method); ok {
		return m, nil
	}
	if obj, ok := env.World.InternedAt(v.Bits); ok {
		if m, ok := obj.(*Method); ok {
			return m, nil
		}
	}
	return nil, fmt.Errorf("operand %#x is not a member", v.Bits)
}

func argHub(env *Env, v Value) (*Hub, error) {
	h, ok := env.World.HubAt(v.Bits)
	if !ok {
		return nil, fmt.Errorf("operand %#x is not a hub", v.Bits)
	}
	return h, nil
}

// StandardBindings registers the full runtime operation set.
func StandardBindings(reg *Registry) error {
	bindings := []Binding{
		{
			Name: BindResolveFieldOffset, Params: []kind.Kind{kind.Ref}, Result: kind.Int,
			Fn: func(env *Env, args []Value) (Value, error) {
				g, err := argGuard(env, args[0])
				if err != nil {
					return Value{}, err
				}
				f, err := g.ResolveField(env.World)
				if err != nil {
					return Value{}, err
				}
				return IntVal(f.Offset), nil
			},
		},
		{
			Name: BindResolveStaticFieldOffset, Params: []kind.Kind{kind.Ref}, Result: kind.Int,
			Fn: func(env *Env, args []Value) (Value, error) {
				g, err := argGuard(env, args[0])
				if err != nil {
					return Value{}, err
				}
				f, err := g.ResolveField(env.World)
				if err != nil {
					return Value{}, err
				}
				env.World.ForceInit(f.Class)
				return IntVal(f.Offset), nil
			},
		},
		{
			Name: BindResolveStaticTuple, Params: []kind.Kind{kind.Ref}, Result: kind.Ref,
			Fn: func(env *Env, args []Value) (Value, error) {
				g, err := argGuard(env, args[0])
				if err != nil {
					return Value{}, err
				}
				var cls *Class
				switch g.Kind {
				case GuardField:
					f, err := g.ResolveField(env.World)
					if err != nil {
						return Value{}, err
					}
					cls = f.Class
				default:
					cls, err = g.ResolveClass(env.World)
					if err != nil {
						return Value{}, err
					}
				}
				env.World.ForceInit(cls)
				return WordVal(cls.StaticTuple), nil
			},
		},
		{
			Name: BindResolveClassRecord, Params: []kind.Kind{kind.Ref}, Result: kind.Ref,
			Fn: func(env *Env, args []Value) (Value, error) {
				g, err := argGuard(env, args[0])
				if err != nil {
					return Value{}, err
				}
				c, err := g.ResolveClass(env.World)
				if err != nil {
					return Value{}, err
				}
				return RefVal(env.World.Intern(c), c), nil
			},
		},
		{
			Name: BindResolveHub, Params: []kind.Kind{kind.Ref}, Result: kind.Word,
			Fn: func(env *Env, args []Value) (Value, error) {
				g, err := argGuard(env, args[0])
				if err != nil {
					return Value{}, err
				}
				c, err := g.ResolveClass(env.World)
				if err != nil {
					return Value{}, err
				}
				return WordVal(c.Hub.Addr), nil
			},
		},
		{
			Name: BindResolveArrayHub, Params: []kind.Kind{kind.Ref}, Result: kind.Word,
			Fn: func(env *Env, args []Value) (Value, error) {
				g, err := argGuard(env, args[0])
				if err != nil {
					return Value{}, err
				}
				c, err := g.ResolveClass(env.World)
				if err != nil {
					return Value{}, err
				}
				if !c.Array {
					arr, err := env.World.ArrayOf(c)
					if err != nil {
						return Value{}, err
					}
					c = arr
				}
				return WordVal(c.Hub.Addr), nil
			},
		},
		{
			Name: BindResolveNew, Params: []kind.Kind{kind.Ref}, Result: kind.Word,
			Fn: func(env *Env, args []Value) (Value, error) {
				g, err := argGuard(env, args[0])
				if err != nil {
					return Value{}, err
				}
				c, err := g.ResolveClass(env.World)
				if err != nil {
					return Value{}, err
				}
				env.World.ForceInit(c)
				return WordVal(c.Hub.Addr), nil
			},
		},
		{
			Name: BindResolveNewArray, Params: []kind.Kind{kind.Ref}, Result: kind.Word,
			Fn: func(env *Env, args []Value) (Value, error) {
				g, err := argGuard(env, args[0])
				if err != nil {
					return Value{}, err
				}
				c, err := g.ResolveClass(env.World)
				if err != nil {
					return Value{}, err
				}
				if !c.Array {
					arr, err := env.World.ArrayOf(c)
					if err != nil {
						return Value{}, err
					}
					c = arr
				}
				return WordVal(c.Hub.Addr), nil
			},
		},
		{
			Name: BindResolveVirtualOffset, Params: []kind.Kind{kind.Ref}, Result: kind.Int,
			Fn: func(env *Env, args []Value) (Value, error) {
				g, err := argGuard(env, args[0])
				if err != nil {
					return Value{}, err
				}
				m, err := g.ResolveMethod(env.World)
				if err != nil {
					return Value{}, err
				}
				if m.VTableIndex < 0 {
					return Value{}, Throwf(ErrLinkage, "%s has no vtable slot", m.FullName())
				}
				l := env.World.Layout
				return IntVal(m.VTableIndex*int32(l.WordSize) + l.FirstElementOffset), nil
			},
		},
		{
			Name: BindResolveInterfaceID, Params: []kind.Kind{kind.Ref}, Result: kind.Int,
			Fn: func(env *Env, args []Value) (Value, error) {
				g, err := argGuard(env, args[0])
				if err != nil {
					return Value{}, err
				}
				m, err := g.ResolveMethod(env.World)
				if err != nil {
					return Value{}, err
				}
				return IntVal(m.Class.TypeID), nil
			},
		},
		{
			Name: BindResolveInterfaceIndex, Params: []kind.Kind{kind.Ref}, Result: kind.Int,
			Fn: func(env *Env, args []Value) (Value, error) {
				g, err := argGuard(env, args[0])
				if err != nil {
					return Value{}, err
				}
				m, err := g.ResolveMethod(env.World)
				if err != nil {
					return Value{}, err
				}
				if m.IfaceIndex <= 0 {
					return Value{}, Throwf(ErrLinkage, "%s is not an interface method", m.FullName())
				}
				return IntVal(m.IfaceIndex), nil
			},
		},
		{
			Name: BindResolveStaticMethod, Params: []kind.Kind{kind.Ref}, Result: kind.Word,
			Fn: func(env *Env, args []Value) (Value, error) {
				g, err := argGuard(env, args[0])
				if err != nil {
					return Value{}, err
				}
				m, err := g.ResolveMethod(env.World)
				if err != nil {
					return Value{}, err
				}
				env.World.ForceInit(m.Class)
				return WordVal(m.Entry), nil
			},
		},
		{
			Name: BindResolveSpecialMethod, Params: []kind.Kind{kind.Ref}, Result: kind.Word,
			Fn: func(env *Env, args []Value) (Value, error) {
				g, err := argGuard(env, args[0])
				if err != nil {
					return Value{}, err
				}
				m, err := g.ResolveMethod(env.World)
				if err != nil {
					return Value{}, err
				}
				return WordVal(m.Entry), nil
			},
		},
		{
			Name: BindLinkToStatic, Params: []kind.Kind{kind.Ref}, Result: kind.Word,
			Fn: func(env *Env, args []Value) (Value, error) {
				m, err := argMethod(env, args[0])
				if err != nil {
					return Value{}, err
				}
				env.World.ForceInit(m.Class)
				return WordVal(m.Entry), nil
			},
		},
		{
			Name: BindLinkToSpecial, Params: []kind.Kind{kind.Ref}, Result: kind.Word,
			Fn: func(env *Env, args []Value) (Value, error) {
				m, err := argMethod(env, args[0])
				if err != nil {
					return Value{}, err
				}
				return WordVal(m.Entry), nil
			},
		},
		{
			Name: BindLinkToVirtual, Params: []kind.Kind{kind.Word, kind.Ref}, Result: kind.Word,
			Fn:   linkThroughReceiver,
		},
		{
			Name: BindLinkToInterface, Params: []kind.Kind{kind.Word, kind.Ref}, Result: kind.Word,
			Fn:   linkThroughReceiver,
		},
		{
			Name: BindInvokeHandle, Params: []kind.Kind{kind.Ref}, Result: kind.Word,
			Fn: func(env *Env, args []Value) (Value, error) {
				m, err := argMethod(env, args[0])
				if err != nil {
					return Value{}, err
				}
				return WordVal(m.Entry), nil
			},
		},
		{
			Name: BindSlowPathAllocate, Params: []kind.Kind{kind.Int, kind.Word}, Result: kind.Word,
			Fn: func(env *Env, args []Value) (Value, error) {
				cell, err := env.Thread.RefillTLAB(int64(args[0].Int()))
				if err != nil {
					return Value{}, err
				}
				return WordVal(cell), nil
			},
		},
		{
			Name: BindAllocateTuple, Params: []kind.Kind{kind.Word}, Result: kind.Word,
			Fn: func(env *Env, args []Value) (Value, error) {
				h, err := argHub(env, args[0])
				if err != nil {
					return Value{}, err
				}
				addr, err := env.World.CreateTuple(h)
				if err != nil {
					return Value{}, err
				}
				return WordVal(addr), nil
			},
		},
		{
			Name: BindAllocateHybrid, Params: []kind.Kind{kind.Word}, Result: kind.Word,
			Fn: func(env *Env, args []Value) (Value, error) {
				h, err := argHub(env, args[0])
				if err != nil {
					return Value{}, err
				}
				addr, err := env.World.CreateHybrid(h)
				if err != nil {
					return Value{}, err
				}
				return WordVal(addr), nil
			},
		},
		{
			Name: BindAllocateArray, Params: []kind.Kind{kind.Word, kind.Int}, Result: kind.Word,
			Fn: func(env *Env, args []Value) (Value, error) {
				h, err := argHub(env, args[0])
				if err != nil {
					return Value{}, err
				}
				addr, err := env.World.CreateArray(h, args[1].Int())
				if err != nil {
					return Value{}, err
				}
				return WordVal(addr), nil
			},
		},
		{
			Name: BindAllocateIntArray, Params: []kind.Kind{kind.Int}, Result: kind.Word,
			Fn: func(env *Env, args []Value) (Value, error) {
				addr, err := env.World.CreateArray(env.World.PrimArray(kind.Int).Hub, args[0].Int())
				if err != nil {
					return Value{}, err
				}
				return WordVal(addr), nil
			},
		},
		{
			Name: BindCallProfiler, Params: []kind.Kind{kind.Int, kind.Word, kind.Word}, Result: kind.Void,
			Fn: func(env *Env, args []Value) (Value, error) {
				return Value{}, env.Thread.ProfileAllocation()
			},
		},
		{
			Name: BindCallProfilerArray, Params: []kind.Kind{kind.Word, kind.Word, kind.Word}, Result: kind.Void,
			Fn: func(env *Env, args []Value) (Value, error) {
				return Value{}, env.Thread.ProfileAllocation()
			},
		},
		{
			Name: BindFlushLog, Params: []kind.Kind{kind.Word}, Result: kind.Word,
			Fn: func(env *Env, args []Value) (Value, error) {
				start, err := env.Thread.FlushAllocationLog(args[0].Bits)
				if err != nil {
					return Value{}, err
				}
				return WordVal(start), nil
			},
		},
		{
			Name: BindAllocateMultiArray, Params: []kind.Kind{kind.Word, kind.Word}, Result: kind.Word,
			Fn: func(env *Env, args []Value) (Value, error) {
				h, err := argHub(env, args[0])
				if err != nil {
					return Value{}, err
				}
				lengths, err := readIntArray(env.World, args[1].Bits)
				if err != nil {
					return Value{}, err
				}
				addr, err := createMultiArray(env.World, h, lengths)
				if err != nil {
					return Value{}, err
				}
				return WordVal(addr), nil
			},
		},
		{
			Name: BindCheckcast, Params: []kind.Kind{kind.Word, kind.Ref}, Result: kind.Word,
			Fn: func(env *Env, args []Value) (Value, error) {
				target, err := argClassTarget(env, args[1])
				if err != nil {
					return Value{}, err
				}
				obj := args[0].Bits
				if obj == 0 {
					return WordVal(0), nil
				}
				cls, err := env.World.ClassOf(obj)
				if err != nil {
					return Value{}, err
				}
				if !cls.IsSubtypeOf(target) {
					return Value{}, Throwf(ErrClassCast, "%s is not a %s", cls.Name, target.Name)
				}
				return WordVal(obj), nil
			},
		},
		{
			Name: BindInstanceOf, Params: []kind.Kind{kind.Word, kind.Ref}, Result: kind.Int,
			Fn: func(env *Env, args []Value) (Value, error) {
				target, err := argClassTarget(env, args[1])
				if err != nil {
					return Value{}, err
				}
				obj := args[0].Bits
				if obj == 0 {
					return IntVal(0), nil
				}
				cls, err := env.World.ClassOf(obj)
				if err != nil {
					return Value{}, err
				}
				if cls.IsSubtypeOf(target) {
					return IntVal(1), nil
				}
				return IntVal(0), nil
			},
		},
		{
			Name: BindArrayHubStoreCheck, Params: []kind.Kind{kind.Word, kind.Word}, Result: kind.Void,
			Fn: func(env *Env, args []Value) (Value, error) {
				arrayHub, err := argHub(env, args[0])
				if err != nil {
					return Value{}, err
				}
				valueHub, err := argHub(env, args[1])
				if err != nil {
					return Value{}, err
				}
				comp := arrayHub.Component
				if comp == nil {
					return Value{}, Throwf(ErrArrayStore, "%s has no reference component", arrayHub.Class.Name)
				}
				if !valueHub.Class.IsSubtypeOf(comp.Class) {
					return Value{}, Throwf(ErrArrayStore, "%s into %s", valueHub.Class.Name, arrayHub.Class.Name)
				}
				return Value{}, nil
			},
		},
		{
			Name: BindThrowClassCast, Params: []kind.Kind{kind.Word, kind.Word}, Result: kind.Void,
			Fn: func(env *Env, args []Value) (Value, error) {
				want := "?"
				if h, ok := env.World.HubAt(args[0].Bits); ok {
					want = h.Class.Name
				}
				got := "null"
				if cls, err := env.World.ClassOf(args[1].Bits); err == nil {
					got = cls.Name
				}
				return Value{}, Throwf(ErrClassCast, "%s is not a %s", got, want)
			},
		},
		{
			Name: BindThrowArrayIndex, Params: []kind.Kind{kind.Word, kind.Int}, Result: kind.Void,
			Fn: func(env *Env, args []Value) (Value, error) {
				return Value{}, Throwf(ErrArrayIndexOutOfBounds, "index %d", args[1].Int())
			},
		},
		{
			Name: BindThrowNegativeArraySize, Params: []kind.Kind{kind.Int}, Result: kind.Void,
			Fn: func(env *Env, args []Value) (Value, error) {
				return Value{}, Throwf(ErrNegativeArraySize, "length %d", args[0].Int())
			},
		},
		{
			Name: BindMonitorEnter, Params: []kind.Kind{kind.Word}, Result: kind.Void,
			Fn: func(env *Env, args []Value) (Value, error) {
				return Value{}, env.World.MonitorEnter(args[0].Bits)
			},
		},
		{
			Name: BindMonitorExit, Params: []kind.Kind{kind.Word}, Result: kind.Void,
			Fn: func(env *Env, args []Value) (Value, error) {
				return Value{}, env.World.MonitorExit(args[0].Bits)
			},
		},
		{
			Name: BindLoadException, Params: nil, Result: kind.Word,
			Fn: func(env *Env, args []Value) (Value, error) {
				err := env.Thread.TakePendingException()
				if err == nil {
					return Value{}, fmt.Errorf("no pending exception")
				}
				return RefVal(env.World.Intern(err), err), nil
			},
		},
	}
	for rank := 2; rank <= 6; rank++ {
		bindings = append(bindings, multiArrayBinding(rank))
	}
	for _, b := range bindings {
		if err := reg.Register(b); err != nil {
			return err
		}
	}
	return nil
}

func linkThroughReceiver(env *Env, args []Value) (Value, error) {
	m, err := argMethod(env, args[1])
	if err != nil {
		return Value{}, err
	}
	cls, err := env.World.ClassOf(args[0].Bits)
	if err != nil {
		return Value{}, err
	}
	impl := cls.MethodByName(m.Name)
	if impl == nil || impl.Entry == 0 {
		return Value{}, Throwf(ErrLinkage, "%s does not implement %s", cls.Name, m.Name)
	}
	return WordVal(impl.Entry), nil
}

func multiArrayBinding(rank int) Binding {
	params := make([]kind.Kind, 0, rank+1)
	params = append(params, kind.Word)
	for i := 0; i < rank; i++ {
		params = append(params, kind.Int)
	}
	return Binding{
		Name: MultiArrayBinding(rank), Params: params, Result: kind.Word,
		Fn: func(env *Env, args []Value) (Value, error) {
			h, err := argHub(env, args[0])
			if err != nil {
				return Value{}, err
			}
			lengths := make([]int32, rank)
			for i := range lengths {
				lengths[i] = args[1+i].Int()
			}
			addr, err := createMultiArray(env.World, h, lengths)
			if err != nil {
				return Value{}, err
			}
			return WordVal(addr), nil
		},
	}
}

func readIntArray(w *World, addr uint64) ([]int32, error) {
	if addr == 0 {
		return nil, fmt.Errorf("null length array")
	}
	n, err := w.ArrayLength(addr)
	if err != nil {
		return nil, err
	}
	out := make([]int32, n)
	for i := range out {
		v, err := w.Load32(w.ElemAddr(addr, kind.Int, int32(i)))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// createMultiArray validates every dimension length before allocating
// anything, then builds the array tree depth first. A zero length at any
// level terminates that branch; deeper dimensions are never touched.
func createMultiArray(w *World, h *Hub, lengths []int32) (uint64, error) {
	for _, l := range lengths {
		if l < 0 {
			return 0, Throwf(ErrNegativeArraySize, "length %d", l)
		}
	}
	return createMultiLevel(w, h, lengths)
}

func createMultiLevel(w *World, h *Hub, lengths []int32) (uint64, error) {
	arr, err := w.CreateArray(h, lengths[0])
	if err != nil {
		return 0, err
	}
	if len(lengths) == 1 || h.Component == nil || !h.Component.Class.Array {
		return arr, nil
	}
	for i := int32(0); i < lengths[0]; i++ {
		sub, err := createMultiLevel(w, h.Component, lengths[1:])
		if err != nil {
			return 0, err
		}
		if err := w.StoreWord(w.ElemAddr(arr, kind.Ref, i), sub); err != nil {
			return 0, err
		}
	}
	return arr, nil
}
