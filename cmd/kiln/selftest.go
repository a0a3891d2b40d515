package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"kiln/internal/arch"
	"kiln/internal/gen"
	"kiln/internal/heap"
	"kiln/internal/interp"
	"kiln/internal/kind"
	"kiln/internal/rt"
	"kiln/internal/tir"
)

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Build every target's catalog and exercise it",
	Long: `Builds the catalog for every supported target and heap scheme in
parallel, then drives core templates through the reference interpreter:
allocation, field access, array stores and virtual dispatch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		type job struct {
			target arch.Arch
			scheme heap.Scheme
			label  string
		}
		var jobs []job
		for _, target := range []arch.Arch{arch.AMD64(), arch.ARM64(), arch.ARM(), arch.RISCV64()} {
			jobs = append(jobs,
				job{target, heap.Default(), target.Name + "/tlab"},
				job{target, heap.RuntimeCallOnly(), target.Name + "/runtime"},
			)
		}

		results := make([]error, len(jobs))
		var g errgroup.Group
		g.SetLimit(runtime.NumCPU())
		for i, j := range jobs {
			g.Go(func() error {
				results[i] = exercise(j.target, j.scheme)
				return nil
			})
		}
		g.Wait()

		if !colorEnabled(cmd, os.Stdout) {
			color.NoColor = true
		}
		pass := color.New(color.FgGreen).SprintFunc()
		fail := color.New(color.FgRed).SprintFunc()
		out := cmd.OutOrStdout()
		failed := 0
		for i, j := range jobs {
			if results[i] != nil {
				failed++
				fmt.Fprintf(out, "%s %-16s %v\n", fail("FAIL"), j.label, results[i])
			} else {
				fmt.Fprintf(out, "%s %-16s\n", pass("ok  "), j.label)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d configurations failed", failed, len(jobs))
		}
		return nil
	},
}

// exercise builds one catalog and drives its core templates end to end.
func exercise(target arch.Arch, scheme heap.Scheme) error {
	reg := rt.NewRegistry()
	if err := rt.StandardBindings(reg); err != nil {
		return err
	}
	cat, err := gen.NewCatalog(gen.Config{Arch: target, Heap: scheme, Registry: reg})
	if err != nil {
		return err
	}
	world, err := rt.NewWorld(target, scheme)
	if err != nil {
		return err
	}
	thread, err := rt.NewThread(world)
	if err != nil {
		return err
	}
	m := interp.New(&rt.Env{World: world, Thread: thread}, reg)
	run := func(s tir.Snippet, err error) (rt.Value, error) {
		if err != nil {
			return rt.Value{}, err
		}
		return m.Run(s)
	}

	base, err := world.DefineClass(rt.ClassInfo{Name: "Probe", Methods: []string{"fire"}})
	if err != nil {
		return err
	}
	sub, err := world.DefineClass(rt.ClassInfo{
		Name: "HotProbe", Super: base, Methods: []string{"fire"},
		Fields: []rt.FieldInfo{{Name: "count", Kind: kind.Int}},
	})
	if err != nil {
		return err
	}

	obj, err := run(cat.GenNewInstance(gen.ResolvedType(sub)))
	if err != nil {
		return fmt.Errorf("new: %w", err)
	}
	if cls, err := world.ClassOf(obj.Bits); err != nil || cls != sub {
		return fmt.Errorf("new produced a cell without its hub")
	}

	count := gen.ResolvedField(sub.FieldByName("count"))
	if _, err := run(cat.GenPutField(kind.Int, tir.WordArg(int64(obj.Bits)), count, tir.IntArg(7))); err != nil {
		return fmt.Errorf("putfield: %w", err)
	}
	got, err := run(cat.GenGetField(kind.Int, tir.WordArg(int64(obj.Bits)), count))
	if err != nil {
		return fmt.Errorf("getfield: %w", err)
	}
	if got.Int() != 7 {
		return fmt.Errorf("field roundtrip read %d, want 7", got.Int())
	}

	arr, err := run(cat.GenNewArray(gen.ResolvedType(world.PrimArray(kind.Int)), tir.IntArg(3)))
	if err != nil {
		return fmt.Errorf("newarray: %w", err)
	}
	if _, err := run(cat.GenArrayStore(kind.Int, tir.WordArg(int64(arr.Bits)), tir.IntArg(1), tir.IntArg(42), gen.Site{})); err != nil {
		return fmt.Errorf("arraystore: %w", err)
	}
	elem, err := run(cat.GenArrayLoad(kind.Int, tir.WordArg(int64(arr.Bits)), tir.IntArg(1), gen.Site{}))
	if err != nil {
		return fmt.Errorf("arrayload: %w", err)
	}
	if elem.Int() != 42 {
		return fmt.Errorf("array roundtrip read %d, want 42", elem.Int())
	}

	entry, err := run(cat.GenInvokeVirtual(tir.WordArg(int64(obj.Bits)), gen.ResolvedMethod(base.MethodByName("fire"))))
	if err != nil {
		return fmt.Errorf("invokevirtual: %w", err)
	}
	if entry.Bits != sub.MethodByName("fire").Entry {
		return fmt.Errorf("virtual dispatch missed the override")
	}

	if _, err := run(cat.GenCheckcast(tir.WordArg(int64(obj.Bits)), gen.ResolvedType(base))); err != nil {
		return fmt.Errorf("checkcast: %w", err)
	}
	return nil
}
