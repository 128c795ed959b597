// Command regprobe stress-tests the register file and collector.
//
// It runs a synthetic workload of nested calls, register traffic across
// every address range, and heap churn, then prints register-file and
// collector statistics. With -profile-db, collection events are persisted
// to a SQLite database for offline comparison across runs.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/jordyorel/orus-lang-sub001/internal/config"
	"github.com/jordyorel/orus-lang-sub001/internal/telemetry"
	"github.com/jordyorel/orus-lang-sub001/internal/vm"
)

var (
	configPath = flag.String("config", "", "path to regvm.yaml (defaults used when empty)")
	iters      = flag.Int("iters", 10000, "workload iterations")
	depth      = flag.Int("depth", 16, "nested call depth per iteration")
	profileDB  = flag.String("profile-db", "", "SQLite file to persist collection events")
	noColor    = flag.Bool("no-color", false, "disable colored output")
	traceGC    = flag.Bool("trace-gc", false, "log each collection to stderr")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "regprobe:", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *traceGC {
		cfg.TraceGC = true
	}

	machine := vm.New(cfg)
	defer machine.Close()

	rec := telemetry.NewRecorder()
	machine.SetCollectionObserver(rec.Observe)

	if err := run(machine, *iters, *depth); err != nil {
		fmt.Fprintln(os.Stderr, "regprobe:", err)
		os.Exit(1)
	}

	report(machine, rec)

	if *profileDB != "" {
		sink, err := telemetry.OpenSQLiteSink(*profileDB)
		if err != nil {
			fmt.Fprintln(os.Stderr, "regprobe:", err)
			os.Exit(1)
		}
		defer sink.Close()
		if err := sink.WriteAll(rec.Events()); err != nil {
			fmt.Fprintln(os.Stderr, "regprobe:", err)
			os.Exit(1)
		}
		fmt.Printf("persisted %d collection events to %s (instance %s)\n",
			rec.Len(), *profileDB, rec.Instance())
	}
}

// run drives the synthetic workload: every iteration touches globals,
// spills values, churns strings and arrays, and recurses through nested
// frames exercising typed windows.
func run(machine *vm.VM, iters, depth int) error {
	rf := machine.Registers()

	for i := 0; i < iters; i++ {
		// Global traffic, typed and boxed.
		rf.Write(uint16(i%256), vm.I64Val(int64(i)))
		if w := rf.ActiveWindow(); w != nil {
			w.StoreI64(uint16(i%256), int64(i)*3)
		}

		// Heap churn: most of these become garbage immediately.
		s := machine.AllocateString(fmt.Sprintf("probe-%d", i))
		arr := machine.AllocateArray(4)
		arr.Append(vm.ObjVal(s))
		arr.Append(vm.F64Val(float64(i) * 0.5))
		if i%16 == 0 {
			// Root a sliver of it so the heap is never fully collectable.
			rf.Write(uint16(128+(i/16)%64), vm.ObjVal(arr))
		}

		// Spill pressure.
		id := rf.AllocateSpilled(vm.U64Val(uint64(i)))
		if i%3 == 0 {
			rf.Spill().Remove(id)
		}

		if err := descend(machine, depth, i); err != nil {
			return err
		}
	}
	return nil
}

// descend pushes frames to the requested depth, doing typed arithmetic
// in each frame's window on the way down.
func descend(machine *vm.VM, depth, seed int) error {
	if depth == 0 {
		return nil
	}
	rf := machine.Registers()
	frame, err := rf.PushFrame()
	if err != nil {
		return err
	}
	frame.SetRegister(0, vm.I32Val(int32(seed+depth)))
	if w := frame.Window(); w != nil {
		w.StoreF64(vm.FrameRegStart+1, float64(seed)*1.5)
	}
	rf.Write(vm.TempRegStart, vm.BoolVal(depth%2 == 0))

	if err := descend(machine, depth-1, seed); err != nil {
		rf.PopFrame()
		return err
	}
	rf.Reconcile()
	return rf.PopFrame()
}

func report(machine *vm.VM, rec *telemetry.Recorder) {
	stats := machine.Registers().Stats()
	bold, reset := "", ""
	if !*noColor && isatty.IsTerminal(os.Stdout.Fd()) {
		bold, reset = "\033[1m", "\033[0m"
	}

	fmt.Printf("%sregister file%s\n", bold, reset)
	fmt.Printf("  globals allocated:  %d\n", stats.GlobalsAllocated)
	fmt.Printf("  frame depth:        %d\n", stats.Depth)
	fmt.Printf("  window pool size:   %d\n", stats.WindowPoolSize)
	fmt.Printf("  spill live entries: %d (capacity %d)\n", stats.SpilledCount, stats.SpillCapacity)

	fmt.Printf("%scollector%s\n", bold, reset)
	fmt.Printf("  cycles:          %d\n", machine.Collections())
	fmt.Printf("  live bytes:      %d\n", machine.BytesAllocated())
	fmt.Printf("  next threshold:  %d\n", machine.GCThreshold())
	fmt.Printf("  live objects:    %d\n", machine.LiveObjectCount())

	events := rec.Events()
	if len(events) > 0 {
		last := events[len(events)-1]
		fmt.Printf("  last cycle:      freed %d objects, %d -> %d bytes in %s\n",
			last.Freed, last.BytesBefore, last.BytesAfter, last.Duration)
	}
}
