// Garnet CLI - runs a polymorphic dispatch workload on several interpreter
// threads and reports what the adaptive caches and the object space saw.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chazu/garnet/manifest"
	"github.com/chazu/garnet/vm"
	"github.com/chazu/garnet/vm/dist"
	"github.com/dustin/go-humanize"
	"github.com/sasha-s/go-deadlock"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("garnet")

func main() {
	configPath := flag.String("config", "", "Configuration file (default: garnet.toml or garnet.yaml found upward from the current directory)")
	threads := flag.Int("threads", -1, "Worker threads (overrides workload.threads)")
	iterations := flag.Int("iterations", -1, "Loop iterations per thread (overrides workload.iterations)")
	shapes := flag.Int("shapes", -1, "Distinct receiver classes (overrides workload.shapes)")
	verbosity := flag.Int("v", -1, "Log verbosity (overrides log.verbosity)")
	censusOut := flag.String("census-out", "", "Write the final census as CBOR to this file")
	top := flag.Int("top", 5, "Number of classes and call sites to print")
	profile := flag.Bool("profile", false, "Time call sites and count receiver types and loop iterations (overrides profile.enabled)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: garnet [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a polymorphic call workload on several threads, then prints a census\n")
		fmt.Fprintf(os.Stderr, "of live objects and inline cache statistics.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  garnet                           # Use garnet.toml if present\n")
		fmt.Fprintf(os.Stderr, "  garnet -threads 8 -shapes 6      # Push call sites past polymorphic\n")
		fmt.Fprintf(os.Stderr, "  garnet -census-out census.cbor   # Keep the census for later comparison\n")
		fmt.Fprintf(os.Stderr, "  garnet -profile -top 3           # Show where dispatch time goes\n")
	}
	flag.Parse()

	m, err := loadManifest(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *threads >= 0 {
		m.Workload.Threads = *threads
	}
	if *iterations >= 0 {
		m.Workload.Iterations = *iterations
	}
	if *shapes >= 0 {
		m.Workload.Shapes = *shapes
	}
	if *verbosity >= 0 {
		m.Log.Verbosity = *verbosity
	}
	if *profile {
		m.Profile.Enabled = true
	}

	commonlog.Configure(m.Log.Verbosity, m.LogPath())
	deadlock.Opts.Disable = !m.Debug.DetectDeadlocks
	deadlock.Opts.DeadlockTimeout = m.Debug.DeadlockTimeout
	if m.Path != "" {
		log.Infof("loaded configuration from %s", m.Path)
	}

	if err := run(m, *censusOut, *top); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadManifest(path string) (*manifest.Manifest, error) {
	if path != "" {
		return manifest.LoadFile(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	m, err := manifest.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default()
	}
	return m, nil
}

func run(m *manifest.Manifest, censusOut string, top int) error {
	rt := vm.NewRuntime(m.Options())
	defer rt.Shutdown()

	w := newWorkload(rt, m.Workload)
	log.Debugf("running %d threads x %d iterations over %d shapes", m.Workload.Threads, m.Workload.Iterations, len(w.classes))

	start := time.Now()
	if err := w.run(rt); err != nil {
		return err
	}
	elapsed := time.Since(start)

	want := w.expected()
	for i, got := range w.sums {
		if got != want {
			return fmt.Errorf("worker-%d computed %d, want %d", i, got, want)
		}
	}

	var reclaimed int
	err := rt.Run(func(t *vm.Thread) error {
		reclaimed = rt.GarbageCollect(t)
		rt.Finalizers.Drain(t)
		return nil
	})
	if err != nil {
		return err
	}

	census := dist.TakeCensus(rt, nil)
	data, err := dist.MarshalCensus(census)
	if err != nil {
		return err
	}
	if censusOut != "" {
		if err := os.WriteFile(censusOut, data, 0644); err != nil {
			return fmt.Errorf("cannot write census: %w", err)
		}
		log.Infof("wrote census to %s", censusOut)
	}

	calls := int64(m.Workload.Threads) * int64(m.Workload.Iterations)
	fmt.Printf("Ran %s iterations on %d threads in %s\n", humanize.Comma(calls), m.Workload.Threads, elapsed.Round(time.Microsecond))
	fmt.Printf("Runtime %s\n", census.RuntimeID)
	fmt.Printf("\nObjects: %s live, %s shapes, %d safepoints\n",
		humanize.Comma(int64(census.Objects)), humanize.Comma(census.Shapes), census.Safepoints)
	for _, row := range census.TopClasses(top) {
		fmt.Printf("  %-20s %s\n", row.Class, humanize.Comma(int64(row.Count)))
	}

	ic := rt.CacheStats()
	fmt.Printf("\nCall sites: %d (%d monomorphic, %d polymorphic, %d megamorphic, %d empty)\n",
		ic.TotalCallSites, ic.Monomorphic, ic.Polymorphic, ic.Megamorphic, ic.Empty)
	fmt.Printf("  hits %s, misses %s, hit rate %.1f%%, respecializations %s\n",
		humanize.Comma(int64(ic.TotalHits)), humanize.Comma(int64(ic.TotalMisses)),
		ic.HitRate, humanize.Comma(int64(ic.Respecializations)))
	fmt.Printf("Field sites: %d (%d megamorphic), hits %s, misses %s\n",
		ic.FieldSites, ic.FieldMegamorphic, humanize.Comma(int64(ic.FieldHits)), humanize.Comma(int64(ic.FieldMisses)))
	for _, s := range rt.HottestSites(top) {
		fmt.Printf("  %-12s %-13s %d entries, %s calls, %s hits\n",
			s.Name, s.State, s.Entries, humanize.Comma(int64(s.Calls)), humanize.Comma(int64(s.Hits)))
		for _, r := range s.Receivers {
			fmt.Printf("    %-20s %s\n", r.Class, humanize.Comma(int64(r.Hits)))
		}
	}

	if p := rt.Profile(); p.Enabled {
		fmt.Printf("\nProfile:\n")
		for i, s := range p.Sites {
			if i == top {
				break
			}
			fmt.Printf("  %-12s %s in %s calls\n", s.Name, s.Time.Round(time.Microsecond), humanize.Comma(int64(s.Calls)))
		}
		for i, l := range p.Loops {
			if i == top {
				break
			}
			fmt.Printf("  %-5s loop    %s iterations over %s entries\n", l.Kind, humanize.Comma(int64(l.Iterations)), humanize.Comma(int64(l.Entries)))
		}
	}

	fmt.Printf("\nFinalizers: %d reclaimed, %s ran, %d failed, %d still tracked\n",
		reclaimed, humanize.Comma(w.finalized.Load()), census.Finalizers.Failed, census.Finalizers.Tracked)
	fmt.Printf("Census: %s CBOR\n", humanize.Bytes(uint64(len(data))))
	return nil
}
