package main

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
	"unsafe"

	"github.com/spf13/cobra"

	"github.com/joshuapare/poolkit/internal/humanize"
	"github.com/joshuapare/poolkit/pool"
	"github.com/joshuapare/poolkit/pool/large"
)

var (
	stressWorkers  int
	stressOps      int
	stressMaxSize  int
	stressSeed     uint64
	stressAlign    int
	stressDelegate bool
	stressSegment  int
)

func init() {
	cmd := newStressCmd()
	cmd.Flags().IntVarP(&stressWorkers, "workers", "w", 4, "Concurrent goroutines")
	cmd.Flags().IntVarP(&stressOps, "ops", "n", 10000, "Operations per worker")
	cmd.Flags().IntVar(&stressMaxSize, "max-size", 16384, "Largest request in bytes")
	cmd.Flags().Uint64Var(&stressSeed, "seed", 1, "Random seed")
	cmd.Flags().IntVar(&stressAlign, "align", 0, "Use aligned allocation with this alignment (0 = unaligned)")
	cmd.Flags().BoolVar(&stressDelegate, "delegate", false, "Delegate to the Go heap allocator instead of owned mode")
	cmd.Flags().IntVar(&stressSegment, "segment-size", 0, "Large allocator segment size in bytes (0 = default)")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run a concurrent allocation workload and verify the pool",
		Long: `The stress command runs randomized malloc/ralloc/free sequences from
several goroutines against one pool. Every block is filled with a tag byte that
is verified on resize and free, and a full consistency check runs at the end.

Example:
  poolctl stress
  poolctl stress --workers 16 --ops 50000 --max-size 65536
  poolctl stress --align 64 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(args)
		},
	}
	return cmd
}

// StressReport is the result of a stress run.
type StressReport struct {
	Workers    int     `json:"workers"`
	Ops        int     `json:"ops_per_worker"`
	MaxSize    int     `json:"max_size"`
	Align      int     `json:"align,omitempty"`
	Mode       string  `json:"mode"`
	Elapsed    string  `json:"elapsed"`
	OpsPerSec  float64 `json:"ops_per_sec"`
	Mallocs    int     `json:"mallocs"`
	Reallocs   int     `json:"reallocs"`
	Frees      int     `json:"frees"`
	Failures   int     `json:"failures"`
	Mismatches int     `json:"mismatches"`
	Migrations uint64  `json:"migrations"`
	Slabs      int     `json:"small_slabs"`
	Segments   int     `json:"large_segments"`
	Mapped     int64   `json:"large_mapped_bytes"`
	Check      string  `json:"check"`
}

type workerResult struct {
	mallocs, reallocs, frees int
	failures, mismatches     int
}

// block is a live allocation owned by one worker.
type block struct {
	ptr  unsafe.Pointer
	size int
	tag  byte
}

func runStress(args []string) error {
	if stressWorkers <= 0 || stressOps <= 0 || stressMaxSize <= 0 {
		return errors.New("workers, ops and max-size must be positive")
	}

	lp, err := large.New(&large.Config{SegmentSize: stressSegment})
	if err != nil {
		return fmt.Errorf("failed to create large allocator: %w", err)
	}
	defer lp.Close()

	opts := pool.Options{Large: lp}
	mode := "owned"
	if stressDelegate {
		opts.Allocator = pool.NewGoAllocator()
		mode = "delegate"
	}
	p, err := pool.NewWithOptions(opts)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	defer p.Close()

	printVerbose("Running %d workers x %d ops (max %d bytes, mode %s)\n",
		stressWorkers, stressOps, stressMaxSize, mode)

	results := make([]workerResult, stressWorkers)
	start := time.Now()
	var wg sync.WaitGroup
	for i := range stressWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runWorker(p, stressSeed+uint64(i), stressOps, stressMaxSize, stressAlign)
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	report := StressReport{
		Workers:   stressWorkers,
		Ops:       stressOps,
		MaxSize:   stressMaxSize,
		Align:     stressAlign,
		Mode:      mode,
		Elapsed:   elapsed.Round(time.Microsecond).String(),
		OpsPerSec: float64(stressWorkers*stressOps) / elapsed.Seconds(),
		Check:     "ok",
	}
	for _, r := range results {
		report.Mallocs += r.mallocs
		report.Reallocs += r.reallocs
		report.Frees += r.frees
		report.Failures += r.failures
		report.Mismatches += r.mismatches
	}
	checkErr := p.Check()
	if checkErr != nil {
		report.Check = checkErr.Error()
	}
	st := p.Stats()
	report.Migrations = st.Migrations
	report.Slabs = st.Small.Slabs
	report.Segments = st.Large.Segments
	report.Mapped = st.Large.SegmentBytes

	if jsonOut {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		printStressReport(report)
	}

	switch {
	case report.Mismatches > 0:
		return fmt.Errorf("%d blocks lost their contents", report.Mismatches)
	case checkErr != nil:
		return fmt.Errorf("consistency check failed: %w", checkErr)
	case report.Failures > 0:
		return fmt.Errorf("%d allocations failed", report.Failures)
	}
	return nil
}

func printStressReport(r StressReport) {
	printInfo("\n%s\n", heading("Stress Run"))
	printInfo("  Mode:     %s\n", r.Mode)
	printInfo("  Workers:  %d x %s ops\n", r.Workers, humanize.Count(r.Ops))
	printInfo("  Max size: %s\n", humanize.Bytes(r.MaxSize))
	if r.Align > 0 {
		printInfo("  Align:    %d\n", r.Align)
	}
	printInfo("  Elapsed:  %s (%s ops/s)\n", r.Elapsed, humanize.Count(int64(r.OpsPerSec)))

	printInfo("\n%s\n", heading("Operations"))
	printInfo("  malloc:   %s\n", humanize.Count(r.Mallocs))
	printInfo("  ralloc:   %s (%s migrated)\n", humanize.Count(r.Reallocs), humanize.Count(r.Migrations))
	printInfo("  free:     %s\n", humanize.Count(r.Frees))

	if r.Mode == "owned" {
		printInfo("\n%s\n", heading("Allocators"))
		printInfo("  small slabs:    %s\n", humanize.Count(r.Slabs))
		printInfo("  large segments: %s (%s mapped)\n", humanize.Count(r.Segments), humanize.Bytes(r.Mapped))
	}

	printInfo("\n%s\n", heading("Verification"))
	printInfo("  %s\n", status(r.Mismatches == 0, fmt.Sprintf("%d content mismatches", r.Mismatches)))
	printInfo("  %s\n", status(r.Failures == 0, fmt.Sprintf("%d failed allocations", r.Failures)))
	printInfo("  %s\n", status(r.Check == "ok", "consistency check: "+r.Check))
}

// runWorker performs ops random operations and frees whatever is left.
func runWorker(p *pool.Pool, seed uint64, ops, maxSize, align int) workerResult {
	var res workerResult
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	alloc := func(size int) unsafe.Pointer {
		if align > 0 {
			return p.AlignMalloc(size, align)
		}
		return p.Malloc(size)
	}
	resize := func(ptr unsafe.Pointer, size int) unsafe.Pointer {
		if align > 0 {
			return p.AlignRalloc(ptr, size, align)
		}
		return p.Ralloc(ptr, size)
	}
	release := func(ptr unsafe.Pointer) bool {
		if align > 0 {
			return p.AlignFree(ptr)
		}
		return p.Free(ptr)
	}
	aligned := func(ptr unsafe.Pointer) bool {
		return align <= 0 || uintptr(ptr)%uintptr(align) == 0
	}

	var live []block
	for i := range ops {
		switch op := rng.IntN(10); {
		case op < 5 || len(live) == 0:
			size := 1 + rng.IntN(maxSize)
			ptr := alloc(size)
			if ptr == nil {
				res.failures++
				continue
			}
			if !aligned(ptr) {
				res.mismatches++
			}
			res.mallocs++
			b := block{ptr: ptr, size: size, tag: byte(seed) ^ byte(i)}
			fillBlock(b)
			live = append(live, b)

		case op < 7:
			j := rng.IntN(len(live))
			b := live[j]
			size := 1 + rng.IntN(maxSize)
			ptr := resize(b.ptr, size)
			if ptr == nil {
				res.failures++
				continue
			}
			res.reallocs++
			keep := block{ptr: ptr, size: min(b.size, size), tag: b.tag}
			if !verifyBlock(keep) || !aligned(ptr) {
				res.mismatches++
			}
			live[j] = block{ptr: ptr, size: size, tag: b.tag}
			fillBlock(live[j])

		default:
			j := rng.IntN(len(live))
			b := live[j]
			if !verifyBlock(b) {
				res.mismatches++
			}
			if release(b.ptr) {
				res.frees++
			}
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
		}
	}
	for _, b := range live {
		if release(b.ptr) {
			res.frees++
		}
	}
	return res
}

func fillBlock(b block) {
	buf := pool.Bytes(b.ptr, b.size)
	for i := range buf {
		buf[i] = b.tag
	}
}

func verifyBlock(b block) bool {
	for _, got := range pool.Bytes(b.ptr, b.size) {
		if got != b.tag {
			return false
		}
	}
	return true
}
