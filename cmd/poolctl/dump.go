package main

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/spf13/cobra"

	"github.com/joshuapare/poolkit/pool"
	"github.com/joshuapare/poolkit/pool/large"
	"github.com/joshuapare/poolkit/pool/small"
)

var (
	dumpSizes  []int
	dumpCount  int
	dumpLarge  bool
	dumpCoarse bool
)

func init() {
	cmd := newDumpCmd()
	cmd.Flags().IntSliceVar(&dumpSizes, "sizes", []int{64, 1000, 3072, 4096, 100000}, "Request sizes to allocate")
	cmd.Flags().IntVar(&dumpCount, "count", 4, "Allocations per size")
	cmd.Flags().BoolVar(&dumpLarge, "large", true, "Include the large allocator report")
	cmd.Flags().BoolVar(&dumpCoarse, "coarse", false, "Use the coarse size class table")
	rootCmd.AddCommand(cmd)
}

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Allocate a sample workload and dump allocator state",
		Long: `The dump command allocates count blocks of every requested size on a
fresh pool and prints the pool, small allocator and large allocator reports.

Example:
  poolctl dump
  poolctl dump --sizes 16,256,8192 --count 100
  poolctl dump --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(args)
		},
	}
	return cmd
}

// DumpReport is the JSON form of a dump.
type DumpReport struct {
	Sizes  []int      `json:"sizes"`
	Count  int        `json:"count"`
	Config string     `json:"size_classes"`
	Stats  pool.Stats `json:"stats"`
	Check  string     `json:"check"`
}

func runDump(args []string) error {
	if dumpCount <= 0 {
		return fmt.Errorf("count must be positive, got %d", dumpCount)
	}

	lp, err := large.New(nil)
	if err != nil {
		return fmt.Errorf("failed to create large allocator: %w", err)
	}
	defer lp.Close()

	cfg := &small.DefaultConfig
	if dumpCoarse {
		cfg = &small.ConfigCoarse
	}
	p, err := pool.NewWithOptions(pool.Options{Large: lp, Small: cfg})
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	defer p.Close()

	var ptrs []unsafe.Pointer
	defer func() {
		for _, ptr := range ptrs {
			p.Free(ptr)
		}
	}()
	for _, size := range dumpSizes {
		for range dumpCount {
			ptr := p.Malloc(size)
			if ptr == nil {
				return fmt.Errorf("failed to allocate %d bytes", size)
			}
			ptrs = append(ptrs, ptr)
		}
		printVerbose("Allocated %d x %d bytes\n", dumpCount, size)
	}

	check := "ok"
	if err := p.Check(); err != nil {
		check = err.Error()
	}

	if jsonOut {
		return printJSON(DumpReport{
			Sizes:  dumpSizes,
			Count:  dumpCount,
			Config: cfg.Name,
			Stats:  p.Stats(),
			Check:  check,
		})
	}
	if quiet {
		return nil
	}

	printInfo("\n%s\n", heading("Pool"))
	p.Dump(os.Stdout)
	if dumpLarge {
		printInfo("\n%s\n", heading("Large Allocator"))
		lp.Dump(os.Stdout)
	}
	printInfo("\n%s\n", status(check == "ok", "consistency check: "+check))
	return nil
}
