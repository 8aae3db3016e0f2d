package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"unsafe"

	"github.com/spf13/cobra"

	"github.com/joshuapare/poolkit/pool"
	"github.com/joshuapare/poolkit/pool/large"
)

var alignValues []int

func init() {
	cmd := newAlignCmd()
	cmd.Flags().IntSliceVar(&alignValues, "align", []int{4, 8, 16, 32, 64, 128}, "Alignments to try")
	rootCmd.AddCommand(cmd)
}

func newAlignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "align <size>",
		Short: "Show the layout of aligned allocations",
		Long: `The align command allocates size bytes once per alignment and shows the
raw block, the aligned pointer and the offset byte stored below it. The offset
is always between 1 and the alignment.

Example:
  poolctl align 100
  poolctl align 5000 --align 16,64
  poolctl align 1 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlign(args)
		},
	}
	return cmd
}

// AlignRow describes one aligned allocation.
type AlignRow struct {
	Align   int    `json:"align"`
	Pointer string `json:"pointer"`
	Raw     string `json:"raw"`
	Offset  int    `json:"offset"`
	Block   int    `json:"raw_size"`
	Small   bool   `json:"small"`
	Aligned bool   `json:"aligned"`
}

func runAlign(args []string) error {
	size, err := strconv.Atoi(args[0])
	if err != nil || size <= 0 {
		return fmt.Errorf("invalid size %q", args[0])
	}

	lp, err := large.New(nil)
	if err != nil {
		return fmt.Errorf("failed to create large allocator: %w", err)
	}
	defer lp.Close()
	p, err := pool.New(nil, lp)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	defer p.Close()

	rows := make([]AlignRow, 0, len(alignValues))
	for _, align := range alignValues {
		ptr := p.AlignMalloc(size, align)
		if ptr == nil {
			return fmt.Errorf("alignment %d rejected (must be a power of two between 4 and %d)", align, pool.MaxAlign)
		}
		offset := int(pool.Bytes(unsafe.Add(ptr, -1), 1)[0])
		raw := unsafe.Add(ptr, -offset)
		rawSize := p.Size(raw)
		rows = append(rows, AlignRow{
			Align:   align,
			Pointer: fmt.Sprintf("%p", ptr),
			Raw:     fmt.Sprintf("%p", raw),
			Offset:  offset,
			Block:   rawSize,
			Small:   rawSize <= pool.SmallMax,
			Aligned: uintptr(ptr)%uintptr(align) == 0,
		})
		if !p.AlignFree(ptr) {
			return fmt.Errorf("failed to free aligned block %p", ptr)
		}
	}

	if jsonOut {
		return printJSON(rows)
	}

	printInfo("\n%s\n", heading(fmt.Sprintf("Aligned allocation of %d bytes", size)))
	if quiet {
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  ALIGN\tPOINTER\tRAW\tOFFSET\tRAW SIZE\tALLOCATOR\t")
	for _, r := range rows {
		allocator := "large"
		if r.Small {
			allocator = "small"
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%d\t%d\t%s\t%s\n", r.Align, r.Pointer, r.Raw, r.Offset, r.Block,
			allocator, status(r.Aligned, "aligned"))
	}
	return tw.Flush()
}
