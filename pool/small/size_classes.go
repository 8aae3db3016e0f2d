package small

import (
	"fmt"
	"math"
	"sort"

	"github.com/joshuapare/poolkit/internal/head"
)

// Config defines the size class strategy and slab geometry.
type Config struct {
	// Name for this configuration (shown in dumps)
	Name string

	// Linear range: classes Min, Min+Increment, ... below LinearMax
	Min       int // Smallest class payload (multiple of 16)
	LinearMax int // End of the linear range (multiple of 16)
	Increment int // Step of the linear range (multiple of 16)

	// Geometric range: LinearMax up to Max
	Max          int     // Largest class; must equal head.SmallMax
	GrowthFactor float64 // Growth between consecutive classes (> 1)

	// SlabSize is the number of payload bytes requested from the large
	// allocator for every slab.
	SlabSize int
}

const (
	// minSlotsPerSlab is the smallest number of largest-class slots a slab
	// must hold.
	minSlotsPerSlab = 4

	// maxSlabSize keeps slot indexes within uint16.
	maxSlabSize = 1 << 20
)

// Predefined configurations.
var (
	// DefaultConfig balances class count against internal fragmentation.
	DefaultConfig = Config{
		Name:         "Default",
		Min:          16,
		LinearMax:    256,
		Increment:    16,
		Max:          head.SmallMax,
		GrowthFactor: 1.25,
		SlabSize:     64 << 10,
	}

	// ConfigCoarse has fewer classes and larger slabs: faster class lookup
	// and better slab reuse, more waste per object.
	ConfigCoarse = Config{
		Name:         "Coarse",
		Min:          32,
		LinearMax:    512,
		Increment:    32,
		Max:          head.SmallMax,
		GrowthFactor: 2.0,
		SlabSize:     256 << 10,
	}
)

func (c Config) validate() error {
	aligned := func(n int) bool { return n > 0 && n&head.AlignMask == 0 }
	switch {
	case !aligned(c.Min), !aligned(c.Increment), !aligned(c.LinearMax):
		return fmt.Errorf("%w: min/increment/linear max must be positive multiples of %d", ErrBadConfig, head.Align)
	case c.LinearMax < c.Min:
		return fmt.Errorf("%w: linear max %d below min %d", ErrBadConfig, c.LinearMax, c.Min)
	case c.Max != head.SmallMax:
		return fmt.Errorf("%w: max %d must equal SmallMax %d", ErrBadConfig, c.Max, head.SmallMax)
	case c.LinearMax > c.Max:
		return fmt.Errorf("%w: linear max %d above max %d", ErrBadConfig, c.LinearMax, c.Max)
	case c.GrowthFactor <= 1:
		return fmt.Errorf("%w: growth factor %v must exceed 1", ErrBadConfig, c.GrowthFactor)
	case c.SlabSize < minSlotsPerSlab*(head.Size+c.Max) || c.SlabSize > maxSlabSize:
		return fmt.Errorf("%w: slab size %d outside [%d, %d]", ErrBadConfig,
			c.SlabSize, minSlotsPerSlab*(head.Size+c.Max), maxSlabSize)
	}
	return nil
}

// sizeClassTable holds the computed class payload sizes, ascending.
type sizeClassTable struct {
	config Config
	sizes  []int
}

// newSizeClassTable computes class sizes from config.
func newSizeClassTable(config Config) *sizeClassTable {
	table := &sizeClassTable{
		config: config,
		sizes:  make([]int, 0, 32),
	}

	// Phase 1: linear increments
	for size := config.Min; size < config.LinearMax; size += config.Increment {
		table.sizes = append(table.sizes, size)
	}

	// Phase 2: geometric growth, every class rounded to the payload alignment
	size := config.LinearMax
	for size < config.Max {
		table.sizes = append(table.sizes, size)
		next := head.AlignUp(int(math.Ceil(float64(size) * config.GrowthFactor)))
		if next <= size {
			next = size + head.Align // Ensure progress
		}
		size = next
	}
	table.sizes = append(table.sizes, config.Max)
	return table
}

// classOf returns the index of the smallest class holding size bytes, or
// NumClasses() when size exceeds the largest class.
func (t *sizeClassTable) classOf(size int) int {
	return sort.SearchInts(t.sizes, size)
}

// NumClasses returns the number of size classes.
func (t *sizeClassTable) NumClasses() int {
	return len(t.sizes)
}

// String returns the configuration name.
func (t *sizeClassTable) String() string {
	return t.config.Name
}
