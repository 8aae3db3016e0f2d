package large

import "fmt"

const (
	// DefaultSegmentSize is the size of a segment when Config.SegmentSize is 0.
	DefaultSegmentSize = 4 << 20

	// MaxSize is the largest request accepted by the allocator.
	MaxSize = 1 << 40
)

// Config controls segment sizing.
type Config struct {
	// SegmentSize is the minimum size of every mapping, rounded up to the page
	// size. Requests larger than a segment get a dedicated mapping.
	// Default: DefaultSegmentSize.
	SegmentSize int
}

// DefaultConfig is used when New is given a nil config.
var DefaultConfig = Config{SegmentSize: DefaultSegmentSize}

func (c Config) validate() error {
	if c.SegmentSize < 0 {
		return fmt.Errorf("%w: segment size %d", ErrBadConfig, c.SegmentSize)
	}
	return nil
}

// Hint tunes a single Malloc or Ralloc call.
type Hint struct {
	// NoGrow makes the call fail instead of mapping a new segment.
	NoGrow bool

	// Real is set on success to the usable payload size of the block, which
	// may exceed the requested size because of alignment and absorbed
	// remainders.
	Real int
}
