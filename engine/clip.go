package engine

import (
	"sync/atomic"

	"github.com/viterin/vek/vek32"
)

// clipDetector raises a flag when a sample exceeds full scale and keeps it
// raised for hold frames after the last such sample. Only the flag is shared
// with other goroutines.
type clipDetector struct {
	hold      int
	remaining int
	flag      atomic.Bool
}

func (c *clipDetector) update(channels ...[]float32) {
	peak := float32(0)
	n := 0
	for _, ch := range channels {
		if len(ch) == 0 {
			continue
		}
		n = len(ch)
		peak = max(peak, vek32.Max(ch), -vek32.Min(ch))
	}
	if peak > 1 {
		c.remaining = c.hold
		c.flag.Store(true)
		return
	}
	if c.remaining > 0 {
		c.remaining -= n
	}
	if c.remaining <= 0 && c.flag.Load() {
		c.flag.Store(false)
	}
}

func (c *clipDetector) clipping() bool { return c.flag.Load() }
