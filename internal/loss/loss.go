// Package loss simulates lower-layer trouble for testing the ARQ protocol:
// an Injector drops received frames, a Corrupter damages outgoing ones.
package loss

import (
	"math/rand"
)

// DropProbability converts a user percentage into a probability.
// Anything outside (0,100] means "never".
func DropProbability(percent float64) float64 {
	if percent <= 0 || percent > 100 {
		return 0
	}
	return percent / 100
}

// Injector is a Bernoulli filter applied to each received frame.
// A nil Injector accepts everything.
type Injector struct {
	p       float64
	rnd     *rand.Rand
	trials  uint64
	dropped uint64
}

// New returns an injector dropping percent% of frames, or nil when percent
// disables loss.
func New(percent float64, src rand.Source) *Injector {
	p := DropProbability(percent)
	if p == 0 {
		return nil
	}
	return &Injector{p: p, rnd: rand.New(src)}
}

// ShouldAccept runs one trial and returns true with probability 1-p
func (in *Injector) ShouldAccept() bool {
	if in == nil {
		return true
	}
	in.trials++
	if in.rnd.Float64() < in.p {
		in.dropped++
		return false
	}
	return true
}

// Probability returns the configured drop probability
func (in *Injector) Probability() float64 {
	if in == nil {
		return 0
	}
	return in.p
}

// Trials returns how many frames were offered
func (in *Injector) Trials() uint64 {
	if in == nil {
		return 0
	}
	return in.trials
}

// Dropped returns how many frames were discarded
func (in *Injector) Dropped() uint64 {
	if in == nil {
		return 0
	}
	return in.dropped
}

// Corrupter damages the checksum of outgoing frames with a given percentage.
// A nil Corrupter leaves everything intact.
type Corrupter struct {
	in *Injector
}

// NewCorrupter returns a corrupter for percent% of frames, or nil when
// percent disables corruption.
func NewCorrupter(percent float64, src rand.Source) *Corrupter {
	in := New(percent, src)
	if in == nil {
		return nil
	}
	return &Corrupter{in: in}
}

// Apply returns the checksum to put on the wire: either code itself or a
// value that cannot verify.
func (c *Corrupter) Apply(code uint32) (uint32, bool) {
	if c == nil || c.in.ShouldAccept() {
		return code, false
	}
	return code + 1, true
}

// Corrupted returns how many checksums were damaged
func (c *Corrupter) Corrupted() uint64 {
	if c == nil {
		return 0
	}
	return c.in.Dropped()
}
