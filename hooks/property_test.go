package hooks

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestSequenceNumbersAreContiguousProperty verifies P5: for any number of
// published events, the replay log's sequence numbers are exactly
// 0..n-1 in order, with no gaps and no duplicates.
func TestSequenceNumbersAreContiguousProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("published events get contiguous increasing sequence numbers", prop.ForAll(
		func(n int) bool {
			b := NewBus()
			for i := 0; i < n; i++ {
				if err := b.Publish(NewRunStarted("run-1", "g", "story")); err != nil {
					return false
				}
			}
			log := b.ReplayFrom(0)
			if len(log) != n {
				return false
			}
			for i, e := range log {
				if e.Seq() != uint64(i) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 200),
	))

	properties.TestingRun(t)
}

// TestReplayFromIsConsistentSuffixProperty verifies P10: replaying from any
// sequence number yields exactly the suffix of the full log from that
// point, so a reconnecting subscriber can never observe a gap or a
// reordering relative to the original publish order.
func TestReplayFromIsConsistentSuffixProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("ReplayFrom(k) is the suffix of ReplayFrom(0) starting at k", prop.ForAll(
		func(n int, k int) bool {
			b := NewBus()
			for i := 0; i < n; i++ {
				_ = b.Publish(NewRunStarted("run-1", "g", "story"))
			}
			if k < 0 {
				k = 0
			}
			full := b.ReplayFrom(0)
			suffix := b.ReplayFrom(uint64(k))
			if k >= len(full) {
				return len(suffix) == 0
			}
			if len(suffix) != len(full)-k {
				return false
			}
			for i := range suffix {
				if suffix[i].Seq() != full[k+i].Seq() {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 50),
		gen.IntRange(0, 60),
	))

	properties.TestingRun(t)
}
