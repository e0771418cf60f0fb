// Package classifier implements the read-path sequential-vs-random access
// classifier: a ring of recent read locations whose weighted-mean-offset
// and mean-squared-deviation decide whether to advise the kernel page
// cache to drop pages after each read (the CACHE_FORGET hint).
//
// The weighted-sum bias across file boundaries (see classify) is
// deliberate, not a bug: a naive variance over raw offsets across
// multiple segment files would almost always classify sequential
// multi-segment scans as random. Do not "fix" it.
package classifier

import (
	"sort"
	"sync"

	"blobbackend/logging"
)

// RingCap is the capacity of the access-sample ring.
const RingCap = 100

// Sample is a single observed read location.
type Sample struct {
	FD     int
	Offset int64
}

// Classifier maintains the access-sample ring and the current
// random-access verdict, guarded by a single mutex. No I/O is ever
// performed while the mutex is held.
type Classifier struct {
	mu           sync.Mutex
	samples      [RingCap]Sample
	writeIdx     int
	randomAccess bool
	vmTotalSq    float64
	logger       *logging.Logger
	onTransition func(random bool)
}

// SetTransitionHook installs a callback invoked whenever the
// random/sequential verdict flips, after the transition is logged.
// Used by the stats bridge to feed a transition counter; nil disables
// the hook.
func (c *Classifier) SetTransitionHook(fn func(random bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTransition = fn
}

// New creates a Classifier. vmTotalSq is (system_total_memory_MiB)^2 * 1MiB,
// computed once at backend init and constant thereafter.
func New(vmTotalSq float64, logger *logging.Logger) *Classifier {
	if logger == nil {
		logger = logging.Default
	}
	return &Classifier{vmTotalSq: vmTotalSq, logger: logger}
}

// RandomAccess reports the current classification.
func (c *Classifier) RandomAccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.randomAccess
}

// Observe records a read at (fd, offset). Classification only runs when
// the ring wraps, i.e. every RingCap observations.
func (c *Classifier) Observe(fd int, offset int64) {
	c.mu.Lock()
	c.samples[c.writeIdx] = Sample{FD: fd, Offset: offset}
	c.writeIdx++
	if c.writeIdx < RingCap {
		c.mu.Unlock()
		return
	}

	samples := c.samples // copy for sorting, keeps the lock window short
	c.writeIdx = 0
	wasRandom := c.randomAccess
	isRandom := classify(samples, c.vmTotalSq)
	c.randomAccess = isRandom
	hook := c.onTransition
	c.mu.Unlock()

	if isRandom != wasRandom {
		c.logger.Info("classifier", "classify", "access pattern transition", map[string]interface{}{
			"random_access": isRandom,
		})
		if hook != nil {
			hook(isRandom)
		}
	}
}

// classify sorts samples by (fd, offset), computes the weighted mean
// offset, then the mean-squared deviation of raw offsets from that mean,
// and compares it against vmTotalSq/16.
func classify(samples [RingCap]Sample, vmTotalSq float64) bool {
	sorted := samples
	sortable := sorted[:]
	sort.Slice(sortable, func(i, j int) bool {
		if sortable[i].FD != sortable[j].FD {
			return sortable[i].FD < sortable[j].FD
		}
		return sortable[i].Offset < sortable[j].Offset
	})

	var sum float64
	mult := 1.0
	prevFD := sortable[0].FD
	for _, s := range sortable {
		if s.FD != prevFD {
			mult++
			prevFD = s.FD
		}
		sum += float64(s.Offset) * mult
	}
	mean := sum / float64(RingCap)

	var mse float64
	for _, s := range samples {
		d := float64(s.Offset) - mean
		mse += d * d
	}
	mse /= float64(RingCap)

	return mse > vmTotalSq/16
}
