package presence

import "time"

// Sweeper periodically evicts idle entries from a set of registries.
// Grounded on the hub's goroutine-per-concern style (a ticker loop
// owned by whichever component starts it) — original_source had no
// eviction ticker at all; this is a spec.md §4.6 requirement layered
// on top of it.
type Sweeper struct {
	interval time.Duration
	idleMs   int64
	registry func() map[string]*Registry
	onEvict  func(slug string, evicted []string)
	stop     chan struct{}
}

// NewSweeper builds a sweeper that calls registries() on every tick to
// get the live slug->Registry set, evicts idle entries from each, and
// reports evictions via onEvict (typically a presence_diff broadcast).
func NewSweeper(interval time.Duration, idleAfter time.Duration, registries func() map[string]*Registry, onEvict func(slug string, evicted []string)) *Sweeper {
	return &Sweeper{
		interval: interval,
		idleMs:   idleAfter.Milliseconds(),
		registry: registries,
		onEvict:  onEvict,
		stop:     make(chan struct{}),
	}
}

// Run blocks, ticking until Stop is called. Intended to be launched
// with `go sweeper.Run()`.
func (s *Sweeper) Run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			nowMs := now.UnixMilli()
			for slug, reg := range s.registry() {
				if evicted := reg.EvictIdle(nowMs, s.idleMs); len(evicted) > 0 {
					s.onEvict(slug, evicted)
				}
			}
		}
	}
}

func (s *Sweeper) Stop() {
	close(s.stop)
}
