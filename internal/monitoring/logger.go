package monitoring

import (
	"log"
	"sync"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Sampler logs the first occurrence of each key and then every Nth one, so
// a noisy radio link cannot flood the log with identical decode rejections.
type Sampler struct {
	mu     sync.Mutex
	every  uint64
	counts map[string]uint64
}

// NewSampler returns a sampler that logs one in every n occurrences per key.
func NewSampler(n uint64) *Sampler {
	if n == 0 {
		n = 1
	}
	return &Sampler{every: n, counts: make(map[string]uint64)}
}

// Logf logs through the package logger when the occurrence is sampled. The
// running count is appended so the suppressed volume stays visible.
func (s *Sampler) Logf(key, format string, v ...interface{}) {
	s.mu.Lock()
	s.counts[key]++
	n := s.counts[key]
	s.mu.Unlock()
	if n == 1 || n%s.every == 0 {
		Logf(format+" (x%d)", append(v, n)...)
	}
}

// Count returns how many times key has been seen.
func (s *Sampler) Count(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key]
}

// Reset forgets all counts.
func (s *Sampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.counts)
}
