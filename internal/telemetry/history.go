package telemetry

// History is an append-only, bounded list of samples. Once capacity is
// reached the oldest sample is dropped for every new one. It is not safe for
// concurrent use; the owning session serialises access.
type History struct {
	capacity int
	samples  []Sample
}

// NewHistory returns an empty history holding at most capacity samples. A
// non-positive capacity selects DefaultHistoryCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{capacity: capacity, samples: make([]Sample, 0, capacity)}
}

// Append adds s as the newest sample.
func (h *History) Append(s Sample) {
	if len(h.samples) == h.capacity {
		copy(h.samples, h.samples[1:])
		h.samples = h.samples[:len(h.samples)-1]
	}
	h.samples = append(h.samples, s)
}

// Len returns the number of samples held.
func (h *History) Len() int { return len(h.samples) }

// Capacity returns the maximum number of samples held.
func (h *History) Capacity() int { return h.capacity }

// Samples returns a copy of all samples, oldest first.
func (h *History) Samples() []Sample {
	out := make([]Sample, len(h.samples))
	copy(out, h.samples)
	return out
}

// Last returns a copy of the newest n samples, oldest first.
func (h *History) Last(n int) []Sample {
	if n > len(h.samples) {
		n = len(h.samples)
	}
	if n <= 0 {
		return nil
	}
	out := make([]Sample, n)
	copy(out, h.samples[len(h.samples)-n:])
	return out
}

// Latest returns the newest sample.
func (h *History) Latest() (Sample, bool) {
	if len(h.samples) == 0 {
		return Sample{}, false
	}
	return h.samples[len(h.samples)-1], true
}

// Reset empties the history.
func (h *History) Reset() {
	h.samples = h.samples[:0]
}
