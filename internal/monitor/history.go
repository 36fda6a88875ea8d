package monitor

// BPMRing is a circular buffer of recent heart rates.
type BPMRing struct {
	buf   []float64
	pos   int
	count int
}

// NewBPMRing creates a ring holding up to capacity values.
func NewBPMRing(capacity int) *BPMRing {
	return &BPMRing{
		buf: make([]float64, max(capacity, 1)),
	}
}

// Push adds a value, overwriting the oldest when full.
func (r *BPMRing) Push(val float64) {
	r.buf[r.pos] = val
	r.pos = (r.pos + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Values returns all stored values in chronological order.
func (r *BPMRing) Values() []float64 {
	if r.count == 0 {
		return nil
	}
	result := make([]float64, r.count)
	if r.count < len(r.buf) {
		copy(result, r.buf[:r.count])
	} else {
		n := copy(result, r.buf[r.pos:])
		copy(result[n:], r.buf[:r.pos])
	}
	return result
}

// Last returns the most recent value, or 0 if empty.
func (r *BPMRing) Last() float64 {
	if r.count == 0 {
		return 0
	}
	return r.buf[(r.pos-1+len(r.buf))%len(r.buf)]
}

// Len returns the number of stored values.
func (r *BPMRing) Len() int {
	return r.count
}
