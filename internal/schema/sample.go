package schema

import "math"

// SampleResult is the typed outcome of reading one channel during one tick.
// A failed channel read is degraded data, not a session failure.
type SampleResult struct {
	Value float64
	Valid bool
}

// Ok wraps a successful channel reading.
func Ok(value float64) SampleResult {
	return SampleResult{Value: value, Valid: true}
}

// Invalid marks a failed channel reading. Its stored value is NaN.
func Invalid() SampleResult {
	return SampleResult{Value: math.NaN(), Valid: false}
}

// Stored returns the value written into the ring buffer for this result.
func (r SampleResult) Stored() float64 {
	if !r.Valid {
		return math.NaN()
	}
	return r.Value
}
