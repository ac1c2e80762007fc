package selection

import "github.com/danielpatrickdp/stau-selection/internal/columnar"

// Per-object masks reduce to per-event cut results with these helpers.

// CountPerEvent counts true object flags per event.
func CountPerEvent(j *columnar.Jagged, objMask []bool) []int {
	out := make([]int, j.Len())
	for ev := range out {
		for k := j.Offsets[ev]; k < j.Offsets[ev+1]; k++ {
			if objMask[k] {
				out[ev]++
			}
		}
	}
	return out
}

// AnyPerEvent is true for events with at least one true object flag.
func AnyPerEvent(j *columnar.Jagged, objMask []bool) []bool {
	counts := CountPerEvent(j, objMask)
	out := make([]bool, len(counts))
	for i, c := range counts {
		out[i] = c > 0
	}
	return out
}

// NumIs is true for events holding exactly want objects.
func NumIs(j *columnar.Jagged, want int) []bool {
	out := make([]bool, j.Len())
	for i := range out {
		out[i] = j.Count(i) == want
	}
	return out
}

// NumAtLeast is true for events holding at least min objects.
func NumAtLeast(j *columnar.Jagged, min int) []bool {
	out := make([]bool, j.Len())
	for i := range out {
		out[i] = j.Count(i) >= min
	}
	return out
}
