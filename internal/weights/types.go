package weights

// #region variation
// Variation holds per-event up/down ratios relative to the nominal factor of
// the contribution that produced them.
type Variation struct {
	Up   []float64
	Down []float64
}

// #endregion variation

// #region contribution
// Contribution is one multiplicative weight factor per event, with optional
// systematic variations keyed by name.
type Contribution struct {
	Factor      []float64
	Systematics map[string]Variation
}

// Neutral returns a contribution of exactly 1.0 for n events.
func Neutral(n int) Contribution {
	f := make([]float64, n)
	for i := range f {
		f[i] = 1
	}
	return Contribution{Factor: f}
}

// Len is the number of events the contribution covers.
func (c Contribution) Len() int {
	return len(c.Factor)
}

// #endregion contribution

// #region step-record
// Step records one applied contribution for logs and tests.
type Step struct {
	Name       string
	Variations []string
}

// #endregion step-record
