package selection

import "fmt"

// AllCategory is the cutflow key covering every event.
const AllCategory = "all"

// BeforeCuts is the name of the first cutflow entry.
const BeforeCuts = "Before cuts"

// #region entry
// Entry is the event count and weighted yield entering and leaving one step.
type Entry struct {
	Name      string  `json:"name"`
	EventsIn  int64   `json:"events_in"`
	EventsOut int64   `json:"events_out"`
	WeightIn  float64 `json:"weight_in"`
	WeightOut float64 `json:"weight_out"`
}

// #endregion entry

// #region cutflow
// Cutflow holds ordered entries per category key. Keys appear in the order
// they were first recorded, starting with AllCategory.
type Cutflow struct {
	order []string
	flows map[string][]Entry
}

// NewCutflow returns an empty cutflow.
func NewCutflow() *Cutflow {
	return &Cutflow{flows: map[string][]Entry{}}
}

// Categories lists category keys in first-recorded order.
func (c *Cutflow) Categories() []string {
	return append([]string(nil), c.order...)
}

// Entries returns the entries of one category.
func (c *Cutflow) Entries(category string) []Entry {
	return append([]Entry(nil), c.flows[category]...)
}

// Before returns the event count of the first entry of a category.
func (c *Cutflow) Before(category string) (int64, bool) {
	e := c.flows[category]
	if len(e) == 0 {
		return 0, false
	}
	return e[0].EventsIn, true
}

// Final returns the count and yield leaving the last step of a category.
func (c *Cutflow) Final(category string) (int64, float64, bool) {
	e := c.flows[category]
	if len(e) == 0 {
		return 0, 0, false
	}
	last := e[len(e)-1]
	return last.EventsOut, last.WeightOut, true
}

// Append records one entry for a category, registering the category on first use.
func (c *Cutflow) Append(category string, e Entry) {
	if _, ok := c.flows[category]; !ok {
		c.order = append(c.order, category)
	}
	c.flows[category] = append(c.flows[category], e)
}

// Merge adds other into c entry by entry. Categories present only in other
// are appended. Categories present in both must list the same steps; on
// mismatch c is left unchanged.
func (c *Cutflow) Merge(other *Cutflow) error {
	for _, cat := range other.order {
		theirs := other.flows[cat]
		ours, ok := c.flows[cat]
		if !ok {
			continue
		}
		if len(ours) != len(theirs) {
			return fmt.Errorf("%w: category %s has %d and %d steps", ErrCutflowMismatch, cat, len(ours), len(theirs))
		}
		for i := range ours {
			if ours[i].Name != theirs[i].Name {
				return fmt.Errorf("%w: category %s step %d is %q and %q", ErrCutflowMismatch, cat, i, ours[i].Name, theirs[i].Name)
			}
		}
	}
	for _, cat := range other.order {
		theirs := other.flows[cat]
		ours, ok := c.flows[cat]
		if !ok {
			c.order = append(c.order, cat)
			c.flows[cat] = append([]Entry(nil), theirs...)
			continue
		}
		for i := range ours {
			ours[i].EventsIn += theirs[i].EventsIn
			ours[i].EventsOut += theirs[i].EventsOut
			ours[i].WeightIn += theirs[i].WeightIn
			ours[i].WeightOut += theirs[i].WeightOut
		}
	}
	return nil
}

// Clone returns a deep copy.
func (c *Cutflow) Clone() *Cutflow {
	out := NewCutflow()
	for _, cat := range c.order {
		out.order = append(out.order, cat)
		out.flows[cat] = append([]Entry(nil), c.flows[cat]...)
	}
	return out
}

// Counts returns, per category, the ordered (name, count) pairs in the
// persisted layout: "Before cuts" first, then the count leaving each step.
func (c *Cutflow) Counts(category string) []Named {
	return c.project(category, func(e Entry) float64 { return float64(e.EventsIn) }, func(e Entry) float64 { return float64(e.EventsOut) })
}

// Yields is Counts with weighted yields.
func (c *Cutflow) Yields(category string) []Named {
	return c.project(category, func(e Entry) float64 { return e.WeightIn }, func(e Entry) float64 { return e.WeightOut })
}

func (c *Cutflow) project(category string, in, out func(Entry) float64) []Named {
	entries := c.flows[category]
	if len(entries) == 0 {
		return nil
	}
	res := make([]Named, 0, len(entries)+1)
	res = append(res, Named{Name: BeforeCuts, Value: in(entries[0])})
	if entries[0].Name == BeforeCuts {
		entries = entries[1:]
	}
	for _, e := range entries {
		res = append(res, Named{Name: e.Name, Value: out(e)})
	}
	return res
}

// Named is one ordered cutflow value.
type Named struct {
	Name  string
	Value float64
}

// #endregion cutflow
