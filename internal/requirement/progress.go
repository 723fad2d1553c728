package requirement

// Progress is the team scoped aggregate for one board tile.
type Progress struct {
	Value float64 `json:"value"`
	// Requirements holds one state per flat requirement, by index.
	Requirements []State `json:"requirements,omitempty"`
	// Metric is the shared state of a tiered set.
	Metric         *State        `json:"metric,omitempty"`
	CompletedTiers []int         `json:"completedTiers,omitempty"`
	AwardedPoints  int           `json:"awardedPoints,omitempty"`
	Contributors   []int64       `json:"contributors,omitempty"`
	LastAccountID  int64         `json:"lastAccountId,omitempty"`
	LastItems      []DroppedItem `json:"lastItems,omitempty"`
}

func (p Progress) clone() Progress {
	out := p
	out.Requirements = make([]State, len(p.Requirements))
	for i, s := range p.Requirements {
		out.Requirements[i] = s.clone()
	}
	if p.Metric != nil {
		m := p.Metric.clone()
		out.Metric = &m
	}
	out.CompletedTiers = append([]int(nil), p.CompletedTiers...)
	out.Contributors = append([]int64(nil), p.Contributors...)
	out.LastItems = append([]DroppedItem(nil), p.LastItems...)
	return out
}

// HasTier reports whether tier n has been reached.
func (p Progress) HasTier(n int) bool {
	for _, t := range p.CompletedTiers {
		if t == n {
			return true
		}
	}
	return false
}

// Update is the outcome of folding one event into a tile's progress.
type Update struct {
	Progress Progress
	// Matched is false when no requirement of the set consumes the event;
	// Progress is then the unchanged input.
	Matched  bool
	Changed  bool
	NewTiers []int
}

// Matches reports whether any requirement of the set consumes the payload.
func Matches(set Set, p Payload) bool {
	if set.Tiered() {
		return calculatorFor(metricFor(set.Tiers)).matches(p)
	}
	for _, r := range set.Requirements {
		if c := calculatorFor(r); c != nil && c.matches(p) {
			return true
		}
	}
	return false
}

// Apply folds ev into prev. Every rule is monotone: completed requirements and
// tiers are never cleared by later events.
func Apply(set Set, prev Progress, ev Event) Update {
	if ev.Payload == nil || !Matches(set, ev.Payload) {
		return Update{Progress: prev}
	}
	next := prev.clone()
	var newTiers []int
	if set.Tiered() {
		var cur State
		if next.Metric != nil {
			cur = *next.Metric
		}
		cur = calculatorFor(metricFor(set.Tiers)).fold(cur, ev.Payload)
		for _, t := range set.Tiers {
			if next.HasTier(t.Tier) {
				continue
			}
			if calculatorFor(t.Requirement).satisfied(cur) {
				next.CompletedTiers = append(next.CompletedTiers, t.Tier)
				newTiers = append(newTiers, t.Tier)
			}
		}
		cur.Complete = len(next.CompletedTiers) > 0
		next.Metric = &cur
		next.Value = cur.Value
	} else {
		for len(next.Requirements) < len(set.Requirements) {
			next.Requirements = append(next.Requirements, State{})
		}
		for i, r := range set.Requirements {
			c := calculatorFor(r)
			if c == nil || !c.matches(ev.Payload) {
				continue
			}
			s := c.fold(next.Requirements[i], ev.Payload)
			s.Complete = s.Complete || c.satisfied(s)
			next.Requirements[i] = s
		}
		next.Value = flatValue(next.Requirements)
	}
	if ev.AccountID != 0 {
		next.LastAccountID = ev.AccountID
		if !containsAccount(next.Contributors, ev.AccountID) {
			next.Contributors = append(next.Contributors, ev.AccountID)
		}
	}
	if drop, ok := ev.Payload.(ItemDropPayload); ok {
		next.LastItems = append([]DroppedItem(nil), drop.Items...)
	}
	return Update{
		Progress: next,
		Matched:  true,
		Changed:  progressChanged(prev, next),
		NewTiers: newTiers,
	}
}

// flatValue is the single requirement's value, or the number of completed
// requirements when the set has several.
func flatValue(states []State) float64 {
	if len(states) == 1 {
		return states[0].Value
	}
	n := 0
	for _, s := range states {
		if s.Complete {
			n++
		}
	}
	return float64(n)
}

func containsAccount(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func progressChanged(a, b Progress) bool {
	if a.Value != b.Value || len(a.CompletedTiers) != len(b.CompletedTiers) {
		return true
	}
	if len(a.Requirements) != len(b.Requirements) {
		return true
	}
	for i := range a.Requirements {
		if !stateEqual(a.Requirements[i], b.Requirements[i]) {
			return true
		}
	}
	if (a.Metric == nil) != (b.Metric == nil) {
		return true
	}
	if a.Metric != nil && !stateEqual(*a.Metric, *b.Metric) {
		return true
	}
	return false
}

func stateEqual(a, b State) bool {
	if a.Value != b.Value || a.Seen != b.Seen || a.Complete != b.Complete || len(a.Counts) != len(b.Counts) {
		return false
	}
	for k, v := range a.Counts {
		if b.Counts[k] != v {
			return false
		}
	}
	return true
}

// IsComplete applies the set's closure policy to progress: ALL, ANY, or any
// reached tier.
func IsComplete(set Set, p Progress) bool {
	if set.Tiered() {
		return len(p.CompletedTiers) > 0
	}
	if len(p.Requirements) < len(set.Requirements) {
		if set.MatchType == MatchAll {
			return false
		}
	}
	switch set.MatchType {
	case MatchAny:
		for _, s := range p.Requirements {
			if s.Complete {
				return true
			}
		}
		return false
	default:
		if len(p.Requirements) == 0 {
			return false
		}
		for _, s := range p.Requirements {
			if !s.Complete {
				return false
			}
		}
		return true
	}
}
