package requirement

import (
	"fmt"
	"strings"
)

// Summary renders progress for notifications. It uses only public fields, so
// puzzles never reveal what they are waiting for.
func Summary(set Set, p Progress) string {
	if set.Tiered() {
		cur := State{}
		if p.Metric != nil {
			cur = *p.Metric
		}
		var parts []string
		for _, t := range set.Tiers {
			mark := " "
			if p.HasTier(t.Tier) {
				mark = "x"
			}
			parts = append(parts, fmt.Sprintf("[%s] tier %d (%s)", mark, t.Tier, describe(t.Requirement, cur)))
		}
		return strings.Join(parts, ", ")
	}
	var parts []string
	for i, r := range set.Requirements {
		s := State{}
		if i < len(p.Requirements) {
			s = p.Requirements[i]
		}
		parts = append(parts, describe(r, s))
	}
	sep := " and "
	if set.MatchType == MatchAny {
		sep = " or "
	}
	return strings.Join(parts, sep)
}

func describe(r Requirement, s State) string {
	switch v := r.(type) {
	case ItemDrop:
		var items []string
		for _, it := range v.Items {
			items = append(items, fmt.Sprintf("%s %d/%d", it.ItemName, s.Counts[it.ItemID], it.ItemAmount))
		}
		if v.TotalAmount > 0 {
			items = append(items, fmt.Sprintf("total %d/%d", int64(s.Value), v.TotalAmount))
		}
		return strings.Join(items, ", ")
	case Pet:
		name := v.PetName
		if name == "" {
			name = "pets"
		}
		return fmt.Sprintf("%s %d/%d", name, int64(s.Value), v.Amount)
	case ValueDrop:
		return fmt.Sprintf("best drop %d/%d gp", int64(s.Value), v.Value)
	case Speedrun:
		if !s.Seen {
			return fmt.Sprintf("%s no time yet (goal %s)", v.Location, clock(v.GoalSeconds))
		}
		return fmt.Sprintf("%s best %s (goal %s)", v.Location, clock(s.Value), clock(v.GoalSeconds))
	case Experience:
		return fmt.Sprintf("%s %d/%d xp", v.Skill, int64(s.Value), v.Experience)
	case BAGambles:
		return fmt.Sprintf("gambles %d/%d", int64(s.Value), v.Amount)
	case Puzzle:
		if s.Value >= 1 {
			return v.DisplayName + " solved"
		}
		return v.DisplayName + " unsolved"
	}
	return ""
}

func clock(seconds float64) string {
	total := int64(seconds)
	frac := seconds - float64(total)
	out := fmt.Sprintf("%d:%02d", total/60, total%60)
	if frac >= 0.005 {
		out += fmt.Sprintf(".%02d", int64(frac*100+0.5)%100)
	}
	return out
}
