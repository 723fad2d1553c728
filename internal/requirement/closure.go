package requirement

// Closure is the tile level verdict after an update.
type Closure struct {
	IsCompleted bool
	// Newly is true only on the false -> true transition.
	Newly         bool
	PointsAwarded int
}

// Evaluate decides tile completion and the points owed by this evaluation.
// Points are paid once on first completion; under TierAwardDelta a tiered tile
// also pays the difference when a better tier is reached later.
func Evaluate(set Set, basePoints int, wasCompleted bool, u Update, award TierAward) Closure {
	if set.TierAward != "" {
		award = set.TierAward
	}
	complete := wasCompleted || IsComplete(set, u.Progress)
	if !complete {
		return Closure{}
	}
	c := Closure{IsCompleted: true, Newly: !wasCompleted}
	if !set.Tiered() {
		if c.Newly {
			c.PointsAwarded = basePoints
		}
		return c
	}
	switch award {
	case TierAwardDelta:
		if best := bestTierPoints(set, u.Progress); best > u.Progress.AwardedPoints {
			c.PointsAwarded = best - u.Progress.AwardedPoints
		}
	default:
		if c.Newly {
			c.PointsAwarded = firstNewTierPoints(set, u.NewTiers, u.Progress)
		}
	}
	return c
}

// ForcedPoints is what an administrative completion pays: base points for a
// flat tile, the first tier's points for a tiered one.
func ForcedPoints(set Set, basePoints int) int {
	if set.Tiered() {
		return set.Tiers[0].Points
	}
	return basePoints
}

func firstNewTierPoints(set Set, newTiers []int, p Progress) int {
	isNew := map[int]bool{}
	for _, n := range newTiers {
		isNew[n] = true
	}
	for _, t := range set.Tiers {
		if isNew[t.Tier] {
			return t.Points
		}
	}
	// closed without a fresh tier in this evaluation; pay the first reached
	for _, t := range set.Tiers {
		if p.HasTier(t.Tier) {
			return t.Points
		}
	}
	return 0
}

func bestTierPoints(set Set, p Progress) int {
	best := 0
	for _, t := range set.Tiers {
		if p.HasTier(t.Tier) && t.Points > best {
			best = t.Points
		}
	}
	return best
}
