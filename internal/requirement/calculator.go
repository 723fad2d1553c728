package requirement

import (
	"sort"
	"strings"
)

// State is the running value of one requirement (or of a tiered metric).
type State struct {
	Value float64 `json:"value"`
	// Seen is false until the first matching observation; speedruns treat an
	// unseen state as +Inf.
	Seen     bool        `json:"seen"`
	Counts   map[int]int `json:"counts,omitempty"`
	Complete bool        `json:"complete"`
}

func (s State) clone() State {
	out := s
	if s.Counts != nil {
		out.Counts = make(map[int]int, len(s.Counts))
		for k, v := range s.Counts {
			out.Counts[k] = v
		}
	}
	return out
}

// calculator is the per-variant folding rule.
type calculator interface {
	matches(p Payload) bool
	fold(s State, p Payload) State
	satisfied(s State) bool
}

// calculatorFor is the single dispatch point from variant to calculator.
func calculatorFor(r Requirement) calculator {
	switch v := r.(type) {
	case ItemDrop:
		return itemDropCalc{v}
	case Pet:
		return petCalc{v}
	case ValueDrop:
		return valueDropCalc{v}
	case Speedrun:
		return speedrunCalc{v}
	case Experience:
		return experienceCalc{v}
	case BAGambles:
		return gamblesCalc{v}
	case Puzzle:
		return puzzleCalc{v}
	}
	return nil
}

type itemDropCalc struct{ r ItemDrop }

func (c itemDropCalc) configured(id int) bool {
	for _, it := range c.r.Items {
		if it.ItemID == id {
			return true
		}
	}
	return false
}

func (c itemDropCalc) matches(p Payload) bool {
	v, ok := p.(ItemDropPayload)
	if !ok {
		return false
	}
	for _, it := range v.Items {
		if c.configured(it.ItemID) {
			return true
		}
	}
	return false
}

func (c itemDropCalc) fold(s State, p Payload) State {
	v := p.(ItemDropPayload)
	out := s.clone()
	if out.Counts == nil {
		out.Counts = map[int]int{}
	}
	for _, it := range v.Items {
		if !c.configured(it.ItemID) || it.Quantity <= 0 {
			continue
		}
		out.Counts[it.ItemID] += it.Quantity
		out.Seen = true
	}
	total := 0
	for _, n := range out.Counts {
		total += n
	}
	out.Value = float64(total)
	return out
}

func (c itemDropCalc) satisfied(s State) bool {
	for _, it := range c.r.Items {
		if s.Counts[it.ItemID] < it.ItemAmount {
			return false
		}
	}
	return s.Value >= float64(c.r.TotalAmount)
}

type petCalc struct{ r Pet }

func (c petCalc) matches(p Payload) bool {
	v, ok := p.(PetPayload)
	if !ok {
		return false
	}
	return c.r.PetName == "" || strings.EqualFold(strings.TrimSpace(v.PetName), strings.TrimSpace(c.r.PetName))
}

func (c petCalc) fold(s State, p Payload) State {
	out := s.clone()
	out.Value++
	out.Seen = true
	return out
}

func (c petCalc) satisfied(s State) bool { return s.Value >= float64(c.r.Amount) }

type valueDropCalc struct{ r ValueDrop }

func (c valueDropCalc) matches(p Payload) bool {
	_, ok := p.(ValueDropPayload)
	return ok
}

func (c valueDropCalc) fold(s State, p Payload) State {
	v := p.(ValueDropPayload)
	out := s.clone()
	if gp := float64(v.GPValue); gp > out.Value {
		out.Value = gp
	}
	out.Seen = true
	return out
}

func (c valueDropCalc) satisfied(s State) bool { return s.Value >= float64(c.r.Value) }

type speedrunCalc struct{ r Speedrun }

func (c speedrunCalc) matches(p Payload) bool {
	v, ok := p.(SpeedrunPayload)
	return ok && strings.EqualFold(strings.TrimSpace(v.Location), strings.TrimSpace(c.r.Location))
}

func (c speedrunCalc) fold(s State, p Payload) State {
	v := p.(SpeedrunPayload)
	out := s.clone()
	if !out.Seen || v.TimeSeconds < out.Value {
		out.Value = v.TimeSeconds
	}
	out.Seen = true
	return out
}

func (c speedrunCalc) satisfied(s State) bool { return s.Seen && s.Value <= c.r.GoalSeconds }

type experienceCalc struct{ r Experience }

func (c experienceCalc) matches(p Payload) bool {
	v, ok := p.(ExperiencePayload)
	return ok && strings.EqualFold(strings.TrimSpace(v.Skill), strings.TrimSpace(c.r.Skill))
}

func (c experienceCalc) fold(s State, p Payload) State {
	v := p.(ExperiencePayload)
	out := s.clone()
	if v.GainedXP > 0 {
		out.Value += float64(v.GainedXP)
	}
	out.Seen = true
	return out
}

func (c experienceCalc) satisfied(s State) bool { return s.Value >= float64(c.r.Experience) }

type gamblesCalc struct{ r BAGambles }

func (c gamblesCalc) matches(p Payload) bool {
	_, ok := p.(BAGamblesPayload)
	return ok
}

func (c gamblesCalc) fold(s State, p Payload) State {
	v := p.(BAGamblesPayload)
	out := s.clone()
	if v.GambleCount > 0 {
		out.Value += float64(v.GambleCount)
	}
	out.Seen = true
	return out
}

func (c gamblesCalc) satisfied(s State) bool { return s.Value >= float64(c.r.Amount) }

// puzzleCalc completes on the first single observation that meets the hidden
// requirement on its own; nothing accumulates across events.
type puzzleCalc struct{ r Puzzle }

func (c puzzleCalc) hidden() calculator {
	if c.r.Hidden == nil {
		return nil
	}
	return calculatorFor(c.r.Hidden)
}

func (c puzzleCalc) matches(p Payload) bool {
	h := c.hidden()
	return h != nil && h.matches(p)
}

func (c puzzleCalc) fold(s State, p Payload) State {
	out := s.clone()
	out.Seen = true
	if out.Value >= 1 {
		return out
	}
	h := c.hidden()
	if h.satisfied(h.fold(State{}, p)) {
		out.Value = 1
	}
	return out
}

func (c puzzleCalc) satisfied(s State) bool { return s.Value >= 1 }

// metricFor returns the requirement whose calculator folds the shared metric
// of a tiered set. Item drops fold the union of every tier's items.
func metricFor(tiers []Tier) Requirement {
	first := tiers[0].Requirement
	drop, ok := first.(ItemDrop)
	if !ok {
		return first
	}
	byID := map[int]Item{}
	for _, t := range tiers {
		for _, it := range t.Requirement.(ItemDrop).Items {
			if cur, exists := byID[it.ItemID]; !exists || it.ItemAmount > cur.ItemAmount {
				byID[it.ItemID] = it
			}
		}
	}
	merged := ItemDrop{TotalAmount: drop.TotalAmount}
	for _, it := range byID {
		merged.Items = append(merged.Items, it)
	}
	sort.Slice(merged.Items, func(i, j int) bool { return merged.Items[i].ItemID < merged.Items[j].ItemID })
	return merged
}
