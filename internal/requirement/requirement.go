// Package requirement models tile requirements as a closed set of variants and
// folds gameplay observations into monotone progress.
package requirement

import (
	"errors"
	"fmt"
	"strings"
)

// Kind tags a requirement variant and the gameplay event kind it consumes.
type Kind string

const (
	KindItemDrop   Kind = "ITEM_DROP"
	KindPet        Kind = "PET"
	KindValueDrop  Kind = "VALUE_DROP"
	KindSpeedrun   Kind = "SPEEDRUN"
	KindExperience Kind = "EXPERIENCE"
	KindBAGambles  Kind = "BA_GAMBLES"
	KindPuzzle     Kind = "PUZZLE"
)

// ParseKind normalizes a kind string.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	switch k {
	case KindItemDrop, KindPet, KindValueDrop, KindSpeedrun, KindExperience, KindBAGambles, KindPuzzle:
		return k, nil
	}
	return "", fmt.Errorf("unknown requirement kind %q", s)
}

// Requirement is implemented only by the variants in this package.
type Requirement interface {
	Kind() Kind
	isRequirement()
}

type Item struct {
	ItemID     int    `json:"itemId"`
	ItemName   string `json:"itemName"`
	ItemAmount int    `json:"itemAmount"`
}

type ItemDrop struct {
	Items       []Item `json:"items"`
	TotalAmount int    `json:"totalAmount"`
}

type Pet struct {
	PetName string `json:"petName"`
	Amount  int    `json:"amount"`
}

type ValueDrop struct {
	Value int64 `json:"value"`
}

type Speedrun struct {
	Location    string  `json:"location"`
	GoalSeconds float64 `json:"goalSeconds"`
}

type Experience struct {
	Skill      string `json:"skill"`
	Experience int64  `json:"experience"`
}

type BAGambles struct {
	Amount int `json:"amount"`
}

// Puzzle shows only its display fields to players. Hidden is the requirement
// that actually has to be met; it is dropped by every public encoding.
type Puzzle struct {
	DisplayName        string
	DisplayDescription string
	Hint               string
	Hidden             Requirement
}

func (ItemDrop) Kind() Kind   { return KindItemDrop }
func (Pet) Kind() Kind        { return KindPet }
func (ValueDrop) Kind() Kind  { return KindValueDrop }
func (Speedrun) Kind() Kind   { return KindSpeedrun }
func (Experience) Kind() Kind { return KindExperience }
func (BAGambles) Kind() Kind  { return KindBAGambles }
func (Puzzle) Kind() Kind     { return KindPuzzle }

func (ItemDrop) isRequirement()   {}
func (Pet) isRequirement()        {}
func (ValueDrop) isRequirement()  {}
func (Speedrun) isRequirement()   {}
func (Experience) isRequirement() {}
func (BAGambles) isRequirement()  {}
func (Puzzle) isRequirement()     {}

// MatchType combines the requirements of a flat set.
type MatchType string

const (
	MatchAll MatchType = "ALL"
	MatchAny MatchType = "ANY"
)

// TierAward decides what a tiered tile pays when later tiers qualify.
type TierAward string

const (
	// TierAwardFirst pays the first qualifying tier once and nothing after.
	TierAwardFirst TierAward = "first"
	// TierAwardDelta pays the difference up to the best tier reached.
	TierAwardDelta TierAward = "delta"
)

// Tier is one threshold of a tiered set. Encode through Set, never directly.
type Tier struct {
	Tier        int
	Points      int
	Requirement Requirement
}

// Set is either flat (MatchType + Requirements) or tiered (Tiers).
type Set struct {
	MatchType    MatchType
	Requirements []Requirement
	Tiers        []Tier
	// TierAward overrides the configured default for this tile when set.
	TierAward TierAward
}

// Tiered reports whether the set is tier based.
func (s Set) Tiered() bool { return len(s.Tiers) > 0 }

// Kinds lists the event kinds that can make progress on the set.
func (s Set) Kinds() []Kind {
	seen := map[Kind]bool{}
	var out []Kind
	add := func(r Requirement) {
		k := eventKind(r)
		if k != "" && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for _, r := range s.Requirements {
		add(r)
	}
	for _, t := range s.Tiers {
		add(t.Requirement)
	}
	return out
}

// eventKind is the gameplay kind a requirement listens to. Puzzles listen to
// the kind of their hidden requirement.
func eventKind(r Requirement) Kind {
	if p, ok := r.(Puzzle); ok {
		if p.Hidden == nil {
			return ""
		}
		return eventKind(p.Hidden)
	}
	if r == nil {
		return ""
	}
	return r.Kind()
}

var ErrInvalidSet = errors.New("invalid requirement set")

// Validate checks the set is well formed.
func (s Set) Validate() error {
	if s.Tiered() && len(s.Requirements) > 0 {
		return fmt.Errorf("%w: tiers and flat requirements are exclusive", ErrInvalidSet)
	}
	if !s.Tiered() {
		if len(s.Requirements) == 0 {
			return fmt.Errorf("%w: no requirements", ErrInvalidSet)
		}
		if s.MatchType != MatchAll && s.MatchType != MatchAny {
			return fmt.Errorf("%w: matchType must be ALL or ANY, got %q", ErrInvalidSet, s.MatchType)
		}
		for i, r := range s.Requirements {
			if err := validateRequirement(r); err != nil {
				return fmt.Errorf("%w: requirement %d: %v", ErrInvalidSet, i, err)
			}
		}
		return nil
	}
	switch s.TierAward {
	case "", TierAwardFirst, TierAwardDelta:
	default:
		return fmt.Errorf("%w: unknown tierAward %q", ErrInvalidSet, s.TierAward)
	}
	first := s.Tiers[0].Requirement
	seenTier := map[int]bool{}
	for i, t := range s.Tiers {
		if err := validateRequirement(t.Requirement); err != nil {
			return fmt.Errorf("%w: tier %d: %v", ErrInvalidSet, t.Tier, err)
		}
		if _, ok := t.Requirement.(Puzzle); ok {
			return fmt.Errorf("%w: tier %d: puzzles cannot be tiered", ErrInvalidSet, t.Tier)
		}
		if seenTier[t.Tier] {
			return fmt.Errorf("%w: duplicate tier %d", ErrInvalidSet, t.Tier)
		}
		seenTier[t.Tier] = true
		if t.Points < 0 {
			return fmt.Errorf("%w: tier %d has negative points", ErrInvalidSet, t.Tier)
		}
		if i > 0 && !sameMetric(first, t.Requirement) {
			return fmt.Errorf("%w: tier %d does not share the metric of tier %d", ErrInvalidSet, t.Tier, s.Tiers[0].Tier)
		}
	}
	return nil
}

func validateRequirement(r Requirement) error {
	switch v := r.(type) {
	case ItemDrop:
		if len(v.Items) == 0 {
			return errors.New("item drop needs at least one item")
		}
		for _, it := range v.Items {
			if it.ItemID <= 0 {
				return fmt.Errorf("item %q has no itemId", it.ItemName)
			}
			if it.ItemAmount < 0 {
				return fmt.Errorf("item %d has negative amount", it.ItemID)
			}
		}
		if v.TotalAmount < 0 {
			return errors.New("negative totalAmount")
		}
	case Pet:
		if v.Amount <= 0 {
			return errors.New("pet amount must be positive")
		}
	case ValueDrop:
		if v.Value <= 0 {
			return errors.New("value must be positive")
		}
	case Speedrun:
		if strings.TrimSpace(v.Location) == "" {
			return errors.New("speedrun location required")
		}
		if v.GoalSeconds <= 0 {
			return errors.New("goalSeconds must be positive")
		}
	case Experience:
		if strings.TrimSpace(v.Skill) == "" {
			return errors.New("experience skill required")
		}
		if v.Experience <= 0 {
			return errors.New("experience must be positive")
		}
	case BAGambles:
		if v.Amount <= 0 {
			return errors.New("gamble amount must be positive")
		}
	case Puzzle:
		if v.Hidden != nil {
			if _, nested := v.Hidden.(Puzzle); nested {
				return errors.New("puzzle cannot hide another puzzle")
			}
			return validateRequirement(v.Hidden)
		}
	case nil:
		return errors.New("missing requirement")
	default:
		return fmt.Errorf("unsupported requirement %T", r)
	}
	return nil
}

func sameMetric(a, b Requirement) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Pet:
		return strings.EqualFold(av.PetName, b.(Pet).PetName)
	case Speedrun:
		return strings.EqualFold(av.Location, b.(Speedrun).Location)
	case Experience:
		return strings.EqualFold(av.Skill, b.(Experience).Skill)
	}
	return true
}
