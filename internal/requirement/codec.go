package requirement

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Two projections exist for every requirement. The public one is what
// json.Marshal produces on a Set or Puzzle and never carries the hidden
// requirement; the admin one is produced only by AdminView and EncodeAdmin.
type view int

const (
	publicView view = iota
	adminView
)

type puzzleWire struct {
	Type               Kind            `json:"type"`
	DisplayName        string          `json:"displayName,omitempty"`
	DisplayDescription string          `json:"displayDescription,omitempty"`
	Hint               string          `json:"hint,omitempty"`
	Hidden             json.RawMessage `json:"hiddenRequirement,omitempty"`
}

type tierWire struct {
	Tier        int             `json:"tier"`
	Points      int             `json:"points"`
	Requirement json.RawMessage `json:"requirement"`
}

type setWire struct {
	MatchType    MatchType         `json:"matchType,omitempty"`
	Requirements []json.RawMessage `json:"requirements,omitempty"`
	Tiers        []tierWire        `json:"tiers,omitempty"`
	TierAward    TierAward         `json:"tierAward,omitempty"`
}

func encodeRequirement(r Requirement, v view) (json.RawMessage, error) {
	var body any
	switch x := r.(type) {
	case ItemDrop:
		body = struct {
			Type Kind `json:"type"`
			ItemDrop
		}{x.Kind(), x}
	case Pet:
		body = struct {
			Type Kind `json:"type"`
			Pet
		}{x.Kind(), x}
	case ValueDrop:
		body = struct {
			Type Kind `json:"type"`
			ValueDrop
		}{x.Kind(), x}
	case Speedrun:
		body = struct {
			Type Kind `json:"type"`
			Speedrun
		}{x.Kind(), x}
	case Experience:
		body = struct {
			Type Kind `json:"type"`
			Experience
		}{x.Kind(), x}
	case BAGambles:
		body = struct {
			Type Kind `json:"type"`
			BAGambles
		}{x.Kind(), x}
	case Puzzle:
		w := puzzleWire{
			Type:               KindPuzzle,
			DisplayName:        x.DisplayName,
			DisplayDescription: x.DisplayDescription,
			Hint:               x.Hint,
		}
		if v == adminView && x.Hidden != nil {
			hidden, err := encodeRequirement(x.Hidden, v)
			if err != nil {
				return nil, err
			}
			w.Hidden = hidden
		}
		body = w
	default:
		return nil, fmt.Errorf("cannot encode requirement %T", r)
	}
	return json.Marshal(body)
}

func decodeRequirement(raw json.RawMessage) (Requirement, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	kind, err := ParseKind(head.Type)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindItemDrop:
		var v ItemDrop
		err = json.Unmarshal(raw, &v)
		return v, err
	case KindPet:
		var v Pet
		err = json.Unmarshal(raw, &v)
		return v, err
	case KindValueDrop:
		var v ValueDrop
		err = json.Unmarshal(raw, &v)
		return v, err
	case KindSpeedrun:
		var v Speedrun
		err = json.Unmarshal(raw, &v)
		return v, err
	case KindExperience:
		var v Experience
		err = json.Unmarshal(raw, &v)
		return v, err
	case KindBAGambles:
		var v BAGambles
		err = json.Unmarshal(raw, &v)
		return v, err
	case KindPuzzle:
		var w puzzleWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		p := Puzzle{DisplayName: w.DisplayName, DisplayDescription: w.DisplayDescription, Hint: w.Hint}
		if len(w.Hidden) > 0 && string(w.Hidden) != "null" {
			hidden, err := decodeRequirement(w.Hidden)
			if err != nil {
				return nil, fmt.Errorf("hiddenRequirement: %w", err)
			}
			p.Hidden = hidden
		}
		return p, nil
	}
	return nil, errors.New("unreachable requirement kind")
}

func encodeSet(s Set, v view) ([]byte, error) {
	w := setWire{MatchType: s.MatchType, TierAward: s.TierAward}
	for _, r := range s.Requirements {
		raw, err := encodeRequirement(r, v)
		if err != nil {
			return nil, err
		}
		w.Requirements = append(w.Requirements, raw)
	}
	for _, t := range s.Tiers {
		raw, err := encodeRequirement(t.Requirement, v)
		if err != nil {
			return nil, err
		}
		w.Tiers = append(w.Tiers, tierWire{Tier: t.Tier, Points: t.Points, Requirement: raw})
	}
	if s.Tiered() {
		w.MatchType = ""
	}
	return json.Marshal(w)
}

// MarshalJSON emits the public projection.
func (s Set) MarshalJSON() ([]byte, error) { return encodeSet(s, publicView) }

// UnmarshalJSON accepts the admin (stored) form.
func (s *Set) UnmarshalJSON(data []byte) error {
	var w setWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Set{MatchType: w.MatchType, TierAward: w.TierAward}
	for i, raw := range w.Requirements {
		r, err := decodeRequirement(raw)
		if err != nil {
			return fmt.Errorf("requirement %d: %w", i, err)
		}
		out.Requirements = append(out.Requirements, r)
	}
	for _, t := range w.Tiers {
		r, err := decodeRequirement(t.Requirement)
		if err != nil {
			return fmt.Errorf("tier %d: %w", t.Tier, err)
		}
		out.Tiers = append(out.Tiers, Tier{Tier: t.Tier, Points: t.Points, Requirement: r})
	}
	if !out.Tiered() && out.MatchType == "" {
		out.MatchType = MatchAll
	}
	*s = out
	return nil
}

// MarshalJSON emits the public projection of a lone puzzle.
func (p Puzzle) MarshalJSON() ([]byte, error) { return encodeRequirement(p, publicView) }

// AdminView wraps a set for administrators; its encoding includes hidden
// puzzle requirements.
type AdminView struct {
	Set Set
}

func (a AdminView) MarshalJSON() ([]byte, error) { return encodeSet(a.Set, adminView) }

// EncodeAdmin is the storage encoding of a set.
func EncodeAdmin(s Set) ([]byte, error) { return encodeSet(s, adminView) }

// Decode parses and validates a stored set.
func Decode(data []byte) (Set, error) {
	var s Set
	if err := json.Unmarshal(data, &s); err != nil {
		return Set{}, fmt.Errorf("%w: %v", ErrInvalidSet, err)
	}
	if err := s.Validate(); err != nil {
		return Set{}, err
	}
	return s, nil
}
