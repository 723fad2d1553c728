package effects

import (
	"sort"
	"time"
)

// Result is the outcome reported for an activation.
type Result string

const (
	ResultActivated Result = "activated"
	ResultBlocked   Result = "blocked"
	ResultReflected Result = "reflected"
)

// Action is an activated effect on its way to a team. For offensive effects
// SourceTeamID is the attacker and TargetTeamID the victim.
type Action struct {
	Effect         Effect `json:"effect"`
	GrantID        string `json:"grantId,omitempty"`
	SourceTeamID   string `json:"sourceTeamId"`
	TargetTeamID   string `json:"targetTeamId,omitempty"`
	TargetPosition *int   `json:"targetPosition,omitempty"`
}

// Reflected swaps attacker and victim.
func (a Action) Reflected() Action {
	out := a
	out.SourceTeamID, out.TargetTeamID = a.TargetTeamID, a.SourceTeamID
	return out
}

// Defender is a reactive grant the target holds.
type Defender struct {
	GrantID   string
	Type      Type
	GrantedAt time.Time
}

// Decision says how an incoming offensive action resolves.
type Decision struct {
	Result Result
	// Consumed is the defending grant used up, empty on ResultActivated.
	Consumed string
	// Apply is the action to apply; nil when blocked.
	Apply *Action
}

// Decide picks the defense against an incoming offensive action. Shields win
// over reflects; among equals the oldest grant is consumed first.
func Decide(a Action, defenders []Defender) Decision {
	pick := func(t Type) (Defender, bool) {
		var cands []Defender
		for _, d := range defenders {
			if d.Type == t {
				cands = append(cands, d)
			}
		}
		if len(cands) == 0 {
			return Defender{}, false
		}
		sort.SliceStable(cands, func(i, j int) bool {
			if !cands[i].GrantedAt.Equal(cands[j].GrantedAt) {
				return cands[i].GrantedAt.Before(cands[j].GrantedAt)
			}
			return cands[i].GrantID < cands[j].GrantID
		})
		return cands[0], true
	}
	if d, ok := pick(TypeShield); ok {
		return Decision{Result: ResultBlocked, Consumed: d.GrantID}
	}
	if d, ok := pick(TypeReflect); ok {
		r := a.Reflected()
		return Decision{Result: ResultReflected, Consumed: d.GrantID, Apply: &r}
	}
	return Decision{Result: ResultActivated, Apply: &a}
}

// ScoreDelta is a change to one team's score.
type ScoreDelta struct {
	TeamID string `json:"teamId"`
	Delta  int    `json:"delta"`
}

// TileChange locks or unlocks a tile on a team's board.
type TileChange struct {
	TeamID   string `json:"teamId"`
	Position int    `json:"position"`
	Locked   bool   `json:"locked"`
}

// Impact is everything an applied action changes.
type Impact struct {
	Scores []ScoreDelta `json:"scores,omitempty"`
	Tile   *TileChange  `json:"tile,omitempty"`
}

// ImpactOf computes what applying a resolved action does. Defensive effects
// have no impact of their own.
func ImpactOf(a Action) Impact {
	v := a.Effect.Value
	switch a.Effect.Type {
	case TypePointBonus:
		return Impact{Scores: []ScoreDelta{{TeamID: a.SourceTeamID, Delta: v}}}
	case TypePointPenalty:
		return Impact{Scores: []ScoreDelta{{TeamID: a.TargetTeamID, Delta: -v}}}
	case TypePointSteal:
		return Impact{Scores: []ScoreDelta{
			{TeamID: a.TargetTeamID, Delta: -v},
			{TeamID: a.SourceTeamID, Delta: v},
		}}
	case TypeTileLock:
		if a.TargetPosition == nil {
			return Impact{}
		}
		return Impact{Tile: &TileChange{TeamID: a.TargetTeamID, Position: *a.TargetPosition, Locked: true}}
	case TypeTileUnlock:
		if a.TargetPosition == nil {
			return Impact{}
		}
		return Impact{Tile: &TileChange{TeamID: a.SourceTeamID, Position: *a.TargetPosition, Locked: false}}
	}
	return Impact{}
}
