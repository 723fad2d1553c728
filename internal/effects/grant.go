package effects

import (
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle of a grant. Idle is the only non-terminal state;
// each terminal state records how the grant was used up.
type State string

const (
	StateIdle      State = "idle"
	StateActivated State = "activated"
	StateBlocked   State = "blocked"
	StateReflected State = "reflected"
	StateExpired   State = "expired"
)

func (s State) Terminal() bool { return s != StateIdle }

// ScopeKind names what a grant was earned for.
type ScopeKind string

const (
	ScopeTile   ScopeKind = "tile"
	ScopeRow    ScopeKind = "row"
	ScopeColumn ScopeKind = "column"
	ScopeAdmin  ScopeKind = "admin"
)

// Scope identifies the thing a grant was earned for. A grant exists at most
// once per (scope key, effect).
type Scope struct {
	Kind        ScopeKind
	BoardID     string
	BoardTileID string
	// Index is the zero based row or column.
	Index  int
	TeamID string
	// Ref distinguishes separate admin grants to the same team.
	Ref string
}

func (s Scope) Key() string {
	switch s.Kind {
	case ScopeTile:
		return "tile:" + s.BoardTileID
	case ScopeRow, ScopeColumn:
		return fmt.Sprintf("%s:%s:%d", s.Kind, s.BoardID, s.Index)
	default:
		return "admin:" + s.TeamID + ":" + s.Ref
	}
}

// Source is the grant source matching the scope.
func (s Scope) Source() Source {
	switch s.Kind {
	case ScopeTile:
		return SourceTileCompletion
	case ScopeRow:
		return SourceRowCompletion
	case ScopeColumn:
		return SourceColumnCompletion
	}
	return SourceAdmin
}

// ParseScopeKey reverses Scope.Key. Admin keys do not round trip their team
// when the ref contains colons; the team is stored on the grant anyway.
func ParseScopeKey(key string) (Scope, error) {
	parts := strings.SplitN(key, ":", 3)
	switch ScopeKind(parts[0]) {
	case ScopeTile:
		if len(parts) < 2 || parts[1] == "" {
			break
		}
		return Scope{Kind: ScopeTile, BoardTileID: strings.Join(parts[1:], ":")}, nil
	case ScopeRow, ScopeColumn:
		if len(parts) != 3 {
			break
		}
		var idx int
		if _, err := fmt.Sscanf(parts[2], "%d", &idx); err != nil {
			break
		}
		return Scope{Kind: ScopeKind(parts[0]), BoardID: parts[1], Index: idx}, nil
	case ScopeAdmin:
		if len(parts) != 3 {
			break
		}
		return Scope{Kind: ScopeAdmin, TeamID: parts[1], Ref: parts[2]}, nil
	}
	return Scope{}, fmt.Errorf("malformed scope key %q", key)
}

// Grant is the state carried by one effect grant.
type Grant struct {
	ID        string
	TeamID    string
	Effect    Effect
	State     State
	ExpiresAt *time.Time
}

// Expired reports whether an idle grant has outlived its expiry at now.
func (g Grant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

// TransitionError is returned for any move the state machine does not allow.
type TransitionError struct {
	GrantID string
	From    State
	Op      string
	Reason  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("grant %s cannot %s from %s: %s", e.GrantID, e.Op, e.From, e.Reason)
}

// CheckActivate validates a manual activation by actingTeam at now.
func CheckActivate(g Grant, actingTeam string, now time.Time) error {
	fail := func(reason string) error {
		return &TransitionError{GrantID: g.ID, From: g.State, Op: "activate", Reason: reason}
	}
	if g.State.Terminal() {
		return fail("already consumed")
	}
	if g.Expired(now) {
		return fail("expired")
	}
	if g.TeamID != actingTeam {
		return fail("held by another team")
	}
	if g.Effect.Trigger == TriggerReactive {
		return fail("reactive grants fire only in response to an attack")
	}
	return nil
}

// CheckExpire reports whether the sweep may move g to StateExpired.
func CheckExpire(g Grant, now time.Time) bool {
	return g.State == StateIdle && g.Expired(now)
}

// Consume validates the move of an idle grant into a terminal state.
func Consume(g Grant, to State) error {
	if !to.Terminal() {
		return &TransitionError{GrantID: g.ID, From: g.State, Op: "consume", Reason: "target state is not terminal"}
	}
	if g.State.Terminal() {
		return &TransitionError{GrantID: g.ID, From: g.State, Op: "consume", Reason: "already consumed"}
	}
	return nil
}
