// Package effects holds the grant state machine and the rules that decide
// how an effect changes scores and boards. It does no I/O.
package effects

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Type string

const (
	TypePointBonus   Type = "point_bonus"
	TypePointPenalty Type = "point_penalty"
	TypePointSteal   Type = "point_steal"
	TypeTileLock     Type = "tile_lock"
	TypeTileUnlock   Type = "tile_unlock"
	TypeShield       Type = "shield"
	TypeReflect      Type = "reflect"
)

// Offensive effects are aimed at another team and can be blocked or reflected.
func (t Type) Offensive() bool {
	switch t {
	case TypePointPenalty, TypePointSteal, TypeTileLock:
		return true
	}
	return false
}

// Defensive effects sit idle until an offensive action targets their holder.
func (t Type) Defensive() bool { return t == TypeShield || t == TypeReflect }

// NeedsPosition reports whether activation must name a board position.
func (t Type) NeedsPosition() bool { return t == TypeTileLock || t == TypeTileUnlock }

func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TypePointBonus, TypePointPenalty, TypePointSteal, TypeTileLock, TypeTileUnlock, TypeShield, TypeReflect:
		return t, nil
	}
	return "", fmt.Errorf("unknown effect type %q", s)
}

type Trigger string

const (
	TriggerImmediate Trigger = "immediate"
	TriggerManual    Trigger = "manual"
	TriggerReactive  Trigger = "reactive"
)

func ParseTrigger(s string) (Trigger, error) {
	t := Trigger(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TriggerImmediate, TriggerManual, TriggerReactive:
		return t, nil
	}
	return "", fmt.Errorf("unknown trigger %q", s)
}

type Source string

const (
	SourceTileCompletion   Source = "tile_completion"
	SourceRowCompletion    Source = "row_completion"
	SourceColumnCompletion Source = "column_completion"
	SourceAdmin            Source = "admin"
)

// Effect is the definition a grant points at.
type Effect struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description,omitempty" yaml:"description"`
	Type        Type          `json:"type" yaml:"type"`
	Value       int           `json:"value" yaml:"value"`
	Trigger     Trigger       `json:"trigger" yaml:"trigger"`
	Duration    time.Duration `json:"duration,omitempty" yaml:"duration"`
}

var ErrInvalidEffect = errors.New("invalid effect")

// Validate checks that the type and trigger of an effect fit together.
func (e Effect) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: id required", ErrInvalidEffect)
	}
	if _, err := ParseType(string(e.Type)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEffect, err)
	}
	if _, err := ParseTrigger(string(e.Trigger)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEffect, err)
	}
	if e.Value < 0 {
		return fmt.Errorf("%w: %s has negative value", ErrInvalidEffect, e.ID)
	}
	switch {
	case e.Type.Defensive() && e.Trigger != TriggerReactive:
		return fmt.Errorf("%w: %s must be reactive", ErrInvalidEffect, e.ID)
	case !e.Type.Defensive() && e.Trigger == TriggerReactive:
		return fmt.Errorf("%w: only shield and reflect can be reactive", ErrInvalidEffect)
	case (e.Type.Offensive() || e.Type.NeedsPosition()) && e.Trigger != TriggerManual:
		return fmt.Errorf("%w: %s needs a target and must be manual", ErrInvalidEffect, e.ID)
	}
	if e.Duration < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidEffect)
	}
	return nil
}

// ExpiresAt is the expiry of a grant made at t, or nil when the effect never
// expires.
func (e Effect) ExpiresAt(t time.Time) *time.Time {
	if e.Duration <= 0 {
		return nil
	}
	exp := t.Add(e.Duration)
	return &exp
}
