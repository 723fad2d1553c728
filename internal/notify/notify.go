// Package notify delivers best-effort announcements about tile progress and
// effects. Nothing here is retried and nothing is awaited inside a database
// transaction.
package notify

import (
	"context"
	"fmt"
	"sync"

	"osrsbingo/internal/effects"
)

type TileProgress struct {
	TeamID        string `json:"teamId"`
	TeamName      string `json:"teamName,omitempty"`
	TileID        string `json:"tileId"`
	TileName      string `json:"tileName,omitempty"`
	BoardTileID   string `json:"boardTileId"`
	Position      int    `json:"position"`
	Summary       string `json:"progressSummary"`
	IsCompleted   bool   `json:"isCompleted"`
	NewTiers      []int  `json:"newlyCompletedTiers,omitempty"`
	PointsAwarded int    `json:"pointsAwarded,omitempty"`
}

// ImmediateResult describes what an immediate grant did when it was made.
type ImmediateResult struct {
	Result        effects.Result `json:"result"`
	PointsAwarded int            `json:"pointsAwarded"`
	Impact        effects.Impact `json:"impact"`
}

type EffectGrant struct {
	TeamID    string           `json:"teamId"`
	GrantID   string           `json:"grantId"`
	Effect    effects.Effect   `json:"effect"`
	Source    effects.Source   `json:"source"`
	Trigger   effects.Trigger  `json:"trigger"`
	Immediate *ImmediateResult `json:"immediateResult,omitempty"`
}

type EffectActivation struct {
	SourceTeamID string         `json:"sourceTeamId"`
	TargetTeamID string         `json:"targetTeamId,omitempty"`
	GrantID      string         `json:"grantId"`
	Effect       effects.Effect `json:"effect"`
	// Action is "activate" for the acting team's use of a grant.
	Action string         `json:"action"`
	Result effects.Result `json:"result"`
	Impact effects.Impact `json:"impact"`
}

// Notifier is the outbound contract of the engine.
type Notifier interface {
	NotifyTileProgress(ctx context.Context, n TileProgress) error
	NotifyEffectGrant(ctx context.Context, n EffectGrant) error
	NotifyEffectActivation(ctx context.Context, n EffectActivation) error
}

// DeliveryError reports a failed delivery. It is logged, never retried.
type DeliveryError struct {
	Channel string
	Status  int
	Err     error
}

func (e *DeliveryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("notify %s: status %d: %v", e.Channel, e.Status, e.Err)
	}
	return fmt.Sprintf("notify %s: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Nop discards everything.
type Nop struct{}

func (Nop) NotifyTileProgress(context.Context, TileProgress) error         { return nil }
func (Nop) NotifyEffectGrant(context.Context, EffectGrant) error           { return nil }
func (Nop) NotifyEffectActivation(context.Context, EffectActivation) error { return nil }

// Recorder keeps every notification in memory.
type Recorder struct {
	mu          sync.Mutex
	progress    []TileProgress
	grants      []EffectGrant
	activations []EffectActivation
}

func (r *Recorder) NotifyTileProgress(_ context.Context, n TileProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, n)
	return nil
}

func (r *Recorder) NotifyEffectGrant(_ context.Context, n EffectGrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants = append(r.grants, n)
	return nil
}

func (r *Recorder) NotifyEffectActivation(_ context.Context, n EffectActivation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activations = append(r.activations, n)
	return nil
}

func (r *Recorder) Progress() []TileProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TileProgress(nil), r.progress...)
}

func (r *Recorder) Grants() []EffectGrant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EffectGrant(nil), r.grants...)
}

func (r *Recorder) Activations() []EffectActivation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EffectActivation(nil), r.activations...)
}
