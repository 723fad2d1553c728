package domain

import (
	"encoding/json"

	"osrsbingo/internal/effects"
	"osrsbingo/internal/requirement"
)

type Competition struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Rows      int    `json:"rows"`
	Cols      int    `json:"cols"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Team struct {
	ID            string `json:"id"`
	CompetitionID string `json:"competition_id"`
	Name          string `json:"name"`
	Score         int    `json:"score"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

// Tile is the shared definition of a challenge. Requirements hold the full
// set; its JSON encoding is the public projection.
type Tile struct {
	ID            string          `json:"id"`
	CompetitionID string          `json:"competition_id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Points        int             `json:"points"`
	Requirements  requirement.Set `json:"requirements"`
}

type Board struct {
	ID            string `json:"id"`
	CompetitionID string `json:"competition_id"`
	TeamID        string `json:"team_id"`
	Rows          int    `json:"rows"`
	Cols          int    `json:"cols"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

// Row and Col locate a board position.
func (b Board) Row(position int) int { return position / b.Cols }
func (b Board) Col(position int) int { return position % b.Cols }

// BoardTileMeta is the mutable board manipulation state of a tile instance.
type BoardTileMeta struct {
	Locked   bool   `json:"locked,omitempty"`
	LockedBy string `json:"locked_by,omitempty"`
}

type BoardTile struct {
	ID          string        `json:"id"`
	BoardID     string        `json:"board_id"`
	TileID      string        `json:"tile_id"`
	Position    int           `json:"position"`
	IsCompleted bool          `json:"is_completed"`
	CompletedAt *string       `json:"completed_at,omitempty" format:"date-time"`
	Meta        BoardTileMeta `json:"metadata"`
	// EffectID is granted to the team when this tile completes.
	EffectID *string `json:"effect_id,omitempty"`
}

const (
	CompletionAuto        = "auto"
	CompletionManualAdmin = "manual_admin"
)

// TileProgress is the team scoped aggregate for one board tile. Version
// guards compare-and-swap writes.
type TileProgress struct {
	BoardTileID    string               `json:"board_tile_id"`
	Value          float64              `json:"progress_value"`
	Progress       requirement.Progress `json:"progress"`
	CompletionType *string              `json:"completion_type,omitempty"`
	CompletedAt    *string              `json:"completed_at,omitempty" format:"date-time"`
	CompletedBy    *int64               `json:"completed_by_osrs_account_id,omitempty"`
	Version        int64                `json:"version"`
	UpdatedAt      string               `json:"updated_at" format:"date-time"`
}

type EffectGrant struct {
	ID         string          `json:"id"`
	TeamID     string          `json:"team_id"`
	EffectID   string          `json:"effect_id"`
	ScopeKey   string          `json:"scope_key"`
	Source     effects.Source  `json:"source"`
	Trigger    effects.Trigger `json:"trigger"`
	State      effects.State   `json:"state" enum:"idle,activated,blocked,reflected,expired"`
	GrantedAt  string          `json:"granted_at" format:"date-time"`
	ExpiresAt  *string         `json:"expires_at,omitempty" format:"date-time"`
	ResolvedAt *string         `json:"resolved_at,omitempty" format:"date-time"`
	ResultJSON *string         `json:"result_json,omitempty"`
}

// LineEffect binds an effect to a row or column of one board.
type LineEffect struct {
	BoardID  string `json:"board_id"`
	LineType string `json:"line_type" enum:"row,column"`
	Index    int    `json:"line_index"`
	EffectID string `json:"effect_id"`
}

// GameEvent is one gameplay observation submitted for a team.
type GameEvent struct {
	Kind        requirement.Kind `json:"kind"`
	Timestamp   string           `json:"timestamp,omitempty" format:"date-time"`
	AccountID   int64            `json:"osrs_account_id"`
	TeamID      string           `json:"team_id"`
	DedupKey    string           `json:"dedup_key,omitempty"`
	BoardTileID string           `json:"board_tile_id,omitempty"`
	Payload     json.RawMessage  `json:"payload"`
}

type LeaderboardEntry struct {
	Rank      int    `json:"rank"`
	TeamID    string `json:"team_id"`
	TeamName  string `json:"team_name"`
	Score     int    `json:"score"`
	Completed int    `json:"completed_tiles"`
}

type Event struct {
	ID            int64  `json:"id"`
	TS            string `json:"ts" format:"date-time"`
	Type          string `json:"type"`
	CompetitionID string `json:"competition_id,omitempty"`
	EntityKind    string `json:"entity_kind"`
	EntityID      string `json:"entity_id,omitempty"`
	ActorID       string `json:"actor_id"`
	Payload       string `json:"payload_json"`
}
