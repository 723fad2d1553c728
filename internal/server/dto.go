package server

import (
	"encoding/json"

	"osrsbingo/internal/domain"
	"osrsbingo/internal/engine"
	"osrsbingo/internal/requirement"
)

// Request payloads

type GameEventRequest struct {
	Kind          string         `json:"kind" enum:"ITEM_DROP,PET,VALUE_DROP,SPEEDRUN,EXPERIENCE,BA_GAMBLES,PUZZLE"`
	Timestamp     string         `json:"timestamp,omitempty"`
	OsrsAccountID int64          `json:"osrs_account_id,omitempty"`
	TeamID        string         `json:"team_id"`
	DedupKey      string         `json:"dedup_key,omitempty"`
	BoardTileID   string         `json:"board_tile_id,omitempty"`
	Payload       map[string]any `json:"payload"`
}

type ActivateGrantRequest struct {
	// ActingTeamID defaults to the team of the token.
	ActingTeamID   string `json:"acting_team_id,omitempty"`
	TargetTeamID   string `json:"target_team_id,omitempty"`
	TargetPosition *int   `json:"target_position,omitempty"`
}

type AdminGrantRequest struct {
	EffectID string `json:"effect_id"`
	Ref      string `json:"ref,omitempty"`
}

type IncomingRequest struct {
	EffectID       string `json:"effect_id"`
	SourceTeamID   string `json:"source_team_id"`
	TargetTeamID   string `json:"target_team_id"`
	TargetPosition *int   `json:"target_position,omitempty"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
	TeamID  string   `json:"team_id,omitempty"`
}

// Response payloads

type ProcessEventResponse struct {
	DedupKey  string               `json:"dedup_key"`
	Duplicate bool                 `json:"duplicate"`
	Tiles     []engine.TileOutcome `json:"tiles"`
}

type TileResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Points      int    `json:"points"`
	// Requirements is the public projection unless the caller is an admin.
	Requirements json.RawMessage `json:"requirements"`
}

type ProgressResponse struct {
	Value          float64 `json:"progress_value"`
	Summary        string  `json:"summary"`
	CompletedTiers []int   `json:"completed_tiers"`
	CompletionType *string `json:"completion_type,omitempty"`
	CompletedAt    *string `json:"completed_at,omitempty" format:"date-time"`
	CompletedBy    *int64  `json:"completed_by_osrs_account_id,omitempty"`
	Contributors   []int64 `json:"contributors"`
	// Raw is the full aggregate, shown to admins only.
	Raw *requirement.Progress `json:"raw,omitempty"`
}

type BoardTileResponse struct {
	ID          string            `json:"id"`
	Position    int               `json:"position"`
	Row         int               `json:"row"`
	Col         int               `json:"col"`
	IsCompleted bool              `json:"is_completed"`
	CompletedAt *string           `json:"completed_at,omitempty" format:"date-time"`
	Locked      bool              `json:"locked"`
	EffectID    *string           `json:"effect_id,omitempty"`
	Tile        TileResponse      `json:"tile"`
	Progress    *ProgressResponse `json:"progress,omitempty"`
}

type BoardResponse struct {
	BoardID  string              `json:"board_id"`
	TeamID   string              `json:"team_id"`
	TeamName string              `json:"team_name"`
	Score    int                 `json:"score"`
	Rows     int                 `json:"rows"`
	Cols     int                 `json:"cols"`
	Tiles    []BoardTileResponse `json:"tiles"`
	Lines    []domain.LineEffect `json:"line_effects"`
}

type EventResponse struct {
	ID            int64          `json:"id"`
	TS            string         `json:"ts" format:"date-time"`
	Type          string         `json:"type"`
	CompetitionID string         `json:"competition_id,omitempty"`
	EntityKind    string         `json:"entity_kind"`
	EntityID      string         `json:"entity_id,omitempty"`
	ActorID       string         `json:"actor_id"`
	Payload       map[string]any `json:"payload"`
}

type WhoAmIResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	TeamID  string   `json:"team_id,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type SweepResponse struct {
	Expired int `json:"expired"`
}

// Conversion helpers

func tileResponse(t domain.Tile, admin bool) (TileResponse, error) {
	var (
		raw []byte
		err error
	)
	if admin {
		raw, err = json.Marshal(requirement.AdminView{Set: t.Requirements})
	} else {
		raw, err = json.Marshal(t.Requirements)
	}
	if err != nil {
		return TileResponse{}, err
	}
	return TileResponse{ID: t.ID, Name: t.Name, Description: t.Description, Points: t.Points, Requirements: raw}, nil
}

func progressResponse(set requirement.Set, p domain.TileProgress, admin bool) *ProgressResponse {
	out := &ProgressResponse{
		Value:          p.Value,
		Summary:        requirement.Summary(set, p.Progress),
		CompletedTiers: nonNilSlice(p.Progress.CompletedTiers),
		CompletionType: p.CompletionType,
		CompletedAt:    p.CompletedAt,
		CompletedBy:    p.CompletedBy,
		Contributors:   nonNilSlice(p.Progress.Contributors),
	}
	if admin {
		raw := p.Progress
		out.Raw = &raw
	} else if hasPuzzle(set) {
		// a puzzle's progress value would hint at its hidden requirement
		out.Value = 0
	}
	return out
}

func hasPuzzle(set requirement.Set) bool {
	for _, r := range set.Requirements {
		if r.Kind() == requirement.KindPuzzle {
			return true
		}
	}
	return false
}

func boardResponse(v engine.BoardView, admin bool) (BoardResponse, error) {
	out := BoardResponse{
		BoardID:  v.Board.ID,
		TeamID:   v.Team.ID,
		TeamName: v.Team.Name,
		Score:    v.Team.Score,
		Rows:     v.Board.Rows,
		Cols:     v.Board.Cols,
		Tiles:    make([]BoardTileResponse, 0, len(v.Tiles)),
		Lines:    nonNilSlice(v.Lines),
	}
	for _, tv := range v.Tiles {
		tile, err := tileResponse(tv.Tile, admin)
		if err != nil {
			return BoardResponse{}, err
		}
		bt := BoardTileResponse{
			ID:          tv.ID,
			Position:    tv.Position,
			Row:         v.Board.Row(tv.Position),
			Col:         v.Board.Col(tv.Position),
			IsCompleted: tv.IsCompleted,
			CompletedAt: tv.CompletedAt,
			Locked:      tv.Meta.Locked,
			EffectID:    tv.EffectID,
			Tile:        tile,
		}
		if tv.Progress != nil {
			bt.Progress = progressResponse(tv.Tile.Requirements, *tv.Progress, admin)
		}
		out.Tiles = append(out.Tiles, bt)
	}
	return out, nil
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:            e.ID,
		TS:            e.TS,
		Type:          e.Type,
		CompetitionID: e.CompetitionID,
		EntityKind:    e.EntityKind,
		EntityID:      e.EntityID,
		ActorID:       e.ActorID,
		Payload:       decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"raw": raw}
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
