package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"osrsbingo/internal/domain"
	"osrsbingo/internal/effects"
	"osrsbingo/internal/events"
	"osrsbingo/internal/repo"
	"osrsbingo/internal/requirement"
)

// Definition is a competition as authored in YAML.
type Definition struct {
	ID      string           `yaml:"id"`
	Name    string           `yaml:"name"`
	Rows    int              `yaml:"rows"`
	Cols    int              `yaml:"cols"`
	Teams   []TeamDef        `yaml:"teams"`
	Effects []effects.Effect `yaml:"effects"`
	Tiles   []TileDef        `yaml:"tiles"`
	// Layout lists tile ids by board position. It defaults to Tiles in order.
	Layout []string `yaml:"layout"`
	Lines  LinesDef `yaml:"lines"`
}

type TeamDef struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type TileDef struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Points      int    `yaml:"points"`
	// Effect is granted to a team when it completes this tile.
	Effect       string          `yaml:"effect"`
	Requirements yaml.Node       `yaml:"requirements"`
	Set          requirement.Set `yaml:"-"`
}

// LinesDef binds effects to rows and columns by zero based index.
type LinesDef struct {
	Rows    map[int]string `yaml:"rows"`
	Columns map[int]string `yaml:"columns"`
}

var ErrInvalidDefinition = errors.New("invalid competition definition")

func invalidDef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDefinition, fmt.Sprintf(format, args...))
}

// ParseDefinition decodes and validates a competition definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, invalidDef("%v", err)
	}
	for i := range def.Tiles {
		t := &def.Tiles[i]
		if t.Requirements.IsZero() {
			return nil, invalidDef("tile %s has no requirements", t.ID)
		}
		var raw any
		if err := t.Requirements.Decode(&raw); err != nil {
			return nil, invalidDef("tile %s: %v", t.ID, err)
		}
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, invalidDef("tile %s: %v", t.ID, err)
		}
		set, err := requirement.Decode(data)
		if err != nil {
			return nil, invalidDef("tile %s: %v", t.ID, err)
		}
		t.Set = set
	}
	if len(def.Layout) == 0 {
		for _, t := range def.Tiles {
			def.Layout = append(def.Layout, t.ID)
		}
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadDefinition reads a definition file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDefinition(data)
}

func (d *Definition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return invalidDef("id is required")
	}
	if d.Rows <= 0 || d.Cols <= 0 {
		return invalidDef("rows and cols must be positive")
	}
	if len(d.Teams) == 0 {
		return invalidDef("at least one team is required")
	}
	teams := map[string]bool{}
	for _, t := range d.Teams {
		if t.ID == "" || t.Name == "" {
			return invalidDef("team id and name are required")
		}
		if teams[t.ID] {
			return invalidDef("duplicate team %s", t.ID)
		}
		teams[t.ID] = true
	}
	effs := map[string]bool{}
	for _, e := range d.Effects {
		if err := e.Validate(); err != nil {
			return invalidDef("%v", err)
		}
		if effs[e.ID] {
			return invalidDef("duplicate effect %s", e.ID)
		}
		effs[e.ID] = true
	}
	tiles := map[string]bool{}
	for _, t := range d.Tiles {
		if t.ID == "" || t.Name == "" {
			return invalidDef("tile id and name are required")
		}
		if tiles[t.ID] {
			return invalidDef("duplicate tile %s", t.ID)
		}
		if t.Points < 0 {
			return invalidDef("tile %s has negative points", t.ID)
		}
		if t.Effect != "" && !effs[t.Effect] {
			return invalidDef("tile %s references unknown effect %s", t.ID, t.Effect)
		}
		tiles[t.ID] = true
	}
	if len(d.Layout) != d.Rows*d.Cols {
		return invalidDef("layout has %d tiles, board needs %d", len(d.Layout), d.Rows*d.Cols)
	}
	for i, id := range d.Layout {
		if !tiles[id] {
			return invalidDef("layout position %d references unknown tile %s", i, id)
		}
	}
	check := func(kind string, lines map[int]string, limit int) error {
		for idx, eff := range lines {
			if idx < 0 || idx >= limit {
				return invalidDef("%s %d is outside the board", kind, idx)
			}
			if !effs[eff] {
				return invalidDef("%s %d references unknown effect %s", kind, idx, eff)
			}
		}
		return nil
	}
	if err := check("row", d.Lines.Rows, d.Rows); err != nil {
		return err
	}
	return check("column", d.Lines.Columns, d.Cols)
}

// Import writes the competition and generates one board per team. Everything
// lands in one transaction.
func Import(ctx context.Context, r repo.Repo, w events.Writer, def *Definition, actorID string) (domain.Competition, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	stamp := now().UTC().Format(time.RFC3339)
	comp := domain.Competition{ID: def.ID, Name: def.Name, Rows: def.Rows, Cols: def.Cols, CreatedAt: stamp}
	if comp.Name == "" {
		comp.Name = def.ID
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return comp, err
	}
	defer tx.Rollback()

	if err := r.InsertCompetitionTx(ctx, tx, comp); err != nil {
		return comp, fmt.Errorf("insert competition: %w", err)
	}
	for _, e := range def.Effects {
		if err := r.InsertEffectTx(ctx, tx, comp.ID, e); err != nil {
			return comp, fmt.Errorf("insert effect %s: %w", e.ID, err)
		}
	}
	tileEffects := map[string]string{}
	for _, t := range def.Tiles {
		tile := domain.Tile{ID: t.ID, CompetitionID: comp.ID, Name: t.Name, Description: t.Description, Points: t.Points, Requirements: t.Set}
		if err := r.InsertTileTx(ctx, tx, tile); err != nil {
			return comp, fmt.Errorf("insert tile %s: %w", t.ID, err)
		}
		if t.Effect != "" {
			tileEffects[t.ID] = t.Effect
		}
	}
	for _, td := range def.Teams {
		team := domain.Team{ID: td.ID, CompetitionID: comp.ID, Name: td.Name, CreatedAt: stamp}
		if err := r.InsertTeamTx(ctx, tx, team); err != nil {
			return comp, fmt.Errorf("insert team %s: %w", td.ID, err)
		}
		if err := generateBoard(ctx, r, tx, def, team, tileEffects, stamp); err != nil {
			return comp, fmt.Errorf("board for team %s: %w", td.ID, err)
		}
	}
	if err := w.Append(ctx, tx, events.CompetitionMade, comp.ID, "competition", comp.ID, actorID, events.EventPayload{
		"teams": len(def.Teams), "tiles": len(def.Tiles), "effects": len(def.Effects),
	}); err != nil {
		return comp, err
	}
	return comp, tx.Commit()
}

func generateBoard(ctx context.Context, r repo.Repo, tx *sql.Tx, def *Definition, team domain.Team, tileEffects map[string]string, stamp string) error {
	board := domain.Board{ID: uuid.NewString(), CompetitionID: team.CompetitionID, TeamID: team.ID, Rows: def.Rows, Cols: def.Cols, CreatedAt: stamp}
	if err := r.InsertBoardTx(ctx, tx, board); err != nil {
		return err
	}
	for pos, tileID := range def.Layout {
		bt := domain.BoardTile{ID: uuid.NewString(), BoardID: board.ID, TileID: tileID, Position: pos}
		if eff, ok := tileEffects[tileID]; ok {
			eff := eff
			bt.EffectID = &eff
		}
		if err := r.InsertBoardTileTx(ctx, tx, bt); err != nil {
			return err
		}
	}
	lines := []struct {
		kind string
		m    map[int]string
	}{{"row", def.Lines.Rows}, {"column", def.Lines.Columns}}
	for _, l := range lines {
		idx := make([]int, 0, len(l.m))
		for i := range l.m {
			idx = append(idx, i)
		}
		sort.Ints(idx)
		for _, i := range idx {
			le := domain.LineEffect{BoardID: board.ID, LineType: l.kind, Index: i, EffectID: l.m[i]}
			if err := r.InsertLineEffectTx(ctx, tx, le); err != nil {
				return err
			}
		}
	}
	return nil
}
