package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osrsbingo/internal/db"
	"osrsbingo/internal/events"
	"osrsbingo/internal/migrate"
	"osrsbingo/internal/repo"
	"osrsbingo/internal/requirement"
)

func TestLoadDefinition(t *testing.T) {
	def, err := LoadDefinition(filepath.Join("testdata", "competition.yml"))
	require.NoError(t, err)

	assert.Equal(t, "summer", def.ID)
	require.Len(t, def.Tiles, 4)
	assert.Equal(t, requirement.MatchAny, def.Tiles[0].Set.MatchType)
	puzzle, ok := def.Tiles[0].Set.Requirements[1].(requirement.Puzzle)
	require.True(t, ok)
	assert.Equal(t, requirement.Pet{PetName: "Olmlet", Amount: 1}, puzzle.Hidden)
	assert.True(t, def.Tiles[3].Set.Tiered())
	assert.Equal(t, 48*time.Hour, def.Effects[1].Duration)
}

func TestDefinitionValidation(t *testing.T) {
	cases := map[string]func(d *Definition){
		"short layout":   func(d *Definition) { d.Layout = d.Layout[:1] },
		"unknown tile":   func(d *Definition) { d.Layout[0] = "nope" },
		"unknown effect": func(d *Definition) { d.Lines.Rows[0] = "nope" },
		"row outside":    func(d *Definition) { d.Lines.Rows[5] = "bonus" },
		"no teams":       func(d *Definition) { d.Teams = nil },
		"bad effect":     func(d *Definition) { d.Effects[0].Trigger = "reactive" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			def, err := LoadDefinition(filepath.Join("testdata", "competition.yml"))
			require.NoError(t, err)
			mutate(def)
			err = def.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidDefinition), "got %v", err)
		})
	}

	_, err := ParseDefinition([]byte("id: x\nrows: 1\ncols: 1\nteams: [{id: a, name: A}]\ntiles: [{id: t, name: T}]\n"))
	assert.True(t, errors.Is(err, ErrInvalidDefinition), "tile without requirements: %v", err)
}

func TestImportGeneratesBoards(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	def, err := LoadDefinition(filepath.Join("testdata", "competition.yml"))
	require.NoError(t, err)
	r := repo.Repo{DB: conn}
	comp, err := Import(ctx, r, events.Writer{}, def, "tester")
	require.NoError(t, err)
	assert.Equal(t, "Summer Bingo", comp.Name)

	for _, team := range []string{"iron", "main"} {
		board, err := r.BoardForTeam(ctx, team)
		require.NoError(t, err)
		assert.Equal(t, 2, board.Rows)
		tiles, err := r.ListBoardTiles(ctx, board.ID)
		require.NoError(t, err)
		require.Len(t, tiles, 4)
		assert.Equal(t, "tbow", tiles[0].TileID)
		require.NotNil(t, tiles[0].EffectID)
		assert.Equal(t, "shield", *tiles[0].EffectID)
		assert.Nil(t, tiles[1].EffectID)

		lines, err := r.ListLineEffects(ctx, board.ID)
		require.NoError(t, err)
		assert.Len(t, lines, 3)
	}

	defs, err := r.ListEffects(ctx, comp.ID)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "bonus", defs[0].ID)
	assert.Equal(t, 48*time.Hour, defs[1].Duration)

	stored, err := r.GetTile(ctx, "tbow")
	require.NoError(t, err)
	puzzle := stored.Requirements.Requirements[1].(requirement.Puzzle)
	assert.NotNil(t, puzzle.Hidden, "stored form keeps the hidden requirement")

	got, err := ResolveCompetition(ctx, r, "")
	require.NoError(t, err)
	assert.Equal(t, "summer", got.ID)

	_, err = Import(ctx, r, events.Writer{}, def, "tester")
	assert.Error(t, err, "importing twice must fail")
}
