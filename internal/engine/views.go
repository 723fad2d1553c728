package engine

import (
	"context"
	"errors"

	"osrsbingo/internal/domain"
	"osrsbingo/internal/effects"
	"osrsbingo/internal/repo"
)

type BoardTileView struct {
	domain.BoardTile
	Tile     domain.Tile          `json:"tile"`
	Progress *domain.TileProgress `json:"progress,omitempty"`
}

type BoardView struct {
	Board domain.Board        `json:"board"`
	Team  domain.Team         `json:"team"`
	Tiles []BoardTileView     `json:"tiles"`
	Lines []domain.LineEffect `json:"line_effects,omitempty"`
}

// Board returns the team's board with every tile and its progress. The tile
// requirements serialize in public form; callers needing the admin form wrap
// them in requirement.AdminView.
func (e Engine) Board(ctx context.Context, teamID string) (BoardView, error) {
	team, err := e.Repo.GetTeam(ctx, teamID)
	if err != nil {
		return BoardView{}, wrapNotFound(err, "team", teamID)
	}
	board, err := e.Repo.BoardForTeam(ctx, team.ID)
	if err != nil {
		return BoardView{}, wrapNotFound(err, "board for team", team.ID)
	}
	bts, err := e.Repo.ListBoardTiles(ctx, board.ID)
	if err != nil {
		return BoardView{}, err
	}
	view := BoardView{Board: board, Team: team, Tiles: make([]BoardTileView, 0, len(bts))}
	tiles := map[string]domain.Tile{}
	for _, bt := range bts {
		tile, ok := tiles[bt.TileID]
		if !ok {
			tile, err = e.Repo.GetTile(ctx, bt.TileID)
			if err != nil {
				return BoardView{}, wrapNotFound(err, "tile", bt.TileID)
			}
			tiles[bt.TileID] = tile
		}
		tv := BoardTileView{BoardTile: bt, Tile: tile}
		p, err := e.Repo.GetProgress(ctx, bt.ID)
		switch {
		case err == nil:
			tv.Progress = &p
		case !errors.Is(err, repo.ErrNotFound):
			return BoardView{}, err
		}
		view.Tiles = append(view.Tiles, tv)
	}
	view.Lines, err = e.Repo.ListLineEffects(ctx, board.ID)
	if err != nil {
		return BoardView{}, err
	}
	return view, nil
}

func (e Engine) Leaderboard(ctx context.Context, competitionID string) ([]domain.LeaderboardEntry, error) {
	if _, err := e.Repo.GetCompetition(ctx, competitionID); err != nil {
		return nil, wrapNotFound(err, "competition", competitionID)
	}
	return e.Repo.Leaderboard(ctx, competitionID)
}

type GrantView struct {
	domain.EffectGrant
	Effect effects.Effect `json:"effect"`
}

func (e Engine) Grant(ctx context.Context, id string) (GrantView, error) {
	g, err := e.Repo.GetGrant(ctx, id)
	if err != nil {
		return GrantView{}, wrapNotFound(err, "grant", id)
	}
	team, err := e.Repo.GetTeam(ctx, g.TeamID)
	if err != nil {
		return GrantView{}, wrapNotFound(err, "team", g.TeamID)
	}
	eff, err := e.Repo.GetEffect(ctx, team.CompetitionID, g.EffectID)
	if err != nil {
		return GrantView{}, wrapNotFound(err, "effect", g.EffectID)
	}
	return GrantView{EffectGrant: g, Effect: eff}, nil
}

// TeamGrants lists the team's grants, oldest first, with their effects.
func (e Engine) TeamGrants(ctx context.Context, teamID string) ([]GrantView, error) {
	team, err := e.Repo.GetTeam(ctx, teamID)
	if err != nil {
		return nil, wrapNotFound(err, "team", teamID)
	}
	grants, err := e.Repo.ListGrants(ctx, repo.GrantFilters{TeamID: team.ID})
	if err != nil {
		return nil, err
	}
	out := make([]GrantView, 0, len(grants))
	for _, g := range grants {
		eff, err := e.Repo.GetEffect(ctx, team.CompetitionID, g.EffectID)
		if err != nil {
			return nil, wrapNotFound(err, "effect", g.EffectID)
		}
		out = append(out, GrantView{EffectGrant: g, Effect: eff})
	}
	return out, nil
}
