package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"osrsbingo/internal/config"
	"osrsbingo/internal/domain"
	"osrsbingo/internal/events"
	"osrsbingo/internal/notify"
	"osrsbingo/internal/repo"
	"osrsbingo/internal/requirement"
)

// TileOutcome is what one event did to one board tile.
type TileOutcome struct {
	BoardTileID   string  `json:"board_tile_id"`
	TileID        string  `json:"tile_id"`
	Position      int     `json:"position"`
	Duplicate     bool    `json:"duplicate,omitempty"`
	Changed       bool    `json:"changed"`
	ProgressValue float64 `json:"progress_value"`
	IsCompleted   bool    `json:"is_completed"`
	Newly         bool    `json:"newly_completed,omitempty"`
	NewTiers      []int   `json:"newly_completed_tiers,omitempty"`
	PointsAwarded int     `json:"points_awarded,omitempty"`
}

type ProcessResult struct {
	DedupKey string        `json:"dedup_key"`
	Tiles    []TileOutcome `json:"tiles"`
}

// Duplicate reports whether every addressed tile had already seen the event.
func (r ProcessResult) Duplicate() bool {
	if len(r.Tiles) == 0 {
		return false
	}
	for _, t := range r.Tiles {
		if !t.Duplicate {
			return false
		}
	}
	return true
}

type target struct {
	team  domain.Team
	board domain.Board
	bt    domain.BoardTile
	tile  domain.Tile
}

// ProcessEvent folds one gameplay event into every tile of the team's board
// that accepts it, or only into ev.BoardTileID when set. Each tile is its own
// atomic unit; redelivered events are reported as duplicates.
func (e Engine) ProcessEvent(ctx context.Context, ev domain.GameEvent) (ProcessResult, error) {
	kind, err := requirement.ParseKind(string(ev.Kind))
	if err != nil {
		return ProcessResult{}, e.drop(ev, invalid("%v", err))
	}
	payload, err := requirement.DecodePayload(kind, ev.Payload)
	if err != nil {
		return ProcessResult{}, e.drop(ev, invalid("%v", err))
	}
	if strings.TrimSpace(ev.TeamID) == "" {
		return ProcessResult{}, e.drop(ev, invalid("team_id is required"))
	}
	if ev.AccountID < 0 {
		return ProcessResult{}, e.drop(ev, invalid("osrs_account_id must not be negative"))
	}
	ev.Kind = kind
	if ev.DedupKey == "" {
		ev.DedupKey = contentKey(ev)
	}
	targets, err := e.targets(ctx, ev, payload)
	if err != nil {
		return ProcessResult{}, e.drop(ev, err)
	}
	res := ProcessResult{DedupKey: ev.DedupKey}
	var locked int
	for _, t := range targets {
		if t.bt.Meta.Locked && ev.BoardTileID == "" {
			locked++
			continue
		}
		out, err := e.applyTile(ctx, ev, payload, t)
		if err != nil {
			if errors.Is(err, errTileLocked) && ev.BoardTileID == "" {
				locked++
				continue
			}
			return res, e.drop(ev, err)
		}
		res.Tiles = append(res.Tiles, out)
	}
	if len(res.Tiles) == 0 && locked > 0 {
		return res, e.drop(ev, invalid("every matching tile is locked"))
	}
	return res, nil
}

// drop logs a rejected event and returns err.
func (e Engine) drop(ev domain.GameEvent, err error) error {
	fields := []zap.Field{zap.String("team_id", ev.TeamID), zap.String("dedup_key", ev.DedupKey), zap.String("kind", string(ev.Kind)), zap.Error(err)}
	var (
		ve ValidationError
		nf NotFoundError
		pf ProcessingFailedError
	)
	switch {
	case errors.As(err, &ve):
		e.log().Info("event dropped", fields...)
	case errors.As(err, &nf):
		e.log().Warn("event dropped", fields...)
	case errors.As(err, &pf):
		e.log().Error("event not applied", fields...)
	default:
		e.log().Error("event failed", fields...)
	}
	return err
}

// contentKey derives a stable dedup key from the event content.
func contentKey(ev domain.GameEvent) string {
	var payload bytes.Buffer
	if err := json.Compact(&payload, ev.Payload); err != nil {
		payload.Reset()
		payload.Write(ev.Payload)
	}
	parts := []string{string(ev.Kind), ev.TeamID, strconv.FormatInt(ev.AccountID, 10), ev.BoardTileID, ev.Timestamp, payload.String()}
	return "sha1:" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.Join(parts, "|"))).String()
}

// targets resolves the board tiles an event applies to.
func (e Engine) targets(ctx context.Context, ev domain.GameEvent, payload requirement.Payload) ([]target, error) {
	team, err := e.Repo.GetTeam(ctx, ev.TeamID)
	if err != nil {
		return nil, wrapNotFound(err, "team", ev.TeamID)
	}
	board, err := e.Repo.BoardForTeam(ctx, team.ID)
	if err != nil {
		return nil, wrapNotFound(err, "board for team", team.ID)
	}
	if ev.BoardTileID != "" {
		bt, err := e.Repo.GetBoardTile(ctx, ev.BoardTileID)
		if err != nil {
			return nil, wrapNotFound(err, "board tile", ev.BoardTileID)
		}
		if bt.BoardID != board.ID {
			return nil, invalid("board tile %s is not on the board of team %s", bt.ID, team.ID)
		}
		tile, err := e.Repo.GetTile(ctx, bt.TileID)
		if err != nil {
			return nil, wrapNotFound(err, "tile", bt.TileID)
		}
		if !requirement.Matches(tile.Requirements, payload) {
			return nil, invalid("%s event does not match any requirement of tile %s", ev.Kind, tile.Name)
		}
		return []target{{team: team, board: board, bt: bt, tile: tile}}, nil
	}
	bts, err := e.Repo.ListBoardTiles(ctx, board.ID)
	if err != nil {
		return nil, err
	}
	var out []target
	tiles := map[string]domain.Tile{}
	for _, bt := range bts {
		tile, ok := tiles[bt.TileID]
		if !ok {
			tile, err = e.Repo.GetTile(ctx, bt.TileID)
			if err != nil {
				return nil, wrapNotFound(err, "tile", bt.TileID)
			}
			tiles[bt.TileID] = tile
		}
		if requirement.Matches(tile.Requirements, payload) {
			out = append(out, target{team: team, board: board, bt: bt, tile: tile})
		}
	}
	if len(out) == 0 {
		return nil, invalid("no tile on the board of team %s accepts this %s event", team.ID, ev.Kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].bt.Position < out[j].bt.Position })
	return out, nil
}

func dedupCacheKey(dedupKey, boardTileID string) string { return dedupKey + "|" + boardTileID }

func (e Engine) applyTile(ctx context.Context, ev domain.GameEvent, payload requirement.Payload, t target) (TileOutcome, error) {
	base := TileOutcome{BoardTileID: t.bt.ID, TileID: t.tile.ID, Position: t.bt.Position}
	cacheKey := dedupCacheKey(ev.DedupKey, t.bt.ID)
	if _, ok := e.seen.Get(cacheKey); ok {
		base.Duplicate = true
		return base, nil
	}
	// Redeliveries that fell out of the cache are answered from the ledger
	// without taking locks.
	done, err := e.Repo.IsProcessed(ctx, ev.DedupKey, t.bt.ID)
	if err != nil {
		return base, err
	}
	if done {
		e.seen.Add(cacheKey, struct{}{})
		base.Duplicate = true
		return base, nil
	}

	defer e.teams.RLock(t.team.ID)()
	defer e.tiles.Lock(t.bt.ID)()

	fields := []zap.Field{zap.String("board_tile_id", t.bt.ID), zap.String("team_id", t.team.ID), zap.String("dedup_key", ev.DedupKey)}
	var (
		out TileOutcome
		ob  *outbox
	)
	err = e.retry(ctx, "process_event", fields, func() error {
		var err error
		out, ob, err = e.applyTileOnce(ctx, ev, payload, t)
		return err
	})
	if err != nil {
		return base, err
	}
	e.seen.Add(cacheKey, struct{}{})
	e.flush(ctx, ob)
	return out, nil
}

func (e Engine) applyTileOnce(ctx context.Context, ev domain.GameEvent, payload requirement.Payload, t target) (TileOutcome, *outbox, error) {
	out := TileOutcome{BoardTileID: t.bt.ID, TileID: t.tile.ID, Position: t.bt.Position}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return out, nil, err
	}
	defer tx.Rollback()

	now := e.stamp()
	fresh, err := e.Repo.MarkProcessedTx(ctx, tx, ev.DedupKey, t.bt.ID, now)
	if err != nil {
		return out, nil, err
	}
	if !fresh {
		out.Duplicate = true
		return out, nil, nil
	}
	bt, err := e.Repo.GetBoardTileTx(ctx, tx, t.bt.ID)
	if err != nil {
		return out, nil, wrapNotFound(err, "board tile", t.bt.ID)
	}
	if bt.Meta.Locked {
		return out, nil, ValidationError{Reason: fmt.Sprintf("board tile %s is locked", bt.ID), cause: errTileLocked}
	}
	wasCompleted := bt.IsCompleted
	prev, err := e.Repo.GetProgressTx(ctx, tx, bt.ID)
	if errors.Is(err, repo.ErrNotFound) {
		prev = domain.TileProgress{BoardTileID: bt.ID}
	} else if err != nil {
		return out, nil, err
	}

	set := t.tile.Requirements
	u := requirement.Apply(set, prev.Progress, requirement.Event{AccountID: ev.AccountID, Payload: payload})
	if !u.Matched {
		return out, nil, invalid("%s event does not match tile %s", ev.Kind, t.tile.Name)
	}
	c := requirement.Evaluate(set, t.tile.Points, wasCompleted, u, e.tierAward())

	next := prev
	next.Progress = u.Progress
	next.Progress.AwardedPoints += c.PointsAwarded
	next.Value = u.Progress.Value
	next.UpdatedAt = now
	if c.Newly {
		ctype := domain.CompletionAuto
		next.CompletionType = &ctype
		next.CompletedAt = &now
		next.CompletedBy = e.attribute(u.Progress, ev.AccountID)
	}
	if _, err := e.Repo.SaveProgressTx(ctx, tx, next); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return out, nil, ErrConflict
		}
		return out, nil, err
	}

	ob := &outbox{}
	w := e.events()
	compID := t.team.CompetitionID
	actor := accountActor(ev.AccountID)
	if c.PointsAwarded != 0 {
		score, err := e.Repo.AddScoreTx(ctx, tx, t.team.ID, c.PointsAwarded)
		if err != nil {
			return out, nil, wrapNotFound(err, "team", t.team.ID)
		}
		if err := w.Append(ctx, tx, events.ScoreChanged, compID, "team", t.team.ID, actor, events.EventPayload{
			"delta": c.PointsAwarded, "score": score, "reason": "tile", "board_tile_id": bt.ID,
		}); err != nil {
			return out, nil, err
		}
	}
	if c.Newly {
		flipped, err := e.Repo.MarkBoardTileCompletedTx(ctx, tx, bt.ID, now)
		if err != nil {
			return out, nil, err
		}
		if !flipped {
			return out, nil, ErrConflict
		}
		bt.IsCompleted = true
		if err := w.Append(ctx, tx, events.TileCompleted, compID, "board_tile", bt.ID, actor, events.EventPayload{
			"tile_id": t.tile.ID, "points": c.PointsAwarded, "completed_by": next.CompletedBy, "tiers": u.Progress.CompletedTiers,
		}); err != nil {
			return out, nil, err
		}
		if err := e.cascade(ctx, tx, ob, t.team, t.board, bt); err != nil {
			return out, nil, err
		}
	} else if u.Changed || c.PointsAwarded != 0 {
		if err := w.Append(ctx, tx, events.TileProgressed, compID, "board_tile", bt.ID, actor, events.EventPayload{
			"value": next.Value, "new_tiers": u.NewTiers, "points": c.PointsAwarded, "dedup_key": ev.DedupKey,
		}); err != nil {
			return out, nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return out, nil, err
	}

	out.Changed = u.Changed
	out.ProgressValue = next.Value
	out.IsCompleted = c.IsCompleted
	out.Newly = c.Newly
	out.NewTiers = u.NewTiers
	out.PointsAwarded = c.PointsAwarded
	if (!wasCompleted && u.Changed) || c.PointsAwarded != 0 {
		ob.progress = append([]notify.TileProgress{{
			TeamID:        t.team.ID,
			TeamName:      t.team.Name,
			TileID:        t.tile.ID,
			TileName:      t.tile.Name,
			BoardTileID:   bt.ID,
			Position:      bt.Position,
			Summary:       requirement.Summary(set, next.Progress),
			IsCompleted:   c.IsCompleted,
			NewTiers:      u.NewTiers,
			PointsAwarded: c.PointsAwarded,
		}}, ob.progress...)
	}
	return out, ob, nil
}

// attribute picks completedByOsrsAccountId under the configured policy.
func (e Engine) attribute(p requirement.Progress, account int64) *int64 {
	if e.Config != nil && e.Config.Engine.Attribution == config.AttributionSoleContributor {
		if len(p.Contributors) != 1 {
			return nil
		}
		id := p.Contributors[0]
		return &id
	}
	if account == 0 {
		return nil
	}
	return &account
}

func accountActor(account int64) string {
	if account == 0 {
		return actorSystem
	}
	return fmt.Sprintf("osrs:%d", account)
}

// ForceCompleteTile closes a board tile without evaluating its requirements.
// Completing an already complete tile changes nothing.
func (e Engine) ForceCompleteTile(ctx context.Context, boardTileID, actorID string) (TileOutcome, error) {
	if actorID == "" {
		actorID = actorSystem
	}
	bt, err := e.Repo.GetBoardTile(ctx, boardTileID)
	if err != nil {
		return TileOutcome{}, wrapNotFound(err, "board tile", boardTileID)
	}
	board, err := e.Repo.GetBoard(ctx, bt.BoardID)
	if err != nil {
		return TileOutcome{}, wrapNotFound(err, "board", bt.BoardID)
	}
	team, err := e.Repo.GetTeam(ctx, board.TeamID)
	if err != nil {
		return TileOutcome{}, wrapNotFound(err, "team", board.TeamID)
	}
	tile, err := e.Repo.GetTile(ctx, bt.TileID)
	if err != nil {
		return TileOutcome{}, wrapNotFound(err, "tile", bt.TileID)
	}

	defer e.teams.RLock(team.ID)()
	defer e.tiles.Lock(bt.ID)()

	var (
		out TileOutcome
		ob  *outbox
	)
	fields := []zap.Field{zap.String("board_tile_id", bt.ID), zap.String("team_id", team.ID)}
	err = e.retry(ctx, "force_complete", fields, func() error {
		var err error
		out, ob, err = e.forceOnce(ctx, target{team: team, board: board, bt: bt, tile: tile}, actorID)
		return err
	})
	if err != nil {
		return TileOutcome{}, err
	}
	e.flush(ctx, ob)
	return out, nil
}

func (e Engine) forceOnce(ctx context.Context, t target, actorID string) (TileOutcome, *outbox, error) {
	out := TileOutcome{BoardTileID: t.bt.ID, TileID: t.tile.ID, Position: t.bt.Position}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return out, nil, err
	}
	defer tx.Rollback()

	bt, err := e.Repo.GetBoardTileTx(ctx, tx, t.bt.ID)
	if err != nil {
		return out, nil, wrapNotFound(err, "board tile", t.bt.ID)
	}
	if bt.IsCompleted {
		out.IsCompleted = true
		return out, nil, nil
	}
	prev, err := e.Repo.GetProgressTx(ctx, tx, bt.ID)
	if errors.Is(err, repo.ErrNotFound) {
		prev = domain.TileProgress{BoardTileID: bt.ID}
	} else if err != nil {
		return out, nil, err
	}
	now := e.stamp()
	points := requirement.ForcedPoints(t.tile.Requirements, t.tile.Points)
	next := prev
	ctype := domain.CompletionManualAdmin
	next.CompletionType = &ctype
	next.CompletedAt = &now
	next.CompletedBy = nil
	next.UpdatedAt = now
	next.Progress.AwardedPoints += points
	if _, err := e.Repo.SaveProgressTx(ctx, tx, next); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return out, nil, ErrConflict
		}
		return out, nil, err
	}
	flipped, err := e.Repo.MarkBoardTileCompletedTx(ctx, tx, bt.ID, now)
	if err != nil {
		return out, nil, err
	}
	if !flipped {
		return out, nil, ErrConflict
	}
	bt.IsCompleted = true
	w := e.events()
	compID := t.team.CompetitionID
	if points != 0 {
		score, err := e.Repo.AddScoreTx(ctx, tx, t.team.ID, points)
		if err != nil {
			return out, nil, wrapNotFound(err, "team", t.team.ID)
		}
		if err := w.Append(ctx, tx, events.ScoreChanged, compID, "team", t.team.ID, actorID, events.EventPayload{
			"delta": points, "score": score, "reason": "tile_forced", "board_tile_id": bt.ID,
		}); err != nil {
			return out, nil, err
		}
	}
	if err := w.Append(ctx, tx, events.TileForced, compID, "board_tile", bt.ID, actorID, events.EventPayload{
		"tile_id": t.tile.ID, "points": points,
	}); err != nil {
		return out, nil, err
	}
	ob := &outbox{}
	if err := e.cascade(ctx, tx, ob, t.team, t.board, bt); err != nil {
		return out, nil, err
	}
	if err := tx.Commit(); err != nil {
		return out, nil, err
	}
	out.Changed = true
	out.ProgressValue = next.Value
	out.IsCompleted = true
	out.Newly = true
	out.PointsAwarded = points
	ob.progress = append([]notify.TileProgress{{
		TeamID:        t.team.ID,
		TeamName:      t.team.Name,
		TileID:        t.tile.ID,
		TileName:      t.tile.Name,
		BoardTileID:   bt.ID,
		Position:      bt.Position,
		Summary:       "completed by an administrator",
		IsCompleted:   true,
		PointsAwarded: points,
	}}, ob.progress...)
	return out, ob, nil
}
