package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"osrsbingo/internal/domain"
	"osrsbingo/internal/effects"
	"osrsbingo/internal/requirement"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrStale is returned when a guarded write finds the row changed since it
	// was read.
	ErrStale = errors.New("stale write")
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Competitions

func (r Repo) InsertCompetitionTx(ctx context.Context, tx *sql.Tx, c domain.Competition) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO competitions(id,name,row_count,col_count,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.Name, c.Rows, c.Cols, c.CreatedAt)
	return err
}

func (r Repo) GetCompetition(ctx context.Context, id string) (domain.Competition, error) {
	var c domain.Competition
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,row_count,col_count,created_at FROM competitions WHERE id=?`, id).
		Scan(&c.ID, &c.Name, &c.Rows, &c.Cols, &c.CreatedAt)
	return c, notFound(err)
}

func (r Repo) ListCompetitions(ctx context.Context) ([]domain.Competition, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,row_count,col_count,created_at FROM competitions ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Competition
	for rows.Next() {
		var c domain.Competition
		if err := rows.Scan(&c.ID, &c.Name, &c.Rows, &c.Cols, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// Teams

func (r Repo) InsertTeamTx(ctx context.Context, tx *sql.Tx, t domain.Team) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO teams(id,competition_id,name,score,created_at) VALUES (?,?,?,?,?)`,
		t.ID, t.CompetitionID, t.Name, t.Score, t.CreatedAt)
	return err
}

func getTeam(ctx context.Context, q Querier, id string) (domain.Team, error) {
	var t domain.Team
	err := q.QueryRowContext(ctx, `SELECT id,competition_id,name,score,created_at FROM teams WHERE id=?`, id).
		Scan(&t.ID, &t.CompetitionID, &t.Name, &t.Score, &t.CreatedAt)
	return t, notFound(err)
}

func (r Repo) GetTeam(ctx context.Context, id string) (domain.Team, error) {
	return getTeam(ctx, r.DB, id)
}

func (r Repo) GetTeamTx(ctx context.Context, tx *sql.Tx, id string) (domain.Team, error) {
	return getTeam(ctx, tx, id)
}

// AddScoreTx changes a team score atomically and returns the new score.
func (r Repo) AddScoreTx(ctx context.Context, tx *sql.Tx, teamID string, delta int) (int, error) {
	var score int
	err := tx.QueryRowContext(ctx, `UPDATE teams SET score=score+? WHERE id=? RETURNING score`, delta, teamID).Scan(&score)
	return score, notFound(err)
}

// Leaderboard ranks the teams of a competition by score. Equal scores share a
// rank.
func (r Repo) Leaderboard(ctx context.Context, competitionID string) ([]domain.LeaderboardEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT t.id, t.name, t.score,
  (SELECT count(*) FROM boards b JOIN board_tiles bt ON bt.board_id=b.id WHERE b.team_id=t.id AND bt.is_completed=1) AS completed
FROM teams t WHERE t.competition_id=? ORDER BY t.score DESC, completed DESC, t.name`, competitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.TeamID, &e.TeamName, &e.Score, &e.Completed); err != nil {
			return nil, err
		}
		e.Rank = len(res) + 1
		if n := len(res); n > 0 && res[n-1].Score == e.Score {
			e.Rank = res[n-1].Rank
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// Tiles and effects

func (r Repo) InsertTileTx(ctx context.Context, tx *sql.Tx, t domain.Tile) error {
	reqJSON, err := requirement.EncodeAdmin(t.Requirements)
	if err != nil {
		return fmt.Errorf("encode requirements of tile %s: %w", t.ID, err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO tiles(id,competition_id,name,description,points,requirement_json) VALUES (?,?,?,?,?,?)`,
		t.ID, t.CompetitionID, t.Name, nullable(t.Description), t.Points, string(reqJSON))
	return err
}

func getTile(ctx context.Context, q Querier, id string) (domain.Tile, error) {
	var (
		t       domain.Tile
		reqJSON string
	)
	err := q.QueryRowContext(ctx, `SELECT id,competition_id,name,COALESCE(description,''),points,requirement_json FROM tiles WHERE id=?`, id).
		Scan(&t.ID, &t.CompetitionID, &t.Name, &t.Description, &t.Points, &reqJSON)
	if err != nil {
		return t, notFound(err)
	}
	set, err := requirement.Decode([]byte(reqJSON))
	if err != nil {
		return t, fmt.Errorf("tile %s: %w", id, err)
	}
	t.Requirements = set
	return t, nil
}

func (r Repo) GetTile(ctx context.Context, id string) (domain.Tile, error) {
	return getTile(ctx, r.DB, id)
}

func (r Repo) InsertEffectTx(ctx context.Context, tx *sql.Tx, competitionID string, e effects.Effect) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO effects(id,competition_id,name,description,type,value,trigger_kind,duration_seconds) VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, competitionID, e.Name, nullable(e.Description), string(e.Type), e.Value, string(e.Trigger), int64(e.Duration/time.Second))
	return err
}

const effectColumns = `id,name,COALESCE(description,''),type,value,trigger_kind,duration_seconds`

func scanEffect(sc interface{ Scan(...any) error }) (effects.Effect, error) {
	var (
		e        effects.Effect
		typ, trg string
		secs     int64
	)
	if err := sc.Scan(&e.ID, &e.Name, &e.Description, &typ, &e.Value, &trg, &secs); err != nil {
		return e, err
	}
	e.Type = effects.Type(typ)
	e.Trigger = effects.Trigger(trg)
	e.Duration = time.Duration(secs) * time.Second
	return e, nil
}

func getEffect(ctx context.Context, q Querier, competitionID, id string) (effects.Effect, error) {
	e, err := scanEffect(q.QueryRowContext(ctx, `SELECT `+effectColumns+` FROM effects WHERE competition_id=? AND id=?`, competitionID, id))
	return e, notFound(err)
}

func (r Repo) GetEffect(ctx context.Context, competitionID, id string) (effects.Effect, error) {
	return getEffect(ctx, r.DB, competitionID, id)
}

func (r Repo) GetEffectTx(ctx context.Context, tx *sql.Tx, competitionID, id string) (effects.Effect, error) {
	return getEffect(ctx, tx, competitionID, id)
}

func (r Repo) ListEffects(ctx context.Context, competitionID string) ([]effects.Effect, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+effectColumns+` FROM effects WHERE competition_id=? ORDER BY id`, competitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []effects.Effect
	for rows.Next() {
		e, err := scanEffect(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// Boards

func (r Repo) InsertBoardTx(ctx context.Context, tx *sql.Tx, b domain.Board) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO boards(id,competition_id,team_id,row_count,col_count,created_at) VALUES (?,?,?,?,?,?)`,
		b.ID, b.CompetitionID, b.TeamID, b.Rows, b.Cols, b.CreatedAt)
	return err
}

const boardColumns = `id,competition_id,team_id,row_count,col_count,created_at`

func scanBoard(row *sql.Row) (domain.Board, error) {
	var b domain.Board
	err := row.Scan(&b.ID, &b.CompetitionID, &b.TeamID, &b.Rows, &b.Cols, &b.CreatedAt)
	return b, notFound(err)
}

func (r Repo) GetBoard(ctx context.Context, id string) (domain.Board, error) {
	return scanBoard(r.DB.QueryRowContext(ctx, `SELECT `+boardColumns+` FROM boards WHERE id=?`, id))
}

func (r Repo) BoardForTeam(ctx context.Context, teamID string) (domain.Board, error) {
	return scanBoard(r.DB.QueryRowContext(ctx, `SELECT `+boardColumns+` FROM boards WHERE team_id=?`, teamID))
}

func (r Repo) BoardForTeamTx(ctx context.Context, tx *sql.Tx, teamID string) (domain.Board, error) {
	return scanBoard(tx.QueryRowContext(ctx, `SELECT `+boardColumns+` FROM boards WHERE team_id=?`, teamID))
}

func (r Repo) InsertBoardTileTx(ctx context.Context, tx *sql.Tx, bt domain.BoardTile) error {
	meta, err := json.Marshal(bt.Meta)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO board_tiles(id,board_id,tile_id,position,is_completed,completed_at,metadata_json,effect_id) VALUES (?,?,?,?,?,?,?,?)`,
		bt.ID, bt.BoardID, bt.TileID, bt.Position, bt.IsCompleted, bt.CompletedAt, string(meta), bt.EffectID)
	return err
}

const boardTileColumns = `id,board_id,tile_id,position,is_completed,completed_at,metadata_json,effect_id`

func scanBoardTile(sc interface{ Scan(...any) error }) (domain.BoardTile, error) {
	var (
		bt          domain.BoardTile
		completedAt sql.NullString
		meta        string
		effectID    sql.NullString
	)
	if err := sc.Scan(&bt.ID, &bt.BoardID, &bt.TileID, &bt.Position, &bt.IsCompleted, &completedAt, &meta, &effectID); err != nil {
		return bt, err
	}
	if completedAt.Valid {
		bt.CompletedAt = &completedAt.String
	}
	if effectID.Valid {
		bt.EffectID = &effectID.String
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &bt.Meta); err != nil {
			return bt, fmt.Errorf("board tile %s metadata: %w", bt.ID, err)
		}
	}
	return bt, nil
}

func (r Repo) GetBoardTileTx(ctx context.Context, tx *sql.Tx, id string) (domain.BoardTile, error) {
	bt, err := scanBoardTile(tx.QueryRowContext(ctx, `SELECT `+boardTileColumns+` FROM board_tiles WHERE id=?`, id))
	return bt, notFound(err)
}

func (r Repo) GetBoardTile(ctx context.Context, id string) (domain.BoardTile, error) {
	bt, err := scanBoardTile(r.DB.QueryRowContext(ctx, `SELECT `+boardTileColumns+` FROM board_tiles WHERE id=?`, id))
	return bt, notFound(err)
}

func (r Repo) BoardTileAtTx(ctx context.Context, tx *sql.Tx, boardID string, position int) (domain.BoardTile, error) {
	bt, err := scanBoardTile(tx.QueryRowContext(ctx, `SELECT `+boardTileColumns+` FROM board_tiles WHERE board_id=? AND position=?`, boardID, position))
	return bt, notFound(err)
}

func listBoardTiles(ctx context.Context, q Querier, boardID string) ([]domain.BoardTile, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+boardTileColumns+` FROM board_tiles WHERE board_id=? ORDER BY position`, boardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.BoardTile
	for rows.Next() {
		bt, err := scanBoardTile(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, bt)
	}
	return res, rows.Err()
}

func (r Repo) ListBoardTiles(ctx context.Context, boardID string) ([]domain.BoardTile, error) {
	return listBoardTiles(ctx, r.DB, boardID)
}

func (r Repo) ListBoardTilesTx(ctx context.Context, tx *sql.Tx, boardID string) ([]domain.BoardTile, error) {
	return listBoardTiles(ctx, tx, boardID)
}

// MarkBoardTileCompletedTx flips is_completed once. It reports false when the
// tile was already complete.
func (r Repo) MarkBoardTileCompletedTx(ctx context.Context, tx *sql.Tx, id, completedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE board_tiles SET is_completed=1, completed_at=? WHERE id=? AND is_completed=0`, completedAt, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r Repo) SetBoardTileMetaTx(ctx context.Context, tx *sql.Tx, id string, meta domain.BoardTileMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE board_tiles SET metadata_json=? WHERE id=?`, string(data), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertLineEffectTx(ctx context.Context, tx *sql.Tx, le domain.LineEffect) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO line_effects(board_id,line_type,line_index,effect_id) VALUES (?,?,?,?)`,
		le.BoardID, le.LineType, le.Index, le.EffectID)
	return err
}

// LineEffectTx returns the effect bound to a row or column, or ErrNotFound.
func (r Repo) LineEffectTx(ctx context.Context, tx *sql.Tx, boardID, lineType string, index int) (string, error) {
	var effectID string
	err := tx.QueryRowContext(ctx, `SELECT effect_id FROM line_effects WHERE board_id=? AND line_type=? AND line_index=?`,
		boardID, lineType, index).Scan(&effectID)
	return effectID, notFound(err)
}

func (r Repo) ListLineEffects(ctx context.Context, boardID string) ([]domain.LineEffect, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT board_id,line_type,line_index,effect_id FROM line_effects WHERE board_id=? ORDER BY line_type DESC, line_index`, boardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LineEffect
	for rows.Next() {
		var le domain.LineEffect
		if err := rows.Scan(&le.BoardID, &le.LineType, &le.Index, &le.EffectID); err != nil {
			return nil, err
		}
		res = append(res, le)
	}
	return res, rows.Err()
}

// Progress

func getProgress(ctx context.Context, q Querier, boardTileID string) (domain.TileProgress, error) {
	var (
		p           domain.TileProgress
		raw         string
		ctype       sql.NullString
		completedAt sql.NullString
		by          sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `SELECT board_tile_id,progress_value,progress_json,completion_type,completed_at,completed_by_account,version,updated_at FROM tile_progress WHERE board_tile_id=?`, boardTileID).
		Scan(&p.BoardTileID, &p.Value, &raw, &ctype, &completedAt, &by, &p.Version, &p.UpdatedAt)
	if err != nil {
		return p, notFound(err)
	}
	if err := json.Unmarshal([]byte(raw), &p.Progress); err != nil {
		return p, fmt.Errorf("progress of %s: %w", boardTileID, err)
	}
	if ctype.Valid {
		p.CompletionType = &ctype.String
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.String
	}
	if by.Valid {
		p.CompletedBy = &by.Int64
	}
	return p, nil
}

func (r Repo) GetProgress(ctx context.Context, boardTileID string) (domain.TileProgress, error) {
	return getProgress(ctx, r.DB, boardTileID)
}

func (r Repo) GetProgressTx(ctx context.Context, tx *sql.Tx, boardTileID string) (domain.TileProgress, error) {
	return getProgress(ctx, tx, boardTileID)
}

// SaveProgressTx writes p only if the stored version still equals p.Version
// (0 meaning no row yet) and returns the new version. A lost race yields
// ErrStale.
func (r Repo) SaveProgressTx(ctx context.Context, tx *sql.Tx, p domain.TileProgress) (int64, error) {
	raw, err := json.Marshal(p.Progress)
	if err != nil {
		return 0, err
	}
	next := p.Version + 1
	var res sql.Result
	if p.Version == 0 {
		res, err = tx.ExecContext(ctx, `INSERT INTO tile_progress(board_tile_id,progress_value,progress_json,completion_type,completed_at,completed_by_account,version,updated_at)
VALUES (?,?,?,?,?,?,?,?) ON CONFLICT(board_tile_id) DO NOTHING`,
			p.BoardTileID, p.Value, string(raw), p.CompletionType, p.CompletedAt, p.CompletedBy, next, p.UpdatedAt)
	} else {
		res, err = tx.ExecContext(ctx, `UPDATE tile_progress SET progress_value=?, progress_json=?, completion_type=?, completed_at=?, completed_by_account=?, version=?, updated_at=?
WHERE board_tile_id=? AND version=?`,
			p.Value, string(raw), p.CompletionType, p.CompletedAt, p.CompletedBy, next, p.UpdatedAt, p.BoardTileID, p.Version)
	}
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrStale
	}
	return next, nil
}

// Dedup ledger

// MarkProcessedTx records that dedupKey was applied to boardTileID. It
// reports false when the pair was already recorded.
func (r Repo) MarkProcessedTx(ctx context.Context, tx *sql.Tx, dedupKey, boardTileID, at string) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO processed_events(dedup_key,board_tile_id,processed_at) VALUES (?,?,?) ON CONFLICT DO NOTHING`,
		dedupKey, boardTileID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r Repo) IsProcessed(ctx context.Context, dedupKey, boardTileID string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM processed_events WHERE dedup_key=? AND board_tile_id=?`, dedupKey, boardTileID).Scan(&n)
	return n > 0, err
}

// Grants

const grantColumns = `id,team_id,effect_id,scope_key,source,trigger_kind,state,granted_at,expires_at,resolved_at,result_json`

func scanGrant(sc interface{ Scan(...any) error }) (domain.EffectGrant, error) {
	var (
		g                               domain.EffectGrant
		source, trigger, state          string
		expiresAt, resolvedAt, resultJS sql.NullString
	)
	if err := sc.Scan(&g.ID, &g.TeamID, &g.EffectID, &g.ScopeKey, &source, &trigger, &state, &g.GrantedAt, &expiresAt, &resolvedAt, &resultJS); err != nil {
		return g, err
	}
	g.Source = effects.Source(source)
	g.Trigger = effects.Trigger(trigger)
	g.State = effects.State(state)
	if expiresAt.Valid {
		g.ExpiresAt = &expiresAt.String
	}
	if resolvedAt.Valid {
		g.ResolvedAt = &resolvedAt.String
	}
	if resultJS.Valid {
		g.ResultJSON = &resultJS.String
	}
	return g, nil
}

// UpsertGrantTx inserts g unless a grant for the same scope and effect exists,
// in which case the existing grant is returned with created=false.
func (r Repo) UpsertGrantTx(ctx context.Context, tx *sql.Tx, g domain.EffectGrant) (domain.EffectGrant, bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO effect_grants(`+grantColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(scope_key, effect_id) DO NOTHING`,
		g.ID, g.TeamID, g.EffectID, g.ScopeKey, string(g.Source), string(g.Trigger), string(g.State), g.GrantedAt, g.ExpiresAt, g.ResolvedAt, g.ResultJSON)
	if err != nil {
		return g, false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return g, true, nil
	}
	existing, err := scanGrant(tx.QueryRowContext(ctx, `SELECT `+grantColumns+` FROM effect_grants WHERE scope_key=? AND effect_id=?`, g.ScopeKey, g.EffectID))
	return existing, false, notFound(err)
}

func getGrant(ctx context.Context, q Querier, id string) (domain.EffectGrant, error) {
	g, err := scanGrant(q.QueryRowContext(ctx, `SELECT `+grantColumns+` FROM effect_grants WHERE id=?`, id))
	return g, notFound(err)
}

func (r Repo) GetGrant(ctx context.Context, id string) (domain.EffectGrant, error) {
	return getGrant(ctx, r.DB, id)
}

func (r Repo) GetGrantTx(ctx context.Context, tx *sql.Tx, id string) (domain.EffectGrant, error) {
	return getGrant(ctx, tx, id)
}

type GrantFilters struct {
	TeamID  string
	State   effects.State
	Trigger effects.Trigger
	// Expiring keeps only grants that carry an expiry.
	Expiring bool
}

func listGrants(ctx context.Context, q Querier, f GrantFilters) ([]domain.EffectGrant, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.TeamID != "" {
		clauses = append(clauses, "team_id=?")
		args = append(args, f.TeamID)
	}
	if f.State != "" {
		clauses = append(clauses, "state=?")
		args = append(args, string(f.State))
	}
	if f.Trigger != "" {
		clauses = append(clauses, "trigger_kind=?")
		args = append(args, string(f.Trigger))
	}
	if f.Expiring {
		clauses = append(clauses, "expires_at IS NOT NULL")
	}
	query := `SELECT ` + grantColumns + ` FROM effect_grants WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY granted_at, id`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EffectGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) ListGrants(ctx context.Context, f GrantFilters) ([]domain.EffectGrant, error) {
	return listGrants(ctx, r.DB, f)
}

func (r Repo) ListGrantsTx(ctx context.Context, tx *sql.Tx, f GrantFilters) ([]domain.EffectGrant, error) {
	return listGrants(ctx, tx, f)
}

// ResolveGrantTx moves an idle grant to a terminal state. ErrStale means the
// grant was no longer idle.
func (r Repo) ResolveGrantTx(ctx context.Context, tx *sql.Tx, id string, to effects.State, resolvedAt string, result any) error {
	var resultJSON any
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		resultJSON = string(data)
	}
	res, err := tx.ExecContext(ctx, `UPDATE effect_grants SET state=?, resolved_at=?, result_json=? WHERE id=? AND state='idle'`,
		string(to), resolvedAt, resultJSON, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

// Audit log

func (r Repo) LatestEvents(ctx context.Context, limit int, competitionID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if competitionID != "" {
		clauses = append(clauses, "competition_id=?")
		args = append(args, competitionID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(competition_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.CompetitionID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
