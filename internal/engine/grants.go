package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"osrsbingo/internal/domain"
	"osrsbingo/internal/effects"
	"osrsbingo/internal/events"
	"osrsbingo/internal/notify"
	"osrsbingo/internal/repo"
)

const (
	lineRow    = "row"
	lineColumn = "column"
)

// cascade grants what a fresh completion of bt earns: the tile's own effect
// and the effects of any row or column it finished.
func (e Engine) cascade(ctx context.Context, tx *sql.Tx, ob *outbox, team domain.Team, board domain.Board, bt domain.BoardTile) error {
	if bt.EffectID != nil && *bt.EffectID != "" {
		scope := effects.Scope{Kind: effects.ScopeTile, BoardTileID: bt.ID}
		if _, _, err := e.grantTx(ctx, tx, ob, team, scope, *bt.EffectID, actorSystem); err != nil {
			return err
		}
	}
	if board.Cols <= 0 || board.Rows <= 0 {
		return nil
	}
	tiles, err := e.Repo.ListBoardTilesTx(ctx, tx, board.ID)
	if err != nil {
		return err
	}
	row, col := board.Row(bt.Position), board.Col(bt.Position)
	rowDone, colDone := 0, 0
	for _, t := range tiles {
		if !t.IsCompleted {
			continue
		}
		if board.Row(t.Position) == row {
			rowDone++
		}
		if board.Col(t.Position) == col {
			colDone++
		}
	}
	lines := []struct {
		kind  string
		scope effects.ScopeKind
		index int
		full  bool
	}{
		{lineRow, effects.ScopeRow, row, rowDone == board.Cols},
		{lineColumn, effects.ScopeColumn, col, colDone == board.Rows},
	}
	for _, l := range lines {
		if !l.full {
			continue
		}
		effectID, err := e.Repo.LineEffectTx(ctx, tx, board.ID, l.kind, l.index)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		e.log().Info("line completed", zap.String("team_id", team.ID), zap.String("line", l.kind), zap.Int("index", l.index))
		scope := effects.Scope{Kind: l.scope, BoardID: board.ID, Index: l.index}
		if _, _, err := e.grantTx(ctx, tx, ob, team, scope, effectID, actorSystem); err != nil {
			return err
		}
	}
	return nil
}

// grantTx creates the grant for (scope, effect) unless it exists. Immediate
// grants are resolved on the spot.
func (e Engine) grantTx(ctx context.Context, tx *sql.Tx, ob *outbox, team domain.Team, scope effects.Scope, effectID, actorID string) (domain.EffectGrant, bool, error) {
	eff, err := e.Repo.GetEffectTx(ctx, tx, team.CompetitionID, effectID)
	if err != nil {
		return domain.EffectGrant{}, false, wrapNotFound(err, "effect", effectID)
	}
	now := e.now()
	g := domain.EffectGrant{
		ID:        uuid.NewString(),
		TeamID:    team.ID,
		EffectID:  eff.ID,
		ScopeKey:  scope.Key(),
		Source:    scope.Source(),
		Trigger:   eff.Trigger,
		State:     effects.StateIdle,
		GrantedAt: now.Format(timeLayout),
		ExpiresAt: formatStamp(eff.ExpiresAt(now)),
	}
	g, created, err := e.Repo.UpsertGrantTx(ctx, tx, g)
	if err != nil {
		return g, false, err
	}
	if !created {
		return g, false, nil
	}
	w := e.events()
	if err := w.Append(ctx, tx, events.GrantCreated, team.CompetitionID, "grant", g.ID, actorID, events.EventPayload{
		"team_id": team.ID, "effect_id": eff.ID, "scope": g.ScopeKey, "trigger": string(eff.Trigger),
	}); err != nil {
		return g, false, err
	}
	msg := notify.EffectGrant{TeamID: team.ID, GrantID: g.ID, Effect: eff, Source: g.Source, Trigger: eff.Trigger}
	if eff.Trigger == effects.TriggerImmediate {
		action := effects.Action{Effect: eff, GrantID: g.ID, SourceTeamID: team.ID}
		impact := effects.ImpactOf(action)
		if err := e.applyImpact(ctx, tx, team.CompetitionID, actorID, g.ID, impact); err != nil {
			return g, false, err
		}
		result := activationRecord{Result: effects.ResultActivated, Impact: impact}
		stamp := e.stamp()
		if err := e.Repo.ResolveGrantTx(ctx, tx, g.ID, effects.StateActivated, stamp, result); err != nil {
			return g, false, err
		}
		if err := w.Append(ctx, tx, events.GrantResolved, team.CompetitionID, "grant", g.ID, actorID, events.EventPayload{
			"state": string(effects.StateActivated), "result": string(effects.ResultActivated),
		}); err != nil {
			return g, false, err
		}
		g.State = effects.StateActivated
		g.ResolvedAt = &stamp
		msg.Immediate = &notify.ImmediateResult{Result: effects.ResultActivated, PointsAwarded: pointsFor(impact, team.ID), Impact: impact}
	}
	ob.grants = append(ob.grants, msg)
	return g, true, nil
}

func pointsFor(impact effects.Impact, teamID string) int {
	n := 0
	for _, d := range impact.Scores {
		if d.TeamID == teamID {
			n += d.Delta
		}
	}
	return n
}

// activationRecord is stored as the grant's result_json.
type activationRecord struct {
	Result         effects.Result `json:"result"`
	TargetTeamID   string         `json:"target_team_id,omitempty"`
	DefenseGrantID string         `json:"defense_grant_id,omitempty"`
	AgainstGrantID string         `json:"against_grant_id,omitempty"`
	Impact         effects.Impact `json:"impact"`
}

// applyImpact writes score and board changes. A lock that lands on a missing
// or completed tile is skipped; that only happens for reflected locks.
func (e Engine) applyImpact(ctx context.Context, tx *sql.Tx, competitionID, actorID, grantID string, impact effects.Impact) error {
	w := e.events()
	for _, d := range impact.Scores {
		if d.Delta == 0 {
			continue
		}
		score, err := e.Repo.AddScoreTx(ctx, tx, d.TeamID, d.Delta)
		if err != nil {
			return wrapNotFound(err, "team", d.TeamID)
		}
		if err := w.Append(ctx, tx, events.ScoreChanged, competitionID, "team", d.TeamID, actorID, events.EventPayload{
			"delta": d.Delta, "score": score, "reason": "effect", "grant_id": grantID,
		}); err != nil {
			return err
		}
	}
	if impact.Tile == nil {
		return nil
	}
	ch := impact.Tile
	board, err := e.Repo.BoardForTeamTx(ctx, tx, ch.TeamID)
	if err != nil {
		return wrapNotFound(err, "board for team", ch.TeamID)
	}
	bt, err := e.Repo.BoardTileAtTx(ctx, tx, board.ID, ch.Position)
	if errors.Is(err, repo.ErrNotFound) {
		e.log().Info("tile change skipped, no tile at position", zap.String("team_id", ch.TeamID), zap.Int("position", ch.Position))
		return nil
	}
	if err != nil {
		return err
	}
	if ch.Locked && bt.IsCompleted {
		e.log().Info("tile lock skipped, tile already complete", zap.String("board_tile_id", bt.ID))
		return nil
	}
	meta := bt.Meta
	meta.Locked = ch.Locked
	meta.LockedBy = ""
	if ch.Locked {
		meta.LockedBy = grantID
	}
	if err := e.Repo.SetBoardTileMetaTx(ctx, tx, bt.ID, meta); err != nil {
		return err
	}
	return w.Append(ctx, tx, events.TileLockChanged, competitionID, "board_tile", bt.ID, actorID, events.EventPayload{
		"locked": ch.Locked, "grant_id": grantID,
	})
}

type GrantRequest struct {
	TeamID   string
	EffectID string
	// Ref makes the grant idempotent across calls; a fresh one is generated
	// when empty.
	Ref     string
	ActorID string
}

type GrantResult struct {
	Grant     domain.EffectGrant      `json:"grant"`
	Created   bool                    `json:"created"`
	Immediate *notify.ImmediateResult `json:"immediate_result,omitempty"`
}

// GrantEffect gives a team an effect outside of tile completion.
func (e Engine) GrantEffect(ctx context.Context, req GrantRequest) (GrantResult, error) {
	if strings.TrimSpace(req.TeamID) == "" || strings.TrimSpace(req.EffectID) == "" {
		return GrantResult{}, invalid("team and effect are required")
	}
	if req.ActorID == "" {
		req.ActorID = actorSystem
	}
	if req.Ref == "" {
		req.Ref = uuid.NewString()
	}
	defer e.teams.Lock(req.TeamID)()

	var (
		res GrantResult
		ob  *outbox
	)
	fields := []zap.Field{zap.String("team_id", req.TeamID), zap.String("effect_id", req.EffectID)}
	err := e.retry(ctx, "grant_effect", fields, func() error {
		res, ob = GrantResult{}, &outbox{}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		team, err := e.Repo.GetTeamTx(ctx, tx, req.TeamID)
		if err != nil {
			return wrapNotFound(err, "team", req.TeamID)
		}
		scope := effects.Scope{Kind: effects.ScopeAdmin, TeamID: team.ID, Ref: req.Ref}
		g, created, err := e.grantTx(ctx, tx, ob, team, scope, req.EffectID, req.ActorID)
		if err != nil {
			return err
		}
		res.Grant, res.Created = g, created
		if created && len(ob.grants) > 0 {
			res.Immediate = ob.grants[len(ob.grants)-1].Immediate
		}
		return tx.Commit()
	})
	if err != nil {
		return GrantResult{}, err
	}
	e.flush(ctx, ob)
	return res, nil
}

type ActivateRequest struct {
	GrantID        string `json:"grant_id"`
	ActingTeamID   string `json:"acting_team_id"`
	TargetTeamID   string `json:"target_team_id,omitempty"`
	TargetPosition *int   `json:"target_position,omitempty"`
	ActorID        string `json:"-"`
}

type ActivationResult struct {
	Grant          domain.EffectGrant `json:"grant"`
	Result         effects.Result     `json:"result"`
	DefenseGrantID string             `json:"defense_grant_id,omitempty"`
	Impact         effects.Impact     `json:"impact"`
}

// ActivateGrant uses a manual grant. Offensive effects go through the
// target's defenses before anything is applied.
func (e Engine) ActivateGrant(ctx context.Context, req ActivateRequest) (ActivationResult, error) {
	if req.GrantID == "" || req.ActingTeamID == "" {
		return ActivationResult{}, invalid("grant_id and acting_team_id are required")
	}
	if req.ActorID == "" {
		req.ActorID = "team:" + req.ActingTeamID
	}
	defer e.teams.LockAll(req.ActingTeamID, req.TargetTeamID)()

	var (
		res ActivationResult
		ob  *outbox
	)
	fields := []zap.Field{zap.String("grant_id", req.GrantID), zap.String("team_id", req.ActingTeamID)}
	err := e.retry(ctx, "activate_grant", fields, func() error {
		res, ob = ActivationResult{}, &outbox{}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		res, err = e.activateTx(ctx, tx, ob, req)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return ActivationResult{}, err
	}
	e.flush(ctx, ob)
	return res, nil
}

func (e Engine) activateTx(ctx context.Context, tx *sql.Tx, ob *outbox, req ActivateRequest) (ActivationResult, error) {
	g, err := e.Repo.GetGrantTx(ctx, tx, req.GrantID)
	if err != nil {
		return ActivationResult{}, wrapNotFound(err, "grant", req.GrantID)
	}
	team, err := e.Repo.GetTeamTx(ctx, tx, req.ActingTeamID)
	if err != nil {
		return ActivationResult{}, wrapNotFound(err, "team", req.ActingTeamID)
	}
	eff, err := e.Repo.GetEffectTx(ctx, tx, team.CompetitionID, g.EffectID)
	if err != nil {
		return ActivationResult{}, wrapNotFound(err, "effect", g.EffectID)
	}
	state := effects.Grant{ID: g.ID, TeamID: g.TeamID, Effect: eff, State: g.State, ExpiresAt: parseStamp(g.ExpiresAt)}
	if err := effects.CheckActivate(state, team.ID, e.now()); err != nil {
		return ActivationResult{}, stateError(err)
	}

	action := effects.Action{Effect: eff, GrantID: g.ID, SourceTeamID: team.ID, TargetPosition: req.TargetPosition}
	if eff.Type.Offensive() {
		if req.TargetTeamID == "" || req.TargetTeamID == team.ID {
			return ActivationResult{}, invalid("%s needs another team as target", eff.Type)
		}
		target, err := e.Repo.GetTeamTx(ctx, tx, req.TargetTeamID)
		if err != nil {
			return ActivationResult{}, wrapNotFound(err, "team", req.TargetTeamID)
		}
		if target.CompetitionID != team.CompetitionID {
			return ActivationResult{}, invalid("team %s is not in this competition", target.ID)
		}
		action.TargetTeamID = target.ID
	}
	if eff.Type.NeedsPosition() {
		if err := e.checkPosition(ctx, tx, action); err != nil {
			return ActivationResult{}, err
		}
	}

	res := ActivationResult{Result: effects.ResultActivated}
	if eff.Type.Offensive() {
		r, err := e.resolveIncomingTx(ctx, tx, team.CompetitionID, req.ActorID, action)
		if err != nil {
			return ActivationResult{}, err
		}
		res.Result, res.DefenseGrantID, res.Impact = r.Result, r.DefenseGrantID, r.Impact
	} else {
		res.Impact = effects.ImpactOf(action)
		if err := e.applyImpact(ctx, tx, team.CompetitionID, req.ActorID, g.ID, res.Impact); err != nil {
			return ActivationResult{}, err
		}
	}
	stamp := e.stamp()
	record := activationRecord{Result: res.Result, TargetTeamID: action.TargetTeamID, DefenseGrantID: res.DefenseGrantID, Impact: res.Impact}
	if err := e.Repo.ResolveGrantTx(ctx, tx, g.ID, effects.StateActivated, stamp, record); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return ActivationResult{}, ErrConflict
		}
		return ActivationResult{}, err
	}
	if err := e.events().Append(ctx, tx, events.GrantResolved, team.CompetitionID, "grant", g.ID, req.ActorID, events.EventPayload{
		"state": string(effects.StateActivated), "result": string(res.Result), "target_team_id": action.TargetTeamID,
	}); err != nil {
		return ActivationResult{}, err
	}
	g.State = effects.StateActivated
	g.ResolvedAt = &stamp
	res.Grant = g
	ob.activations = append(ob.activations, notify.EffectActivation{
		SourceTeamID: team.ID,
		TargetTeamID: action.TargetTeamID,
		GrantID:      g.ID,
		Effect:       eff,
		Action:       "activate",
		Result:       res.Result,
		Impact:       res.Impact,
	})
	return res, nil
}

// checkPosition validates the tile a lock or unlock is aimed at.
func (e Engine) checkPosition(ctx context.Context, tx *sql.Tx, a effects.Action) error {
	if a.TargetPosition == nil {
		return invalid("%s needs a target position", a.Effect.Type)
	}
	owner := a.SourceTeamID
	if a.Effect.Type == effects.TypeTileLock {
		owner = a.TargetTeamID
	}
	board, err := e.Repo.BoardForTeamTx(ctx, tx, owner)
	if err != nil {
		return wrapNotFound(err, "board for team", owner)
	}
	bt, err := e.Repo.BoardTileAtTx(ctx, tx, board.ID, *a.TargetPosition)
	if err != nil {
		return wrapNotFound(err, "board tile at position", fmt.Sprint(*a.TargetPosition))
	}
	switch a.Effect.Type {
	case effects.TypeTileLock:
		if bt.IsCompleted {
			return invalid("tile at position %d is already complete", bt.Position)
		}
		if bt.Meta.Locked {
			return invalid("tile at position %d is already locked", bt.Position)
		}
	case effects.TypeTileUnlock:
		if !bt.Meta.Locked {
			return invalid("tile at position %d is not locked", bt.Position)
		}
	}
	return nil
}

type IncomingRequest struct {
	EffectID       string `json:"effect_id"`
	SourceTeamID   string `json:"source_team_id"`
	TargetTeamID   string `json:"target_team_id"`
	TargetPosition *int   `json:"target_position,omitempty"`
	ActorID        string `json:"-"`
}

type Resolution struct {
	Result         effects.Result `json:"result"`
	DefenseGrantID string         `json:"defense_grant_id,omitempty"`
	Impact         effects.Impact `json:"impact"`
}

// ResolveIncoming runs an offensive effect that was not drawn from a grant,
// such as one issued by an administrator, against the target's defenses.
func (e Engine) ResolveIncoming(ctx context.Context, req IncomingRequest) (Resolution, error) {
	if req.SourceTeamID == "" || req.TargetTeamID == "" || req.EffectID == "" {
		return Resolution{}, invalid("effect_id, source_team_id and target_team_id are required")
	}
	if req.SourceTeamID == req.TargetTeamID {
		return Resolution{}, invalid("source and target must differ")
	}
	if req.ActorID == "" {
		req.ActorID = actorSystem
	}
	defer e.teams.LockAll(req.SourceTeamID, req.TargetTeamID)()

	var (
		res Resolution
		ob  *outbox
	)
	fields := []zap.Field{zap.String("team_id", req.TargetTeamID), zap.String("effect_id", req.EffectID)}
	err := e.retry(ctx, "resolve_incoming", fields, func() error {
		ob = &outbox{}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		source, err := e.Repo.GetTeamTx(ctx, tx, req.SourceTeamID)
		if err != nil {
			return wrapNotFound(err, "team", req.SourceTeamID)
		}
		target, err := e.Repo.GetTeamTx(ctx, tx, req.TargetTeamID)
		if err != nil {
			return wrapNotFound(err, "team", req.TargetTeamID)
		}
		if source.CompetitionID != target.CompetitionID {
			return invalid("teams are in different competitions")
		}
		eff, err := e.Repo.GetEffectTx(ctx, tx, source.CompetitionID, req.EffectID)
		if err != nil {
			return wrapNotFound(err, "effect", req.EffectID)
		}
		if !eff.Type.Offensive() {
			return invalid("effect %s is not offensive", eff.ID)
		}
		action := effects.Action{Effect: eff, SourceTeamID: source.ID, TargetTeamID: target.ID, TargetPosition: req.TargetPosition}
		if eff.Type.NeedsPosition() {
			if err := e.checkPosition(ctx, tx, action); err != nil {
				return err
			}
		}
		res, err = e.resolveIncomingTx(ctx, tx, source.CompetitionID, req.ActorID, action)
		if err != nil {
			return err
		}
		ob.activations = append(ob.activations, notify.EffectActivation{
			SourceTeamID: source.ID,
			TargetTeamID: target.ID,
			Effect:       eff,
			Action:       "incoming",
			Result:       res.Result,
			Impact:       res.Impact,
		})
		return tx.Commit()
	})
	if err != nil {
		return Resolution{}, err
	}
	e.flush(ctx, ob)
	return res, nil
}

// resolveIncomingTx consumes the target's best defense, if any, and applies
// whatever gets through.
func (e Engine) resolveIncomingTx(ctx context.Context, tx *sql.Tx, competitionID, actorID string, a effects.Action) (Resolution, error) {
	grants, err := e.Repo.ListGrantsTx(ctx, tx, repo.GrantFilters{TeamID: a.TargetTeamID, State: effects.StateIdle, Trigger: effects.TriggerReactive})
	if err != nil {
		return Resolution{}, err
	}
	now := e.now()
	var defenders []effects.Defender
	held := map[string]effects.Grant{}
	for _, g := range grants {
		eff, err := e.Repo.GetEffectTx(ctx, tx, competitionID, g.EffectID)
		if err != nil {
			return Resolution{}, wrapNotFound(err, "effect", g.EffectID)
		}
		st := effects.Grant{ID: g.ID, TeamID: g.TeamID, Effect: eff, State: g.State, ExpiresAt: parseStamp(g.ExpiresAt)}
		if st.Expired(now) || !eff.Type.Defensive() {
			continue
		}
		held[g.ID] = st
		granted := parseStamp(&g.GrantedAt)
		d := effects.Defender{GrantID: g.ID, Type: eff.Type}
		if granted != nil {
			d.GrantedAt = *granted
		}
		defenders = append(defenders, d)
	}
	decision := effects.Decide(a, defenders)
	res := Resolution{Result: decision.Result, DefenseGrantID: decision.Consumed}
	if decision.Consumed != "" {
		to := effects.StateBlocked
		if decision.Result == effects.ResultReflected {
			to = effects.StateReflected
		}
		if err := effects.Consume(held[decision.Consumed], to); err != nil {
			return Resolution{}, stateError(err)
		}
		stamp := e.stamp()
		record := activationRecord{Result: decision.Result, AgainstGrantID: a.GrantID, TargetTeamID: a.SourceTeamID}
		if err := e.Repo.ResolveGrantTx(ctx, tx, decision.Consumed, to, stamp, record); err != nil {
			if errors.Is(err, repo.ErrStale) {
				return Resolution{}, ErrConflict
			}
			return Resolution{}, err
		}
		if err := e.events().Append(ctx, tx, events.GrantResolved, competitionID, "grant", decision.Consumed, actorID, events.EventPayload{
			"state": string(to), "against_grant_id": a.GrantID, "attacker_team_id": a.SourceTeamID,
		}); err != nil {
			return Resolution{}, err
		}
	}
	if decision.Apply != nil {
		res.Impact = effects.ImpactOf(*decision.Apply)
		if err := e.applyImpact(ctx, tx, competitionID, actorID, a.GrantID, res.Impact); err != nil {
			return Resolution{}, err
		}
	}
	e.log().Info("adverse action resolved", zap.String("team_id", a.TargetTeamID), zap.String("result", string(res.Result)), zap.String("grant_id", a.GrantID))
	return res, nil
}

// SweepExpired moves idle grants past their expiry to expired and returns how
// many it moved.
func (e Engine) SweepExpired(ctx context.Context) (int, error) {
	var n int
	err := e.retry(ctx, "sweep_expired", nil, func() error {
		n = 0
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		grants, err := e.Repo.ListGrantsTx(ctx, tx, repo.GrantFilters{State: effects.StateIdle, Expiring: true})
		if err != nil {
			return err
		}
		now := e.now()
		stamp := e.stamp()
		for _, g := range grants {
			st := effects.Grant{ID: g.ID, State: g.State, ExpiresAt: parseStamp(g.ExpiresAt)}
			if !effects.CheckExpire(st, now) {
				continue
			}
			if err := e.Repo.ResolveGrantTx(ctx, tx, g.ID, effects.StateExpired, stamp, nil); err != nil {
				if errors.Is(err, repo.ErrStale) {
					continue
				}
				return err
			}
			team, err := e.Repo.GetTeamTx(ctx, tx, g.TeamID)
			if err != nil {
				return wrapNotFound(err, "team", g.TeamID)
			}
			if err := e.events().Append(ctx, tx, events.GrantExpired, team.CompetitionID, "grant", g.ID, actorSystem, events.EventPayload{
				"team_id": g.TeamID, "effect_id": g.EffectID, "expires_at": g.ExpiresAt,
			}); err != nil {
				return err
			}
			n++
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.log().Info("expired grants swept", zap.Int("count", n))
	}
	return n, nil
}
