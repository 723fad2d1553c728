package engine_test

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"osrsbingo/internal/effects"
	"osrsbingo/internal/engine"
	"osrsbingo/internal/requirement"
)

func (env testEnv) grantOf(t *testing.T, teamID, effectID string) engine.GrantView {
	t.Helper()
	grants, err := env.Engine.TeamGrants(env.Ctx, teamID)
	if err != nil {
		t.Fatal(err)
	}
	for _, g := range grants {
		if g.EffectID == effectID {
			return g
		}
	}
	t.Fatalf("team %s holds no %s grant", teamID, effectID)
	return engine.GrantView{}
}

func (env testEnv) adminGrant(t *testing.T, teamID, effectID string) engine.GrantResult {
	t.Helper()
	res, err := env.Engine.GrantEffect(env.Ctx, engine.GrantRequest{TeamID: teamID, EffectID: effectID, ActorID: "admin:alice"})
	if err != nil {
		t.Fatalf("grant %s to %s: %v", effectID, teamID, err)
	}
	return res
}

func completeBottomRow(t *testing.T, env testEnv, team string) {
	t.Helper()
	mustProcess(t, env, gameEvent(requirement.KindExperience, team, 1, team+"-xp", `{"skill":"Fishing","gainedXp":150000}`))
	mustProcess(t, env, gameEvent(requirement.KindValueDrop, team, 2, team+"-vd", `{"gpValue":1500000}`))
	mustProcess(t, env, gameEvent(requirement.KindBAGambles, team, 3, team+"-ba", `{"gambleCount":100}`))
}

func TestRowCompletionGrantsImmediateBonus(t *testing.T) {
	env := newTestEnv(t)
	completeBottomRow(t, env, "red")

	if got := env.score(t, "red"); got != 20 {
		t.Fatalf("score = %d, want 15 from tiles plus 5 bonus", got)
	}
	sent := env.Notified.Grants()
	if len(sent) != 1 {
		t.Fatalf("expected one grant notification, got %d", len(sent))
	}
	n := sent[0]
	if n.Source != effects.SourceRowCompletion || n.Trigger != effects.TriggerImmediate {
		t.Fatalf("grant notification %+v", n)
	}
	if n.Immediate == nil || n.Immediate.PointsAwarded != 5 || n.Immediate.Result != effects.ResultActivated {
		t.Fatalf("immediate result %+v", n.Immediate)
	}
	g := env.grantOf(t, "red", "bonus-points-5")
	if g.State != effects.StateActivated || g.ResolvedAt == nil {
		t.Fatalf("grant state %s", g.State)
	}

	// replaying the completion does not grant twice
	mustProcess(t, env, gameEvent(requirement.KindBAGambles, "red", 3, "red-ba-2", `{"gambleCount":5}`))
	if got := env.score(t, "red"); got != 20 {
		t.Fatalf("score = %d after replay", got)
	}
}

func TestColumnCompletionGrantsLineEffect(t *testing.T) {
	env := newTestEnv(t)
	mustProcess(t, env, itemDrop("red", 10, "drop", 3))
	if n := len(env.Notified.Grants()); n != 0 {
		t.Fatalf("half a column granted %d effects", n)
	}
	final := gameEvent(requirement.KindExperience, "red", 11, "xp", `{"skill":"Fishing","gainedXp":150000}`)
	mustProcess(t, env, final)

	sent := env.Notified.Grants()
	if len(sent) != 1 {
		t.Fatalf("expected one grant notification, got %d", len(sent))
	}
	if sent[0].Source != effects.SourceColumnCompletion || sent[0].Effect.ID != "reflect" {
		t.Fatalf("grant notification %+v", sent[0])
	}
	g := env.grantOf(t, "red", "reflect")
	if g.Source != effects.SourceColumnCompletion || g.State != effects.StateIdle || g.Trigger != effects.TriggerReactive {
		t.Fatalf("column grant %+v", g.EffectGrant)
	}

	// neither a redelivery nor further progress on the column grants again
	mustProcess(t, env, final)
	mustProcess(t, env, gameEvent(requirement.KindExperience, "red", 12, "xp-more", `{"skill":"Fishing","gainedXp":5000}`))
	grants, err := env.Engine.TeamGrants(env.Ctx, "red")
	if err != nil {
		t.Fatal(err)
	}
	if len(grants) != 1 {
		t.Fatalf("red holds %d grants, want 1", len(grants))
	}
	if n := len(env.Notified.Grants()); n != 1 {
		t.Fatalf("grant notified %d times", n)
	}
	if got := env.score(t, "red"); got != 15 {
		t.Fatalf("score = %d, want 15", got)
	}
}

func TestTileCompletionGrantsTileEffect(t *testing.T) {
	env := newTestEnv(t)
	mustProcess(t, env, gameEvent(requirement.KindPet, "red", 7, "pet", `{"petName":"Olmlet"}`))
	g := env.grantOf(t, "red", "shield")
	if g.State != effects.StateIdle || g.Source != effects.SourceTileCompletion || g.Trigger != effects.TriggerReactive {
		t.Fatalf("shield grant %+v", g.EffectGrant)
	}
}

func TestShieldBlocksSteal(t *testing.T) {
	env := newTestEnv(t)
	mustProcess(t, env, gameEvent(requirement.KindPet, "red", 7, "pet", `{"petName":"Olmlet"}`))
	shield := env.grantOf(t, "red", "shield")
	steal := env.adminGrant(t, "blue", "steal")

	res, err := env.Engine.ActivateGrant(env.Ctx, engine.ActivateRequest{
		GrantID: steal.Grant.ID, ActingTeamID: "blue", TargetTeamID: "red",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Result != effects.ResultBlocked || res.DefenseGrantID != shield.ID {
		t.Fatalf("result %+v", res)
	}
	if got := env.score(t, "red"); got != 20 {
		t.Fatalf("red score = %d, want unchanged 20", got)
	}
	if got := env.score(t, "blue"); got != 0 {
		t.Fatalf("blue score = %d", got)
	}
	if g := env.grantOf(t, "red", "shield"); g.State != effects.StateBlocked {
		t.Fatalf("shield state %s", g.State)
	}
	if g := env.grantOf(t, "blue", "steal"); g.State != effects.StateActivated {
		t.Fatalf("steal state %s", g.State)
	}
	acts := env.Notified.Activations()
	if len(acts) != 1 || acts[0].Result != effects.ResultBlocked || acts[0].TargetTeamID != "red" {
		t.Fatalf("activation notifications %+v", acts)
	}
}

func TestReflectRedirectsSteal(t *testing.T) {
	env := newTestEnv(t)
	reflect := env.adminGrant(t, "red", "reflect")
	steal := env.adminGrant(t, "blue", "steal")

	res, err := env.Engine.ActivateGrant(env.Ctx, engine.ActivateRequest{
		GrantID: steal.Grant.ID, ActingTeamID: "blue", TargetTeamID: "red",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Result != effects.ResultReflected || res.DefenseGrantID != reflect.Grant.ID {
		t.Fatalf("result %+v", res)
	}
	if got := env.score(t, "blue"); got != -3 {
		t.Fatalf("blue score = %d, want -3", got)
	}
	if got := env.score(t, "red"); got != 3 {
		t.Fatalf("red score = %d, want 3", got)
	}
	if g := env.grantOf(t, "red", "reflect"); g.State != effects.StateReflected {
		t.Fatalf("reflect state %s", g.State)
	}
}

func TestConcurrentStealsConsumeOneShield(t *testing.T) {
	env := newTestEnv(t)
	shield := env.adminGrant(t, "red", "shield")
	steals := []engine.GrantResult{env.adminGrant(t, "blue", "steal"), env.adminGrant(t, "blue", "steal")}

	results := make([]effects.Result, len(steals))
	var eg errgroup.Group
	for i, s := range steals {
		i, s := i, s
		eg.Go(func() error {
			res, err := env.Engine.ActivateGrant(env.Ctx, engine.ActivateRequest{
				GrantID: s.Grant.ID, ActingTeamID: "blue", TargetTeamID: "red",
			})
			results[i] = res.Result
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}
	count := map[effects.Result]int{}
	for _, r := range results {
		count[r]++
	}
	if count[effects.ResultBlocked] != 1 || count[effects.ResultActivated] != 1 {
		t.Fatalf("results %v", results)
	}
	if got := env.score(t, "red"); got != -3 {
		t.Fatalf("red score = %d, want -3", got)
	}
	if got := env.score(t, "blue"); got != 3 {
		t.Fatalf("blue score = %d, want 3", got)
	}
	if g := env.grantOf(t, "red", "shield"); g.ID != shield.Grant.ID || g.State != effects.StateBlocked {
		t.Fatalf("shield %s state %s", g.ID, g.State)
	}
}

func TestShieldWinsOverReflect(t *testing.T) {
	env := newTestEnv(t)
	env.adminGrant(t, "red", "reflect")
	env.advance(time.Minute)
	shield := env.adminGrant(t, "red", "shield")

	res, err := env.Engine.ResolveIncoming(env.Ctx, engine.IncomingRequest{
		EffectID: "steal", SourceTeamID: "blue", TargetTeamID: "red",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Result != effects.ResultBlocked || res.DefenseGrantID != shield.Grant.ID {
		t.Fatalf("result %+v", res)
	}
	if g := env.grantOf(t, "red", "reflect"); g.State != effects.StateIdle {
		t.Fatalf("reflect should stay idle, got %s", g.State)
	}
}

func TestUndefendedPenaltyApplies(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.ResolveIncoming(env.Ctx, engine.IncomingRequest{
		EffectID: "penalty-brief", SourceTeamID: "blue", TargetTeamID: "red",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Result != effects.ResultActivated {
		t.Fatalf("result %s", res.Result)
	}
	if got := env.score(t, "red"); got != -2 {
		t.Fatalf("red score = %d, want -2", got)
	}
}

func TestActivatingConsumedGrantFails(t *testing.T) {
	env := newTestEnv(t)
	steal := env.adminGrant(t, "blue", "steal")
	req := engine.ActivateRequest{GrantID: steal.Grant.ID, ActingTeamID: "blue", TargetTeamID: "red"}
	if _, err := env.Engine.ActivateGrant(env.Ctx, req); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.ActivateGrant(env.Ctx, req)
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if ise.State != effects.StateActivated {
		t.Fatalf("state %s", ise.State)
	}
	if got := env.score(t, "red"); got != -3 {
		t.Fatalf("second activation had side effects, red = %d", got)
	}
}

func TestActivationRules(t *testing.T) {
	env := newTestEnv(t)
	shield := env.adminGrant(t, "red", "shield")
	steal := env.adminGrant(t, "blue", "steal")

	var ise engine.InvalidStateError
	_, err := env.Engine.ActivateGrant(env.Ctx, engine.ActivateRequest{GrantID: shield.Grant.ID, ActingTeamID: "red"})
	if !errors.As(err, &ise) {
		t.Fatalf("reactive activation: %v", err)
	}
	_, err = env.Engine.ActivateGrant(env.Ctx, engine.ActivateRequest{GrantID: steal.Grant.ID, ActingTeamID: "red", TargetTeamID: "blue"})
	if !errors.As(err, &ise) {
		t.Fatalf("foreign grant activation: %v", err)
	}
	var ve engine.ValidationError
	_, err = env.Engine.ActivateGrant(env.Ctx, engine.ActivateRequest{GrantID: steal.Grant.ID, ActingTeamID: "blue"})
	if !errors.As(err, &ve) {
		t.Fatalf("offense without target: %v", err)
	}
	_, err = env.Engine.ActivateGrant(env.Ctx, engine.ActivateRequest{GrantID: steal.Grant.ID, ActingTeamID: "blue", TargetTeamID: "blue"})
	if !errors.As(err, &ve) {
		t.Fatalf("offense against self: %v", err)
	}
	var nf engine.NotFoundError
	_, err = env.Engine.ActivateGrant(env.Ctx, engine.ActivateRequest{GrantID: "nope", ActingTeamID: "blue"})
	if !errors.As(err, &nf) {
		t.Fatalf("missing grant: %v", err)
	}
	if g := env.grantOf(t, "blue", "steal"); g.State != effects.StateIdle {
		t.Fatalf("rejected activations consumed the grant: %s", g.State)
	}
}

func TestExpiredGrantCannotBeActivated(t *testing.T) {
	env := newTestEnv(t)
	curse := env.adminGrant(t, "blue", "penalty-brief")
	if curse.Grant.ExpiresAt == nil {
		t.Fatal("expected an expiry")
	}
	env.advance(2 * time.Hour)

	_, err := env.Engine.ActivateGrant(env.Ctx, engine.ActivateRequest{GrantID: curse.Grant.ID, ActingTeamID: "blue", TargetTeamID: "red"})
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if got := env.score(t, "red"); got != 0 {
		t.Fatalf("red score = %d", got)
	}

	n, err := env.Engine.SweepExpired(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("swept %d grants, want 1", n)
	}
	if g := env.grantOf(t, "blue", "penalty-brief"); g.State != effects.StateExpired {
		t.Fatalf("state %s", g.State)
	}
	if n, _ = env.Engine.SweepExpired(env.Ctx); n != 0 {
		t.Fatalf("second sweep moved %d", n)
	}
}

func TestLockedTileRejectsProgress(t *testing.T) {
	env := newTestEnv(t)
	lock := env.adminGrant(t, "blue", "lock")
	pos := 3
	res, err := env.Engine.ActivateGrant(env.Ctx, engine.ActivateRequest{
		GrantID: lock.Grant.ID, ActingTeamID: "blue", TargetTeamID: "red", TargetPosition: &pos,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Impact.Tile == nil || !res.Impact.Tile.Locked {
		t.Fatalf("impact %+v", res.Impact)
	}
	if tv := env.tileAt(t, "red", 3); !tv.Meta.Locked {
		t.Fatal("tile not locked")
	}

	_, err = env.Engine.ProcessEvent(env.Ctx, gameEvent(requirement.KindExperience, "red", 1, "xp", `{"skill":"Fishing","gainedXp":150000}`))
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if tv := env.tileAt(t, "red", 3); tv.Progress != nil {
		t.Fatalf("locked tile recorded progress: %+v", tv.Progress)
	}

	unlock := env.adminGrant(t, "red", "unlock")
	if _, err := env.Engine.ActivateGrant(env.Ctx, engine.ActivateRequest{
		GrantID: unlock.Grant.ID, ActingTeamID: "red", TargetPosition: &pos,
	}); err != nil {
		t.Fatal(err)
	}
	res2 := mustProcess(t, env, gameEvent(requirement.KindExperience, "red", 1, "xp", `{"skill":"Fishing","gainedXp":150000}`))
	if !res2.Tiles[0].Newly {
		t.Fatalf("expected completion after unlock, got %+v", res2.Tiles[0])
	}
}

func TestLockNeedsOpenTile(t *testing.T) {
	env := newTestEnv(t)
	mustProcess(t, env, itemDrop("red", 10, "a", 3))
	lock := env.adminGrant(t, "blue", "lock")
	pos := 0
	_, err := env.Engine.ActivateGrant(env.Ctx, engine.ActivateRequest{
		GrantID: lock.Grant.ID, ActingTeamID: "blue", TargetTeamID: "red", TargetPosition: &pos,
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("locking a completed tile: %v", err)
	}
	_, err = env.Engine.ActivateGrant(env.Ctx, engine.ActivateRequest{
		GrantID: lock.Grant.ID, ActingTeamID: "blue", TargetTeamID: "red",
	})
	if !errors.As(err, &ve) {
		t.Fatalf("lock without position: %v", err)
	}
}

func TestAdminGrantIsIdempotentPerRef(t *testing.T) {
	env := newTestEnv(t)
	req := engine.GrantRequest{TeamID: "red", EffectID: "bonus-points-5", Ref: "weekly-1"}
	first, err := env.Engine.GrantEffect(env.Ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.GrantEffect(env.Ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Created || second.Created || first.Grant.ID != second.Grant.ID {
		t.Fatalf("first %+v second %+v", first, second)
	}
	if first.Immediate == nil || first.Immediate.PointsAwarded != 5 {
		t.Fatalf("immediate %+v", first.Immediate)
	}
	if got := env.score(t, "red"); got != 5 {
		t.Fatalf("score = %d, want 5", got)
	}
}
