package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"osrsbingo/internal/config"
	"osrsbingo/internal/db"
	"osrsbingo/internal/events"
	"osrsbingo/internal/notify"
	"osrsbingo/internal/repo"
	"osrsbingo/internal/requirement"
)

const (
	actorSystem = "system"
	retryDelay  = 5 * time.Millisecond
	timeLayout  = time.RFC3339
)

// Engine applies gameplay events and effect operations. Build it with New;
// copies share locks and the dedup cache.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Notifier notify.Notifier
	Log      *zap.Logger
	Now      func() time.Time

	teams *keyedLocks
	tiles *keyedLocks
	seen  *lru.Cache[string, struct{}]
}

func New(conn *sql.DB, cfg *config.Config, n notify.Notifier, log *zap.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if n == nil {
		n = notify.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	seen, err := lru.New[string, struct{}](cfg.Engine.DedupCacheSize)
	if err != nil {
		// only a non-positive size fails, and Validate rejects that
		seen, _ = lru.New[string, struct{}](1)
	}
	return Engine{
		DB:       conn,
		Repo:     repo.Repo{DB: conn},
		Config:   cfg,
		Notifier: n,
		Log:      log,
		Now:      time.Now,
		teams:    newKeyedLocks(),
		tiles:    newKeyedLocks(),
		seen:     seen,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) stamp() string { return e.now().Format(timeLayout) }

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) log() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e Engine) tierAward() requirement.TierAward {
	if e.Config != nil && e.Config.Engine.TierAward == config.TierAwardDelta {
		return requirement.TierAwardDelta
	}
	return requirement.TierAwardFirst
}

func (e Engine) maxRetries() int {
	if e.Config == nil {
		return config.Default().Engine.MaxRetries
	}
	return e.Config.Engine.MaxRetries
}

// retry runs fn until it succeeds, fails with a non-conflict error, or the
// retry budget is spent.
func (e Engine) retry(ctx context.Context, op string, fields []zap.Field, fn func() error) error {
	attempts := e.maxRetries() + 1
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if db.IsBusy(err) {
			err = errors.Join(ErrConflict, err)
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		last = err
		e.log().Debug("conflict, retrying", append(fields, zap.String("op", op), zap.Int("attempt", attempt))...)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryDelay):
		}
	}
	e.log().Error("retries exhausted", append(fields, zap.String("op", op), zap.Int("attempts", attempts), zap.Error(last))...)
	return ProcessingFailedError{Attempts: attempts, Err: last}
}

// outbox collects notifications during a transaction; flush sends them only
// after commit.
type outbox struct {
	progress    []notify.TileProgress
	grants      []notify.EffectGrant
	activations []notify.EffectActivation
}

func (e Engine) flush(ctx context.Context, ob *outbox) {
	if e.Notifier == nil || ob == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, n := range ob.progress {
		if err := e.Notifier.NotifyTileProgress(ctx, n); err != nil {
			e.log().Warn("tile progress notification failed", zap.String("board_tile_id", n.BoardTileID), zap.Error(err))
		}
	}
	for _, n := range ob.grants {
		if err := e.Notifier.NotifyEffectGrant(ctx, n); err != nil {
			e.log().Warn("grant notification failed", zap.String("grant_id", n.GrantID), zap.Error(err))
		}
	}
	for _, n := range ob.activations {
		if err := e.Notifier.NotifyEffectActivation(ctx, n); err != nil {
			e.log().Warn("activation notification failed", zap.String("grant_id", n.GrantID), zap.Error(err))
		}
	}
}

func parseStamp(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(timeLayout, *s)
	if err != nil {
		return nil
	}
	return &t
}

func formatStamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(timeLayout)
	return &s
}
