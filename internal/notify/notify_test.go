package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"osrsbingo/internal/effects"
)

func TestDiscordPostsEmbed(t *testing.T) {
	var got discordMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL, "Bingo", time.Second, zaptest.NewLogger(t))
	err := d.NotifyTileProgress(context.Background(), TileProgress{
		TeamID: "team-a", TeamName: "Iron Men", TileName: "Whip", Position: 4,
		Summary: "Abyssal whip 1/1", IsCompleted: true, PointsAwarded: 10, NewTiers: []int{1},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bingo", got.Username)
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Iron Men completed Whip", got.Embeds[0].Title)
	assert.Equal(t, colorComplete, got.Embeds[0].Color)
	assert.Len(t, got.Embeds[0].Fields, 3)
}

func TestDiscordReportsDeliveryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL, "", time.Second, nil)
	err := d.NotifyEffectActivation(context.Background(), EffectActivation{
		SourceTeamID: "a", TargetTeamID: "b", Result: effects.ResultBlocked,
		Effect: effects.Effect{ID: "steal", Type: effects.TypePointSteal},
	})
	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, http.StatusTooManyRequests, de.Status)
	assert.Equal(t, "effect_activation", de.Channel)
}

func TestDiscordWithoutURLIsSilent(t *testing.T) {
	d := NewDiscord("", "", 0, nil)
	assert.NoError(t, d.NotifyEffectGrant(context.Background(), EffectGrant{TeamID: "a"}))
}

type blockingNotifier struct {
	Recorder
	release chan struct{}
}

func (b *blockingNotifier) NotifyTileProgress(ctx context.Context, n TileProgress) error {
	<-b.release
	return b.Recorder.NotifyTileProgress(ctx, n)
}

func TestDispatcherDoesNotBlockCaller(t *testing.T) {
	next := &blockingNotifier{release: make(chan struct{})}
	d := NewDispatcher(next, 1, time.Second, zaptest.NewLogger(t))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			_ = d.NotifyTileProgress(context.Background(), TileProgress{Position: i})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher blocked the caller")
	}
	close(next.release)
	d.Close()
	got := next.Progress()
	assert.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 2, "queue of one plus one in flight")
}

type failingNotifier struct {
	Nop
	mu    sync.Mutex
	calls int
}

func (f *failingNotifier) NotifyEffectGrant(context.Context, EffectGrant) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &DeliveryError{Channel: "effect_grant", Err: errors.New("boom")}
}

func TestDispatcherAttemptsOnce(t *testing.T) {
	next := &failingNotifier{}
	d := NewDispatcher(next, 4, time.Second, zaptest.NewLogger(t))
	require.NoError(t, d.NotifyEffectGrant(context.Background(), EffectGrant{TeamID: "a"}))
	d.Close()
	assert.Equal(t, 1, next.calls)

	// closed dispatchers drop quietly
	assert.NoError(t, d.NotifyEffectGrant(context.Background(), EffectGrant{TeamID: "a"}))
	d.Close()
}
