package bingosdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/events", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var evt GameEvent
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&evt))
		assert.Equal(t, "PET", evt.Kind)
		assert.Equal(t, "red", evt.TeamID)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"dedup_key":"k1","duplicate":false,"tiles":[{"board_tile_id":"bt1","tile_id":"pet","position":2,"changed":true,"progress_value":1,"is_completed":true,"newly_completed":true,"points_awarded":20}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "tok")
	res, err := c.SubmitEvent(context.Background(), GameEvent{
		Kind:    "PET",
		TeamID:  "red",
		Payload: map[string]any{"petName": "Olmlet"},
	})
	require.NoError(t, err)
	assert.Equal(t, "k1", res.DedupKey)
	require.Len(t, res.Tiles, 1)
	assert.True(t, res.Tiles[0].Newly)
	assert.Equal(t, 20, res.Tiles[0].PointsAwarded)
}

func TestActivateGrantDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/grants/g%201/activate", r.URL.EscapedPath())
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "blue", body["target_team_id"])
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"invalid_state","message":"grant g 1 (blocked) cannot activate: already consumed"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	_, err := c.ActivateGrant(context.Background(), "g 1", ActivateOptions{TargetTeamID: "blue"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "invalid_state", apiErr.Code)
	assert.False(t, apiErr.Retryable())
}
