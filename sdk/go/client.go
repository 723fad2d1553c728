package bingosdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal bingo HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// GameEvent is one gameplay occurrence reported by the client plugin.
type GameEvent struct {
	Kind          string         `json:"kind"`
	Timestamp     string         `json:"timestamp,omitempty"`
	OsrsAccountID int64          `json:"osrs_account_id,omitempty"`
	TeamID        string         `json:"team_id"`
	DedupKey      string         `json:"dedup_key,omitempty"`
	BoardTileID   string         `json:"board_tile_id,omitempty"`
	Payload       map[string]any `json:"payload"`
}

type TileOutcome struct {
	BoardTileID   string  `json:"board_tile_id"`
	TileID        string  `json:"tile_id"`
	Position      int     `json:"position"`
	Duplicate     bool    `json:"duplicate"`
	Changed       bool    `json:"changed"`
	ProgressValue float64 `json:"progress_value"`
	IsCompleted   bool    `json:"is_completed"`
	Newly         bool    `json:"newly_completed"`
	NewTiers      []int   `json:"newly_completed_tiers"`
	PointsAwarded int     `json:"points_awarded"`
}

type EventResult struct {
	DedupKey  string        `json:"dedup_key"`
	Duplicate bool          `json:"duplicate"`
	Tiles     []TileOutcome `json:"tiles"`
}

// Grant is an effect held by a team (partial).
type Grant struct {
	ID        string  `json:"id"`
	TeamID    string  `json:"team_id"`
	EffectID  string  `json:"effect_id"`
	State     string  `json:"state"`
	GrantedAt string  `json:"granted_at"`
	ExpiresAt *string `json:"expires_at,omitempty"`
}

type Activation struct {
	Grant          Grant          `json:"grant"`
	Result         string         `json:"result"`
	DefenseGrantID string         `json:"defense_grant_id,omitempty"`
	Impact         map[string]any `json:"impact"`
}

// ActivateOptions selects the team and tile an activation is aimed at.
type ActivateOptions struct {
	ActingTeamID   string `json:"acting_team_id,omitempty"`
	TargetTeamID   string `json:"target_team_id,omitempty"`
	TargetPosition *int   `json:"target_position,omitempty"`
}

type LeaderboardEntry struct {
	Rank      int    `json:"rank"`
	TeamID    string `json:"team_id"`
	TeamName  string `json:"team_name"`
	Score     int    `json:"score"`
	Completed int    `json:"completed_tiles"`
}

// Event represents an audit log entry.
type Event struct {
	ID            int64          `json:"id"`
	TS            string         `json:"ts"`
	Type          string         `json:"type"`
	CompetitionID string         `json:"competition_id"`
	EntityKind    string         `json:"entity_kind"`
	EntityID      string         `json:"entity_id"`
	ActorID       string         `json:"actor_id"`
	Payload       map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Retryable reports whether the server declined the work without applying it.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusServiceUnavailable
}

// SubmitEvent posts a gameplay event.
func (c *Client) SubmitEvent(ctx context.Context, evt GameEvent) (EventResult, error) {
	var resp EventResult
	err := c.do(ctx, http.MethodPost, "events", evt, &resp)
	return resp, err
}

// ActivateGrant uses a manual grant.
func (c *Client) ActivateGrant(ctx context.Context, grantID string, opts ActivateOptions) (Activation, error) {
	var resp Activation
	endpoint := fmt.Sprintf("grants/%s/activate", url.PathEscape(grantID))
	err := c.do(ctx, http.MethodPost, endpoint, opts, &resp)
	return resp, err
}

// Grants lists a team's grants.
func (c *Client) Grants(ctx context.Context, teamID string) ([]Grant, error) {
	var resp []Grant
	endpoint := fmt.Sprintf("teams/%s/grants", url.PathEscape(teamID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Board returns a team's board as raw JSON.
func (c *Client) Board(ctx context.Context, teamID string) (json.RawMessage, error) {
	var resp json.RawMessage
	endpoint := fmt.Sprintf("teams/%s/board", url.PathEscape(teamID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Leaderboard(ctx context.Context, competitionID string) ([]LeaderboardEntry, error) {
	var resp []LeaderboardEntry
	endpoint := fmt.Sprintf("competitions/%s/leaderboard", url.PathEscape(competitionID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent audit events, newest first.
func (c *Client) Events(ctx context.Context, competitionID string, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("competitions/%s/events", url.PathEscape(competitionID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
