package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"osrsbingo/internal/effects"
)

const defaultDiscordTimeout = 5 * time.Second

const (
	colorProgress = 0x3498db
	colorComplete = 0x2ecc71
	colorEffect   = 0x9b59b6
	colorAttack   = 0xe74c3c
)

// Discord posts notifications to a Discord webhook, one attempt each.
type Discord struct {
	URL      string
	Username string
	Client   *http.Client
	Log      *zap.Logger
}

func NewDiscord(url, username string, timeout time.Duration, log *zap.Logger) *Discord {
	if timeout <= 0 {
		timeout = defaultDiscordTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Discord{URL: url, Username: username, Client: &http.Client{Timeout: timeout}, Log: log}
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
}

type discordMessage struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

func (d *Discord) NotifyTileProgress(ctx context.Context, n TileProgress) error {
	team := nonEmpty(n.TeamName, n.TeamID)
	tile := nonEmpty(n.TileName, n.TileID)
	embed := discordEmbed{
		Title:       fmt.Sprintf("%s progressed on %s", team, tile),
		Description: n.Summary,
		Color:       colorProgress,
		Fields:      []discordField{{Name: "Position", Value: fmt.Sprint(n.Position), Inline: true}},
	}
	if n.IsCompleted {
		embed.Title = fmt.Sprintf("%s completed %s", team, tile)
		embed.Color = colorComplete
	}
	if len(n.NewTiers) > 0 {
		tiers := make([]string, len(n.NewTiers))
		for i, t := range n.NewTiers {
			tiers[i] = fmt.Sprint(t)
		}
		embed.Fields = append(embed.Fields, discordField{Name: "New tiers", Value: strings.Join(tiers, ", "), Inline: true})
	}
	if n.PointsAwarded != 0 {
		embed.Fields = append(embed.Fields, discordField{Name: "Points", Value: fmt.Sprintf("%+d", n.PointsAwarded), Inline: true})
	}
	return d.post(ctx, "tile_progress", embed)
}

func (d *Discord) NotifyEffectGrant(ctx context.Context, n EffectGrant) error {
	embed := discordEmbed{
		Title:       fmt.Sprintf("%s earned %s", n.TeamID, nonEmpty(n.Effect.Name, n.Effect.ID)),
		Description: n.Effect.Description,
		Color:       colorEffect,
		Fields: []discordField{
			{Name: "Source", Value: string(n.Source), Inline: true},
			{Name: "Trigger", Value: string(n.Trigger), Inline: true},
		},
	}
	if n.Immediate != nil {
		embed.Fields = append(embed.Fields, discordField{Name: "Applied", Value: fmt.Sprintf("%s, %+d points", n.Immediate.Result, n.Immediate.PointsAwarded)})
	}
	return d.post(ctx, "effect_grant", embed)
}

func (d *Discord) NotifyEffectActivation(ctx context.Context, n EffectActivation) error {
	title := fmt.Sprintf("%s used %s", n.SourceTeamID, nonEmpty(n.Effect.Name, n.Effect.ID))
	if n.TargetTeamID != "" {
		title += " on " + n.TargetTeamID
	}
	color := colorEffect
	if n.Effect.Type.Offensive() {
		color = colorAttack
	}
	var desc string
	switch n.Result {
	case effects.ResultBlocked:
		desc = "Blocked by a shield."
	case effects.ResultReflected:
		desc = "Reflected back at the attacker."
	}
	return d.post(ctx, "effect_activation", discordEmbed{
		Title:       title,
		Description: desc,
		Color:       color,
		Fields:      []discordField{{Name: "Result", Value: string(n.Result), Inline: true}},
	})
}

func (d *Discord) post(ctx context.Context, channel string, embed discordEmbed) error {
	if strings.TrimSpace(d.URL) == "" {
		return nil
	}
	data, err := json.Marshal(discordMessage{Username: d.Username, Embeds: []discordEmbed{embed}})
	if err != nil {
		return &DeliveryError{Channel: channel, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(data))
	if err != nil {
		return &DeliveryError{Channel: channel, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: defaultDiscordTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return &DeliveryError{Channel: channel, Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &DeliveryError{Channel: channel, Status: res.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(body)))}
	}
	d.Log.Debug("notification delivered", zap.String("channel", channel))
	return nil
}

func nonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
