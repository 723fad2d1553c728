package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Engine.MaxRetries)
	assert.Equal(t, TierAwardFirst, cfg.Engine.TierAward)
	assert.Equal(t, AttributionLastEvent, cfg.Engine.Attribution)
	assert.Equal(t, 5, cfg.Notifications.Discord.TimeoutSeconds)
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
engine:
  tier_award: Delta
  attribution: sole_contributor
notifications:
  discord:
    webhook_url: https://discord.example/api/webhooks/1/abc
`))
	require.NoError(t, err)
	assert.Equal(t, TierAwardDelta, cfg.Engine.TierAward)
	assert.Equal(t, AttributionSoleContributor, cfg.Engine.Attribution)
	assert.Equal(t, 3, cfg.Engine.MaxRetries, "unset keys keep defaults")
	assert.Equal(t, "https://discord.example/api/webhooks/1/abc", cfg.Notifications.Discord.WebhookURL)
}

func TestFromYAMLRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"tier award":  "engine:\n  tier_award: stacking\n",
		"attribution": "engine:\n  attribution: everyone\n",
		"retries":     "engine:\n  max_retries: -1\n",
		"cache":       "engine:\n  dedup_cache_size: 0\n",
		"webhook":     "notifications:\n  discord:\n    webhook_url: ftp://nope\n",
		"base path":   "server:\n  base_path: api\n",
		"yaml":        "engine: [",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bingo.yml"), []byte("engine:\n  max_retries: 7\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Engine.MaxRetries)
}
