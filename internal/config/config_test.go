package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Redis.Host)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, "https://api.velar.co", cfg.Protocols.VelarBaseURL)
	assert.Equal(t, "https://api.alexgo.io", cfg.Protocols.AlexBaseURL)
	assert.Equal(t, 15, cfg.Protocols.Timeout)
	assert.Equal(t, "yieldr:", cfg.Cache.KeyPrefix)
	assert.False(t, cfg.Recommendation.AIEnabled)
	assert.Equal(t, 1000.0, cfg.Updater.MaxAPY)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("ENVIRONMENT", "Production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "production", cfg.Environment, "environment is normalized to lowercase")
}

func TestLoadRejectsStaleBeyondTTL(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("CACHE_TTL", "1m")
	t.Setenv("CACHE_STALE_THRESHOLD", "2m")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadUpdaterInterval(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("UPDATER_INTERVAL", "soon")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRequiresAPIKeyWhenAIEnabled(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("RECOMMENDATION_AI_ENABLED", "true")

	_, err := Load()
	assert.Error(t, err)
}

func TestCacheConfigDurations(t *testing.T) {
	cc := CacheConfig{TTL: "5m", StaleThreshold: "90s"}
	assert.Equal(t, 5*time.Minute, cc.CacheTTL())
	assert.Equal(t, 90*time.Second, cc.StaleAfter())
}
