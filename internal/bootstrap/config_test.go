package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("LOG_LEVEL", "verbose")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "cp:", cfg.KeyPrefix)
	assert.Equal(t, "info", cfg.LogLevel, "无效的日志级别应回退为 info")
	assert.Equal(t, 170*time.Second, cfg.GuestSessionDuration)
	assert.Equal(t, 4*time.Second, cfg.ReactionTTL)
	assert.Equal(t, time.Second, cfg.RoomSyncTimeout)
	assert.Equal(t, time.Second, cfg.RateLimitWindow)
	assert.True(t, cfg.SimulateSpeakers)
}

func TestLoadConfig_RequiresSecrets(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("JWT_SECRET", "")

	_, err := LoadConfig()
	assert.Error(t, err, "缺少 JWT_SECRET 时应返回错误")
}
