package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: sqlite\n")

	cfg, err := Load("test", path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "google/gemini-2.5-flash", cfg.AI.DefaultModel)
	assert.InDelta(t, 0.7, cfg.AI.DefaultTemperature, 1e-9)
	assert.Equal(t, int64(5), cfg.Credits.DefaultCredits)
	assert.Equal(t, int64(1), cfg.Credits.CostPerRequest)
	assert.Equal(t, "inline", cfg.Usage.Dispatch)
	assert.Equal(t, "jwt", cfg.Auth.SessionMode)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: sqlite\nai:\n  api_key: from-file\n")
	t.Setenv("APP_AI_API_KEY", "from-env")
	t.Setenv("APP_CREDITS_COST_PER_REQUEST", "3")

	cfg, err := Load("test", path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.AI.APIKey)
	assert.Equal(t, int64(3), cfg.Credits.CostPerRequest)
}

func TestLoad_IndependentInstances(t *testing.T) {
	first, err := Load("test", writeConfig(t, "database:\n  driver: sqlite\ncredits:\n  cost_per_request: 2\n"))
	require.NoError(t, err)
	second, err := Load("test", writeConfig(t, "database:\n  driver: sqlite\ncredits:\n  cost_per_request: 4\n"))
	require.NoError(t, err)

	// 每次加载返回独立的配置，后一次加载不影响已持有的实例
	assert.NotSame(t, first, second)
	assert.Equal(t, int64(2), first.Credits.CostPerRequest)
	assert.Equal(t, int64(4), second.Credits.CostPerRequest)
}

func TestValidate(t *testing.T) {
	t.Run("未知数据库驱动", func(t *testing.T) {
		path := writeConfig(t, "database:\n  driver: oracle\n")
		_, err := Load("test", path)
		assert.Error(t, err)
	})

	t.Run("queue 模式需要 Redis", func(t *testing.T) {
		path := writeConfig(t, "database:\n  driver: sqlite\nusage:\n  dispatch: queue\n")
		_, err := Load("test", path)
		assert.Error(t, err)
	})

	t.Run("remote 模式需要身份提供方地址", func(t *testing.T) {
		path := writeConfig(t, "database:\n  driver: sqlite\nauth:\n  session_mode: remote\n")
		_, err := Load("test", path)
		assert.Error(t, err)
	})
}

func TestDatabaseConfig_GetDSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", DBName: "jeesi", SSLMode: "require"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=jeesi sslmode=require", pg.GetDSN())

	lite := DatabaseConfig{Driver: "sqlite", Path: "/tmp/jeesi.db"}
	assert.Equal(t, "/tmp/jeesi.db", lite.GetDSN())
}
