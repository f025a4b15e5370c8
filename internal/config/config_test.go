package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"HTTP_ADDR", "LOG_LEVEL", "LOG_DEVELOPMENT", "BOARD_DEFAULT_PATH",
	"BOARD_ALLOWED_ORIGINS", "BOARD_ADMIN_KEY", "BOARD_ADMIN_KEY_HASH",
	"BOARD_STORE", "DATABASE_URL", "BOARD_CONFIG", "BOARD_COURTS",
	"BOARD_ALLOW_COURT_OVERWRITE", "BOARD_IDLE_TIMEOUT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "board.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	c, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Equal(t, "info", c.LogLevel)
	assert.False(t, c.LogDevelopment)
	assert.Equal(t, "netplay", c.DefaultPath)
	assert.Equal(t, StoreMemory, c.Store)
	assert.Empty(t, c.AllowedOrigins)
	assert.Equal(t, DefaultBoardSettings(), c.Board)
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("LOG_DEVELOPMENT", "true")
	t.Setenv("BOARD_DEFAULT_PATH", "club")
	t.Setenv("BOARD_ALLOWED_ORIGINS", "a.example.com, ,b.example.com")
	t.Setenv("BOARD_STORE", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/board")
	t.Setenv("BOARD_CONFIG", writeFile(t, "courts: 5\nallow_court_overwrite: true\ntick_interval: 250ms\n"))
	t.Setenv("BOARD_COURTS", "2")
	t.Setenv("BOARD_IDLE_TIMEOUT", "90s")

	c, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9000", c.HTTPAddr)
	assert.True(t, c.LogDevelopment)
	assert.Equal(t, "club", c.DefaultPath)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, c.AllowedOrigins)
	assert.Equal(t, StorePostgres, c.Store)
	// env wins over the file
	assert.Equal(t, 2, c.Board.Courts)
	assert.True(t, c.Board.AllowCourtOverwrite)
	assert.Equal(t, 250*time.Millisecond, c.Board.TickInterval)
	assert.Equal(t, 90*time.Second, c.Board.IdleTimeout)
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown store", env: map[string]string{"BOARD_STORE": "redis"}},
		{name: "postgres without url", env: map[string]string{"BOARD_STORE": "postgres"}},
		{name: "zero courts", env: map[string]string{"BOARD_COURTS": "0"}},
		{name: "courts not a number", env: map[string]string{"BOARD_COURTS": "three"}},
		{name: "bad bool", env: map[string]string{"BOARD_ALLOW_COURT_OVERWRITE": "sometimes"}},
		{name: "bad idle timeout", env: map[string]string{"BOARD_IDLE_TIMEOUT": "soon"}},
		{name: "negative idle timeout", env: map[string]string{"BOARD_IDLE_TIMEOUT": "-1s"}},
		{name: "missing file", env: map[string]string{"BOARD_CONFIG": "/nonexistent/board.yaml"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			require.Error(t, err)
		})
	}
}

func TestLoadBoardSettings_PartialKeepsDefaults(t *testing.T) {
	s, err := LoadBoardSettings(writeFile(t, "courts: 4\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, s.Courts)
	assert.Equal(t, time.Second, s.TickInterval)
	assert.Equal(t, 10*time.Minute, s.IdleTimeout)
	assert.False(t, s.AllowCourtOverwrite)
}

func TestLoadBoardSettings_BadYAML(t *testing.T) {
	_, err := LoadBoardSettings(writeFile(t, "courts: [1, 2\n"))
	require.Error(t, err)
}
