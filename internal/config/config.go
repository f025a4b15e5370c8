package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	HTTPAddr       string
	LogLevel       string
	LogDevelopment bool

	DefaultPath    string
	AllowedOrigins []string

	AdminKey     string
	AdminKeyHash string

	Store       string
	DatabaseURL string

	Board BoardSettings
}

// BoardSettings is the court layout every board starts with. It can be read
// from the YAML file named by BOARD_CONFIG.
type BoardSettings struct {
	Courts              int           `yaml:"courts"`
	AllowCourtOverwrite bool          `yaml:"allow_court_overwrite"`
	TickInterval        time.Duration `yaml:"tick_interval"` // 0 disables the clock
	IdleTimeout         time.Duration `yaml:"idle_timeout"`  // 0 keeps boards without viewers
}

func DefaultBoardSettings() BoardSettings {
	return BoardSettings{Courts: 3, TickInterval: time.Second, IdleTimeout: 10 * time.Minute}
}

func FromEnv() (Config, error) {
	var c Config
	c.HTTPAddr = envOr("HTTP_ADDR", ":8080")
	c.LogLevel = envOr("LOG_LEVEL", "info")
	c.DefaultPath = envOr("BOARD_DEFAULT_PATH", "netplay")
	c.AllowedOrigins = splitList(os.Getenv("BOARD_ALLOWED_ORIGINS"))
	c.AdminKey = strings.TrimSpace(os.Getenv("BOARD_ADMIN_KEY"))
	c.AdminKeyHash = strings.TrimSpace(os.Getenv("BOARD_ADMIN_KEY_HASH"))
	c.Store = strings.ToLower(envOr("BOARD_STORE", StoreMemory))
	c.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	var err error
	if c.LogDevelopment, err = envBool("LOG_DEVELOPMENT", false); err != nil {
		return c, err
	}

	c.Board = DefaultBoardSettings()
	if path := strings.TrimSpace(os.Getenv("BOARD_CONFIG")); path != "" {
		if c.Board, err = LoadBoardSettings(path); err != nil {
			return c, err
		}
	}
	if raw := strings.TrimSpace(os.Getenv("BOARD_COURTS")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return c, fmt.Errorf("BOARD_COURTS: %w", err)
		}
		c.Board.Courts = n
	}
	if raw := strings.TrimSpace(os.Getenv("BOARD_IDLE_TIMEOUT")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return c, fmt.Errorf("BOARD_IDLE_TIMEOUT: %w", err)
		}
		c.Board.IdleTimeout = d
	}
	if c.Board.AllowCourtOverwrite, err = envBool("BOARD_ALLOW_COURT_OVERWRITE", c.Board.AllowCourtOverwrite); err != nil {
		return c, err
	}

	return c, c.Validate()
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is empty")
		}
	default:
		return fmt.Errorf("BOARD_STORE %q is not memory or postgres", c.Store)
	}
	if c.DefaultPath == "" {
		return fmt.Errorf("BOARD_DEFAULT_PATH is empty")
	}
	if c.Board.Courts < 1 {
		return fmt.Errorf("courts must be at least 1, got %d", c.Board.Courts)
	}
	if c.Board.TickInterval < 0 {
		return fmt.Errorf("tick_interval must not be negative")
	}
	if c.Board.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout must not be negative")
	}
	return nil
}

// LoadBoardSettings reads a YAML board file. Keys it leaves out keep their
// defaults.
func LoadBoardSettings(path string) (BoardSettings, error) {
	s := DefaultBoardSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read board config: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse board config: %w", err)
	}
	return s, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
