package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/obslog"
	yaml "gopkg.in/yaml.v3"
)

type AppConfig struct {
	WSAddr   string
	HTTPAddr string

	RedisURL    string
	DatabaseURL string
	SessionTTL  time.Duration

	StockfishPath      string
	PolyglotBookPath   string
	BotDefaultTier     string
	OracleTimeout      time.Duration
	BotMoveDelay       time.Duration
	BotFirstMoveDelay  time.Duration
	SweepInterval      time.Duration
	DefaultTimeControl string

	EngineThreads    int
	EngineHashMB     int
	EngineSkillLevel int
	EnginePoolSize   int

	MessagesDir string

	Log obslog.Options
}

// fileConfig mirrors AppConfig for the optional ARENA_CONFIG yaml file.
type fileConfig struct {
	WSAddr             string `yaml:"ws_addr"`
	HTTPAddr           string `yaml:"http_addr"`
	RedisURL           string `yaml:"redis_url"`
	DatabaseURL        string `yaml:"database_url"`
	SessionTTL         string `yaml:"session_ttl"`
	StockfishPath      string `yaml:"stockfish_path"`
	PolyglotBookPath   string `yaml:"polyglot_book_path"`
	BotDefaultTier     string `yaml:"bot_default_tier"`
	OracleTimeout      string `yaml:"oracle_timeout"`
	BotMoveDelay       string `yaml:"bot_move_delay"`
	BotFirstMoveDelay  string `yaml:"bot_first_move_delay"`
	SweepInterval      string `yaml:"sweep_interval"`
	DefaultTimeControl string `yaml:"default_time_control"`
	EngineThreads      string `yaml:"engine_threads"`
	EngineHashMB       string `yaml:"engine_hash_mb"`
	EngineSkillLevel   string `yaml:"engine_skill_level"`
	EnginePoolSize     string `yaml:"engine_pool_size"`
	MessagesDir        string `yaml:"messages_dir"`
	LogLevel           string `yaml:"log_level"`
	LogFormat          string `yaml:"log_format"`
}

func defaults() *AppConfig {
	return &AppConfig{
		WSAddr:             ":8080",
		HTTPAddr:           ":8081",
		SessionTTL:         24 * time.Hour,
		BotDefaultTier:     "random",
		OracleTimeout:      3 * time.Second,
		BotMoveDelay:       500 * time.Millisecond,
		BotFirstMoveDelay:  time.Second,
		SweepInterval:      time.Second,
		DefaultTimeControl: "10+0",
		EngineThreads:      1,
		EngineHashMB:       64,
		EngineSkillLevel:   20,
		Log:                obslog.OptionsFromEnv(),
	}
}

// Load builds the config from defaults, the optional ARENA_CONFIG file and the environment,
// in that order of precedence (environment wins).
func Load() (*AppConfig, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("ARENA_CONFIG")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	lookup := func(k string) string {
		switch k {
		case "WS_ADDR":
			return fc.WSAddr
		case "HTTP_ADDR":
			return fc.HTTPAddr
		case "REDIS_URL":
			return fc.RedisURL
		case "DATABASE_URL":
			return fc.DatabaseURL
		case "SESSION_TTL":
			return fc.SessionTTL
		case "STOCKFISH_PATH":
			return fc.StockfishPath
		case "POLYGLOT_BOOK_PATH":
			return fc.PolyglotBookPath
		case "BOT_DEFAULT_TIER":
			return fc.BotDefaultTier
		case "ORACLE_TIMEOUT":
			return fc.OracleTimeout
		case "BOT_MOVE_DELAY":
			return fc.BotMoveDelay
		case "BOT_FIRST_MOVE_DELAY":
			return fc.BotFirstMoveDelay
		case "SWEEP_INTERVAL":
			return fc.SweepInterval
		case "DEFAULT_TIME_CONTROL":
			return fc.DefaultTimeControl
		case "ENGINE_THREADS":
			return fc.EngineThreads
		case "ENGINE_HASH_MB":
			return fc.EngineHashMB
		case "ENGINE_SKILL_LEVEL":
			return fc.EngineSkillLevel
		case "ENGINE_POOL_SIZE":
			return fc.EnginePoolSize
		case "MESSAGES_DIR":
			return fc.MessagesDir
		case "LOG_LEVEL":
			return fc.LogLevel
		case "LOG_FORMAT":
			return fc.LogFormat
		}
		return ""
	}
	return c.applyEnv(lookup)
}

func (c *AppConfig) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s is invalid: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("WS_ADDR", &c.WSAddr)
	str("HTTP_ADDR", &c.HTTPAddr)
	str("REDIS_URL", &c.RedisURL)
	str("DATABASE_URL", &c.DatabaseURL)
	str("STOCKFISH_PATH", &c.StockfishPath)
	str("POLYGLOT_BOOK_PATH", &c.PolyglotBookPath)
	str("BOT_DEFAULT_TIER", &c.BotDefaultTier)
	str("DEFAULT_TIME_CONTROL", &c.DefaultTimeControl)
	str("MESSAGES_DIR", &c.MessagesDir)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	for key, dst := range map[string]*time.Duration{
		"SESSION_TTL":          &c.SessionTTL,
		"ORACLE_TIMEOUT":       &c.OracleTimeout,
		"BOT_MOVE_DELAY":       &c.BotMoveDelay,
		"BOT_FIRST_MOVE_DELAY": &c.BotFirstMoveDelay,
		"SWEEP_INTERVAL":       &c.SweepInterval,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	for key, dst := range map[string]*int{
		"ENGINE_THREADS":     &c.EngineThreads,
		"ENGINE_HASH_MB":     &c.EngineHashMB,
		"ENGINE_SKILL_LEVEL": &c.EngineSkillLevel,
		"ENGINE_POOL_SIZE":   &c.EnginePoolSize,
	} {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s is invalid: %w", key, err)
		}
		*dst = n
	}
	c.BotDefaultTier = strings.ToLower(c.BotDefaultTier)
	return nil
}

// Validate checks ranges and enumerations.
func (c *AppConfig) Validate() error {
	if c.WSAddr == "" {
		return errors.New("WS_ADDR is required")
	}
	if c.HTTPAddr == "" {
		return errors.New("HTTP_ADDR is required")
	}
	switch c.BotDefaultTier {
	case "random", "medium", "hard":
	default:
		return fmt.Errorf("BOT_DEFAULT_TIER is invalid: %q", c.BotDefaultTier)
	}
	if c.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be positive")
	}
	if c.OracleTimeout <= 0 {
		return errors.New("ORACLE_TIMEOUT must be positive")
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	if c.EngineHashMB <= 0 || c.EngineSkillLevel < 0 || c.EngineSkillLevel > 20 {
		return errors.New("ENGINE_HASH_MB must be positive and ENGINE_SKILL_LEVEL within 0-20")
	}
	if c.BotMoveDelay < 0 || c.BotFirstMoveDelay < 0 {
		return errors.New("BOT_MOVE_DELAY and BOT_FIRST_MOVE_DELAY must not be negative")
	}
	return nil
}
