// Package config loads moodline settings in three layers: built-in defaults,
// an optional YAML file, then environment variables (highest priority).
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/intervue/moodline/internal/worker"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar overrides the config file location.
const PathEnvVar = "MOODLINE_CONFIG"

// DefaultPaths are searched in order when no path is given.
var DefaultPaths = []string{
	"moodline.yaml",
	"moodline.yml",
	"/etc/moodline/moodline.yaml",
}

// Config is the full application configuration.
type Config struct {
	Log      LogConfig      `koanf:"log"`
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Emotion  EmotionConfig  `koanf:"emotion"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // trace, debug, info, warn, error
	Format string `koanf:"format"` // json or console
	Caller bool   `koanf:"caller"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DatabaseConfig is optional; an empty URL disables sample persistence.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

type EmotionConfig struct {
	ModelPath       string        `koanf:"model_path"`
	Script          string        `koanf:"script"`
	Interpreter     string        `koanf:"interpreter"`
	InterpreterArgs []string      `koanf:"interpreter_args"`
	Mode            string        `koanf:"mode"` // cascade, direct or hybrid
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	RespawnDelay    time.Duration `koanf:"respawn_delay"`
	SpawnRetryDelay time.Duration `koanf:"spawn_retry_delay"`
	StopTimeout     time.Duration `koanf:"stop_timeout"`
	MaxPending      int           `koanf:"max_pending"`
}

// ValidModes are the detection strategies the worker understands.
var ValidModes = []string{"cascade", "direct", "hybrid"}

func defaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Emotion: EmotionConfig{
			ModelPath:       "models/best.pt",
			Script:          "emotion_service.py",
			Interpreter:     "python3",
			InterpreterArgs: []string{"-u"},
			Mode:            "cascade",
			RequestTimeout:  worker.DefaultRequestTimeout,
			RespawnDelay:    worker.DefaultRespawnDelay,
			SpawnRetryDelay: worker.DefaultSpawnRetryDelay,
			StopTimeout:     worker.DefaultStopTimeout,
			MaxPending:      worker.DefaultMaxPending,
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load builds the configuration. path may be empty, in which case
// MOODLINE_CONFIG and then DefaultPaths are tried; no file is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := splitListFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var envMappings = map[string]string{
	"emotion_model_path":        "emotion.model_path",
	"emotion_mode":              "emotion.mode",
	"emotion_script":            "emotion.script",
	"emotion_python":            "emotion.interpreter",
	"emotion_python_args":       "emotion.interpreter_args",
	"emotion_request_timeout":   "emotion.request_timeout",
	"emotion_respawn_delay":     "emotion.respawn_delay",
	"emotion_spawn_retry_delay": "emotion.spawn_retry_delay",
	"emotion_stop_timeout":      "emotion.stop_timeout",
	"emotion_max_pending":       "emotion.max_pending",

	"database_url": "database.url",

	"port":                    "server.port",
	"server_host":             "server.host",
	"server_read_timeout":     "server.read_timeout",
	"server_write_timeout":    "server.write_timeout",
	"server_shutdown_timeout": "server.shutdown_timeout",

	"log_level":  "log.level",
	"log_format": "log.format",
	"log_caller": "log.caller",
}

// envTransformFunc maps a known environment variable to its koanf path.
// Anything else maps to "" and is skipped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// listPaths arrive from the environment as space-separated strings.
var listPaths = []string{"emotion.interpreter_args"}

func splitListFields(k *koanf.Koanf) error {
	for _, path := range listPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		if err := k.Set(path, strings.Fields(s)); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// Validate checks values the rest of the program relies on.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}

	e := c.Emotion
	if e.Interpreter == "" {
		return fmt.Errorf("emotion.interpreter must not be empty")
	}
	if !validMode(e.Mode) {
		return fmt.Errorf("emotion.mode must be one of %s, got %q", strings.Join(ValidModes, ", "), e.Mode)
	}
	durations := map[string]time.Duration{
		"emotion.request_timeout":   e.RequestTimeout,
		"emotion.respawn_delay":     e.RespawnDelay,
		"emotion.spawn_retry_delay": e.SpawnRetryDelay,
		"emotion.stop_timeout":      e.StopTimeout,
		"server.shutdown_timeout":   c.Server.ShutdownTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if e.MaxPending < 1 {
		return fmt.Errorf("emotion.max_pending must be at least 1, got %d", e.MaxPending)
	}
	return nil
}

func validMode(m string) bool {
	for _, v := range ValidModes {
		if m == v {
			return true
		}
	}
	return false
}

// WorkerConfig converts the emotion section for the worker supervisor.
func (c *Config) WorkerConfig() worker.Config {
	e := c.Emotion
	return worker.Config{
		ModelPath:       e.ModelPath,
		Script:          e.Script,
		Interpreter:     e.Interpreter,
		InterpreterArgs: append([]string(nil), e.InterpreterArgs...),
		Mode:            e.Mode,
		RequestTimeout:  e.RequestTimeout,
		RespawnDelay:    e.RespawnDelay,
		SpawnRetryDelay: e.SpawnRetryDelay,
		StopTimeout:     e.StopTimeout,
		MaxPending:      e.MaxPending,
	}
}
