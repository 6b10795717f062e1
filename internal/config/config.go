// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vsare/next-chat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete next-chat configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Chat    ChatConfig    `toml:"chat" json:"chat"`
	Backend BackendConfig `toml:"backend" json:"backend"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Metrics MetricsConfig `toml:"metrics" json:"metrics"`
	Server  ServerConfig  `toml:"server" json:"server"`
	Log     LogConfig     `toml:"log" json:"log"`
	UI      UIConfig      `toml:"ui" json:"ui"`
}

// ChatConfig controls the transcript engine.
type ChatConfig struct {
	// PageSize is the render window page size.
	PageSize int `toml:"page_size" json:"page_size"`
	// RequestTimeoutSecs is the stale threshold for streaming replies.
	RequestTimeoutSecs int `toml:"request_timeout_secs" json:"request_timeout_secs"`
	// SweepIntervalSecs is how often stale replies are swept.
	SweepIntervalSecs int `toml:"sweep_interval_secs" json:"sweep_interval_secs"`
	// PreviewBubble shows the unsent input as a trailing preview entry.
	PreviewBubble bool `toml:"preview_bubble" json:"preview_bubble"`
	// LongTextThreshold converts longer input into a text attachment. 0 disables.
	LongTextThreshold int `toml:"long_text_threshold" json:"long_text_threshold"`
	// BottomThreshold is the hit-bottom distance in pixels or rows.
	BottomThreshold int `toml:"bottom_threshold" json:"bottom_threshold"`
	// MobileBottomThreshold is BottomThreshold on narrow screens.
	MobileBottomThreshold int `toml:"mobile_bottom_threshold" json:"mobile_bottom_threshold"`
	// Greeting is shown when a conversation has no context. Empty disables.
	Greeting string `toml:"greeting" json:"greeting"`
}

// BackendConfig contains the model backend (Ollama) settings.
type BackendConfig struct {
	URL   string `toml:"url" json:"url"`
	Model string `toml:"model" json:"model"`
	// ConnectTimeoutSecs bounds connection establishment.
	ConnectTimeoutSecs int `toml:"connect_timeout_secs" json:"connect_timeout_secs"`
	// StreamIdleSecs bounds the gap between two streamed chunks. 0 disables.
	StreamIdleSecs int `toml:"stream_idle_secs" json:"stream_idle_secs"`
}

// StorageConfig contains persistence settings.
type StorageConfig struct {
	// Dir holds conversations, drafts and the metrics database.
	// Empty means ~/.nextchat.
	Dir string `toml:"dir" json:"dir"`
	// MaxConversations prunes the oldest conversations beyond this count.
	MaxConversations int `toml:"max_conversations" json:"max_conversations"`
}

// MetricsConfig contains token and latency metric settings.
type MetricsConfig struct {
	// Encoding is the tiktoken encoding used for token counts.
	Encoding string `toml:"encoding" json:"encoding"`
	// CacheSize is the number of records kept in memory.
	CacheSize int `toml:"cache_size" json:"cache_size"`
	// Persist stores records in SQLite under the storage directory.
	Persist bool `toml:"persist" json:"persist"`
	// Display is the default label: "tokens" or "delay".
	Display string `toml:"display" json:"display"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr           string   `toml:"addr" json:"addr"`
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`
	// RateLimit is requests per second per client IP. 0 disables.
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
	RateBurst int     `toml:"rate_burst" json:"rate_burst"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
	// File receives TUI logs. Empty means <storage dir>/nextchat.log.
	File string `toml:"file" json:"file"`
}

// UIConfig contains terminal UI settings.
type UIConfig struct {
	// Theme is the glamour style: "auto", "dark", "light" or "notty".
	Theme    string `toml:"theme" json:"theme"`
	WordWrap int    `toml:"word_wrap" json:"word_wrap"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Version: "1",
		Chat: ChatConfig{
			PageSize:              15,
			RequestTimeoutSecs:    60,
			SweepIntervalSecs:     5,
			PreviewBubble:         true,
			LongTextThreshold:     3000,
			BottomThreshold:       10,
			MobileBottomThreshold: 4,
			Greeting:              "Hello! How can I help you today?",
		},
		Backend: BackendConfig{
			URL:                "http://localhost:11434",
			Model:              "qwen2.5-coder:7b",
			ConnectTimeoutSecs: 10,
			StreamIdleSecs:     0,
		},
		Storage: StorageConfig{
			MaxConversations: 200,
		},
		Metrics: MetricsConfig{
			Encoding:  "cl100k_base",
			CacheSize: 4096,
			Persist:   true,
			Display:   "tokens",
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8787",
			AllowedOrigins: []string{"http://localhost:3000"},
			RateLimit:      10,
			RateBurst:      20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		UI: UIConfig{
			Theme:    "auto",
			WordWrap: 100,
		},
	}
}

// RequestTimeout returns the stale threshold.
func (c ChatConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// SweepInterval returns the sweep period.
func (c ChatConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSecs) * time.Second
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the next-chat configuration directory path.
func ConfigDir() (string, error) {
	if dir := os.Getenv("NEXTCHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".nextchat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DataDir returns the storage directory, defaulting to ConfigDir.
func (c *Config) DataDir() (string, error) {
	if c.Storage.Dir != "" {
		return expandHome(c.Storage.Dir)
	}
	return ConfigDir()
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads the configuration from the default path. A missing file yields
// the defaults. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a TOML file, falling back to defaults
// when the file does not exist.
func LoadFromPath(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ReadFile decodes the TOML file at path over the defaults without applying
// environment overrides or validation. Used to edit the file in place.
func ReadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path atomically with 0600 permissions.
func Save(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# next-chat configuration file\n")
	b.WriteString("# Environment variables NEXTCHAT_* override these values.\n\n")
	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, []byte(b.String()), 0o600, 0o700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Chat.PageSize < 1 {
		add("chat.page_size", "must be at least 1, got %d", c.Chat.PageSize)
	}
	if c.Chat.RequestTimeoutSecs < 1 {
		add("chat.request_timeout_secs", "must be at least 1, got %d", c.Chat.RequestTimeoutSecs)
	}
	if c.Chat.SweepIntervalSecs < 1 {
		add("chat.sweep_interval_secs", "must be at least 1, got %d", c.Chat.SweepIntervalSecs)
	}
	if c.Chat.LongTextThreshold < 0 {
		add("chat.long_text_threshold", "must not be negative")
	}
	if c.Chat.BottomThreshold < 0 || c.Chat.MobileBottomThreshold < 0 {
		add("chat.bottom_threshold", "thresholds must not be negative")
	}

	if c.Backend.URL == "" {
		add("backend.url", "must not be empty")
	} else if !strings.HasPrefix(c.Backend.URL, "http://") && !strings.HasPrefix(c.Backend.URL, "https://") {
		add("backend.url", "must start with http:// or https://, got %q", c.Backend.URL)
	}
	if c.Backend.ConnectTimeoutSecs < 0 || c.Backend.StreamIdleSecs < 0 {
		add("backend", "timeouts must not be negative")
	}

	if c.Storage.MaxConversations < 0 {
		add("storage.max_conversations", "must not be negative")
	}

	if c.Metrics.CacheSize < 1 {
		add("metrics.cache_size", "must be at least 1, got %d", c.Metrics.CacheSize)
	}
	switch strings.ToLower(c.Metrics.Display) {
	case "tokens", "delay":
	default:
		add("metrics.display", "invalid display %q, must be one of: tokens, delay", c.Metrics.Display)
	}

	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "must not be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		add("server.rate_burst", "must be at least 1 when rate_limit is set")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level", "invalid level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("log.format", "invalid format %q, must be one of: text, json", c.Log.Format)
	}

	switch strings.ToLower(c.UI.Theme) {
	case "auto", "dark", "light", "notty":
	default:
		add("ui.theme", "invalid theme %q, must be one of: auto, dark, light, notty", c.UI.Theme)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills zero values that have no meaningful zero.
func (c *Config) SetDefaults() {
	d := Default()
	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Backend.URL == "" {
		c.Backend.URL = d.Backend.URL
	}
	if c.Backend.Model == "" {
		c.Backend.Model = d.Backend.Model
	}
	if c.Metrics.Encoding == "" {
		c.Metrics.Encoding = d.Metrics.Encoding
	}
	if c.Metrics.Display == "" {
		c.Metrics.Display = d.Metrics.Display
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.UI.Theme == "" {
		c.UI.Theme = d.UI.Theme
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides:
//   - NEXTCHAT_MODEL: backend.model
//   - NEXTCHAT_OLLAMA_URL: backend.url
//   - NEXTCHAT_STORAGE_DIR: storage.dir
//   - NEXTCHAT_ADDR: server.addr
//   - NEXTCHAT_LOG_LEVEL: log.level
//   - NEXTCHAT_LOG_FORMAT: log.format
//   - NEXTCHAT_REQUEST_TIMEOUT: chat.request_timeout_secs
//   - NEXTCHAT_PAGE_SIZE: chat.page_size
func (c *Config) ApplyEnvOverrides() {
	if model := os.Getenv("NEXTCHAT_MODEL"); model != "" {
		c.Backend.Model = model
	}
	if url := os.Getenv("NEXTCHAT_OLLAMA_URL"); url != "" {
		c.Backend.URL = url
	}
	if dir := os.Getenv("NEXTCHAT_STORAGE_DIR"); dir != "" {
		c.Storage.Dir = dir
	}
	if addr := os.Getenv("NEXTCHAT_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if level := os.Getenv("NEXTCHAT_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("NEXTCHAT_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}
	if v := os.Getenv("NEXTCHAT_REQUEST_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Chat.RequestTimeoutSecs = n
		}
	}
	if v := os.Getenv("NEXTCHAT_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Chat.PageSize = n
		}
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "chat.page_size").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field type.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})
	var result strings.Builder
	for _, part := range parts {
		result.WriteString(strings.ToUpper(part[:1]))
		result.WriteString(strings.ToLower(part[1:]))
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface value with type conversion.
func setFieldValue(field reflect.Value, value any) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %w", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %w", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(lower == "1" || lower == "true" || lower == "yes")
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, s := range strings.Split(strVal, ",") {
					if s = strings.TrimSpace(s); s != "" {
						items = append(items, s)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	return &clone
}

// String returns the configuration as TOML.
func (c *Config) String() string {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return b.String()
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
