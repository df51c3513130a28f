package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables read by ApplyEnv.
const (
	EnvPrivateKey  = "NCI_PRIVKEY"
	EnvRelays      = "NCI_RELAYS"
	EnvLogLevel    = "NCI_LOG_LEVEL"
	EnvPublishRate = "NCI_PUBLISH_RATE"
)

// Config holds application configuration.
type Config struct {
	// Relays are the endpoints every operation talks to.
	// Empty means the built-in relay list.
	Relays []string `json:"relays,omitempty"`

	// EventSizeLimit bounds the serialized items body of one content event, in bytes.
	EventSizeLimit int `json:"event_size_limit"`

	// QueryTimeoutSeconds bounds a whole relay query.
	QueryTimeoutSeconds int `json:"query_timeout_seconds"`

	// PublishTimeoutSeconds bounds one publish to one relay.
	PublishTimeoutSeconds int `json:"publish_timeout_seconds"`

	// PublishBatch events of a sequence go out without delay; each later one
	// waits PublishDelaySeconds.
	PublishBatch        int `json:"publish_batch"`
	PublishDelaySeconds int `json:"publish_delay_seconds"`

	// PublishRatePerSecond, when positive, replaces the batch and delay with
	// a token bucket of PublishBurst events refilled at this rate.
	// PublishBurst defaults to PublishBatch.
	PublishRatePerSecond float64 `json:"publish_rate_per_second,omitempty"`
	PublishBurst         int     `json:"publish_burst,omitempty"`

	// IndexQueryLimit is the relay limit when fetching one index.
	IndexQueryLimit int `json:"index_query_limit"`

	// ListQueryLimit is the relay limit when listing metadata events.
	ListQueryLimit int `json:"list_query_limit"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `json:"log_level,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// PrivateKey comes from the environment only; it is never read from or
	// written to a config file.
	PrivateKey string `json:"-"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		EventSizeLimit:        90000,
		QueryTimeoutSeconds:   15,
		PublishTimeoutSeconds: 10,
		PublishBatch:          4,
		PublishDelaySeconds:   10,
		IndexQueryLimit:       1000,
		ListQueryLimit:        100,
		LogLevel:              "warn",
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.nci.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.nci) and repo (.nci) directories.
// Repo config is found by walking upward from startDir to find the nearest .nci/config.json.
// Repo config takes precedence for scalar values and relays; other arrays are merged.
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .nci/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".nci", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// LoadEnvFile loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// ApplyEnv overlays NCI_* variables onto cfg. getenv is usually os.Getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) *Config {
	out := *cfg
	out.Relays = append([]string(nil), cfg.Relays...)
	out.DisabledTools = append([]string(nil), cfg.DisabledTools...)

	if v := strings.TrimSpace(getenv(EnvPrivateKey)); v != "" {
		out.PrivateKey = v
	}
	if v := getenv(EnvRelays); strings.TrimSpace(v) != "" {
		out.Relays = mergeStringSlice(strings.Split(v, ","), nil)
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		out.LogLevel = v
	}
	if v := strings.TrimSpace(getenv(EnvPublishRate)); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r >= 0 {
			out.PublishRatePerSecond = r
		}
	}
	return &out
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars. A non-empty overlay relay list
// replaces the base list; disabled tools are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.EventSizeLimit = pickInt(overlay.EventSizeLimit, base.EventSizeLimit)
	result.QueryTimeoutSeconds = pickInt(overlay.QueryTimeoutSeconds, base.QueryTimeoutSeconds)
	result.PublishTimeoutSeconds = pickInt(overlay.PublishTimeoutSeconds, base.PublishTimeoutSeconds)
	result.PublishBatch = pickInt(overlay.PublishBatch, base.PublishBatch)
	result.PublishDelaySeconds = pickInt(overlay.PublishDelaySeconds, base.PublishDelaySeconds)
	result.PublishRatePerSecond = pickFloat(overlay.PublishRatePerSecond, base.PublishRatePerSecond)
	result.PublishBurst = pickInt(overlay.PublishBurst, base.PublishBurst)
	result.IndexQueryLimit = pickInt(overlay.IndexQueryLimit, base.IndexQueryLimit)
	result.ListQueryLimit = pickInt(overlay.ListQueryLimit, base.ListQueryLimit)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.LogLevel = overlay.LogLevel
	if result.LogLevel == "" {
		result.LogLevel = base.LogLevel
	}
	result.PrivateKey = overlay.PrivateKey
	if result.PrivateKey == "" {
		result.PrivateKey = base.PrivateKey
	}

	// Relays: a repo that names its relays means exactly those
	result.Relays = mergeStringSlice(overlay.Relays, nil)
	if result.Relays == nil {
		result.Relays = mergeStringSlice(base.Relays, nil)
	}

	// Arrays: merge and deduplicate
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickFloat(overlay, base float64) float64 {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
