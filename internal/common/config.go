package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config is the bootstrap configuration loaded before storage exists.
// Pipeline tuning (scheduler windows, match policy, budgets) lives in the
// settings registry instead, so it can change at runtime without a restart.
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Scraper     ScraperConfig   `toml:"scraper"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Mail        MailConfig      `toml:"mail"`
	Claude      ClaudeConfig    `toml:"claude"`
	Gemini      GeminiConfig    `toml:"gemini"`
	Seeds       SeedsConfig     `toml:"seeds"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host" validate:"required"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig holds the embedded store location.
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"`
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level         string   `toml:"level" validate:"oneof=debug info warn error"`
	Format        string   `toml:"format"`          // "json" or "text"
	Output        []string `toml:"output"`          // "stdout", "file"
	MinEventLevel string   `toml:"min_event_level"` // Minimum log level to publish as UI events
}

// ScraperConfig holds HTTP-level fetch defaults. Per-source politeness
// (requests/minute, render mode) is stored on the source itself; these are
// the fallbacks.
type ScraperConfig struct {
	UserAgent         string        `toml:"user_agent"`
	RequestTimeout    time.Duration `toml:"request_timeout"`
	MaxBodySize       int           `toml:"max_body_size"`       // Maximum response body size in bytes
	RequestsPerMinute int           `toml:"requests_per_minute"` // Default per-host rate when the source sets none
	MaxRedirects      int           `toml:"max_redirects"`
	BrowserEnabled    bool          `toml:"browser_enabled"`  // Allow chromedp rendering for render_mode=browser sources
	BrowserWaitTime   time.Duration `toml:"browser_wait_time"`
}

// WebSocketConfig controls the event stream pushed to UI clients.
type WebSocketConfig struct {
	// Whitelist of event types to broadcast. Empty list allows all events.
	AllowedEvents []string `toml:"allowed_events"`
	// Throttle intervals for high-frequency events, event type -> duration string.
	// Example: {"item_enqueued": "500ms"}
	ThrottleIntervals map[string]string `toml:"throttle_intervals"`
}

// MailConfig drives the IMAP intake watcher. Disabled unless credentials
// are present.
type MailConfig struct {
	Enabled             bool     `toml:"enabled"`
	Server              string   `toml:"server"` // host:port, implicit TLS
	Username            string   `toml:"username"`
	Password            string   `toml:"password"`
	Folder              string   `toml:"folder"`
	PollIntervalMinutes int      `toml:"poll_interval_minutes" validate:"min=0"`
	AllowedSenders      []string `toml:"allowed_senders"` // Empty = accept any sender
}

// ClaudeConfig carries the Anthropic credential. Model selection lives in
// ai-settings.
type ClaudeConfig struct {
	APIKey string `toml:"api_key"`
}

// GeminiConfig carries the Google credential. Model selection lives in
// ai-settings.
type GeminiConfig struct {
	APIKey string `toml:"api_key"`
}

// SeedsConfig points at optional seed files loaded into storage on startup.
type SeedsConfig struct {
	SourcesDir  string `toml:"sources_dir"`  // Directory of source definition TOML files
	ProfilePath string `toml:"profile_path"` // Candidate profile YAML
}

// NewDefaultConfig creates a configuration with default values. Only
// user-facing settings belong in jobfinder.toml; technical parameters are
// hardcoded for stability.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "text",
			Output:        []string{"stdout", "file"},
			MinEventLevel: "info",
		},
		Scraper: ScraperConfig{
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			RequestTimeout:    30 * time.Second,
			MaxBodySize:       10 * 1024 * 1024, // 10MB
			RequestsPerMinute: 10,
			MaxRedirects:      5,
			BrowserEnabled:    true,
			BrowserWaitTime:   3 * time.Second,
		},
		WebSocket: WebSocketConfig{
			AllowedEvents: []string{},
			ThrottleIntervals: map[string]string{
				"item_enqueued":  "500ms",
				"item_completed": "500ms",
			},
		},
		Mail: MailConfig{
			Enabled:             false,
			Folder:              "INBOX",
			PollIntervalMinutes: 10,
		},
		Seeds: SeedsConfig{
			SourcesDir:  "./seeds",
			ProfilePath: "./profile.yaml",
		},
	}
}

// LoadFromFiles loads configuration with priority:
// defaults -> file1 -> file2 -> ... -> env -> CLI flags.
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks structural constraints on the loaded configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Mail.Enabled && (c.Mail.Server == "" || c.Mail.Username == "") {
		return fmt.Errorf("invalid configuration: mail intake enabled without server/username")
	}
	return nil
}

// applyEnvOverrides applies JOBFINDER_* environment variable overrides.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("JOBFINDER_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server
	if port := os.Getenv("JOBFINDER_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("JOBFINDER_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage
	if badgerPath := os.Getenv("JOBFINDER_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging
	if level := os.Getenv("JOBFINDER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("JOBFINDER_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("JOBFINDER_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
	if minEventLevel := os.Getenv("JOBFINDER_LOG_MIN_EVENT_LEVEL"); minEventLevel != "" {
		config.Logging.MinEventLevel = minEventLevel
	}

	// Scraper
	if userAgent := os.Getenv("JOBFINDER_SCRAPER_USER_AGENT"); userAgent != "" {
		config.Scraper.UserAgent = userAgent
	}
	if requestTimeout := os.Getenv("JOBFINDER_SCRAPER_REQUEST_TIMEOUT"); requestTimeout != "" {
		if rt, err := time.ParseDuration(requestTimeout); err == nil {
			config.Scraper.RequestTimeout = rt
		}
	}
	if rpm := os.Getenv("JOBFINDER_SCRAPER_REQUESTS_PER_MINUTE"); rpm != "" {
		if n, err := strconv.Atoi(rpm); err == nil {
			config.Scraper.RequestsPerMinute = n
		}
	}
	if browserEnabled := os.Getenv("JOBFINDER_SCRAPER_BROWSER_ENABLED"); browserEnabled != "" {
		if b, err := strconv.ParseBool(browserEnabled); err == nil {
			config.Scraper.BrowserEnabled = b
		}
	}

	// Mail intake
	if enabled := os.Getenv("JOBFINDER_MAIL_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Mail.Enabled = b
		}
	}
	if server := os.Getenv("JOBFINDER_MAIL_SERVER"); server != "" {
		config.Mail.Server = server
	}
	if username := os.Getenv("JOBFINDER_MAIL_USERNAME"); username != "" {
		config.Mail.Username = username
	}
	if password := os.Getenv("JOBFINDER_MAIL_PASSWORD"); password != "" {
		config.Mail.Password = password
	}
	if folder := os.Getenv("JOBFINDER_MAIL_FOLDER"); folder != "" {
		config.Mail.Folder = folder
	}

	// Provider credentials. The standard vendor variables are honored so
	// keys never have to live in the config file.
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	}
	if apiKey := os.Getenv("JOBFINDER_CLAUDE_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	}
	if apiKey := os.Getenv("JOBFINDER_GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	}

	// Seeds
	if sourcesDir := os.Getenv("JOBFINDER_SEEDS_SOURCES_DIR"); sourcesDir != "" {
		config.Seeds.SourcesDir = sourcesDir
	}
	if profilePath := os.Getenv("JOBFINDER_PROFILE_PATH"); profilePath != "" {
		config.Seeds.ProfilePath = profilePath
	}
}

// ApplyFlagOverrides applies command-line flag overrides, the highest
// priority layer.
func ApplyFlagOverrides(config *Config, port int, host, dataDir string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
	if dataDir != "" {
		config.Storage.Badger.Path = dataDir
	}
}

// IsProduction returns true if the environment is set to production.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// DeepCloneConfig creates a deep copy so callers can hand out snapshots
// without exposing the original to mutation.
func DeepCloneConfig(c *Config) *Config {
	if c == nil {
		return nil
	}

	clone := *c

	if len(c.Logging.Output) > 0 {
		clone.Logging.Output = make([]string, len(c.Logging.Output))
		copy(clone.Logging.Output, c.Logging.Output)
	}

	if len(c.WebSocket.AllowedEvents) > 0 {
		clone.WebSocket.AllowedEvents = make([]string, len(c.WebSocket.AllowedEvents))
		copy(clone.WebSocket.AllowedEvents, c.WebSocket.AllowedEvents)
	}

	if len(c.WebSocket.ThrottleIntervals) > 0 {
		clone.WebSocket.ThrottleIntervals = make(map[string]string, len(c.WebSocket.ThrottleIntervals))
		for k, v := range c.WebSocket.ThrottleIntervals {
			clone.WebSocket.ThrottleIntervals[k] = v
		}
	}

	if len(c.Mail.AllowedSenders) > 0 {
		clone.Mail.AllowedSenders = make([]string, len(c.Mail.AllowedSenders))
		copy(clone.Mail.AllowedSenders, c.Mail.AllowedSenders)
	}

	return &clone
}
