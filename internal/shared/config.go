package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Database   DatabaseConfig   `toml:"database"`
	Storage    StorageConfig    `toml:"storage"`
	Transcoder TranscoderConfig `toml:"transcoder"`
	Queue      QueueConfig      `toml:"queue"`
	Pool       PoolConfig       `toml:"pool"`
	Automation AutomationConfig `toml:"automation"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	PublicURL      string   `toml:"public_url"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// DatabaseConfig contains database connection settings.
//
// Path is a file path for sqlite3 and a connection string for postgres.
type DatabaseConfig struct {
	Driver       string `toml:"driver"`
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// StorageConfig locates session assets and rendered videos.
type StorageConfig struct {
	SessionsDir string        `toml:"sessions_dir"`
	OutputDir   string        `toml:"output_dir"`
	SessionTTL  time.Duration `toml:"session_ttl"`
}

// TranscoderConfig contains ffmpeg settings for the video assembler.
type TranscoderConfig struct {
	FFmpeg         string        `toml:"ffmpeg"`
	FFprobe        string        `toml:"ffprobe"`
	FrameRate      int           `toml:"frame_rate"`
	Preset         string        `toml:"preset"`
	MaxLoopSeconds int           `toml:"max_loop_seconds"`
	MuxAttempts    int           `toml:"mux_attempts"`
	MuxRetryDelay  time.Duration `toml:"mux_retry_delay"`
	WatermarkText  string        `toml:"watermark_text"`
	WatermarkIcon  string        `toml:"watermark_icon"`
	FontFile       string        `toml:"font_file"`
}

// QueueConfig contains job queue timings.
type QueueConfig struct {
	CleanupDelay time.Duration `toml:"cleanup_delay"`
	StatusTTL    time.Duration `toml:"status_ttl"`
}

// PoolConfig contains the credential pool, its limits and the publishing API location.
type PoolConfig struct {
	APIURL            string             `toml:"api_url"`
	MonthlyQuota      int                `toml:"monthly_quota"`
	DisplacementGrace time.Duration      `toml:"displacement_grace"`
	IdleThreshold     time.Duration      `toml:"idle_threshold"`
	ReapInterval      time.Duration      `toml:"reap_interval"`
	RequestsPerSecond float64            `toml:"requests_per_second"`
	MediaPollInterval time.Duration      `toml:"media_poll_interval"`
	MediaPollTimeout  time.Duration      `toml:"media_poll_timeout"`
	Ledger            string             `toml:"ledger"`
	LedgerPath        string             `toml:"ledger_path"`
	Credentials       []CredentialConfig `toml:"credentials"`
}

// CredentialConfig is one API key backing a credential instance.
type CredentialConfig struct {
	ID  string `toml:"id"`
	Key string `toml:"key"`
}

// AutomationConfig contains the round-robin scheduling policy.
type AutomationConfig struct {
	CycleLength  int           `toml:"cycle_length"`
	DelayOdds    float64       `toml:"delay_odds"`
	MinDelay     time.Duration `toml:"min_delay"`
	MaxDelay     time.Duration `toml:"max_delay"`
	EarliestHour int           `toml:"earliest_hour"`
	LatestHour   int           `toml:"latest_hour"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the embedded defaults, and environment overrides are applied last.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	config.Pool.Credentials = nil
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.ApplyEnv()
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s: %w", path, err)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadEnv loads variables from the given dotenv files into the process environment.
//
// Missing files are skipped; defaults to ".env".
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides secrets from the environment.
//
// VIDPUB_API_URL replaces the API base URL and VIDPUB_CREDENTIAL_<ID> replaces the key of the credential with that id.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("VIDPUB_API_URL"); v != "" {
		c.Pool.APIURL = v
	}
	for i, cred := range c.Pool.Credentials {
		if v := os.Getenv(CredentialEnvKey(cred.ID)); v != "" {
			c.Pool.Credentials[i].Key = v
		}
	}
}

// CredentialEnvKey returns the environment variable consulted for a credential's key.
func CredentialEnvKey(id string) string {
	r := strings.NewReplacer("-", "_", ".", "_", " ", "_")
	return "VIDPUB_CREDENTIAL_" + strings.ToUpper(r.Replace(id))
}

// Validate checks the settings that the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.Pool.MonthlyQuota <= 0 {
		return fmt.Errorf("%w: pool.monthly_quota must be positive", ErrInvalidConfig)
	}
	if c.Transcoder.MaxLoopSeconds <= 0 {
		return fmt.Errorf("%w: transcoder.max_loop_seconds must be positive", ErrInvalidConfig)
	}
	if c.Transcoder.FrameRate <= 0 {
		return fmt.Errorf("%w: transcoder.frame_rate must be positive", ErrInvalidConfig)
	}
	if c.Automation.CycleLength <= 0 {
		return fmt.Errorf("%w: automation.cycle_length must be positive", ErrInvalidConfig)
	}
	if c.Automation.EarliestHour < 0 || c.Automation.LatestHour > 23 || c.Automation.EarliestHour > c.Automation.LatestHour {
		return fmt.Errorf("%w: automation hours must satisfy 0 <= earliest <= latest <= 23", ErrInvalidConfig)
	}
	switch c.Pool.Ledger {
	case "sql", "json":
	default:
		return fmt.Errorf("%w: pool.ledger must be \"sql\" or \"json\", got %q", ErrInvalidConfig, c.Pool.Ledger)
	}

	seen := make(map[string]bool, len(c.Pool.Credentials))
	for _, cred := range c.Pool.Credentials {
		if cred.ID == "" || cred.Key == "" {
			return fmt.Errorf("%w: every pool credential needs an id and a key", ErrMissingCredentials)
		}
		if seen[cred.ID] {
			return fmt.Errorf("%w: duplicate credential id %q", ErrInvalidConfig, cred.ID)
		}
		seen[cred.ID] = true
	}
	return nil
}
