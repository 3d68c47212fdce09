package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Sync modes
const (
	ModeFull         = "full"
	ModeDownloadOnly = "download_only"
	ModeUploadOnly   = "upload_only"
)

// Auth strategies
const (
	AuthSessionCookie = "session_cookie"
	AuthHelperLogin   = "helper_login"
)

// Config represents the application configuration
type Config struct {
	Origin      Region  `yaml:"origin"`
	Destination Region  `yaml:"destination"`
	Sync        Sync    `yaml:"sync"`
	Archive     Archive `yaml:"archive"`
	Metrics     Metrics `yaml:"metrics"`
	LogLevel    string  `yaml:"log_level"`
}

// Region describes one platform account: where it lives, how to log in,
// and how its API is shaped.
type Region struct {
	BaseURL         string            `yaml:"base_url"`
	Auth            Auth              `yaml:"auth"`
	Endpoints       Endpoints         `yaml:"endpoints"`
	ListParams      map[string]string `yaml:"list_params"`
	ListResponseKey string            `yaml:"list_response_key"`
	IDField         string            `yaml:"id_field"`
	SortKey         string            `yaml:"sort_key"`
	PageSizeParam   string            `yaml:"page_size_param"`
	Headers         map[string]string `yaml:"headers"`
	ConsentParams   map[string]string `yaml:"consent_params"`
}

// Auth holds the credential material for one region
type Auth struct {
	Type                 string   `yaml:"type"`
	Cookie               string   `yaml:"cookie"`
	CSRFToken            string   `yaml:"csrf_token"`
	Username             string   `yaml:"username"`
	Password             string   `yaml:"password"`
	SSOBaseURL           string   `yaml:"sso_base_url"`
	ClientID             string   `yaml:"client_id"`
	Locale               string   `yaml:"locale"`
	ServiceURL           string   `yaml:"service_url"`
	UserAgent            string   `yaml:"user_agent"`
	ProbePath            string   `yaml:"probe_path"`
	Headless             bool     `yaml:"headless"`
	HelperCommand        []string `yaml:"helper_command"`
	HelperTimeoutSeconds int      `yaml:"helper_timeout_seconds"`
}

// Endpoints are the API paths of one region. The download path may contain
// an {id} placeholder.
type Endpoints struct {
	ListActivities   string `yaml:"list_activities"`
	DownloadActivity string `yaml:"download_activity"`
	UploadActivity   string `yaml:"upload_activity"`
	UploadConsent    string `yaml:"upload_consent"`
}

// Sync represents sync-run configuration
type Sync struct {
	Mode                  string `yaml:"mode"`
	Limit                 int    `yaml:"limit"`
	StatePath             string `yaml:"state_path"`
	DryRun                bool   `yaml:"dry_run"`
	Verbose               bool   `yaml:"verbose"`
	IgnoreState           bool   `yaml:"ignore_state"`
	DownloadDir           string `yaml:"download_dir"`
	UploadDir             string `yaml:"upload_dir"`
	UploadGlob            string `yaml:"upload_glob"`
	FileExt               string `yaml:"file_ext"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
}

// Archive configures the optional S3-compatible mirror of fetched payloads
type Archive struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
}

// Metrics configures the optional Prometheus endpoint. An empty addr
// disables the server.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		Sync: Sync{
			Mode:                  ModeFull,
			Limit:                 10,
			StatePath:             "state/uploaded.json",
			UploadGlob:            "*.fit",
			FileExt:               ".fit",
			RequestTimeoutSeconds: 60,
		},
	}

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with command line flags
	if err := loadFromFlags(cfg, flags); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	applyDefaults(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}

	if flags.Changed("mode") {
		cfg.Sync.Mode, _ = flags.GetString("mode")
	}
	if flags.Changed("limit") {
		cfg.Sync.Limit, _ = flags.GetInt("limit")
	}
	if flags.Changed("dry-run") {
		cfg.Sync.DryRun, _ = flags.GetBool("dry-run")
	}
	if flags.Changed("verbose") {
		cfg.Sync.Verbose, _ = flags.GetBool("verbose")
	}
	if flags.Changed("ignore-state") {
		cfg.Sync.IgnoreState, _ = flags.GetBool("ignore-state")
	}
	if flags.Changed("state") {
		cfg.Sync.StatePath, _ = flags.GetString("state")
	}
	if flags.Changed("download-dir") {
		cfg.Sync.DownloadDir, _ = flags.GetString("download-dir")
	}
	if flags.Changed("upload-dir") {
		cfg.Sync.UploadDir, _ = flags.GetString("upload-dir")
	}
	if flags.Changed("upload-glob") {
		cfg.Sync.UploadGlob, _ = flags.GetString("upload-glob")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = flags.GetString("metrics-addr")
	}

	return nil
}

func applyDefaults(cfg *Config) {
	for _, region := range []*Region{&cfg.Origin, &cfg.Destination} {
		if region.IDField == "" {
			region.IDField = "activityId"
		}
		if region.PageSizeParam == "" {
			region.PageSizeParam = "limit"
		}
		if region.Auth.Type == "" {
			region.Auth.Type = AuthSessionCookie
		}
		if region.Auth.HelperTimeoutSeconds <= 0 {
			region.Auth.HelperTimeoutSeconds = 180
		}
	}
	if cfg.Sync.Verbose {
		cfg.LogLevel = "debug"
	}
}

func (c *Config) validate() error {
	switch c.Sync.Mode {
	case ModeFull, ModeDownloadOnly, ModeUploadOnly:
	default:
		return fmt.Errorf("mode must be one of %s, %s, %s", ModeFull, ModeDownloadOnly, ModeUploadOnly)
	}

	if c.Sync.Limit <= 0 {
		return fmt.Errorf("limit must be positive")
	}
	if c.Sync.StatePath == "" {
		return fmt.Errorf("state path is required")
	}

	needsOrigin := c.Sync.Mode == ModeFull || c.Sync.Mode == ModeDownloadOnly
	needsDestination := c.Sync.Mode == ModeFull || c.Sync.Mode == ModeUploadOnly

	if needsOrigin {
		if c.Origin.BaseURL == "" {
			return fmt.Errorf("origin base URL is required")
		}
		if c.Origin.Endpoints.ListActivities == "" {
			return fmt.Errorf("origin list endpoint is required")
		}
		if c.Origin.Endpoints.DownloadActivity == "" {
			return fmt.Errorf("origin download endpoint is required")
		}
	}

	if needsDestination {
		if c.Destination.BaseURL == "" {
			return fmt.Errorf("destination base URL is required")
		}
		if c.Destination.Endpoints.UploadActivity == "" {
			return fmt.Errorf("destination upload endpoint is required")
		}
	}

	if c.Sync.Mode == ModeUploadOnly && c.Sync.UploadDir == "" {
		return fmt.Errorf("upload dir is required in %s mode", ModeUploadOnly)
	}

	if c.Archive.Enabled {
		if c.Archive.Endpoint == "" {
			return fmt.Errorf("archive endpoint is required when archive is enabled")
		}
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive bucket is required when archive is enabled")
		}
	}

	return nil
}
