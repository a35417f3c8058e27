package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Provider names accepted by LLMProvider
const (
	ProviderVertex = "vertex"
	ProviderGemini = "gemini"
)

// EnvPrefix prefixes every environment override, e.g. CVSHORTLIST_PORT
const EnvPrefix = "CVSHORTLIST"

// Config holds application configuration
type Config struct {
	GoogleCloudProject    string `json:"google_cloud_project" mapstructure:"google_cloud_project"`
	GoogleCloudLocation   string `json:"google_cloud_location" mapstructure:"google_cloud_location"`
	GoogleCredentialsPath string `json:"google_credentials_path" mapstructure:"google_credentials_path"`
	GmailCredentialsPath  string `json:"gmail_credentials_path" mapstructure:"gmail_credentials_path"`
	GmailTokenPath        string `json:"gmail_token_path" mapstructure:"gmail_token_path"`
	UploadsDir            string `json:"uploads_dir" mapstructure:"uploads_dir"`

	LLMProvider  string `json:"llm_provider" mapstructure:"llm_provider"`
	GeminiAPIKey string `json:"gemini_api_key,omitempty" mapstructure:"gemini_api_key"`
	Model        string `json:"model,omitempty" mapstructure:"model"` // empty selects the provider default

	Port                    string `json:"port" mapstructure:"port"`
	DefaultTopN             int    `json:"default_top_n" mapstructure:"default_top_n"`
	MaxCandidates           int    `json:"max_candidates" mapstructure:"max_candidates"`
	MinJobDescriptionLength int    `json:"min_job_description_length" mapstructure:"min_job_description_length"`
	Workers                 int    `json:"workers" mapstructure:"workers"`
	MaxArchiveEntryBytes    int64  `json:"max_archive_entry_bytes" mapstructure:"max_archive_entry_bytes"`
}

// DefaultConfig returns a new config with default values
func DefaultConfig() *Config {
	return &Config{
		GoogleCloudLocation:     "us-central1",
		GmailTokenPath:          "token.json",
		UploadsDir:              "uploads",
		LLMProvider:             ProviderVertex,
		Port:                    "8080",
		DefaultTopN:             20,
		MaxCandidates:           500,
		MinJobDescriptionLength: 50,
		Workers:                 8,
		MaxArchiveEntryBytes:    10 << 20,
	}
}

// envAliases lists the unprefixed variables the Google SDKs already understand.
var envAliases = map[string][]string{
	"google_cloud_project":    {"GOOGLE_CLOUD_PROJECT"},
	"google_cloud_location":   {"GOOGLE_CLOUD_LOCATION"},
	"google_credentials_path": {"GOOGLE_APPLICATION_CREDENTIALS"},
	"gemini_api_key":          {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"port":                    {"PORT"},
}

// GetConfigPath returns the path to the configuration file
// On Windows: %APPDATA%/CVShortlistAgent/config.json
// On Unix: ~/.config/CVShortlistAgent/config.json
func GetConfigPath() (string, error) {
	var configDir string

	if os.Getenv("APPDATA") != "" {
		// Windows
		configDir = filepath.Join(os.Getenv("APPDATA"), "CVShortlistAgent")
	} else {
		// Unix-like systems
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config", "CVShortlistAgent")
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return filepath.Join(configDir, "config.json"), nil
}

// Load loads configuration from the default config path
func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	return LoadFrom(configPath)
}

// LoadFrom loads configuration from a specific path. The file may be JSON or
// YAML; a missing file yields the defaults. Environment variables prefixed
// with CVSHORTLIST_ override file values.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	if err := bind(v); err != nil {
		return nil, err
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if filepath.Ext(path) == "" {
				v.SetConfigType("json")
			}
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := DefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return config, nil
}

// bind registers defaults and environment bindings for every key so that
// Unmarshal sees env-only values too.
func bind(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	defaults := map[string]any{}
	data, err := json.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}
	if err := json.Unmarshal(data, &defaults); err != nil {
		return fmt.Errorf("failed to unmarshal defaults: %w", err)
	}
	// omitempty fields still need a key for AutomaticEnv to see them
	defaults["gemini_api_key"] = ""
	defaults["model"] = ""

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	for key, aliases := range envAliases {
		names := append([]string{EnvPrefix + "_" + strings.ToUpper(key)}, aliases...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	return nil
}

// Save saves the configuration to the default config path
func (c *Config) Save() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	return c.SaveTo(configPath)
}

// SaveTo saves the configuration to a specific path
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case ProviderVertex:
		if c.GoogleCloudProject == "" {
			return fmt.Errorf("google_cloud_project is required")
		}
		if c.GoogleCloudLocation == "" {
			return fmt.Errorf("google_cloud_location is required")
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("gemini_api_key is required for the gemini provider")
		}
	default:
		return fmt.Errorf("unknown llm_provider %q", c.LLMProvider)
	}

	if c.DefaultTopN <= 0 {
		return fmt.Errorf("default_top_n must be positive")
	}
	if c.MaxCandidates <= 0 {
		return fmt.Errorf("max_candidates must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}

	if c.GoogleCredentialsPath != "" {
		if _, err := os.Stat(c.GoogleCredentialsPath); err != nil {
			return fmt.Errorf("google credentials file not found: %w", err)
		}
	}

	if c.GmailCredentialsPath != "" {
		if _, err := os.Stat(c.GmailCredentialsPath); err != nil {
			return fmt.Errorf("gmail credentials file not found: %w", err)
		}
	}

	return nil
}

// ApplyToEnv applies configuration values to environment variables
func (c *Config) ApplyToEnv() {
	if c.GoogleCloudProject != "" {
		os.Setenv("GOOGLE_CLOUD_PROJECT", c.GoogleCloudProject)
	}
	if c.GoogleCloudLocation != "" {
		os.Setenv("GOOGLE_CLOUD_LOCATION", c.GoogleCloudLocation)
	}
	if c.GoogleCredentialsPath != "" {
		os.Setenv("GOOGLE_APPLICATION_CREDENTIALS", c.GoogleCredentialsPath)
	}
}
