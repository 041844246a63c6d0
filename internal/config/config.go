package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for WABot.
type Config struct {
	General GeneralConfig `json:"general" yaml:"general"`
	Server  ServerConfig  `json:"server" yaml:"server"`
	Gateway GatewayConfig `json:"gateway" yaml:"gateway"`
	Audit   AuditConfig   `json:"audit" yaml:"audit"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile" yaml:"logFile"`
}

// ServerConfig configures the inbound webhook listener.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	Path         string `json:"path" yaml:"path"` // webhook path, "/" by default
	MaxBodyBytes int64  `json:"maxBodyBytes" yaml:"maxBodyBytes"`
}

// GatewayConfig binds the bot to one chat-api instance.
type GatewayConfig struct {
	APIBase        string      `json:"apiBase" yaml:"apiBase"` // e.g. https://eu115.chat-api.com/instance12345/
	Token          string      `json:"token" yaml:"token"`
	TimeoutSeconds int         `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	Media          MediaConfig `json:"media" yaml:"media"`
}

// MediaConfig holds the fixed content the bot sends back.
type MediaConfig struct {
	Files    map[string]string `json:"files" yaml:"files"` // file kind -> URL
	Voice    string            `json:"voice" yaml:"voice"`
	Location LocationConfig    `json:"location" yaml:"location"`
	Group    GroupConfig       `json:"group" yaml:"group"`
}

type LocationConfig struct {
	Lat     float64 `json:"lat" yaml:"lat"`
	Lng     float64 `json:"lng" yaml:"lng"`
	Address string  `json:"address" yaml:"address"`
}

type GroupConfig struct {
	Name     string `json:"name" yaml:"name"`
	Greeting string `json:"greeting" yaml:"greeting"`
}

// AuditConfig configures the SQLite action log.
type AuditConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	DBPath  string `json:"dbPath" yaml:"dbPath"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.wabot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wabot"
	}
	return filepath.Join(home, ".wabot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads a JSON or YAML (by extension) config file on top of Defaults,
// expands ${VAR} references and ~ paths, and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := read(path, true)
	if err != nil {
		return nil, err
	}
	expandPaths(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadRaw reads a config file as written: ${VAR} references and ~ paths are
// kept, and nothing is validated. Edit the result and Save it back; check it
// with Validate(Resolve(cfg)).
func LoadRaw(path string) (*Config, error) {
	return read(path, false)
}

func read(path string, expandEnv bool) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	if expandEnv {
		data = []byte(ExpandEnvVars(string(data)))
	}

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func expandPaths(cfg *Config) {
	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
}

// Resolve returns a copy of cfg with ${VAR} references in string values and
// ~ paths expanded, as Load would produce them. cfg is not modified.
func Resolve(cfg *Config) (*Config, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}
	expandStrings(m)

	var resolved Config
	if err := decodeInto(m, &resolved); err != nil {
		return nil, fmt.Errorf("resolve config: %w", err)
	}
	expandPaths(&resolved)
	return &resolved, nil
}

func expandStrings(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = expandStrings(child)
		}
	case []any:
		for i, child := range t {
			t[i] = expandStrings(child)
		}
	case string:
		return ExpandEnvVars(t)
	}
	return v
}

// Update sets one dot-path value in the config file at path and writes it
// back. The file keeps its ${VAR} references and ~ paths; only the resolved
// form is validated.
func Update(path, key string, value any) error {
	cfg, err := LoadRaw(path)
	if err != nil {
		return err
	}
	if err := SetByPath(cfg, key, value); err != nil {
		return fmt.Errorf("set value: %w", err)
	}
	resolved, err := Resolve(cfg)
	if err != nil {
		return err
	}
	if err := Validate(resolved); err != nil {
		return err
	}
	return Save(ExpandPath(path), cfg)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without default is left as is.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// The file carries the gateway token.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.Path, "/") {
		errs = append(errs, "server.path must start with /")
	}
	if cfg.Server.MaxBodyBytes < 1 {
		errs = append(errs, "server.maxBodyBytes must be >= 1")
	}

	if cfg.Gateway.APIBase != "" {
		u, err := url.Parse(cfg.Gateway.APIBase)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, "gateway.apiBase must be an absolute http(s) URL")
		}
	}
	if cfg.Gateway.TimeoutSeconds < 1 {
		errs = append(errs, "gateway.timeoutSeconds must be >= 1")
	}
	if cfg.Gateway.Media.Location.Lat < -90 || cfg.Gateway.Media.Location.Lat > 90 {
		errs = append(errs, "gateway.media.location.lat must be between -90 and 90")
	}
	if cfg.Gateway.Media.Location.Lng < -180 || cfg.Gateway.Media.Location.Lng > 180 {
		errs = append(errs, "gateway.media.location.lng must be between -180 and 180")
	}

	if cfg.Audit.Enabled && cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.dbPath is required when audit is enabled")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RequireGateway reports whether the gateway credentials needed to serve are present.
func RequireGateway(cfg *Config) error {
	var missing []string
	if cfg.Gateway.APIBase == "" {
		missing = append(missing, "gateway.apiBase")
	}
	if cfg.Gateway.Token == "" || envVarPattern.MatchString(cfg.Gateway.Token) {
		missing = append(missing, "gateway.token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
