package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/EliFuzz/igate/pkg/catalog"
	"github.com/EliFuzz/igate/pkg/mcpmgr"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LegacyServersEnv holds a JSON document of the form {"servers": {...}}.
// Servers defined there override servers of the same name from the file.
const LegacyServersEnv = "SERVERS"

// EnvPrefix prefixes environment overrides such as IGATE_LOG_LEVEL.
const EnvPrefix = "IGATE"

// Config is the root configuration structure for igate.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	// Servers is decoded from the raw document rather than through viper so
	// that map keys such as environment variable names keep their case.
	Servers map[string]ServerConfig `mapstructure:"-"`

	// File is the configuration file that was read, if any.
	File string `mapstructure:"-"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	JSONRPC bool   `mapstructure:"json_rpc"`
}

// GatewayConfig configures the upstream-facing server.
type GatewayConfig struct {
	Name        string        `mapstructure:"name"`
	Version     string        `mapstructure:"version"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	HTTP        HTTPConfig    `mapstructure:"http"`
}

// HTTPConfig enables the Streamable HTTP listener when Addr is set.
type HTTPConfig struct {
	Addr        string   `mapstructure:"addr"`
	Path        string   `mapstructure:"path"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// ServerConfig describes one backend. Exactly one of Command and URL is set.
type ServerConfig struct {
	Command    string            `mapstructure:"command"`
	Args       []string          `mapstructure:"args"`
	Env        map[string]string `mapstructure:"env"`
	URL        string            `mapstructure:"url"`
	Headers    map[string]string `mapstructure:"headers"`
	Timeout    time.Duration     `mapstructure:"timeout"`
	LogJSONRPC bool              `mapstructure:"log_json_rpc"`

	Policy *PolicyConfig `mapstructure:"policy"`
	// IGate is the historical name of Policy.
	IGate *PolicyConfig `mapstructure:"igate"`
}

// PolicyConfig lists tool names. A nil list is absent; an empty list is
// present and matches nothing.
type PolicyConfig struct {
	Allow []string `mapstructure:"allow"`
	Deny  []string `mapstructure:"deny"`
}

// DefaultCallTimeout bounds each backend session unless overridden.
const DefaultCallTimeout = 30 * time.Second

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.json_rpc", false)
	v.SetDefault("gateway.name", "igate")
	v.SetDefault("gateway.version", "1.0.0")
	v.SetDefault("gateway.call_timeout", DefaultCallTimeout)
	v.SetDefault("gateway.http.addr", "")
	v.SetDefault("gateway.http.path", "/mcp")
	v.SetDefault("gateway.http.cors_origins", []string{})
	v.SetDefault("telemetry.service_name", "igate")
	v.SetDefault("telemetry.otlp_endpoint", "")
}

// DefaultPaths returns the files Load tries when no path is given.
func DefaultPaths() []string {
	paths := []string{"igate.yaml", "igate.json"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "igate", "config.yaml"))
	}
	return paths
}

// Load reads configuration from path (or the first existing default path),
// the SERVERS environment variable and IGATE_* overrides, then validates it.
// A missing default file is not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	file, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var raw []byte
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
		if raw, err = os.ReadFile(file); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	cfg := &Config{File: file}
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.MatchName = matchName
	}); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	servers := map[string]ServerConfig{}
	if raw != nil {
		fromFile, err := decodeServers(raw)
		if err != nil {
			return nil, fmt.Errorf("config: servers in %s: %w", file, err)
		}
		for name, server := range fromFile {
			servers[name] = server
		}
	}
	if legacy := strings.TrimSpace(os.Getenv(LegacyServersEnv)); legacy != "" {
		fromEnv, err := decodeServers([]byte(legacy))
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", LegacyServersEnv, err)
		}
		for name, server := range fromEnv {
			servers[name] = server
		}
	}
	cfg.Servers = servers

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func resolvePath(path string) (string, error) {
	if path = strings.TrimSpace(path); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config: %w", err)
		}
		return path, nil
	}
	for _, candidate := range DefaultPaths() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

// decodeServers extracts the servers map from a JSON or YAML document.
func decodeServers(raw []byte) (map[string]ServerConfig, error) {
	var doc struct {
		Servers map[string]any `json:"servers" yaml:"servers"`
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
			return nil, err
		}
	} else if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	out := make(map[string]ServerConfig, len(doc.Servers))
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		MatchName:        matchName,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(doc.Servers); err != nil {
		return nil, err
	}
	return out, nil
}

func matchName(mapKey, fieldName string) bool {
	return normalizeKey(mapKey) == normalizeKey(fieldName)
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}

// Validate checks the configuration and normalizes a few values in place.
func (c *Config) Validate() error {
	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	if level == "" {
		c.Log.Level = "info"
	} else {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[level] {
			return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
		}
		c.Log.Level = level
	}

	if strings.TrimSpace(c.Gateway.Name) == "" {
		c.Gateway.Name = "igate"
	}
	if c.Gateway.CallTimeout < 0 {
		return fmt.Errorf("gateway.call_timeout must not be negative, got %s", c.Gateway.CallTimeout)
	}
	if path := strings.TrimSpace(c.Gateway.HTTP.Path); path == "" {
		c.Gateway.HTTP.Path = "/mcp"
	} else if !strings.HasPrefix(path, "/") {
		c.Gateway.HTTP.Path = "/" + path
	}
	if endpoint := strings.TrimSpace(c.Telemetry.OTLPEndpoint); endpoint != "" {
		if err := validateURL(endpoint); err != nil {
			return fmt.Errorf("telemetry.otlp_endpoint: %w", err)
		}
	}

	for name, server := range c.Servers {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("servers: server name must not be blank")
		}
		if err := server.validate(); err != nil {
			return fmt.Errorf("servers.%s: %w", name, err)
		}
	}
	return nil
}

func (s ServerConfig) validate() error {
	command := strings.TrimSpace(s.Command)
	endpoint := strings.TrimSpace(s.URL)
	switch {
	case command == "" && endpoint == "":
		return fmt.Errorf("one of command or url is required")
	case command != "" && endpoint != "":
		return fmt.Errorf("command and url are mutually exclusive")
	}
	if endpoint != "" {
		if err := validateURL(endpoint); err != nil {
			return fmt.Errorf("url: %w", err)
		}
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", s.Timeout)
	}
	if s.Policy != nil && s.IGate != nil {
		return fmt.Errorf("policy and igate are aliases; set only one")
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("host missing in %q", raw)
	}
	return nil
}

// ToolPolicy returns the backend's policy, honouring the igate alias.
func (s ServerConfig) ToolPolicy() catalog.Policy {
	p := s.Policy
	if p == nil {
		p = s.IGate
	}
	if p == nil {
		return catalog.Policy{}
	}
	return catalog.Policy{Allow: p.Allow, Deny: p.Deny}
}

// Connection converts the server entry into a mcpmgr configuration.
func (s ServerConfig) Connection() mcpmgr.ServerConfig {
	base := mcpmgr.BaseServerConfig{Timeout: s.Timeout, LogJSONRPC: s.LogJSONRPC}
	if endpoint := strings.TrimSpace(s.URL); endpoint != "" {
		var headers http.Header
		if len(s.Headers) > 0 {
			headers = make(http.Header, len(s.Headers))
			for key, value := range s.Headers {
				headers.Set(key, value)
			}
		}
		return &mcpmgr.HTTPServerConfig{BaseServerConfig: base, Endpoint: endpoint, Headers: headers}
	}
	return &mcpmgr.StdioServerConfig{
		BaseServerConfig: base,
		Command:          strings.TrimSpace(s.Command),
		Args:             s.Args,
		Env:              s.Env,
	}
}

// Backends converts every configured server into a catalog backend.
func (c *Config) Backends() map[string]catalog.Backend {
	out := make(map[string]catalog.Backend, len(c.Servers))
	for name, server := range c.Servers {
		out[name] = catalog.Backend{Config: server.Connection(), Policy: server.ToolPolicy()}
	}
	return out
}
