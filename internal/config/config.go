// Package config loads, validates, and atomically hot-swaps Toolify's
// configuration snapshot.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

const (
	DefaultPort           = 6970
	DefaultConfigFilename = "config.json"
	DefaultHost           = "127.0.0.1"
)

// Tri is a three-state boolean: unset inherits a global default.
type Tri string

const (
	TriInherit Tri = ""
	TriTrue    Tri = "true"
	TriFalse   Tri = "false"
)

// Resolve returns the effective boolean, falling back to global when unset.
func (t Tri) Resolve(global bool) bool {
	switch t {
	case TriTrue:
		return true
	case TriFalse:
		return false
	default:
		return global
	}
}

// UpstreamService is one configured upstream LLM account.
type UpstreamService struct {
	Name                  string            `json:"name"`
	ServiceType           string            `json:"service_type"` // "openai", "anthropic", "gemini"
	BaseURL               string            `json:"base_url"`
	APIKey                string            `json:"api_key"`
	Priority              int               `json:"priority"` // higher = preferred
	Models                []string          `json:"models"`   // empty set matches any requested model
	ModelMapping          map[string]string `json:"model_mapping,omitempty"`
	InjectFunctionCalling Tri               `json:"inject_function_calling,omitempty"`
	OptimizePrompt        bool              `json:"optimize_prompt,omitempty"`
}

// SupportsModel reports whether this service accepts the given requested
// model name; an empty Models set matches anything.
func (s UpstreamService) SupportsModel(name string) bool {
	if len(s.Models) == 0 {
		return true
	}
	for _, m := range s.Models {
		if m == name {
			return true
		}
	}
	return false
}

// MappedModel rewrites the requested model name through ModelMapping, if a
// mapping entry exists.
func (s UpstreamService) MappedModel(requested string) string {
	if mapped, ok := s.ModelMapping[requested]; ok {
		return mapped
	}
	return requested
}

// ServerConfig holds listen and timeout settings.
type ServerConfig struct {
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port,omitempty"`
	Timeout int    `json:"timeout,omitempty"` // seconds
}

// ClientAuth gates inbound proxy requests.
type ClientAuth struct {
	AllowedKeys []string `json:"allowed_keys,omitempty"`
}

// AdminAuth gates the admin API.
type AdminAuth struct {
	Username     string `json:"username,omitempty"`
	PasswordHash string `json:"password_hash,omitempty"`
	JWTSecret    string `json:"jwt_secret,omitempty"`
}

// Features holds global feature toggles and defaults that individual
// upstream services may override.
type Features struct {
	EnableFunctionCalling bool   `json:"enable_function_calling"`
	InjectFunctionCalling bool   `json:"inject_function_calling"`
	OptimizePrompt        bool   `json:"optimize_prompt"`
	KeyPassthrough        bool   `json:"key_passthrough"`
	ModelPassthrough      bool   `json:"model_passthrough"`
	LogLevel              string `json:"log_level,omitempty"`
	PromptTemplate        string `json:"prompt_template,omitempty"`
	LongContextModel      string `json:"long_context_model,omitempty"` // router hint: rewrite to this model above router.LongContextTokenThreshold
}

// Config is the full, versionless configuration snapshot.
type Config struct {
	Server           ServerConfig      `json:"server"`
	UpstreamServices []UpstreamService `json:"upstream_services"`
	ClientAuth       ClientAuth        `json:"client_authentication,omitempty"`
	AdminAuth        AdminAuth         `json:"admin_authentication,omitempty"`
	Features         Features          `json:"features"`
}

// Manager loads a Config from disk and exposes it as an atomically-swapped
// read-mostly snapshot so reloads never race with in-flight requests.
type Manager struct {
	configPath  string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		configPath: filepath.Join(baseDir, DefaultConfigFilename),
	}
}

func (m *Manager) Load() (*Config, error) {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m.configValue.Store(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 60
	}
}

// Validate checks structural invariants the proxy core relies on: known
// service types, non-empty names, unique names.
func Validate(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.UpstreamServices))
	for _, svc := range cfg.UpstreamServices {
		if svc.Name == "" {
			return fmt.Errorf("upstream service missing name")
		}
		if seen[svc.Name] {
			return fmt.Errorf("duplicate upstream service name %q", svc.Name)
		}
		seen[svc.Name] = true

		switch svc.ServiceType {
		case "openai", "anthropic", "gemini":
		default:
			return fmt.Errorf("upstream service %q: unknown service_type %q", svc.Name, svc.ServiceType)
		}
		if svc.BaseURL == "" {
			return fmt.Errorf("upstream service %q: missing base_url", svc.Name)
		}
	}
	return nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		cfg = &Config{}
		applyDefaults(cfg)
	}
	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) GetPath() string {
	return m.configPath
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}
