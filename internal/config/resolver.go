package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// ResolvedValue is a setting plus where it came from, so `cardintel
// stats` can show why a given model or DSN is in effect.
type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath string
	CLIModel   string
	CLIEmbed   string
	CLIStore   string
	CLIIndex   string
	CLIDSN     string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	StorePath ResolvedValue `json:"store_path"`
	Model     ResolvedValue `json:"model"`
	ModelURL  ResolvedValue `json:"model_url"`

	EmbedModel    ResolvedValue `json:"embed_model"`
	EmbedEndpoint ResolvedValue `json:"embed_endpoint"`
	EmbedAPIKey   ResolvedValue `json:"embed_api_key"`

	IndexBackend ResolvedValue `json:"index_backend"`
	IndexDSN     ResolvedValue `json:"index_dsn"`

	UserAgent ResolvedValue `json:"user_agent"`

	APIKeys map[string]ResolvedValue `json:"api_keys,omitempty"`
}

type fileConfig struct {
	StorePath string `yaml:"store_path"`
	Model     struct {
		Name    string `yaml:"name"`
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"model"`
	Embed struct {
		Name     string `yaml:"name"`
		Endpoint string `yaml:"endpoint"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"embed"`
	Index struct {
		Backend string `yaml:"backend"`
		DSN     string `yaml:"dsn"`
	} `yaml:"index"`
	Fetch struct {
		UserAgent string `yaml:"user_agent"`
	} `yaml:"fetch"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cardintel", "config.yaml")
}

func DefaultStorePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cardintel", "cardintel.db")
}

// ResolveConfig layers config file < environment < CLI flags and records
// the winning source for each value.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath: path,
		APIKeys:    map[string]ResolvedValue{},
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.StorePath, cfg.StorePath, SourceConfig, path)
		apply(&out.Model, cfg.Model.Name, SourceConfig, path)
		apply(&out.ModelURL, cfg.Model.BaseURL, SourceConfig, path)
		apply(&out.EmbedModel, cfg.Embed.Name, SourceConfig, path)
		apply(&out.EmbedEndpoint, cfg.Embed.Endpoint, SourceConfig, path)
		apply(&out.IndexBackend, cfg.Index.Backend, SourceConfig, path)
		apply(&out.IndexDSN, cfg.Index.DSN, SourceConfig, path)
		apply(&out.UserAgent, cfg.Fetch.UserAgent, SourceConfig, path)

		if key := strings.TrimSpace(cfg.Embed.APIKey); key != "" {
			out.EmbedAPIKey = ResolvedValue{Value: key, Source: SourceConfig, From: path}
		}
		if key := strings.TrimSpace(cfg.Model.APIKey); key != "" {
			p := providerOf(cfg.Model.Name)
			if p == "" {
				p = "default"
			}
			out.APIKeys[p] = ResolvedValue{Value: key, Source: SourceConfig, From: path}
		}
	}

	applyEnv(&out.StorePath, "CARDINTEL_STORE")
	applyEnv(&out.Model, "CARDINTEL_MODEL")
	applyEnv(&out.ModelURL, "CARDINTEL_MODEL_URL")
	applyEnv(&out.EmbedModel, "CARDINTEL_EMBED")
	applyEnv(&out.EmbedEndpoint, "CARDINTEL_EMBED_ENDPOINT")
	applyEnv(&out.IndexBackend, "CARDINTEL_INDEX")
	applyEnv(&out.IndexDSN, "CARDINTEL_INDEX_DSN")
	applyEnv(&out.IndexDSN, "DATABASE_URL")
	applyEnv(&out.UserAgent, "CARDINTEL_USER_AGENT")
	if v := strings.TrimSpace(os.Getenv("CARDINTEL_EMBED_API_KEY")); v != "" {
		out.EmbedAPIKey = ResolvedValue{Value: v, Source: SourceEnv, From: "CARDINTEL_EMBED_API_KEY"}
	}

	for env, provider := range map[string]string{
		"OPENAI_API_KEY": "openai",
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			out.APIKeys[provider] = ResolvedValue{Value: v, Source: SourceEnv, From: env}
		}
	}

	apply(&out.Model, opts.CLIModel, SourceCLI, "--model")
	apply(&out.EmbedModel, opts.CLIEmbed, SourceCLI, "--embed")
	apply(&out.StorePath, opts.CLIStore, SourceCLI, "--store")
	apply(&out.IndexBackend, opts.CLIIndex, SourceCLI, "--index")
	apply(&out.IndexDSN, opts.CLIDSN, SourceCLI, "--dsn")

	if out.StorePath.Value == "" {
		out.StorePath = ResolvedValue{Value: DefaultStorePath(), Source: SourceDefault, From: "built-in default"}
	}
	out.StorePath.Value = expandUserPath(out.StorePath.Value)

	if out.IndexBackend.Value == "" {
		out.IndexBackend = ResolvedValue{Value: "memory", Source: SourceDefault, From: "built-in default"}
	}

	return out, nil
}

// APIKeyForProvider returns the key for "provider" or "provider/model",
// falling back to the file's default key.
func (r ResolvedConfig) APIKeyForProvider(providerOrModel string) ResolvedValue {
	provider := providerOf(providerOrModel)
	if provider == "" {
		return ResolvedValue{}
	}
	if v, ok := r.APIKeys[provider]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	if v, ok := r.APIKeys["default"]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	return ResolvedValue{}
}

func providerOf(providerOrModel string) string {
	v := strings.ToLower(strings.TrimSpace(providerOrModel))
	if v == "" {
		return ""
	}
	if idx := strings.Index(v, "/"); idx > 0 {
		return v[:idx]
	}
	return v
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
