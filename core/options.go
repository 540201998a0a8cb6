package core

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
	"gopkg.in/yaml.v3"
)

// ConfigProvider loads a validated Config on top of defaults.
type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

// RawConfigLoader produces the raw key/value tree a provider builds from.
type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

// OptionsResolver merges defaults, file-loaded, and runtime configuration.
type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// YAMLFileLoader reads a config file into a raw map. A missing file is not
// an error; defaults plus environment overrides still apply.
type YAMLFileLoader struct {
	Path string
}

func (l YAMLFileLoader) LoadRaw(context.Context) (map[string]any, error) {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("core: read config file %q: %w", path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("core: parse config file %q: %w", path, err)
	}
	return raw, nil
}

// EnvRawConfigLoader overlays secrets and connection material that should
// never live in the config file.
type EnvRawConfigLoader struct{}

func (EnvRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	raw := map[string]any{}
	if dsn := strings.TrimSpace(os.Getenv("DEPOSITD_DATABASE_DSN")); dsn != "" {
		raw["database"] = map[string]any{"dsn": dsn}
	}
	if secret := strings.TrimSpace(os.Getenv("DEPOSITD_WEBHOOK_SECRET")); secret != "" {
		raw["webhook"] = map[string]any{"secret": secret}
	}
	rateLimit := map[string]any{}
	if key := strings.TrimSpace(os.Getenv("DEPOSITD_RATE_LIMIT_IDENTITY_KEY")); key != "" {
		rateLimit["identity_key"] = key
	}
	if addr := strings.TrimSpace(os.Getenv("DEPOSITD_REDIS_ADDR")); addr != "" {
		rateLimit["redis_addr"] = addr
	}
	if len(rateLimit) > 0 {
		raw["rate_limit"] = rateLimit
	}
	if env := strings.TrimSpace(os.Getenv("DEPOSITD_ENVIRONMENT")); env != "" {
		raw["environment"] = env
	}
	return raw, nil
}

// LayeredRawConfigLoader merges loaders through a go-options stack; later
// loaders take precedence.
type LayeredRawConfigLoader struct {
	Loaders []RawConfigLoader
}

func (l LayeredRawConfigLoader) LoadRaw(ctx context.Context) (map[string]any, error) {
	layers := make([]opts.Layer[map[string]any], 0, len(l.Loaders))
	for i, loader := range l.Loaders {
		if loader == nil {
			continue
		}
		raw, err := loader.LoadRaw(ctx)
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("layer-%d", i)
		layers = append(layers, opts.NewLayer(
			opts.NewScope(name, i*10),
			raw,
			opts.WithSnapshotID[map[string]any](name),
		))
	}
	if len(layers) == 0 {
		return map[string]any{}, nil
	}
	stack, err := opts.NewStack(layers...)
	if err != nil {
		return nil, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return nil, fmt.Errorf("core: options merge failed: %w", err)
	}
	return merged.Value, nil
}

// LoadConfig is the conventional entry point: defaults, then the YAML file,
// then environment overrides.
func LoadConfig(ctx context.Context, path string) (Config, error) {
	provider := NewCfgxConfigProvider(LayeredRawConfigLoader{
		Loaders: []RawConfigLoader{
			YAMLFileLoader{Path: path},
			EnvRawConfigLoader{},
		},
	})
	return provider.Load(ctx, DefaultConfig())
}
