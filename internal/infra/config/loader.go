package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"cdsmcp/internal/domain"
	"cdsmcp/internal/infra/capability"
)

const envPrefix = "CDSMCP"

type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		return &Loader{logger: zap.NewNop()}
	}
	return &Loader{logger: logger.Named("config")}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("name", domain.DefaultServerName)
	v.SetDefault("version", domain.DefaultServerVersion)
	v.SetDefault("model", "")
	v.SetDefault("database", domain.DefaultDatabase)
	v.SetDefault("data", "")
	v.SetDefault("watchModel", false)
	v.SetDefault("http.addr", domain.DefaultHTTPAddr)
	v.SetDefault("http.path", domain.DefaultHTTPPath)
	v.SetDefault("http.sessionTimeoutSeconds", domain.DefaultSessionTimeoutSecs)
	v.SetDefault("http.maxBodyBytes", domain.DefaultMaxBodyBytes)
	v.SetDefault("auth.mode", string(domain.AuthModeNone))
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("wrap.entities", false)
	v.SetDefault("query.defaultTop", domain.DefaultQueryTop)
	v.SetDefault("query.maxTop", domain.DefaultQueryMaxTop)
	v.SetDefault("observability.metrics", false)
	v.SetDefault("observability.listenAddress", domain.DefaultObservabilityAddress)
}

type rawConfig struct {
	Name          string           `mapstructure:"name"`
	Version       string           `mapstructure:"version"`
	Model         string           `mapstructure:"model"`
	Database      string           `mapstructure:"database"`
	Data          string           `mapstructure:"data"`
	WatchModel    bool             `mapstructure:"watchModel"`
	Instructions  any              `mapstructure:"instructions"`
	HTTP          rawHTTP          `mapstructure:"http"`
	Auth          rawAuth          `mapstructure:"auth"`
	Wrap          rawWrap          `mapstructure:"wrap"`
	Query         rawQuery         `mapstructure:"query"`
	Observability rawObservability `mapstructure:"observability"`
}

type rawHTTP struct {
	Addr                  string `mapstructure:"addr"`
	Path                  string `mapstructure:"path"`
	SessionTimeoutSeconds int    `mapstructure:"sessionTimeoutSeconds"`
	MaxBodyBytes          int64  `mapstructure:"maxBodyBytes"`
}

type rawAuth struct {
	Mode      string `mapstructure:"mode"`
	JWTSecret string `mapstructure:"jwtSecret"`
}

type rawWrap struct {
	Entities bool `mapstructure:"entities"`
	Modes    any  `mapstructure:"modes"`
}

type rawQuery struct {
	DefaultTop int `mapstructure:"defaultTop"`
	MaxTop     int `mapstructure:"maxTop"`
}

type rawObservability struct {
	Metrics       bool   `mapstructure:"metrics"`
	ListenAddress string `mapstructure:"listenAddress"`
}

// Load reads the YAML config at path. An empty path yields the defaults,
// still subject to CDSMCP_* environment overrides. Relative file paths in
// the config resolve against the config file's directory.
func (l *Loader) Load(ctx context.Context, path string) (domain.Config, error) {
	return l.LoadWithOverrides(ctx, path, nil)
}

// LoadWithOverrides is Load with explicit key overrides (dotted viper keys,
// such as "http.addr") that take precedence over file and environment.
func (l *Loader) LoadWithOverrides(ctx context.Context, path string, overrides map[string]any) (domain.Config, error) {
	v := newViper()
	baseDir := ""

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return domain.Config{}, fmt.Errorf("read config: %w", err)
		}
		expanded, missing, err := expandEnv(data)
		if err != nil {
			return domain.Config{}, err
		}
		if len(missing) > 0 {
			l.logger.Warn("missing environment variables in config", zap.String("path", path), zap.Strings("missing", missing))
		}
		if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
			return domain.Config{}, fmt.Errorf("parse config: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return domain.Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.Config{}, err
	}
	return normalize(raw, baseDir)
}

func normalize(raw rawConfig, baseDir string) (domain.Config, error) {
	var errs []string

	cfg := domain.Config{
		Name:       strings.TrimSpace(raw.Name),
		Version:    strings.TrimSpace(raw.Version),
		ModelPath:  resolvePath(baseDir, raw.Model),
		Database:   strings.TrimSpace(raw.Database),
		DataDir:    resolvePath(baseDir, raw.Data),
		WatchModel: raw.WatchModel,
		HTTP: domain.HTTPConfig{
			Addr:                  strings.TrimSpace(raw.HTTP.Addr),
			Path:                  strings.TrimSpace(raw.HTTP.Path),
			SessionTimeoutSeconds: raw.HTTP.SessionTimeoutSeconds,
			MaxBodyBytes:          raw.HTTP.MaxBodyBytes,
		},
		Auth: domain.AuthConfig{
			Mode:      domain.AuthMode(strings.ToLower(strings.TrimSpace(raw.Auth.Mode))),
			JWTSecret: raw.Auth.JWTSecret,
		},
		Wrap: domain.WrapDefaults{Entities: raw.Wrap.Entities},
		Query: domain.QueryConfig{
			DefaultTop: raw.Query.DefaultTop,
			MaxTop:     raw.Query.MaxTop,
		},
		Observability: domain.ObservabilityConfig{
			Metrics:       raw.Observability.Metrics,
			ListenAddress: strings.TrimSpace(raw.Observability.ListenAddress),
		},
	}

	instructions, err := resolveInstructions(baseDir, raw.Instructions)
	if err != nil {
		errs = append(errs, err.Error())
	}
	cfg.Instructions = instructions

	if raw.Wrap.Modes != nil {
		modes, err := capability.ParseModes(raw.Wrap.Modes)
		if err != nil {
			errs = append(errs, "wrap.modes: "+err.Error())
		}
		cfg.Wrap.Modes = modes
	}

	errs = append(errs, validate(cfg)...)
	if len(errs) > 0 {
		return domain.Config{}, domain.E(domain.CodeConfiguration, "config.load", strings.Join(errs, "; "), domain.ErrConfiguration)
	}
	return cfg, nil
}

func validate(cfg domain.Config) []string {
	var errs []string
	if cfg.Name == "" {
		errs = append(errs, "name is required")
	}
	if cfg.HTTP.Addr == "" {
		errs = append(errs, "http.addr is required")
	}
	if !strings.HasPrefix(cfg.HTTP.Path, "/") {
		errs = append(errs, fmt.Sprintf("http.path must start with '/', got %q", cfg.HTTP.Path))
	}
	if cfg.HTTP.Path == domain.DefaultHealthPath {
		errs = append(errs, fmt.Sprintf("http.path must not be %s", domain.DefaultHealthPath))
	}
	if cfg.HTTP.SessionTimeoutSeconds < 0 {
		errs = append(errs, "http.sessionTimeoutSeconds must be >= 0")
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, "http.maxBodyBytes must be > 0")
	}
	switch cfg.Auth.Mode {
	case domain.AuthModeNone:
	case domain.AuthModeInherit:
		if cfg.Auth.JWTSecret == "" {
			errs = append(errs, "auth.jwtSecret is required when auth.mode is inherit")
		}
	default:
		errs = append(errs, fmt.Sprintf("auth.mode must be inherit or none, got %q", cfg.Auth.Mode))
	}
	if cfg.Query.DefaultTop <= 0 {
		errs = append(errs, "query.defaultTop must be > 0")
	}
	if cfg.Query.MaxTop < cfg.Query.DefaultTop {
		errs = append(errs, "query.maxTop must be >= query.defaultTop")
	}
	if cfg.Observability.Metrics && cfg.Observability.ListenAddress == "" {
		errs = append(errs, "observability.listenAddress is required when metrics are enabled")
	}
	return errs
}

// resolveInstructions accepts plain text or {file: path}.
func resolveInstructions(baseDir string, raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case map[string]any:
		file, ok := v["file"].(string)
		if !ok || strings.TrimSpace(file) == "" {
			return "", errors.New("instructions.file must be a non-empty string")
		}
		data, err := os.ReadFile(resolvePath(baseDir, file))
		if err != nil {
			return "", fmt.Errorf("instructions.file: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("instructions must be a string or {file: path}, got %T", raw)
	}
}

func resolvePath(baseDir, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
