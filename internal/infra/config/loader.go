package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"relayd/internal/domain"
)

// Loader reads and validates the YAML configuration.
type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		return &Loader{logger: zap.NewNop()}
	}
	return &Loader{logger: logger.Named("config")}
}

func newConfigViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("handshakeTimeoutSeconds", domain.DefaultHandshakeTimeoutSeconds)
	v.SetDefault("invokeTimeoutSeconds", domain.DefaultInvokeTimeoutSeconds)
	v.SetDefault("reconnectBaseSeconds", domain.DefaultReconnectBaseSeconds)
	v.SetDefault("reconnectMaxSeconds", domain.DefaultReconnectMaxSeconds)
	v.SetDefault("reconnectMaxRetries", domain.DefaultReconnectMaxRetries)
	v.SetDefault("refreshConcurrency", domain.DefaultRefreshConcurrency)
	v.SetDefault("maxAttempts", domain.DefaultMaxAttempts)
	v.SetDefault("submitTool", domain.DefaultSubmitTool)
	v.SetDefault("observability.listenAddress", domain.DefaultObservabilityListenAddress)
}

type rawConfig struct {
	Servers          []rawServerSpec `mapstructure:"servers"`
	rawRuntimeConfig `mapstructure:",squash"`
}

type rawServerSpec struct {
	ID              string            `mapstructure:"id"`
	Endpoint        string            `mapstructure:"endpoint"`
	Headers         map[string]string `mapstructure:"headers"`
	ProtocolVersion string            `mapstructure:"protocolVersion"`
	Disabled        bool              `mapstructure:"disabled"`
}

type rawRuntimeConfig struct {
	HandshakeTimeoutSeconds int                    `mapstructure:"handshakeTimeoutSeconds"`
	InvokeTimeoutSeconds    int                    `mapstructure:"invokeTimeoutSeconds"`
	ReconnectBaseSeconds    int                    `mapstructure:"reconnectBaseSeconds"`
	ReconnectMaxSeconds     int                    `mapstructure:"reconnectMaxSeconds"`
	ReconnectMaxRetries     int                    `mapstructure:"reconnectMaxRetries"`
	RefreshConcurrency      int                    `mapstructure:"refreshConcurrency"`
	MaxAttempts             int                    `mapstructure:"maxAttempts"`
	SubmitTool              string                 `mapstructure:"submitTool"`
	TemplatesDir            string                 `mapstructure:"templatesDir"`
	StorePath               string                 `mapstructure:"storePath"`
	Observability           rawObservabilityConfig `mapstructure:"observability"`
	Synthesis               rawSynthesisConfig     `mapstructure:"synthesis"`
}

type rawObservabilityConfig struct {
	ListenAddress string `mapstructure:"listenAddress"`
}

type rawSynthesisConfig struct {
	Provider     string  `mapstructure:"provider"`
	Model        string  `mapstructure:"model"`
	APIKey       string  `mapstructure:"apiKey"`
	APIKeyEnvVar string  `mapstructure:"apiKeyEnvVar"`
	BaseURL      string  `mapstructure:"baseURL"`
	Temperature  float32 `mapstructure:"temperature"`
	MaxTokens    int     `mapstructure:"maxTokens"`
}

// Load parses and validates the config file at path. Values of the form
// ${VAR} are expanded from the environment before parsing; missing variables
// are logged and expand to empty.
func (l *Loader) Load(ctx context.Context, path string) (domain.Config, error) {
	if path == "" {
		return domain.Config{}, errors.New("config path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Config{}, fmt.Errorf("read config: %w", err)
	}

	expanded, missing := expandConfigEnv(data)
	if len(missing) > 0 {
		l.logger.Warn("missing environment variables in config",
			zap.String("path", path), zap.Strings("missing", missing))
	}

	v := newConfigViper()
	if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
		return domain.Config{}, fmt.Errorf("parse config: %w", err)
	}

	var cfg rawConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return domain.Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.Config{}, err
	}

	var validationErrors []string

	runtime, runtimeErrs := normalizeRuntimeConfig(cfg.rawRuntimeConfig)
	validationErrors = append(validationErrors, runtimeErrs...)

	servers := make([]domain.ServerSpec, 0, len(cfg.Servers))
	idSeen := make(map[string]struct{})
	for i, raw := range cfg.Servers {
		spec := normalizeServerSpec(raw)
		if _, exists := idSeen[spec.ID]; exists {
			validationErrors = append(validationErrors, fmt.Sprintf("servers[%d]: duplicate id %q", i, spec.ID))
		} else if spec.ID != "" {
			idSeen[spec.ID] = struct{}{}
		}
		if errs := validateServerSpec(spec, i); len(errs) > 0 {
			validationErrors = append(validationErrors, errs...)
			continue
		}
		servers = append(servers, spec)
	}

	if len(validationErrors) > 0 {
		return domain.Config{}, errors.New(strings.Join(validationErrors, "; "))
	}

	return domain.Config{Servers: servers, Runtime: runtime}, nil
}

func normalizeServerSpec(raw rawServerSpec) domain.ServerSpec {
	spec := domain.ServerSpec{
		ID:              strings.TrimSpace(raw.ID),
		Endpoint:        strings.TrimSpace(raw.Endpoint),
		Headers:         raw.Headers,
		ProtocolVersion: strings.TrimSpace(raw.ProtocolVersion),
		Disabled:        raw.Disabled,
	}
	if spec.ProtocolVersion == "" {
		spec.ProtocolVersion = domain.DefaultProtocolVersion
	}
	return spec
}

func validateServerSpec(spec domain.ServerSpec, index int) []string {
	var errs []string

	if spec.ID == "" {
		errs = append(errs, fmt.Sprintf("servers[%d]: id is required", index))
	} else if strings.Contains(spec.ID, ".") {
		// Dots would make qualified tool names ambiguous to split.
		errs = append(errs, fmt.Sprintf("servers[%d]: id must not contain '.'", index))
	}

	if spec.Endpoint == "" {
		errs = append(errs, fmt.Sprintf("servers[%d]: endpoint is required", index))
	} else if parsed, err := url.ParseRequestURI(spec.Endpoint); err != nil || parsed.Host == "" ||
		(parsed.Scheme != "http" && parsed.Scheme != "https") {
		errs = append(errs, fmt.Sprintf("servers[%d]: endpoint must be a valid http(s) URL", index))
	}

	versionPattern := regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	if !versionPattern.MatchString(spec.ProtocolVersion) {
		errs = append(errs, fmt.Sprintf("servers[%d]: protocolVersion must match YYYY-MM-DD", index))
	}

	for key := range spec.Headers {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Sprintf("servers[%d]: headers contains empty header name", index))
		}
	}

	return errs
}

func normalizeRuntimeConfig(cfg rawRuntimeConfig) (domain.RuntimeConfig, []string) {
	var errs []string

	if cfg.HandshakeTimeoutSeconds <= 0 {
		errs = append(errs, "handshakeTimeoutSeconds must be > 0")
	}
	if cfg.InvokeTimeoutSeconds <= 0 {
		errs = append(errs, "invokeTimeoutSeconds must be > 0")
	}
	if cfg.ReconnectBaseSeconds <= 0 {
		errs = append(errs, "reconnectBaseSeconds must be > 0")
	}
	if cfg.ReconnectMaxSeconds <= 0 {
		errs = append(errs, "reconnectMaxSeconds must be > 0")
	}
	if cfg.ReconnectBaseSeconds > 0 && cfg.ReconnectMaxSeconds > 0 && cfg.ReconnectMaxSeconds < cfg.ReconnectBaseSeconds {
		errs = append(errs, "reconnectMaxSeconds must be >= reconnectBaseSeconds")
	}
	if cfg.ReconnectMaxRetries < 0 {
		errs = append(errs, "reconnectMaxRetries must be >= 0")
	}
	if cfg.RefreshConcurrency < 0 {
		errs = append(errs, "refreshConcurrency must be >= 0")
	}
	refreshConcurrency := cfg.RefreshConcurrency
	if refreshConcurrency <= 0 {
		refreshConcurrency = domain.DefaultRefreshConcurrency
	}
	if cfg.MaxAttempts <= 0 {
		errs = append(errs, "maxAttempts must be > 0")
	}
	if strings.TrimSpace(cfg.SubmitTool) == "" {
		errs = append(errs, "submitTool must not be empty")
	}

	observability := domain.ObservabilityConfig{
		ListenAddress: strings.TrimSpace(cfg.Observability.ListenAddress),
	}
	if observability.ListenAddress == "" {
		observability.ListenAddress = domain.DefaultObservabilityListenAddress
	}

	return domain.RuntimeConfig{
		HandshakeTimeoutSeconds: cfg.HandshakeTimeoutSeconds,
		InvokeTimeoutSeconds:    cfg.InvokeTimeoutSeconds,
		ReconnectBaseSeconds:    cfg.ReconnectBaseSeconds,
		ReconnectMaxSeconds:     cfg.ReconnectMaxSeconds,
		ReconnectMaxRetries:     cfg.ReconnectMaxRetries,
		RefreshConcurrency:      refreshConcurrency,
		MaxAttempts:             cfg.MaxAttempts,
		SubmitTool:              strings.TrimSpace(cfg.SubmitTool),
		TemplatesDir:            strings.TrimSpace(cfg.TemplatesDir),
		StorePath:               strings.TrimSpace(cfg.StorePath),
		Observability:           observability,
		Synthesis: domain.SynthesisConfig{
			Provider:     strings.TrimSpace(cfg.Synthesis.Provider),
			Model:        strings.TrimSpace(cfg.Synthesis.Model),
			APIKey:       cfg.Synthesis.APIKey,
			APIKeyEnvVar: strings.TrimSpace(cfg.Synthesis.APIKeyEnvVar),
			BaseURL:      strings.TrimSpace(cfg.Synthesis.BaseURL),
			Temperature:  cfg.Synthesis.Temperature,
			MaxTokens:    cfg.Synthesis.MaxTokens,
		},
	}, errs
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandConfigEnv(data []byte) (string, []string) {
	var missing []string
	expanded := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		value, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return ""
		}
		return value
	})
	return expanded, missing
}
