package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/haukened/sgurl/internal/sgurl/domain"
)

const envPrefix = "SGURL_"

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// StorePath is the bbolt file holding settings and cached resolutions.
	StorePath string `koanf:"store_path" validate:"required"`

	// CloudURL is the public instance every repository is first checked against.
	CloudURL string `koanf:"cloud_url" validate:"required,endpoint_url"`

	// SelfHostedURL seeds the self-hosted instance when the store has none yet.
	SelfHostedURL string `koanf:"self_hosted_url" validate:"omitempty,endpoint_url"`

	// AccessToken is sent to every instance as "Authorization: token ...", when set.
	AccessToken string `koanf:"access_token"`

	// ProbeTimeout bounds each repository probe. Zero waits indefinitely.
	ProbeTimeout time.Duration `koanf:"probe_timeout" validate:"gte=0"`

	// CacheSize is the in-memory LRU capacity in front of the persisted resolution cache.
	CacheSize int `koanf:"cache_size" validate:"gte=0"`

	// BloomFPRate is the target false-positive rate of the resolution cache prefilter.
	BloomFPRate float64 `koanf:"bloom_fp_rate" validate:"gt=0,lt=1"`

	// BlocklistCacheSize is the capacity of the per-repository block decision cache.
	BlocklistCacheSize int `koanf:"blocklist_cache_size" validate:"gte=0"`
}

// DEFAULT_APP_CONFIG defines the defaults applied before environment overrides.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:                "prod",
	LogLevel:           "info",
	StorePath:          "/var/lib/sgurl/sgurl.db",
	CloudURL:           string(domain.CloudEndpoint),
	ProbeTimeout:       10 * time.Second,
	CacheSize:          1000,
	BloomFPRate:        0.01,
	BlocklistCacheSize: 1000,
}

// validEndpointURL accepts anything domain.NormalizeEndpoint accepts.
func validEndpointURL(fl validator.FieldLevel) bool {
	e, err := domain.NormalizeEndpoint(fl.Field().String())
	return err == nil && !e.IsZero()
}

// envLoader loads SGURL_* environment variables, lowercasing keys and stripping the prefix.
// It can be replaced in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			return key, strings.TrimSpace(value)
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the custom "endpoint_url" tag.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("endpoint_url", validEndpointURL)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}

// Cloud returns the normalized cloud endpoint. Load has already validated it.
func (c *AppConfig) Cloud() domain.Endpoint {
	e, _ := domain.NormalizeEndpoint(c.CloudURL)
	return e
}

// SelfHosted returns the normalized seed self-hosted endpoint, or the zero Endpoint.
func (c *AppConfig) SelfHosted() domain.Endpoint {
	e, _ := domain.NormalizeEndpoint(c.SelfHostedURL)
	return e
}
