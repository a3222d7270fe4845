package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/dgellow/authbridge/internal/log"
)

// SupportedVersion is the config version prefix accepted by Load.
const SupportedVersion = "v1"

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a config document, applies defaults and validates it.
func Parse(data []byte) (Config, error) {
	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if !strings.HasPrefix(version, SupportedVersion) {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	config.ApplyDefaults()

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateRawConfig rejects secrets written inline before env resolution
func validateRawConfig(rawConfig map[string]any) error {
	secrets := map[string]any{
		"sessionSecret": rawConfig["sessionSecret"],
	}
	if classic, ok := rawConfig["classic"].(map[string]any); ok {
		secrets["classic.clientSecret"] = classic["clientSecret"]
	}
	if storage, ok := rawConfig["storage"].(map[string]any); ok {
		secrets["storage.redisPassword"] = storage["redisPassword"]
	}

	for path, value := range secrets {
		if value == nil {
			continue
		}
		if verr := validateEnvVarReference(value, path, path); verr != nil {
			return fmt.Errorf("%s", verr.Message)
		}
	}
	return nil
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if config.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if config.ClientOrigin == "" {
		return fmt.Errorf("clientOrigin is required")
	}
	origin, err := url.Parse(config.ClientOrigin)
	if err != nil || (origin.Scheme != "https" && origin.Scheme != "http") || origin.Host == "" {
		return fmt.Errorf("clientOrigin must be an absolute http(s) URL, got %q", config.ClientOrigin)
	}
	if origin.Path != "" && origin.Path != "/" {
		return fmt.Errorf("clientOrigin must not contain a path, got %q", config.ClientOrigin)
	}

	if config.SessionSecret == "" {
		log.LogWarn("sessionSecret is not set: auth routes will answer 500 until it is configured")
	} else if len(config.SessionSecret) < MinSessionSecretLength {
		return fmt.Errorf("sessionSecret must be at least %d characters (got %d). Generate with: openssl rand -base64 32", MinSessionSecretLength, len(config.SessionSecret))
	}

	if config.SessionTTL < 0 {
		return fmt.Errorf("sessionTtl cannot be negative")
	}

	if id := config.Federated.ClientID; id != "" {
		u, err := url.Parse(id)
		if err != nil || u.Host == "" || (u.Scheme != "https" && !strings.HasPrefix(id, "http://localhost")) {
			return fmt.Errorf("federated.clientId must be an https URL or http://localhost, got %q", id)
		}
	} else {
		log.LogWarn("federated.clientId is not set: federated login is disabled")
	}

	if !config.Classic.Configured() {
		log.LogWarn("classic.clientId or classic.clientSecret is not set: GitHub routes are disabled")
	}

	switch config.Storage.Kind {
	case StorageMemory:
	case StorageFirestore:
		if config.Storage.GCPProject == "" {
			return fmt.Errorf("storage.gcpProject is required when using firestore storage")
		}
	case StorageRedis:
		if config.Storage.RedisAddr == "" {
			return fmt.Errorf("storage.redisAddr is required when using redis storage")
		}
	default:
		return fmt.Errorf("storage.kind must be memory, firestore or redis, got %q", config.Storage.Kind)
	}

	for _, o := range config.AllowedOrigins {
		if _, err := url.Parse(o); err != nil {
			return fmt.Errorf("invalid allowed origin %q: %w", o, err)
		}
	}

	return nil
}
