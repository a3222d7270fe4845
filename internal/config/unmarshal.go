package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgellow/authbridge/internal/log"
)

// ErrEnvNotSet is returned when a {"$env": ...} reference names an unset variable.
var ErrEnvNotSet = errors.New("environment variable not set")

// ParseConfigValue parses a JSON value that is either a plain string or an
// {"$env": "VAR"} reference, resolving the reference immediately.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrEnvNotSet, envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}

// parseOptionalValue is ParseConfigValue for fields whose absence is
// reported at request time. An unset variable yields "" and a warning.
func parseOptionalValue(raw json.RawMessage, field string) (string, error) {
	if raw == nil {
		return "", nil
	}
	value, err := ParseConfigValue(raw)
	if errors.Is(err, ErrEnvNotSet) {
		log.LogWarnWithFields("config", "Optional value is not set", map[string]any{
			"field": field,
			"error": err.Error(),
		})
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", field, err)
	}
	return value, nil
}

func parseRequiredValue(raw json.RawMessage, field string) (string, error) {
	if raw == nil {
		return "", nil
	}
	value, err := ParseConfigValue(raw)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", field, err)
	}
	return value, nil
}

// UnmarshalJSON implements custom unmarshaling for Config
func (c *Config) UnmarshalJSON(data []byte) error {
	type rawConfig struct {
		Version        string          `json:"version"`
		Addr           json.RawMessage `json:"addr"`
		ClientOrigin   json.RawMessage `json:"clientOrigin"`
		SessionSecret  json.RawMessage `json:"sessionSecret"`
		SessionTTL     string          `json:"sessionTtl"`
		Storage        StorageConfig   `json:"storage"`
		Federated      FederatedConfig `json:"federated"`
		Classic        ClassicConfig   `json:"classic"`
		AllowedOrigins []string        `json:"allowedOrigins"`
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Version = raw.Version
	c.Storage = raw.Storage
	c.Federated = raw.Federated
	c.Classic = raw.Classic
	c.AllowedOrigins = raw.AllowedOrigins

	var err error
	if c.Addr, err = parseRequiredValue(raw.Addr, "addr"); err != nil {
		return err
	}
	if c.ClientOrigin, err = parseRequiredValue(raw.ClientOrigin, "clientOrigin"); err != nil {
		return err
	}

	secret, err := parseOptionalValue(raw.SessionSecret, "sessionSecret")
	if err != nil {
		return err
	}
	c.SessionSecret = Secret(secret)

	if raw.SessionTTL != "" {
		ttl, err := time.ParseDuration(raw.SessionTTL)
		if err != nil {
			return fmt.Errorf("parsing sessionTtl: %w", err)
		}
		c.SessionTTL = ttl
	}

	return nil
}

// UnmarshalJSON implements custom unmarshaling for StorageConfig
func (s *StorageConfig) UnmarshalJSON(data []byte) error {
	type rawStorage struct {
		Kind                StorageKind     `json:"kind"`
		GCPProject          json.RawMessage `json:"gcpProject"`
		FirestoreDatabase   string          `json:"firestoreDatabase"`
		FirestoreCollection string          `json:"firestoreCollection"`
		RedisAddr           json.RawMessage `json:"redisAddr"`
		RedisPassword       json.RawMessage `json:"redisPassword"`
		RedisDB             int             `json:"redisDb"`
		RedisKeyPrefix      string          `json:"redisKeyPrefix"`
	}

	var raw rawStorage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Kind = raw.Kind
	s.FirestoreDatabase = raw.FirestoreDatabase
	s.FirestoreCollection = raw.FirestoreCollection
	s.RedisDB = raw.RedisDB
	s.RedisKeyPrefix = raw.RedisKeyPrefix

	var err error
	if s.GCPProject, err = parseRequiredValue(raw.GCPProject, "storage.gcpProject"); err != nil {
		return err
	}
	if s.RedisAddr, err = parseRequiredValue(raw.RedisAddr, "storage.redisAddr"); err != nil {
		return err
	}
	password, err := parseRequiredValue(raw.RedisPassword, "storage.redisPassword")
	if err != nil {
		return err
	}
	s.RedisPassword = Secret(password)

	return nil
}

// UnmarshalJSON implements custom unmarshaling for ClassicConfig
func (c *ClassicConfig) UnmarshalJSON(data []byte) error {
	type rawClassic struct {
		ClientID     json.RawMessage `json:"clientId"`
		ClientSecret json.RawMessage `json:"clientSecret"`
		Scope        string          `json:"scope"`
		APIBaseURL   string          `json:"apiBaseUrl"`
		AuthBaseURL  string          `json:"authBaseUrl"`
	}

	var raw rawClassic
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Scope = raw.Scope
	c.APIBaseURL = raw.APIBaseURL
	c.AuthBaseURL = raw.AuthBaseURL

	var err error
	if c.ClientID, err = parseOptionalValue(raw.ClientID, "classic.clientId"); err != nil {
		return err
	}
	secret, err := parseOptionalValue(raw.ClientSecret, "classic.clientSecret")
	if err != nil {
		return err
	}
	c.ClientSecret = Secret(secret)

	return nil
}
