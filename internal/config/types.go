package config

import (
	"encoding/json"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// StorageKind selects the session store backend
type StorageKind string

const (
	StorageMemory    StorageKind = "memory"
	StorageFirestore StorageKind = "firestore"
	StorageRedis     StorageKind = "redis"
)

// Defaults applied by Load when a field is left empty.
const (
	DefaultAddr                = ":8080"
	DefaultSessionTTL          = 30 * 24 * time.Hour
	DefaultFirestoreDatabase   = "(default)"
	DefaultFirestoreCollection = "authbridge_sessions"
	DefaultRedisKeyPrefix      = "authbridge:session:"
	DefaultSlingshotHost       = "slingshot.microcosm.blue"
	DefaultCDNHost             = "cdn.bsky.app"
	DefaultFederatedScope      = "atproto transition:generic"
	DefaultClassicScope        = "public_repo"

	// MinSessionSecretLength is the minimum length of sessionSecret.
	MinSessionSecretLength = 32
)

// StorageConfig configures where session documents are persisted
type StorageConfig struct {
	Kind                StorageKind `json:"kind"`
	GCPProject          string      `json:"gcpProject,omitempty"`
	FirestoreDatabase   string      `json:"firestoreDatabase,omitempty"`
	FirestoreCollection string      `json:"firestoreCollection,omitempty"`
	RedisAddr           string      `json:"redisAddr,omitempty"`
	RedisPassword       Secret      `json:"redisPassword,omitempty"`
	RedisDB             int         `json:"redisDb,omitempty"`
	RedisKeyPrefix      string      `json:"redisKeyPrefix,omitempty"`
}

// FederatedConfig configures the DID-based provider and its identity lookups
type FederatedConfig struct {
	// ClientID is the URL of the OAuth client metadata document. Without
	// it federated login is disabled.
	ClientID      string `json:"clientId,omitempty"`
	SlingshotHost string `json:"slingshotHost"`
	CDNHost       string `json:"cdnHost"`
	Scope         string `json:"scope"`
}

// Configured reports whether an OAuth client is set up.
func (c FederatedConfig) Configured() bool {
	return c.ClientID != ""
}

// ClassicConfig configures the GitHub OAuth app. APIBaseURL and AuthBaseURL
// are only set for GitHub Enterprise.
type ClassicConfig struct {
	ClientID     string `json:"clientId"`
	ClientSecret Secret `json:"clientSecret"`
	Scope        string `json:"scope"`
	APIBaseURL   string `json:"apiBaseUrl,omitempty"`
	AuthBaseURL  string `json:"authBaseUrl,omitempty"`
}

// Configured reports whether both client credentials are present.
func (c ClassicConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Config represents the config structure with resolved values.
//
// Values may be written as {"$env": "VAR_NAME"} and are resolved at load
// time. sessionSecret and the classic client credentials may reference
// unset variables: the service then starts and answers the affected routes
// with a configuration error instead.
type Config struct {
	Version        string          `json:"version"`
	Addr           string          `json:"addr"`
	ClientOrigin   string          `json:"clientOrigin"`
	SessionSecret  Secret          `json:"sessionSecret"`
	SessionTTL     time.Duration   `json:"sessionTtl"`
	Storage        StorageConfig   `json:"storage"`
	Federated      FederatedConfig `json:"federated"`
	Classic        ClassicConfig   `json:"classic"`
	AllowedOrigins []string        `json:"allowedOrigins,omitempty"`
}

// HasSessionSecret reports whether a session secret was provided.
func (c Config) HasSessionSecret() bool {
	return c.SessionSecret != ""
}

// ApplyDefaults fills empty fields with their default values.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.Storage.Kind == "" {
		c.Storage.Kind = StorageMemory
	}
	if c.Storage.FirestoreDatabase == "" {
		c.Storage.FirestoreDatabase = DefaultFirestoreDatabase
	}
	if c.Storage.FirestoreCollection == "" {
		c.Storage.FirestoreCollection = DefaultFirestoreCollection
	}
	if c.Storage.RedisKeyPrefix == "" {
		c.Storage.RedisKeyPrefix = DefaultRedisKeyPrefix
	}
	if c.Federated.SlingshotHost == "" {
		c.Federated.SlingshotHost = DefaultSlingshotHost
	}
	if c.Federated.CDNHost == "" {
		c.Federated.CDNHost = DefaultCDNHost
	}
	if c.Federated.Scope == "" {
		c.Federated.Scope = DefaultFederatedScope
	}
	if c.Classic.Scope == "" {
		c.Classic.Scope = DefaultClassicScope
	}
	if len(c.AllowedOrigins) == 0 && c.ClientOrigin != "" {
		c.AllowedOrigins = []string{c.ClientOrigin}
	}
}
