package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigValue(t *testing.T) {
	t.Setenv("AUTHBRIDGE_TEST_VALUE", "from-env")
	t.Setenv("AUTHBRIDGE_TEST_QUOTED", `"quoted"`)

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr string
	}{
		{name: "plain string", raw: `"plain"`, want: "plain"},
		{name: "env reference", raw: `{"$env": "AUTHBRIDGE_TEST_VALUE"}`, want: "from-env"},
		{name: "quotes stripped", raw: `{"$env": "AUTHBRIDGE_TEST_QUOTED"}`, want: "quoted"},
		{name: "unset env", raw: `{"$env": "AUTHBRIDGE_TEST_UNSET"}`, wantErr: "environment variable not set"},
		{name: "unknown reference", raw: `{"$file": "/etc/passwd"}`, wantErr: "unknown reference type"},
		{name: "wrong type", raw: `42`, wantErr: "must be string or reference object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfigValue(json.RawMessage(tt.raw))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigUnmarshal(t *testing.T) {
	t.Setenv("TEST_SESSION_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("TEST_GITHUB_ID", "gh-id")
	t.Setenv("TEST_GITHUB_SECRET", "gh-secret")
	t.Setenv("TEST_REDIS_PASSWORD", "redis-pass")

	data := `{
		"version": "v1",
		"addr": ":9090",
		"clientOrigin": "https://app.example.com",
		"sessionSecret": {"$env": "TEST_SESSION_SECRET"},
		"sessionTtl": "24h",
		"storage": {"kind": "redis", "redisAddr": "localhost:6379", "redisPassword": {"$env": "TEST_REDIS_PASSWORD"}, "redisDb": 2},
		"federated": {"slingshotHost": "slingshot.test"},
		"classic": {"clientId": {"$env": "TEST_GITHUB_ID"}, "clientSecret": {"$env": "TEST_GITHUB_SECRET"}}
	}`

	var cfg Config
	require.NoError(t, json.Unmarshal([]byte(data), &cfg))

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, Secret("0123456789abcdef0123456789abcdef"), cfg.SessionSecret)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, StorageRedis, cfg.Storage.Kind)
	assert.Equal(t, Secret("redis-pass"), cfg.Storage.RedisPassword)
	assert.Equal(t, 2, cfg.Storage.RedisDB)
	assert.Equal(t, "slingshot.test", cfg.Federated.SlingshotHost)
	assert.Equal(t, "gh-id", cfg.Classic.ClientID)
	assert.Equal(t, Secret("gh-secret"), cfg.Classic.ClientSecret)
	assert.True(t, cfg.Classic.Configured())
}

func TestConfigUnmarshal_OptionalSecretsMayBeUnset(t *testing.T) {
	data := `{
		"version": "v1",
		"clientOrigin": "https://app.example.com",
		"sessionSecret": {"$env": "AUTHBRIDGE_UNSET_SESSION_SECRET"},
		"classic": {"clientId": {"$env": "AUTHBRIDGE_UNSET_ID"}, "clientSecret": {"$env": "AUTHBRIDGE_UNSET_SECRET"}}
	}`

	var cfg Config
	require.NoError(t, json.Unmarshal([]byte(data), &cfg))
	assert.False(t, cfg.HasSessionSecret())
	assert.False(t, cfg.Classic.Configured())
}

func TestConfigUnmarshal_RequiredRefMustResolve(t *testing.T) {
	data := `{"version": "v1", "clientOrigin": {"$env": "AUTHBRIDGE_UNSET_ORIGIN"}}`

	var cfg Config
	err := json.Unmarshal([]byte(data), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clientOrigin")
}

func TestConfigUnmarshal_BadTTL(t *testing.T) {
	var cfg Config
	err := json.Unmarshal([]byte(`{"sessionTtl": "forever"}`), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sessionTtl")
}
