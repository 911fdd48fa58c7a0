package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Helper function tests
// ---------------------------------------------------------------------------

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string // nil = don't set; pointer to distinguish "" from unset
		fallback string
		want     string
	}{
		{name: "returns fallback when unset", key: "QUERYDECK_TEST_GETENV_UNSET", setVal: nil, fallback: "default", want: "default"},
		{name: "returns env value when set", key: "QUERYDECK_TEST_GETENV_SET", setVal: strPtr("custom"), fallback: "default", want: "custom"},
		{name: "returns fallback when empty string", key: "QUERYDECK_TEST_GETENV_EMPTY", setVal: strPtr(""), fallback: "default", want: "default"},
		{name: "preserves whitespace", key: "QUERYDECK_TEST_GETENV_WS", setVal: strPtr("  spaced  "), fallback: "x", want: "  spaced  "},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got := getEnv(tc.key, tc.fallback)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback int
		want     int
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "QUERYDECK_TEST_INT_UNSET", setVal: nil, fallback: 42, want: 42},
		{name: "parses valid int", key: "QUERYDECK_TEST_INT_VALID", setVal: strPtr("8080"), fallback: 0, want: 8080},
		{name: "parses negative int", key: "QUERYDECK_TEST_INT_NEG", setVal: strPtr("-1"), fallback: 0, want: -1},
		{name: "parses zero", key: "QUERYDECK_TEST_INT_ZERO", setVal: strPtr("0"), fallback: 99, want: 0},
		{name: "returns fallback for empty string", key: "QUERYDECK_TEST_INT_EMPTY", setVal: strPtr(""), fallback: 25, want: 25},
		{name: "errors on non-numeric", key: "QUERYDECK_TEST_INT_NAN", setVal: strPtr("abc"), fallback: 0, wantErr: true},
		{name: "errors on float", key: "QUERYDECK_TEST_INT_FLOAT", setVal: strPtr("3.14"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvInt(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback bool
		want     bool
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "QUERYDECK_TEST_BOOL_UNSET", setVal: nil, fallback: false, want: false},
		{name: "fallback true when unset", key: "QUERYDECK_TEST_BOOL_UNSETTRUE", setVal: nil, fallback: true, want: true},
		{name: "parses true", key: "QUERYDECK_TEST_BOOL_TRUE", setVal: strPtr("true"), fallback: false, want: true},
		{name: "parses false", key: "QUERYDECK_TEST_BOOL_FALSE", setVal: strPtr("false"), fallback: true, want: false},
		{name: "parses 1", key: "QUERYDECK_TEST_BOOL_ONE", setVal: strPtr("1"), fallback: false, want: true},
		{name: "errors on invalid", key: "QUERYDECK_TEST_BOOL_INV", setVal: strPtr("yes"), fallback: false, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvBool(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback time.Duration
		want     time.Duration
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "QUERYDECK_TEST_DUR_UNSET", setVal: nil, fallback: 5 * time.Second, want: 5 * time.Second},
		{name: "parses seconds", key: "QUERYDECK_TEST_DUR_SEC", setVal: strPtr("30s"), fallback: 0, want: 30 * time.Second},
		{name: "parses composite", key: "QUERYDECK_TEST_DUR_COMP", setVal: strPtr("1h30m"), fallback: 0, want: 90 * time.Minute},
		{name: "errors on invalid", key: "QUERYDECK_TEST_DUR_INV", setVal: strPtr("notaduration"), fallback: 0, wantErr: true},
		{name: "errors on bare number", key: "QUERYDECK_TEST_DUR_BARE", setVal: strPtr("30"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvDuration(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

// ---------------------------------------------------------------------------
// Load() error cases
// ---------------------------------------------------------------------------

func TestLoad_MissingAPIKey(t *testing.T) {
	// All defaults apply; the LLM API key is empty => must fail.
	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "QUERYDECK_LLM_API_KEY")
}

func TestLoad_InvalidEnvVars(t *testing.T) {
	tests := []struct {
		name   string
		envKey string
		envVal string
		errMsg string
	}{
		// DB_PORT parse errors
		{name: "DB_PORT not a number", envKey: "QUERYDECK_DB_PORT", envVal: "abc", errMsg: "QUERYDECK_DB_PORT"},
		{name: "DB_PORT float", envKey: "QUERYDECK_DB_PORT", envVal: "3.14", errMsg: "QUERYDECK_DB_PORT"},

		// DB_PORT validation errors (parses fine, fails bounds)
		{name: "DB_PORT zero", envKey: "QUERYDECK_DB_PORT", envVal: "0", errMsg: "QUERYDECK_DB_PORT"},
		{name: "DB_PORT too high", envKey: "QUERYDECK_DB_PORT", envVal: "65536", errMsg: "QUERYDECK_DB_PORT"},

		// DB_MAX_CONNS
		{name: "DB_MAX_CONNS zero", envKey: "QUERYDECK_DB_MAX_CONNS", envVal: "0", errMsg: "QUERYDECK_DB_MAX_CONNS"},
		{name: "DB_MAX_CONNS not a number", envKey: "QUERYDECK_DB_MAX_CONNS", envVal: "many", errMsg: "QUERYDECK_DB_MAX_CONNS"},

		// Session policy
		{name: "QUERY_TIMEOUT invalid", envKey: "QUERYDECK_QUERY_TIMEOUT", envVal: "badval", errMsg: "QUERYDECK_QUERY_TIMEOUT"},
		{name: "QUERY_TIMEOUT zero", envKey: "QUERYDECK_QUERY_TIMEOUT", envVal: "0s", errMsg: "QUERYDECK_QUERY_TIMEOUT"},
		{name: "QUERY_TIMEOUT negative", envKey: "QUERYDECK_QUERY_TIMEOUT", envVal: "-5s", errMsg: "QUERYDECK_QUERY_TIMEOUT"},
		{name: "MAX_TOOL_ROUNDS zero", envKey: "QUERYDECK_MAX_TOOL_ROUNDS", envVal: "0", errMsg: "QUERYDECK_MAX_TOOL_ROUNDS"},
		{name: "MAX_MESSAGES zero", envKey: "QUERYDECK_MAX_MESSAGES", envVal: "0", errMsg: "QUERYDECK_MAX_MESSAGES"},
		{name: "SAFEGUARD not a bool", envKey: "QUERYDECK_SAFEGUARD", envVal: "yes", errMsg: "QUERYDECK_SAFEGUARD"},

		// LLM
		{name: "LLM_TIMEOUT invalid", envKey: "QUERYDECK_LLM_TIMEOUT", envVal: "badval", errMsg: "QUERYDECK_LLM_TIMEOUT"},
		{name: "LLM_TIMEOUT zero", envKey: "QUERYDECK_LLM_TIMEOUT", envVal: "0s", errMsg: "QUERYDECK_LLM_TIMEOUT"},

		// Server timeouts
		{name: "SERVER_READ_TIMEOUT invalid", envKey: "QUERYDECK_SERVER_READ_TIMEOUT", envVal: "notduration", errMsg: "QUERYDECK_SERVER_READ_TIMEOUT"},
		{name: "SERVER_WRITE_TIMEOUT zero", envKey: "QUERYDECK_SERVER_WRITE_TIMEOUT", envVal: "0s", errMsg: "QUERYDECK_SERVER_WRITE_TIMEOUT"},

		// Redis DB
		{name: "REDIS_DB not a number", envKey: "QUERYDECK_REDIS_DB", envVal: "abc", errMsg: "QUERYDECK_REDIS_DB"},

		// Self-hosted
		{name: "SELF_HOSTED not a bool", envKey: "QUERYDECK_SELF_HOSTED", envVal: "yes", errMsg: "QUERYDECK_SELF_HOSTED"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// Always set the API key so failures are from the var under test.
			t.Setenv("QUERYDECK_LLM_API_KEY", "sk-test")
			t.Setenv(tc.envKey, tc.envVal)

			cfg, err := Load()
			require.Error(t, err, "expected error for %s=%q", tc.envKey, tc.envVal)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

// ---------------------------------------------------------------------------
// Load() happy paths
// ---------------------------------------------------------------------------

func TestLoad_Defaults(t *testing.T) {
	// Only the required API key is set; everything else uses defaults.
	t.Setenv("QUERYDECK_LLM_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Warehouse defaults.
	assert.Equal(t, "localhost", cfg.Warehouse.Host)
	assert.Equal(t, 5432, cfg.Warehouse.Port)
	assert.Equal(t, "querydeck", cfg.Warehouse.User)
	assert.Empty(t, cfg.Warehouse.Password)
	assert.Equal(t, "querydeck_dev", cfg.Warehouse.DBName)
	assert.Equal(t, "disable", cfg.Warehouse.SSLMode)
	assert.Equal(t, 10, cfg.Warehouse.MaxConns)

	// Redis defaults: events disabled until an address is configured.
	assert.Empty(t, cfg.Redis.Addr)
	assert.False(t, cfg.Redis.EventsEnabled())

	// LLM defaults.
	assert.Equal(t, "https://api.openai.com/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 120*time.Second, cfg.LLM.Timeout)

	// Session defaults.
	assert.True(t, cfg.Session.SafeguardEnabled)
	assert.Equal(t, 60*time.Second, cfg.Session.QueryTimeout)
	assert.Equal(t, 8, cfg.Session.MaxToolRounds)
	assert.Equal(t, 20, cfg.Session.MaxMessages)

	// Persistence defaults.
	assert.Equal(t, "querydeck.db", cfg.SQLitePath)

	// Server defaults.
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 180*time.Second, cfg.Server.WriteTimeout)

	// Self-hosted default.
	assert.False(t, cfg.SelfHosted)
}

func TestLoad_AllCustomValues(t *testing.T) {
	envs := map[string]string{
		// Warehouse
		"QUERYDECK_DB_HOST":      "db.prod.internal",
		"QUERYDECK_DB_PORT":      "5433",
		"QUERYDECK_DB_USER":      "prod_user",
		"QUERYDECK_DB_PASSWORD":  "s3cret!",
		"QUERYDECK_DB_NAME":      "warehouse",
		"QUERYDECK_DB_SSLMODE":   "require",
		"QUERYDECK_DB_MAX_CONNS": "50",
		// Redis
		"QUERYDECK_REDIS_ADDR":     "redis.prod:6380",
		"QUERYDECK_REDIS_PASSWORD": "redis-pass",
		"QUERYDECK_REDIS_DB":       "3",
		// LLM
		"QUERYDECK_LLM_BASE_URL": "http://llm.internal/v1",
		"QUERYDECK_LLM_API_KEY":  "sk-prod",
		"QUERYDECK_LLM_MODEL":    "gpt-4o",
		"QUERYDECK_LLM_TIMEOUT":  "90s",
		// Session policy
		"QUERYDECK_SAFEGUARD":       "false",
		"QUERYDECK_QUERY_TIMEOUT":   "30s",
		"QUERYDECK_MAX_TOOL_ROUNDS": "5",
		"QUERYDECK_MAX_MESSAGES":    "40",
		"QUERYDECK_SYSTEM_PROMPT":   "You answer questions about the sales warehouse.",
		// Persistence
		"QUERYDECK_SQLITE_PATH": "/var/lib/querydeck/sessions.db",
		// Server
		"QUERYDECK_SERVER_ADDR":          ":9090",
		"QUERYDECK_SERVER_READ_TIMEOUT":  "5s",
		"QUERYDECK_SERVER_WRITE_TIMEOUT": "15s",
		// Self-hosted
		"QUERYDECK_SELF_HOSTED": "true",
	}

	for k, v := range envs {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Warehouse
	assert.Equal(t, "db.prod.internal", cfg.Warehouse.Host)
	assert.Equal(t, 5433, cfg.Warehouse.Port)
	assert.Equal(t, "prod_user", cfg.Warehouse.User)
	assert.Equal(t, "s3cret!", cfg.Warehouse.Password)
	assert.Equal(t, "warehouse", cfg.Warehouse.DBName)
	assert.Equal(t, "require", cfg.Warehouse.SSLMode)
	assert.Equal(t, 50, cfg.Warehouse.MaxConns)

	// Redis
	assert.Equal(t, "redis.prod:6380", cfg.Redis.Addr)
	assert.Equal(t, "redis-pass", cfg.Redis.Password)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.True(t, cfg.Redis.EventsEnabled())

	// LLM
	assert.Equal(t, "http://llm.internal/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "sk-prod", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 90*time.Second, cfg.LLM.Timeout)

	// Session policy
	assert.False(t, cfg.Session.SafeguardEnabled)
	assert.Equal(t, 30*time.Second, cfg.Session.QueryTimeout)
	assert.Equal(t, 5, cfg.Session.MaxToolRounds)
	assert.Equal(t, 40, cfg.Session.MaxMessages)
	assert.Equal(t, "You answer questions about the sales warehouse.", cfg.Session.SystemPrompt)

	// Persistence
	assert.Equal(t, "/var/lib/querydeck/sessions.db", cfg.SQLitePath)

	// Server
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)

	// Self-hosted
	assert.True(t, cfg.SelfHosted)
}

// ---------------------------------------------------------------------------
// DSN() output format
// ---------------------------------------------------------------------------

func TestWarehouseConfig_DSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  WarehouseConfig
		want string
	}{
		{
			name: "default dev values",
			cfg: WarehouseConfig{
				Host: "localhost", Port: 5432, User: "querydeck",
				Password: "", DBName: "querydeck_dev", SSLMode: "disable",
			},
			want: "host=localhost port=5432 user=querydeck password= dbname=querydeck_dev sslmode=disable",
		},
		{
			name: "production values",
			cfg: WarehouseConfig{
				Host: "db.prod", Port: 5433, User: "admin",
				Password: "p@ss!", DBName: "warehouse", SSLMode: "require",
			},
			want: "host=db.prod port=5433 user=admin password=p@ss! dbname=warehouse sslmode=require",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.cfg.DSN())
		})
	}
}

// ---------------------------------------------------------------------------
// validate() direct tests
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	t.Parallel()

	// validBase returns a Config that passes validation.
	validBase := func() *Config {
		return &Config{
			Warehouse: WarehouseConfig{Port: 5432, MaxConns: 10},
			LLM: LLMConfig{
				BaseURL: "https://api.openai.com/v1",
				APIKey:  "sk-test",
				Model:   "gpt-4o-mini",
				Timeout: 2 * time.Minute,
			},
			Session: SessionConfig{
				SafeguardEnabled: true,
				QueryTimeout:     time.Minute,
				MaxToolRounds:    8,
				MaxMessages:      20,
			},
			SQLitePath: "querydeck.db",
			Server: ServerConfig{
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 3 * time.Minute,
			},
		}
	}

	t.Run("valid config passes", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, validBase().validate())
	})

	t.Run("empty API key fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.LLM.APIKey = ""
		assert.ErrorContains(t, c.validate(), "QUERYDECK_LLM_API_KEY")
	})

	t.Run("empty base URL fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.LLM.BaseURL = ""
		assert.ErrorContains(t, c.validate(), "QUERYDECK_LLM_BASE_URL")
	})

	t.Run("empty model fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.LLM.Model = ""
		assert.ErrorContains(t, c.validate(), "QUERYDECK_LLM_MODEL")
	})

	t.Run("port 0 fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Warehouse.Port = 0
		assert.ErrorContains(t, c.validate(), "QUERYDECK_DB_PORT")
	})

	t.Run("port 65535 passes", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Warehouse.Port = 65535
		assert.NoError(t, c.validate())
	})

	t.Run("MaxConns 0 fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Warehouse.MaxConns = 0
		assert.ErrorContains(t, c.validate(), "QUERYDECK_DB_MAX_CONNS")
	})

	t.Run("query timeout 0 fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Session.QueryTimeout = 0
		assert.ErrorContains(t, c.validate(), "QUERYDECK_QUERY_TIMEOUT")
	})

	t.Run("tool rounds 0 fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Session.MaxToolRounds = 0
		assert.ErrorContains(t, c.validate(), "QUERYDECK_MAX_TOOL_ROUNDS")
	})

	t.Run("max messages 0 fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Session.MaxMessages = 0
		assert.ErrorContains(t, c.validate(), "QUERYDECK_MAX_MESSAGES")
	})

	t.Run("empty sqlite path fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.SQLitePath = ""
		assert.ErrorContains(t, c.validate(), "QUERYDECK_SQLITE_PATH")
	})

	t.Run("WriteTimeout 0 fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Server.WriteTimeout = 0
		assert.ErrorContains(t, c.validate(), "QUERYDECK_SERVER_WRITE_TIMEOUT")
	})
}

// ---------------------------------------------------------------------------
// Test helper
// ---------------------------------------------------------------------------

func strPtr(s string) *string {
	return &s
}
