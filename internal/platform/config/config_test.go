package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("BASE_URL", "https://gate.example.com/")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, "https://gate.example.com", cfg.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Tasks.Timeout)
	assert.Equal(t, 1, cfg.Credential.Version)
	assert.False(t, cfg.WhatsApp.Enabled())
	assert.False(t, cfg.RateLimit.Disabled)
	assert.Equal(t, 10, cfg.RateLimit.RegisterPerMinute)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "SQLITE")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("TASK_TIMEOUT", "3s")
	t.Setenv("TASK_WORKERS", "not-a-number")
	t.Setenv("RATE_LIMIT_DISABLED", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, StoreSQLite, cfg.Store.Backend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3*time.Second, cfg.Tasks.Timeout)
	assert.Equal(t, 4, cfg.Tasks.Workers)
	assert.True(t, cfg.RateLimit.Disabled)
}

func TestValidate(t *testing.T) {
	base := func() Server {
		return Server{
			Store:      StoreConfig{Backend: StoreMemory},
			Credential: CredentialConfig{SigningKey: "k", Version: 1},
			Tasks:      TasksConfig{Workers: 1, QueueSize: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Server)
		wantErr string
	}{
		{name: "valid memory config", mutate: func(*Server) {}},
		{
			name:    "unknown backend",
			mutate:  func(s *Server) { s.Store.Backend = "mongo" },
			wantErr: "unknown store backend",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(s *Server) { s.Store.Backend = StorePostgres },
			wantErr: "DATABASE_URL",
		},
		{
			name:    "sheets without spreadsheet",
			mutate:  func(s *Server) { s.Store.Backend = StoreSheets },
			wantErr: "SHEETS_SPREADSHEET_ID",
		},
		{
			name: "production with default key",
			mutate: func(s *Server) {
				s.Environment = "production"
				s.Credential.SigningKey = defaultSigningKey
				s.Security.AdminToken = "admin"
			},
			wantErr: "must be set in production",
		},
		{
			name: "production without admin token",
			mutate: func(s *Server) {
				s.Environment = "production"
				s.Credential.SigningKey = "real"
			},
			wantErr: "ADMIN_API_TOKEN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
