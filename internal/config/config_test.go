package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/brokerage")
	t.Setenv("JWT_ACCESS_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "0.0.0.0", cfg.HTTP.Host)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:3000"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 30*time.Minute, cfg.DB.ConnMaxLifetime)
	assert.Equal(t, 24*time.Hour, cfg.Auth.AccessTTL)
	assert.Equal(t, AttachmentsBackendLocal, cfg.Attachments.Backend)
	assert.Equal(t, "/uploads", cfg.Attachments.URLPrefix)
	assert.Equal(t, int64(10<<20), cfg.Attachments.MaxBytes)
	assert.Contains(t, cfg.Attachments.AllowedExt, "pdf")
	assert.True(t, cfg.MetricsEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/brokerage")
	t.Setenv("JWT_ACCESS_SECRET", "secret")
	t.Setenv("APP_ENV", "Production")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("JWT_ACCESS_TTL", "2h")
	t.Setenv("ATTACHMENTS_ALLOWED_EXT", " PDF , png ,")
	t.Setenv("METRICS_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 2*time.Hour, cfg.Auth.AccessTTL)
	assert.Equal(t, []string{"pdf", "png"}, cfg.Attachments.AllowedExt)
	assert.False(t, cfg.MetricsEnabled)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "missing dsn",
			env:  map[string]string{"JWT_ACCESS_SECRET": "secret"},
			want: "DB_DSN is required",
		},
		{
			name: "missing secret",
			env:  map[string]string{"DB_DSN": "dsn"},
			want: "JWT_ACCESS_SECRET is required",
		},
		{
			name: "unknown backend",
			env:  map[string]string{"DB_DSN": "dsn", "JWT_ACCESS_SECRET": "s", "ATTACHMENTS_BACKEND": "ftp"},
			want: "unknown ATTACHMENTS_BACKEND",
		},
		{
			name: "s3 without bucket",
			env:  map[string]string{"DB_DSN": "dsn", "JWT_ACCESS_SECRET": "s", "ATTACHMENTS_BACKEND": "s3"},
			want: "S3_BUCKET is required",
		},
		{
			name: "bad duration",
			env:  map[string]string{"DB_DSN": "dsn", "JWT_ACCESS_SECRET": "s", "JWT_ACCESS_TTL": "tomorrow"},
			want: "JWT_ACCESS_TTL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DB_DSN", "")
			t.Setenv("JWT_ACCESS_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseList(t *testing.T) {
	assert.Nil(t, parseList("   "))
	assert.Equal(t, []string{"a", "b"}, parseList("a, ,b,"))
}
