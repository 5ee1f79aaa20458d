package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeFile はテスト用の一時ファイルを作成してパスを返す。
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("ファイルの作成に失敗: %v", err)
	}
	return path
}

// TestLoadDefaults はデフォルト値を検証する。
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load()でエラー: %v", err)
	}

	if cfg.Server.Port != "8086" {
		t.Errorf("Server.Port = %q, want 8086", cfg.Server.Port)
	}
	if cfg.SSE.Timeout != time.Hour {
		t.Errorf("SSE.Timeout = %v, want 1h", cfg.SSE.Timeout)
	}
	if cfg.Cache.MaxEvents != 100 || cfg.Cache.TTL != 30*time.Minute {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.Redis.URL != "" {
		t.Errorf("Redis.URL = %q, want empty", cfg.Redis.URL)
	}
	if len(cfg.RabbitMQ.RoutingKeys) != 3 {
		t.Errorf("RabbitMQ.RoutingKeys = %v", cfg.RabbitMQ.RoutingKeys)
	}
}

// TestLoadEnv は環境変数による上書きを検証する。
func TestLoadEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("PIKU_SSE_TIMEOUT", "15m")
	t.Setenv("PIKU_CACHE_MAX_EVENTS", "7")
	t.Setenv("PIKU_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("PIKU_SERVER_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load()でエラー: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %q, want 9090", cfg.Server.Port)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("Auth.JWTSecret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.SSE.Timeout != 15*time.Minute {
		t.Errorf("SSE.Timeout = %v, want 15m", cfg.SSE.Timeout)
	}
	if cfg.Cache.MaxEvents != 7 {
		t.Errorf("Cache.MaxEvents = %d, want 7", cfg.Cache.MaxEvents)
	}
	if cfg.Redis.URL != "redis://localhost:6379/0" {
		t.Errorf("Redis.URL = %q", cfg.Redis.URL)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.example.com" {
		t.Errorf("Server.AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
}

// TestLoadFile は設定ファイルの読み込みを検証する。
func TestLoadFile(t *testing.T) {
	path := writeFile(t, "notification.yaml", `
server:
  port: "7000"
sse:
  heartbeat: 5s
rabbitmq:
  enabled: true
  workers: 2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load()でエラー: %v", err)
	}
	if cfg.Server.Port != "7000" {
		t.Errorf("Server.Port = %q, want 7000", cfg.Server.Port)
	}
	if cfg.SSE.Heartbeat != 5*time.Second {
		t.Errorf("SSE.Heartbeat = %v, want 5s", cfg.SSE.Heartbeat)
	}
	if !cfg.RabbitMQ.Enabled || cfg.RabbitMQ.Workers != 2 || cfg.RabbitMQ.Queue != "piku.notification" {
		t.Errorf("RabbitMQ = %+v", cfg.RabbitMQ)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("存在しない設定ファイルでエラーが返されるべき")
	}
}

// TestValidate は設定値の検証を確認する。
func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Server:   ServerConfig{Port: "8086"},
			Log:      LogConfig{Level: "info", Format: "json"},
			Database: DatabaseConfig{Path: ":memory:"},
			Auth:     AuthConfig{JWTSecret: "s"},
			SSE:      SSEConfig{Timeout: time.Hour},
			Cache:    CacheConfig{MaxEvents: 10, TTL: time.Minute},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "正しい設定はエラーにならないこと", mutate: func(*Config) {}},
		{name: "ポートが空", mutate: func(c *Config) { c.Server.Port = "" }, wantErr: "server.port"},
		{name: "JWTシークレットが空", mutate: func(c *Config) { c.Auth.JWTSecret = "" }, wantErr: "auth.jwt_secret"},
		{name: "未対応のログ形式", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "log.format"},
		{name: "タイムアウトが0", mutate: func(c *Config) { c.SSE.Timeout = 0 }, wantErr: "sse.timeout"},
		{name: "キャッシュ件数が0", mutate: func(c *Config) { c.Cache.MaxEvents = 0 }, wantErr: "cache.max_events"},
		{name: "FCM有効で認証情報が無い", mutate: func(c *Config) { c.FCM = FCMConfig{Enabled: true, RatePerSecond: 1, QueueSize: 1} }, wantErr: "fcm.credentials_file"},
		{name: "RabbitMQ有効でworkersが0", mutate: func(c *Config) {
			c.RabbitMQ = RabbitMQConfig{Enabled: true, URL: "amqp://x", Exchange: "e", Queue: "q", PrefetchCount: 1}
		}, wantErr: "workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate()でエラー: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want %q を含むエラー", err, tt.wantErr)
			}
		})
	}
}

// TestLoadDotEnv は.envファイルの読み込みを検証する。
func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "PIKU_TEST_DOTENV_VALUE=loaded\n")
	t.Setenv("PIKU_TEST_DOTENV_VALUE", "")
	os.Unsetenv("PIKU_TEST_DOTENV_VALUE")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv()でエラー: %v", err)
	}
	if got := os.Getenv("PIKU_TEST_DOTENV_VALUE"); got != "loaded" {
		t.Errorf("PIKU_TEST_DOTENV_VALUE = %q, want loaded", got)
	}

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "none.env")); err != nil {
		t.Errorf("存在しないファイルはエラーにならないべき: %v", err)
	}
}
