package app

import "testing"

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"APP_ENV", "HTTP_ADDR", "REDIS_ADDR", "PG_MAX_CONN", "CORS_ALLOW", "INSTANCE_ID"} {
		t.Setenv(k, "")
	}

	cfg := LoadConfig()
	if cfg.Env != "dev" {
		t.Errorf("Env = %q, want dev", cfg.Env)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.RedisAddr != "" {
		t.Errorf("RedisAddr = %q, want empty (bus disabled)", cfg.RedisAddr)
	}
	if cfg.PGMaxConn != 10 {
		t.Errorf("PGMaxConn = %d, want 10", cfg.PGMaxConn)
	}
	if cfg.InstanceID == "" {
		t.Error("InstanceID not generated")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("PG_MAX_CONN", "25")
	t.Setenv("CORS_ALLOW", "https://a.example, https://b.example ,")
	t.Setenv("INSTANCE_ID", "node-1")

	cfg := LoadConfig()
	if cfg.Env != "prod" || cfg.PGMaxConn != 25 || cfg.InstanceID != "node-1" {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.CORSAllow) != 2 || cfg.CORSAllow[1] != "https://b.example" {
		t.Errorf("CORSAllow = %v", cfg.CORSAllow)
	}
}

func TestGetEnvIntIgnoresGarbage(t *testing.T) {
	t.Setenv("PG_MAX_CONN", "banana")
	if got := getEnvInt("PG_MAX_CONN", 7); got != 7 {
		t.Errorf("getEnvInt = %d, want fallback 7", got)
	}
	t.Setenv("PG_MAX_CONN", "-3")
	if got := getEnvInt("PG_MAX_CONN", 7); got != 7 {
		t.Errorf("getEnvInt(-3) = %d, want fallback 7", got)
	}
}
