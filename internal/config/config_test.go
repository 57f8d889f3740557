package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadFallsBackOnBadTTLValues(t *testing.T) {
	t.Setenv("PRICE_CACHE_TTL_SECONDS", "not-a-number")
	t.Setenv("SIGNUP_TOKEN_TTL_HOURS", "-3")

	cfg := Load()
	if cfg.PriceCacheTTLSeconds != 30 {
		t.Fatalf("expected price cache ttl fallback 30, got %d", cfg.PriceCacheTTLSeconds)
	}
	if cfg.SignupTokenTTLHours != 48 {
		t.Fatalf("expected signup ttl fallback 48, got %d", cfg.SignupTokenTTLHours)
	}
}
