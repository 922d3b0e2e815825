package ratelimit

import (
	"testing"
	"time"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig(5, 10*time.Second, []string{"10.0.0.1", " 10.0.0.2 ", ""}, []string{"192.0.2.9"})

	if !cfg.Enabled {
		t.Fatal("Expected rate limiting to be enabled")
	}
	if cfg.DefaultLimit != 5 || cfg.DefaultWindow != 10*time.Second {
		t.Errorf("Unexpected limit %d per %v", cfg.DefaultLimit, cfg.DefaultWindow)
	}
	if len(cfg.Whitelist) != 2 || !cfg.Whitelist["10.0.0.1"] || !cfg.Whitelist["10.0.0.2"] {
		t.Errorf("Expected both allow entries, got %v", cfg.Whitelist)
	}
	if !cfg.Blacklist["192.0.2.9"] {
		t.Errorf("Expected deny entry, got %v", cfg.Blacklist)
	}
	if len(cfg.EndpointConfigs) == 0 {
		t.Error("Expected endpoint configs")
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig(0, 0, nil, nil)

	if cfg.DefaultLimit != DefaultLimit || cfg.DefaultWindow != DefaultWindow {
		t.Errorf("Expected defaults, got %d per %v", cfg.DefaultLimit, cfg.DefaultWindow)
	}
	if len(cfg.Whitelist) != 0 || len(cfg.Blacklist) != 0 {
		t.Error("Expected empty address sets")
	}
}

func TestNewConfig_DenyRefuses(t *testing.T) {
	limiter := NewLimiter(NewConfig(10, time.Minute, nil, []string{"192.0.2.9"}))
	defer limiter.Stop()

	if allowed, _ := limiter.Allow("192.0.2.9", "/industries", "GET"); allowed {
		t.Error("Expected denied address to be refused")
	}
	if allowed, _ := limiter.Allow("192.0.2.10", "/industries", "GET"); !allowed {
		t.Error("Expected other address to be allowed")
	}
}
