package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	Init(v)
	cfg := FromViper(v)

	if cfg.Port != "4000" {
		t.Fatalf("Port=%q, want %q", cfg.Port, "4000")
	}
	if cfg.Room.ID != 1234 {
		t.Fatalf("Room.ID=%d, want 1234", cfg.Room.ID)
	}
	if cfg.Room.SubscribeMaxAttempts != 5 {
		t.Fatalf("SubscribeMaxAttempts=%d, want 5", cfg.Room.SubscribeMaxAttempts)
	}
	if cfg.Room.SubscribeRetryDelay != 500*time.Millisecond {
		t.Fatalf("SubscribeRetryDelay=%v, want 500ms", cfg.Room.SubscribeRetryDelay)
	}
	if cfg.Janus.MaxRetries != 3 || cfg.Janus.RetryDelay != time.Second {
		t.Fatalf("janus retry policy=%d/%v, want 3/1s", cfg.Janus.MaxRetries, cfg.Janus.RetryDelay)
	}
	if cfg.Janus.RequestTimeout != 10*time.Second {
		t.Fatalf("RequestTimeout=%v, want 10s", cfg.Janus.RequestTimeout)
	}
	if len(cfg.AllowedOrigins) != 3 {
		t.Fatalf("AllowedOrigins=%v, want 3 entries", cfg.AllowedOrigins)
	}
}

func TestFromViperEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("SUBSCRIBE_RETRY_DELAY", "250ms")
	t.Setenv("JANUS_URL", "ws://janus:8188/")
	t.Setenv("ROOM_ID", "4321")

	v := viper.New()
	Init(v)
	cfg := FromViper(v)

	if cfg.Port != "9090" {
		t.Fatalf("Port=%q, want %q", cfg.Port, "9090")
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://a.example" || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("AllowedOrigins=%q", cfg.AllowedOrigins)
	}
	if cfg.Room.SubscribeRetryDelay != 250*time.Millisecond {
		t.Fatalf("SubscribeRetryDelay=%v, want 250ms", cfg.Room.SubscribeRetryDelay)
	}
	if cfg.Janus.URL != "ws://janus:8188/" {
		t.Fatalf("Janus.URL=%q", cfg.Janus.URL)
	}
	if cfg.Room.ID != 4321 {
		t.Fatalf("Room.ID=%d, want 4321", cfg.Room.ID)
	}
}
