package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("resolved path %q, want %q", resolved, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.Codec != "json" || cfg.Reconnect.MaxAttempts != 5 || cfg.Reconnect.BaseDelay != time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.DevServer.Addr != ":8080" {
		t.Fatalf("unexpected devserver addr %q", cfg.DevServer.Addr)
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
server_url: ws://chat.example:9000/ws
codec: msgpack
typing_timeout: 3s
reconnect:
  max_attempts: 2
devserver:
  blocked_words: [darn, heck]
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CITYCHAT_SERVER_URL", "ws://override:1/ws")
	t.Setenv("CITYCHAT_RECONNECT_MAX_DELAY", "20s")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerURL != "ws://override:1/ws" {
		t.Fatalf("env did not override file: %q", cfg.ServerURL)
	}
	if cfg.Codec != "msgpack" || cfg.TypingTimeout != 3*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Reconnect.MaxAttempts != 2 || cfg.Reconnect.MaxDelay != 20*time.Second {
		t.Fatalf("unexpected reconnect: %+v", cfg.Reconnect)
	}
	if cfg.Reconnect.BaseDelay != time.Second {
		t.Fatalf("default base delay lost: %v", cfg.Reconnect.BaseDelay)
	}
	if len(cfg.DevServer.BlockedWords) != 2 {
		t.Fatalf("unexpected blocked words %v", cfg.DevServer.BlockedWords)
	}
}

func TestLoadRejectsUnknownCodec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("codec: xml\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := Load(nil, path); err == nil {
		t.Fatalf("expected codec error")
	}
}

func TestUpdateFrom(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Token: "abc", LogLevel: "debug", DevServer: DevServer{Addr: ":9999"}})

	if cfg.Token != "abc" || cfg.LogLevel != "debug" || cfg.DevServer.Addr != ":9999" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Codec != "json" {
		t.Fatalf("zero value overwrote codec")
	}
}
