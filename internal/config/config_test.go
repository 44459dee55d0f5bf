package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Engine.Mode != "local" {
		t.Fatalf("expected local engine default, got %q", cfg.Engine.Mode)
	}
	if cfg.Engine.AssistantTemplate != "<|im_start|>assistant" {
		t.Fatalf("unexpected assistant template: %q", cfg.Engine.AssistantTemplate)
	}
	if cfg.Engine.StopToken != "<|im_end|>" {
		t.Fatalf("unexpected stop token: %q", cfg.Engine.StopToken)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PARLEY_ENGINE_MODE", "remote")
	t.Setenv("PARLEY_ENGINE_CHAT_COMPATIBLE", "true")
	t.Setenv("PARLEY_ENGINE_MAX_INFLIGHT", "4")
	t.Setenv("PARLEY_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("PARLEY_BUS_USERNAME", "alice")
	t.Setenv("PARLEY_BUS_PASSWORD", "secret")
	t.Setenv("PARLEY_BUS_TLS_INSECURE", "true")
	t.Setenv("PARLEY_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("PARLEY_AUDIT_PATH", "./tmp.db")
	t.Setenv("PARLEY_AUDIT_RETENTION_MODE", "persistent")
	t.Setenv("PARLEY_AUDIT_RETENTION_DAYS", "7")
	t.Setenv("PARLEY_AUDIT_MAX_REQUESTS", "123")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Engine.Mode != "remote" {
		t.Fatalf("expected engine mode override")
	}
	if !cfg.Engine.ChatCompatible {
		t.Fatalf("expected chat compatible override true")
	}
	if cfg.Engine.MaxInflight != 4 {
		t.Fatalf("expected max inflight 4, got %d", cfg.Engine.MaxInflight)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Audit.Path != "./tmp.db" {
		t.Fatalf("expected audit path override")
	}
	if cfg.Audit.RetentionMode != "persistent" {
		t.Fatalf("expected audit retention mode override")
	}
	if cfg.Audit.RetentionDays != 7 {
		t.Fatalf("expected audit retention days override")
	}
	if cfg.Audit.MaxRequests != 123 {
		t.Fatalf("expected audit max requests override")
	}
}

func TestValidateRejectsExecWithoutCommand(t *testing.T) {
	t.Setenv("PARLEY_LOCAL_MODE", "exec")

	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for exec mode without command")
	}
}

func TestValidateRejectsUnknownEngineMode(t *testing.T) {
	t.Setenv("PARLEY_ENGINE_MODE", "quantum")

	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for unknown engine mode")
	}
}
