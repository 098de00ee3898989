package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "strand.yaml", "server:\n  port: 9001\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("Port = %d, want 9001", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want default", cfg.Server.Host)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("Driver = %q, want memory", cfg.Database.Driver)
	}
	if cfg.Agent.MarkupToolCalling == nil || !*cfg.Agent.MarkupToolCalling {
		t.Error("markup_tool_calling must default to true")
	}
	if cfg.Agent.StructuredToolCalling {
		t.Error("structured_tool_calling must default to false")
	}
	if cfg.Agent.ToolExecutionStrategy != "sequential" {
		t.Errorf("strategy = %q, want sequential", cfg.Agent.ToolExecutionStrategy)
	}
	if cfg.Agent.MarkupResultPlacement != "assistant_message" {
		t.Errorf("placement = %q, want assistant_message", cfg.Agent.MarkupResultPlacement)
	}
	if cfg.Redis.PresenceTTL != 5*time.Minute {
		t.Errorf("PresenceTTL = %v, want 5m", cfg.Redis.PresenceTTL)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("STRAND_TEST_SECRET", "s3cret")
	dir := t.TempDir()
	path := writeConfig(t, dir, "strand.yaml", "auth:\n  jwt_secret: ${STRAND_TEST_SECRET}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("JWTSecret = %q, want expanded env value", cfg.Auth.JWTSecret)
	}
}

func TestLoad_Include(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", "logging:\n  level: debug\nserver:\n  port: 7000\n")
	path := writeConfig(t, dir, "strand.yaml", "$include: base.yaml\nserver:\n  port: 7001\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug from include", cfg.Logging.Level)
	}
	if cfg.Server.Port != 7001 {
		t.Errorf("Port = %d, main file must win over include", cfg.Server.Port)
	}
}

func TestLoad_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "$include: b.yaml\n")
	writeConfig(t, dir, "b.yaml", "$include: a.yaml\n")

	if _, err := Load(filepath.Join(dir, "a.yaml")); err == nil {
		t.Fatal("expected include cycle error")
	}
}

func TestLoad_UnknownField(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "strand.yaml", "serverr:\n  port: 1\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestValidate_ExecuteToolsRequiresFormat(t *testing.T) {
	cfg := Default()
	disabled := false
	cfg.Agent.MarkupToolCalling = &disabled
	cfg.Agent.StructuredToolCalling = false

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error with no tool calling format enabled")
	}

	cfg.Agent.StructuredToolCalling = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestValidate_DriverRequirements(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatal("postgres driver without url must fail")
	}
	cfg.Database.URL = "postgres://localhost/strand"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}

	cfg = Default()
	cfg.Database.Driver = "sqlite"
	if err := cfg.Validate(); err == nil {
		t.Fatal("sqlite driver without path must fail")
	}

	cfg = Default()
	cfg.Database.Driver = "bolt"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown driver must fail")
	}
}

func TestValidate_Placement(t *testing.T) {
	cfg := Default()
	cfg.Agent.MarkupResultPlacement = "inline_edit"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("inline_edit must stay accepted: %v", err)
	}
	cfg.Agent.MarkupResultPlacement = "sidebar"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown placement must fail")
	}
}
