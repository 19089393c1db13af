package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" || cfg.Server.RunTimeoutSeconds != 300 {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.TaskQueue.Driver != "memory" || cfg.Tasks.MaxRetries != 3 {
		t.Fatalf("unexpected queue defaults: %+v %+v", cfg.TaskQueue, cfg.Tasks)
	}
	for _, name := range []string{"gemini", "openai", "claude", "deepseek"} {
		if _, ok := cfg.Providers[name]; !ok {
			t.Fatalf("missing default provider %s", name)
		}
	}
	if cfg.Providers["deepseek"].BaseURL != "https://api.deepseek.com/v1" {
		t.Fatalf("unexpected deepseek defaults: %+v", cfg.Providers["deepseek"])
	}
}

func TestLoadMergesProvidersAndResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.json")
	content := `{
  "server": {"address": ":9090", "run_timeout_seconds": 30},
  "transcript": {"path": "data/transcript.txt"},
  "chain": {"presets_file": "/etc/relay/presets.yaml"},
  "providers": {
    "Gemini": {"model": "gemini-2.5-pro", "stream": true},
    "openai": {"enabled": false}
  },
  "task_queue": {"driver": "Redis", "redis": {"address": "127.0.0.1:6379"}}
}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.RunTimeout().Seconds() != 30 {
		t.Fatalf("unexpected run timeout: %v", cfg.Server.RunTimeout())
	}
	if cfg.Transcript.Path != filepath.Join(dir, "data/transcript.txt") {
		t.Fatalf("transcript path not resolved: %s", cfg.Transcript.Path)
	}
	if cfg.Chain.PresetsFile != "/etc/relay/presets.yaml" {
		t.Fatalf("absolute path changed: %s", cfg.Chain.PresetsFile)
	}
	gemini := cfg.Providers["gemini"]
	if gemini.Model != "gemini-2.5-pro" || !gemini.Stream || gemini.APIKeyEnv != "GEMINI_API_KEY" {
		t.Fatalf("unexpected gemini config: %+v", gemini)
	}
	if cfg.Providers["openai"].IsEnabled() {
		t.Fatalf("openai should be disabled")
	}
	if cfg.TaskQueue.Driver != "redis" {
		t.Fatalf("driver not normalised: %s", cfg.TaskQueue.Driver)
	}
}

func TestLoadRejectsUnknownQueueDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.json")
	if err := os.WriteFile(path, []byte(`{"task_queue": {"driver": "kafka"}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestBrokerDriversWarnAboutSingleInstance(t *testing.T) {
	for driver, broker := range map[string]bool{"memory": false, "redis": true, "rabbitmq": true} {
		cfg := TaskQueueConfig{Driver: driver}
		if cfg.Broker() != broker {
			t.Fatalf("%s: Broker() = %v", driver, cfg.Broker())
		}
		warnings := cfg.Warnings()
		if broker && (len(warnings) != 1 || !strings.Contains(warnings[0], "单个 relayd 实例")) {
			t.Fatalf("%s: expected single-instance warning, got %v", driver, warnings)
		}
		if !broker && len(warnings) != 0 {
			t.Fatalf("%s: unexpected warnings %v", driver, warnings)
		}
	}
}

func TestCredentialPrefersExplicitKey(t *testing.T) {
	t.Setenv("RELAY_TEST_KEY", " from-env ")

	p := ProviderConfig{APIKeyEnv: "RELAY_TEST_KEY"}
	if got := p.Credential(); got != "from-env" {
		t.Fatalf("unexpected env credential: %q", got)
	}
	p.APIKey = "explicit"
	if got := p.Credential(); got != "explicit" {
		t.Fatalf("unexpected explicit credential: %q", got)
	}
}

func TestLoadEnvDoesNotOverrideExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("RELAY_DOTENV_NEW=loaded\nRELAY_DOTENV_SET=file\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("RELAY_DOTENV_SET", "process")
	t.Setenv("RELAY_DOTENV_NEW", "")
	os.Unsetenv("RELAY_DOTENV_NEW")

	if err := LoadEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("RELAY_DOTENV_NEW"); got != "loaded" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if got := os.Getenv("RELAY_DOTENV_SET"); got != "process" {
		t.Fatalf("existing variable overridden: %q", got)
	}
}

func TestLoadRejectsProviderWithoutKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.json")
	if err := os.WriteFile(path, []byte(`{"providers": {"mistral": {"api_key_env": "MISTRAL_API_KEY"}}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for provider without kind")
	}
}
