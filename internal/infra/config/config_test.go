package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Retry.Retries != 3 {
		t.Errorf("Retry.Retries = %d, want 3", cfg.Retry.Retries)
	}
	if cfg.Retry.Delay != 2*time.Second {
		t.Errorf("Retry.Delay = %v, want 2s", cfg.Retry.Delay)
	}
	if cfg.Retry.Backoff != 2.0 {
		t.Errorf("Retry.Backoff = %v, want 2.0", cfg.Retry.Backoff)
	}
	if cfg.LLM.Provider.Type != "openai" {
		t.Errorf("Provider.Type = %q, want %q", cfg.LLM.Provider.Type, "openai")
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
	if len(cfg.Directory.DepartmentTools) != 13 {
		t.Errorf("DepartmentTools has %d silos, want 13", len(cfg.Directory.DepartmentTools))
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retry.Retries != 3 {
		t.Errorf("expected defaults, got Retries=%d", cfg.Retry.Retries)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
llm:
  provider:
    name: "groq"
    type: "openai"
    base_url: "https://api.groq.com/openai/v1"
    api_key: "test-key"
    model: "llama3-8b"
  rate_limit:
    requests_per_min: 30
    burst: 2
retry:
  retries: 5
  delay: 500ms
  backoff: 1.5
billing:
  unmetered_keys: ["MASTER-KEY"]
directory:
  department_tools:
    Cybersecurity: ["workspace_read", "port_scan"]
logger:
  level: "debug"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Provider.Name != "groq" {
		t.Errorf("Provider.Name = %q, want %q", cfg.LLM.Provider.Name, "groq")
	}
	if cfg.LLM.RateLimit.RequestsPerMin != 30 {
		t.Errorf("RequestsPerMin = %d, want 30", cfg.LLM.RateLimit.RequestsPerMin)
	}
	if cfg.Retry.Retries != 5 || cfg.Retry.Delay != 500*time.Millisecond || cfg.Retry.Backoff != 1.5 {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if len(cfg.Billing.UnmeteredKeys) != 1 || cfg.Billing.UnmeteredKeys[0] != "MASTER-KEY" {
		t.Errorf("UnmeteredKeys = %v", cfg.Billing.UnmeteredKeys)
	}
	if got := cfg.Directory.DepartmentTools["Cybersecurity"]; len(got) != 2 || got[1] != "port_scan" {
		t.Errorf("Cybersecurity tools = %v", got)
	}
	// Silos absent from the file keep their defaults.
	if len(cfg.Directory.DepartmentTools["Architect"]) == 0 {
		t.Error("Architect defaults lost after merge")
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "debug")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("retry: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "insecure.yaml")
	if err := os.WriteFile(path, []byte("retry:\n  retries: 2\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for insecure permissions")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("REALMFORGE_LLM_MODEL", "gpt-test")
	t.Setenv("REALMFORGE_RETRY_RETRIES", "7")
	t.Setenv("REALMFORGE_RETRY_DELAY", "250ms")
	t.Setenv("REALMFORGE_BILLING_DEV_MODE", "true")
	t.Setenv("REALMFORGE_BILLING_UNMETERED_KEYS", " alpha , ,beta ")
	t.Setenv("REALMFORGE_LEDGER_PATH", "/tmp/ledger-test.db")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.LLM.Provider.Model != "gpt-test" {
		t.Errorf("Model = %q", cfg.LLM.Provider.Model)
	}
	if cfg.Retry.Retries != 7 {
		t.Errorf("Retries = %d, want 7", cfg.Retry.Retries)
	}
	if cfg.Retry.Delay != 250*time.Millisecond {
		t.Errorf("Delay = %v, want 250ms", cfg.Retry.Delay)
	}
	if !cfg.Billing.DevMode {
		t.Error("DevMode should be true")
	}
	if len(cfg.Billing.UnmeteredKeys) != 2 || cfg.Billing.UnmeteredKeys[0] != "alpha" || cfg.Billing.UnmeteredKeys[1] != "beta" {
		t.Errorf("UnmeteredKeys = %q", cfg.Billing.UnmeteredKeys)
	}
	if cfg.Ledger.Path != "/tmp/ledger-test.db" {
		t.Errorf("Ledger.Path = %q", cfg.Ledger.Path)
	}
}

func TestApplyEnvOverridesIgnoresGarbage(t *testing.T) {
	t.Setenv("REALMFORGE_RETRY_RETRIES", "many")
	t.Setenv("REALMFORGE_RETRY_DELAY", "soon")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if cfg.Retry.Retries != 3 || cfg.Retry.Delay != 2*time.Second {
		t.Errorf("Retry = %+v, want defaults", cfg.Retry)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	passphrase := "test-passphrase-123"
	plaintext := "MASTER-abcdef123456"

	encrypted, err := EncryptValue(plaintext, passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	decrypted, err := DecryptValue(encrypted, passphrase)
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("got %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	encrypted, err := EncryptValue("secret", "correct-pass")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptValue(encrypted, "wrong-pass"); err == nil {
		t.Error("expected error with wrong passphrase")
	}
}

func TestDecryptValueMalformed(t *testing.T) {
	if _, err := DecryptValue("no-separator", "passphrase"); err == nil {
		t.Error("expected error for missing separator")
	}
	// Valid hex but too short for nonce+ciphertext
	if _, err := DecryptValue("aabbccddee112233aabbccddee112233:aabb", "passphrase"); err == nil {
		t.Error("expected error for ciphertext too short")
	}
}

func TestDecryptSecrets(t *testing.T) {
	passphrase := "test-config-key"

	encKey, err := EncryptValue("MASTER-001", passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	encAPI, err := EncryptValue("sk-secret123456", passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	cfg := Defaults()
	cfg.LLM.Provider.APIKey = "enc:" + encAPI
	cfg.Billing.UnmeteredKeys = []string{"plain-key", "enc:" + encKey}

	if err := decryptSecrets(cfg, passphrase); err != nil {
		t.Fatalf("decryptSecrets: %v", err)
	}
	if cfg.LLM.Provider.APIKey != "sk-secret123456" {
		t.Errorf("APIKey = %q", cfg.LLM.Provider.APIKey)
	}
	if cfg.Billing.UnmeteredKeys[0] != "plain-key" || cfg.Billing.UnmeteredKeys[1] != "MASTER-001" {
		t.Errorf("UnmeteredKeys = %q", cfg.Billing.UnmeteredKeys)
	}
}

func TestLoadWithConfigKey(t *testing.T) {
	passphrase := "test-load-key"
	encrypted, err := EncryptValue("MASTER-LOAD", passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "billing:\n  unmetered_keys: [\"enc:" + encrypted + "\"]\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REALMFORGE_CONFIG_KEY", passphrase)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Billing.UnmeteredKeys[0] != "MASTER-LOAD" {
		t.Errorf("UnmeteredKeys[0] = %q, want %q", cfg.Billing.UnmeteredKeys[0], "MASTER-LOAD")
	}
}
