package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain map[string]string

func (m mockKeychain) Get(service, account string) (string, error) {
	if service != secretService {
		return "", errors.New("wrong service")
	}
	v, ok := m[account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

// memBackend is an in-memory ConfigBackend.
type memBackend map[string]any

func (m memBackend) GetString(key string) (string, bool, error) {
	v, ok := m[key]
	if !ok {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

func (m memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m[key]
	if !ok {
		return 0, false, nil
	}
	i, ok := v.(int)
	if !ok {
		return 0, true, errors.New("not an int")
	}
	return i, true, nil
}

func (m memBackend) SetString(key, val string) error  { m[key] = val; return nil }
func (m memBackend) SetInt(key string, val int) error { m[key] = val; return nil }
func (m memBackend) Delete(key string) error          { delete(m, key); return nil }

func env(vals map[string]string) lookupFunc {
	return func(name string) (string, bool) {
		v, ok := vals[name]
		return v, ok
	}
}

// TestDefaults verifies all default values are applied when nothing is configured.
func TestDefaults(t *testing.T) {
	cfg, err := loadWith(memBackend{}, mockKeychain{}, env(map[string]string{"EMPYRE_OPENROUTER_API_KEY": "k"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.LLM.Backend != BackendOpenRouter {
		t.Errorf("LLM.Backend = %q, want %q", cfg.LLM.Backend, BackendOpenRouter)
	}
	if cfg.LLM.Timeout != 45*time.Second {
		t.Errorf("LLM.Timeout = %v, want 45s", cfg.LLM.Timeout)
	}
	if cfg.Coach.MinAuxFields != 2 || cfg.Coach.MaxPlanAttempts != 3 || cfg.Coach.ActivityFactor != 1.55 {
		t.Errorf("Coach = %+v", cfg.Coach)
	}
	if cfg.Laurel.PollInterval != 500*time.Millisecond {
		t.Errorf("Laurel.PollInterval = %v", cfg.Laurel.PollInterval)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
}

// TestBackendValues verifies every non-secret key is read from the backend.
func TestBackendValues(t *testing.T) {
	b := memBackend{
		"server.port":             9000,
		"log.level":               "DEBUG",
		"storage.data_dir":        "/tmp/empyre-test",
		"llm.backend":             "Ollama",
		"llm.model":               "llama3.1",
		"llm.ollama_base_url":     "http://gpu:11434",
		"llm.timeout":             "2m",
		"coach.min_aux_fields":    4,
		"coach.max_plan_attempts": 5,
		"coach.activity_factor":   "1.375",
		"laurel.poll_interval":    "1s",
		"llm.openrouter_api_key":  "ignored",
	}
	cfg, err := loadWith(b, mockKeychain{}, env(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := Config{
		Server:  ServerConfig{Port: 9000},
		Log:     LogConfig{Level: "debug"},
		Storage: StorageConfig{DataDir: "/tmp/empyre-test"},
		LLM: LLMConfig{
			Backend:       BackendOllama,
			Model:         "llama3.1",
			OllamaBaseURL: "http://gpu:11434",
			Timeout:       2 * time.Minute,
		},
		Coach:  CoachConfig{MinAuxFields: 4, MaxPlanAttempts: 5, ActivityFactor: 1.375},
		Laurel: LaurelConfig{PollInterval: time.Second},
	}
	if cfg != want {
		t.Errorf("cfg = %+v\nwant %+v", cfg, want)
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	b := memBackend{"server.port": 9000, "llm.model": "from-backend"}
	cfg, err := loadWith(b, mockKeychain{"openrouter_api_key": "kc-key"}, env(map[string]string{
		"EMPYRE_SERVER_PORT":        "9100",
		"EMPYRE_LLM_MODEL":          "from-env",
		"EMPYRE_OPENROUTER_API_KEY": "env-key",
		"EMPYRE_LLM_TIMEOUT":        "not-a-duration",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.LLM.Model != "from-env" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.OpenRouterAPIKey != "env-key" {
		t.Errorf("OpenRouterAPIKey = %q, want env-key", cfg.LLM.OpenRouterAPIKey)
	}
	if cfg.LLM.Timeout != 45*time.Second {
		t.Errorf("unparseable env should keep default, got %v", cfg.LLM.Timeout)
	}
}

// TestMissingRequiredField verifies a clear error when the selected backend has no key.
func TestMissingRequiredField(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"openrouter", nil, "EMPYRE_OPENROUTER_API_KEY"},
		{"gemini", map[string]string{"EMPYRE_LLM_BACKEND": "gemini", "EMPYRE_OPENROUTER_API_KEY": "k"}, "EMPYRE_GEMINI_API_KEY"},
		{"unknown backend", map[string]string{"EMPYRE_LLM_BACKEND": "bard"}, "llm.backend"},
	}
	for _, tc := range cases {
		_, err := loadWith(memBackend{}, mockKeychain{}, env(tc.env))
		if err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: error = %q, want it to mention %q", tc.name, err, tc.want)
		}
	}
}

func TestInvalidValues(t *testing.T) {
	cases := []map[string]string{
		{"EMPYRE_COACH_MAX_PLAN_ATTEMPTS": "0"},
		{"EMPYRE_COACH_MIN_AUX_FIELDS": "-1"},
		{"EMPYRE_COACH_ACTIVITY_FACTOR": "0"},
		{"EMPYRE_LOG_LEVEL": "chatty"},
	}
	for _, c := range cases {
		c["EMPYRE_OPENROUTER_API_KEY"] = "k"
		if _, err := loadWith(memBackend{}, mockKeychain{}, env(c)); err == nil {
			t.Errorf("%v: expected error", c)
		}
	}
}

// TestKeychainFallback verifies the secret store is consulted when no key is in env.
func TestKeychainFallback(t *testing.T) {
	kc := mockKeychain{"gemini_api_key": "keychain-secret"}
	cfg, err := loadWith(memBackend{"llm.backend": "gemini"}, kc, env(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.GeminiAPIKey != "keychain-secret" {
		t.Errorf("GeminiAPIKey = %q, want keychain-secret", cfg.LLM.GeminiAPIKey)
	}
}

func TestDotenvLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "EMPYRE_LLM_MODEL=from-dotenv\nEMPYRE_SERVER_PORT=7000\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EMPYRE_SERVER_PORT", "7100")

	lookup := dotenvLookup(path)
	if v, _ := lookup("EMPYRE_LLM_MODEL"); v != "from-dotenv" {
		t.Errorf("EMPYRE_LLM_MODEL = %q", v)
	}
	if v, _ := lookup("EMPYRE_SERVER_PORT"); v != "7100" {
		t.Errorf("process env should win over .env, got %q", v)
	}

	missing := dotenvLookup(filepath.Join(t.TempDir(), "nope.env"))
	if _, ok := missing("EMPYRE_DOES_NOT_EXIST_X"); ok {
		t.Error("lookup on missing file reported a value")
	}
}

func TestSetKey(t *testing.T) {
	b := memBackend{}
	var secret [3]string
	setSecret := func(service, account, value string) error {
		secret = [3]string{service, account, value}
		return nil
	}

	if err := setKey(b, setSecret, "server.port", "9001"); err != nil {
		t.Fatal(err)
	}
	if b["server.port"] != 9001 {
		t.Errorf("server.port = %v", b["server.port"])
	}
	if err := setKey(b, setSecret, "llm.timeout", "30s"); err != nil || b["llm.timeout"] != "30s" {
		t.Errorf("llm.timeout: %v, %v", b["llm.timeout"], err)
	}
	if err := setKey(b, setSecret, "coach.activity_factor", "high"); err == nil {
		t.Error("non-numeric activity factor accepted")
	}
	if err := setKey(b, setSecret, "nope", "1"); err == nil {
		t.Error("unknown key accepted")
	}
	if err := setKey(b, setSecret, "llm.openrouter_api_key", "sk-1"); err != nil {
		t.Fatal(err)
	}
	if secret != [3]string{"empyre", "openrouter_api_key", "sk-1"} {
		t.Errorf("secret = %v", secret)
	}
	if _, ok := b["llm.openrouter_api_key"]; ok {
		t.Error("secret written to the plain backend")
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.LLM.OpenRouterAPIKey = "sk-very-secret"
	for _, ki := range ShowAll(cfg) {
		if strings.Contains(ki.Value, "sk-very-secret") {
			t.Fatalf("%s leaks the secret", ki.Key)
		}
		if ki.Key == "llm.openrouter_api_key" && ki.Value != "(set)" {
			t.Errorf("openrouter key shown as %q", ki.Value)
		}
		if ki.Key == "llm.gemini_api_key" && ki.Value != "(unset)" {
			t.Errorf("gemini key shown as %q", ki.Value)
		}
	}
	if len(ValidKeys()) != len(specs) {
		t.Error("ValidKeys does not list every key")
	}
}
