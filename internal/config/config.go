package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Storage StorageConfig
	LLM     LLMConfig
	Coach   CoachConfig
	Laurel  LaurelConfig
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

// LLMConfig selects the text generation backend. Only the key for the
// selected backend is required.
type LLMConfig struct {
	Backend          string
	Model            string
	OllamaBaseURL    string
	OpenRouterAPIKey string
	GeminiAPIKey     string
	Timeout          time.Duration
}

type CoachConfig struct {
	MinAuxFields    int
	MaxPlanAttempts int
	ActivityFactor  float64
}

type LaurelConfig struct {
	PollInterval time.Duration
}

const (
	BackendOpenRouter = "openrouter"
	BackendOllama     = "ollama"
	BackendGemini     = "gemini"
)

const secretService = "empyre"

// DotenvPath is the .env file consulted by Load. Values found there sit
// below real environment variables.
var DotenvPath = ".env"

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: 8000},
		Log:    LogConfig{Level: "info"},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		LLM: LLMConfig{
			Backend:       BackendOpenRouter,
			Model:         "openai/gpt-4o-mini",
			OllamaBaseURL: "http://localhost:11434",
			Timeout:       45 * time.Second,
		},
		Coach: CoachConfig{
			MinAuxFields:    2,
			MaxPlanAttempts: 3,
			ActivityFactor:  1.55,
		},
		Laurel: LaurelConfig{PollInterval: 500 * time.Millisecond},
	}
}

// Load reads configuration from the platform-native backend, a .env file,
// environment variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.empyre.coach) and
// secrets fall back to macOS Keychain (service: empyre).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/empyre/config.json
// and secrets fall back to $XDG_DATA_HOME/empyre/secrets.json.
//
// Environment variables (EMPYRE_*) override every other source.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{}, dotenvLookup(DotenvPath))
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

// lookupFunc resolves an environment variable.
type lookupFunc func(name string) (string, bool)

// dotenvLookup layers the process environment over the values in path.
// A missing file is not an error.
func dotenvLookup(path string) lookupFunc {
	file, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read %s: %v. Ignoring it.\n", path, err)
		}
		file = nil
	}
	return func(name string) (string, bool) {
		if v, ok := os.LookupEnv(name); ok {
			return v, true
		}
		v, ok := file[name]
		return v, ok
	}
}

func loadWith(b ConfigBackend, kc keychain, lookup lookupFunc) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg, lookup)

	cfg.LLM.Backend = strings.ToLower(strings.TrimSpace(cfg.LLM.Backend))
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))

	// Try the platform secret store for keys still empty.
	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if key, err := kc.Get(secretService, s.account()); err == nil && key != "" {
			s.apply(&cfg, key)
		}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.LLM.Backend {
	case BackendOpenRouter:
		if cfg.LLM.OpenRouterAPIKey == "" {
			return missing("OpenRouter API key", "llm.openrouter_api_key")
		}
	case BackendGemini:
		if cfg.LLM.GeminiAPIKey == "" {
			return missing("Gemini API key", "llm.gemini_api_key")
		}
	case BackendOllama:
		if cfg.LLM.OllamaBaseURL == "" {
			return fmt.Errorf("missing required config: llm.ollama_base_url must be set for the ollama backend")
		}
	default:
		return fmt.Errorf("invalid config: llm.backend %q (want openrouter, ollama or gemini)", cfg.LLM.Backend)
	}
	if cfg.LLM.Model == "" {
		return fmt.Errorf("missing required config: llm.model")
	}
	if cfg.Coach.MinAuxFields < 0 {
		return fmt.Errorf("invalid config: coach.min_aux_fields must not be negative, got %d", cfg.Coach.MinAuxFields)
	}
	if cfg.Coach.MaxPlanAttempts < 1 {
		return fmt.Errorf("invalid config: coach.max_plan_attempts must be at least 1, got %d", cfg.Coach.MaxPlanAttempts)
	}
	if cfg.Coach.ActivityFactor <= 0 {
		return fmt.Errorf("invalid config: coach.activity_factor must be positive, got %g", cfg.Coach.ActivityFactor)
	}
	if cfg.LLM.Timeout <= 0 {
		return fmt.Errorf("invalid config: llm.timeout must be positive, got %s", cfg.LLM.Timeout)
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid config: log.level %q (want debug, info, warn or error)", cfg.Log.Level)
	}
	return nil
}

func missing(what, key string) error {
	for _, s := range specs {
		if s.key == key {
			return fmt.Errorf("missing required config: %s. Set it via environment variable %s, a .env file, or %s",
				what, s.env, secretHint(s.account()))
		}
	}
	return fmt.Errorf("missing required config: %s", what)
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
