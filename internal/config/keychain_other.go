//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// secrets are kept apart from config.json so `config show` and backups of
// the config directory never carry credentials.
type secretsFile map[string]map[string]string

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

func secretHint(account string) string {
	return fmt.Sprintf("%s (%q under %q)", secretsFilePath(), account, secretService)
}

func readSecrets() (secretsFile, error) {
	data, err := os.ReadFile(secretsFilePath())
	if err != nil {
		return nil, fmt.Errorf("secret store not available: %w", err)
	}
	var s secretsFile
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return s, nil
}

func keychainGet(service, account string) ([]byte, error) {
	s, err := readSecrets()
	if err != nil {
		return nil, err
	}
	val, ok := s[service][account]
	if !ok {
		return nil, fmt.Errorf("no %q secret stored for %q", account, service)
	}
	return []byte(val), nil
}

// keychainSet stores a secret in the secrets file, creating it 0600. A
// corrupt file is replaced rather than blocking the write.
func keychainSet(service, account, value string) error {
	s, err := readSecrets()
	if err != nil || s == nil {
		s = make(secretsFile)
	}
	if s[service] == nil {
		s[service] = make(map[string]string)
	}
	s[service][account] = value

	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(secretsFilePath(), out)
}
