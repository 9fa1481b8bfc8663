package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	secretsService = "newsdesk"
	apiTokenKey    = "api_token"
	apiTokenEnv    = "NEWSDESK_API_TOKEN"
)

// ErrSecretNotFound is returned when no store holds the requested secret.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore holds API keys and the bearer token outside config.json.
type SecretStore interface {
	Get(account string) (string, error)
	Set(account, value string) error
}

// fileSecrets is a JSON file of {service: {account: value}} with mode 0600.
// On macOS a missing entry falls back to the login Keychain.
type fileSecrets struct {
	path string
}

// NewSecretStore returns the platform secrets store.
func NewSecretStore() SecretStore {
	return fileSecrets{path: secretsFilePath()}
}

func (f fileSecrets) read() (map[string]map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (f fileSecrets) Get(account string) (string, error) {
	secrets, err := f.read()
	if err == nil {
		if v, ok := secrets[secretsService][account]; ok && v != "" {
			return v, nil
		}
	}
	if v, kerr := keychainLookup(account); kerr == nil && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, account)
}

func (f fileSecrets) Set(account, value string) error {
	secrets, err := f.read()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if secrets == nil {
		secrets = make(map[string]map[string]string)
	}
	if secrets[secretsService] == nil {
		secrets[secretsService] = make(map[string]string)
	}
	secrets[secretsService][account] = value

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}

// GetAPIToken returns the bearer token for the HTTP API. NEWSDESK_API_TOKEN
// wins; otherwise the stored token is used, and one is generated and stored
// on first use.
func GetAPIToken(secrets SecretStore) (string, error) {
	if tok := os.Getenv(apiTokenEnv); tok != "" {
		return tok, nil
	}
	if tok, err := secrets.Get(apiTokenKey); err == nil && tok != "" {
		return tok, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := secrets.Set(apiTokenKey, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}
