package config

import (
	"fmt"

	"github.com/hashicorp/vault/api"
)

// SecretLoader wraps the Vault API client for reading secrets, adapted
// from packages/go-core/config's SecretManager to the two values this
// engine needs from a vault-backed deployment: the Postgres DSN and the
// ingest API key.
type SecretLoader struct {
	client *api.Client
}

// NewSecretLoader creates a Vault client pointed at address, authenticated
// with token.
func NewSecretLoader(address, token string) (*SecretLoader, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client initialization failed: %w", err)
	}
	client.SetToken(token)

	return &SecretLoader{client: client}, nil
}

// LoadKV2 reads a KV v2 secret at path and unwraps its envelope.
func (s *SecretLoader) LoadKV2(path string) (map[string]interface{}, error) {
	secret, err := s.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("vault: read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault: no data at %s", path)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("vault: unexpected KV2 shape at %s", path)
	}
	return data, nil
}

// ApplySecrets overlays cfg.PostgresURL and cfg.APIKey from a Vault KV2
// secret when present, leaving config-file/env values untouched
// otherwise. It is a no-op when cfg.VaultAddr is empty.
func (cfg *Config) ApplySecrets(loader *SecretLoader) error {
	if cfg.VaultAddr == "" || loader == nil {
		return nil
	}
	secrets, err := loader.LoadKV2(cfg.VaultSecretPath)
	if err != nil {
		return err
	}
	if v, ok := secrets["PG_URL"].(string); ok && v != "" {
		cfg.PostgresURL = v
	}
	if v, ok := secrets["API_KEY"].(string); ok && v != "" {
		cfg.APIKey = v
	}
	return nil
}
