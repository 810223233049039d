package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"
)

const keyringServiceName = "rustsentry"

// ErrAPIKeyNotFound is returned when no key is stored for a provider.
var ErrAPIKeyNotFound = errors.New("api key not found")

type KeyringService struct {
	ring keyring.Keyring
}

// OpenKeyring opens the OS credential store for this application.
func OpenKeyring() (*KeyringService, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              keyringServiceName,
		KeychainTrustApplication: true,
		FileDir:                  "~/.config/rustsentry/keys",
		FilePasswordFunc:         keyring.TerminalPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return NewKeyringService(ring), nil
}

func NewKeyringService(ring keyring.Keyring) *KeyringService {
	return &KeyringService{ring: ring}
}

func providerKey(provider string) (string, error) {
	provider = strings.TrimSpace(strings.ToLower(provider))
	if provider == "" {
		return "", errors.New("provider is required")
	}
	return "llm/" + provider, nil
}

func (s *KeyringService) StoreApiKey(provider string, apiKey []byte) error {
	if len(apiKey) == 0 {
		return errors.New("API key is empty")
	}
	key, err := providerKey(provider)
	if err != nil {
		return err
	}
	return s.ring.Set(keyring.Item{
		Key:         key,
		Data:        apiKey,
		Label:       provider + " API key",
		Description: "API key for " + provider + " used by rustsentry",
	})
}

func (s *KeyringService) GetApiKey(provider string) (string, error) {
	key, err := providerKey(provider)
	if err != nil {
		return "", err
	}
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrAPIKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return string(item.Data), nil
}

func (s *KeyringService) DeleteApiKey(provider string) error {
	key, err := providerKey(provider)
	if err != nil {
		return err
	}
	// not every backend reports a missing key on Remove
	if _, err := s.ring.Get(key); errors.Is(err, keyring.ErrKeyNotFound) {
		return ErrAPIKeyNotFound
	}
	return s.ring.Remove(key)
}

// ListProviders returns the providers that currently have a stored key.
func (s *KeyringService) ListProviders() ([]string, error) {
	keys, err := s.ring.Keys()
	if err != nil {
		return nil, err
	}
	var providers []string
	for _, k := range keys {
		if p, ok := strings.CutPrefix(k, "llm/"); ok {
			providers = append(providers, p)
		}
	}
	return providers, nil
}
