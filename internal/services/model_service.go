package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"rustsentry/internal/assets"
	"rustsentry/internal/models"
)

// ModelCatalog resolves provider and model names against the embedded catalog.
type ModelCatalog struct {
	providerOrder []string
	providers     map[string]*models.LLMProvider
}

// ResolvedModel is everything needed to build a chat model for one provider.
type ResolvedModel struct {
	ProviderID string
	Driver     string
	Model      string
	BaseURL    string
	APIKeyEnv  string
}

type rawModelFile struct {
	Providers []rawProvider `json:"providers"`
}

type rawProvider struct {
	ID             string     `json:"id"`
	DisplayName    string     `json:"displayName"`
	Driver         string     `json:"driver"`
	DefaultBaseURL string     `json:"defaultBaseUrl"`
	APIKeyEnv      string     `json:"apiKeyEnv"`
	Models         []rawModel `json:"models"`
}

type rawModel struct {
	DisplayName string `json:"displayName"`
	APIName     string `json:"apiName"`
	Default     bool   `json:"default"`
}

func LoadModelCatalog() (*ModelCatalog, error) {
	return parseModelCatalog(assets.ModelsData)
}

func parseModelCatalog(data []byte) (*ModelCatalog, error) {
	var parsed rawModelFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse models asset: %w", err)
	}

	c := &ModelCatalog{providers: make(map[string]*models.LLMProvider)}
	for _, p := range parsed.Providers {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			continue
		}
		provider := &models.LLMProvider{
			ID:             id,
			DisplayName:    strings.TrimSpace(p.DisplayName),
			Driver:         strings.TrimSpace(p.Driver),
			DefaultBaseURL: strings.TrimSpace(p.DefaultBaseURL),
			APIKeyEnv:      strings.TrimSpace(p.APIKeyEnv),
		}
		for _, m := range p.Models {
			apiName := strings.TrimSpace(m.APIName)
			if apiName == "" {
				continue
			}
			provider.Models = append(provider.Models, models.LLMModel{
				Key:          id + ":" + apiName,
				DisplayName:  strings.TrimSpace(m.DisplayName),
				APIName:      apiName,
				ProviderID:   id,
				ProviderName: provider.DisplayName,
				Default:      m.Default,
			})
		}
		c.providers[id] = provider
		c.providerOrder = append(c.providerOrder, id)
	}
	return c, nil
}

func (c *ModelCatalog) Providers() []models.LLMProvider {
	out := make([]models.LLMProvider, 0, len(c.providerOrder))
	for _, id := range c.providerOrder {
		out = append(out, *c.providers[id])
	}
	return out
}

func (c *ModelCatalog) Provider(id string) (*models.LLMProvider, bool) {
	p, ok := c.providers[strings.ToLower(strings.TrimSpace(id))]
	return p, ok
}

// Resolve picks the provider's default model when model is empty and the
// catalog base URL when baseURL is empty. Models outside the catalog are passed through.
func (c *ModelCatalog) Resolve(providerID, model, baseURL string) (ResolvedModel, error) {
	p, ok := c.Provider(providerID)
	if !ok {
		return ResolvedModel{}, fmt.Errorf("unknown llm provider %q", providerID)
	}
	res := ResolvedModel{
		ProviderID: p.ID,
		Driver:     p.Driver,
		Model:      strings.TrimSpace(model),
		BaseURL:    strings.TrimSpace(baseURL),
		APIKeyEnv:  p.APIKeyEnv,
	}
	if res.Model == "" {
		for _, m := range p.Models {
			if m.Default {
				res.Model = m.APIName
				break
			}
		}
		if res.Model == "" && len(p.Models) > 0 {
			res.Model = p.Models[0].APIName
		}
	}
	if res.Model == "" {
		return ResolvedModel{}, fmt.Errorf("provider %q has no models", p.ID)
	}
	if res.BaseURL == "" {
		res.BaseURL = p.DefaultBaseURL
	}
	return res, nil
}

// ResolveAPIKey returns the first non-empty key from the explicit value, the
// provider's env var, then the keyring.
func ResolveAPIKey(explicit string, resolved ResolvedModel, ring *KeyringService) (string, error) {
	if k := strings.TrimSpace(explicit); k != "" {
		return k, nil
	}
	if resolved.APIKeyEnv != "" {
		if k := strings.TrimSpace(os.Getenv(resolved.APIKeyEnv)); k != "" {
			return k, nil
		}
	}
	if ring != nil {
		k, err := ring.GetApiKey(resolved.ProviderID)
		if err == nil && k != "" {
			return k, nil
		}
		if err != nil && !errors.Is(err, ErrAPIKeyNotFound) {
			return "", fmt.Errorf("read keyring: %w", err)
		}
	}
	return "", fmt.Errorf("no API key for provider %s: set %s or run `rustsentry apikey set --provider %s`",
		resolved.ProviderID, resolved.APIKeyEnv, resolved.ProviderID)
}
