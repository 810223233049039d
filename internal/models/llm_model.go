package models

// LLMModel is one entry of the embedded model catalog.
type LLMModel struct {
	Key          string `json:"key"`
	DisplayName  string `json:"displayName"`
	APIName      string `json:"apiName"`
	ProviderID   string `json:"providerId"`
	ProviderName string `json:"providerName"`
	Default      bool   `json:"default"`
}

// LLMProvider groups catalog models by provider.
type LLMProvider struct {
	ID             string     `json:"id"`
	DisplayName    string     `json:"displayName"`
	Driver         string     `json:"driver"`
	DefaultBaseURL string     `json:"defaultBaseUrl,omitempty"`
	APIKeyEnv      string     `json:"apiKeyEnv"`
	Models         []LLMModel `json:"models"`
}
