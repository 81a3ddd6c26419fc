package llmfactory

import (
	"os"
	"slices"

	"github.com/effective-security/mcphost/pkg/llms/openai"
	"github.com/effective-security/x/configloader"
)

// Supported values of OpenAIConfig.APIType.
const (
	APITypeOpenAI    = "OPENAI"
	APITypeAzure     = "AZURE"
	APITypeAzureAD   = "AZURE_AD"
	APITypeGitHub    = "GITHUB"
	APITypeAnthropic = "ANTHROPIC"
)

// GitHubTokenEnvVarName is read by the GitHub Models preset.
const GitHubTokenEnvVarName = openai.GitHubTokenEnvVarName

type Config struct {
	// Providers specifies the list of providers to use
	Providers []*ProviderConfig `json:"providers" yaml:"providers"`
	// DefaultProvider specifies the default provider to use
	DefaultProvider string `json:"default_provider" yaml:"default_provider"`
}

// ProviderConfig for the OpenAI provider
type ProviderConfig struct {
	Name            string       `json:"name" yaml:"name"`
	Token           string       `json:"token,omitempty" yaml:"token,omitempty"`
	DefaultModel    string       `json:"default_model,omitempty" yaml:"default_model,omitempty"`
	AvailableModels []string     `json:"available_models,omitempty" yaml:"available_models,omitempty"`
	OpenAI          OpenAIConfig `json:"open_ai" yaml:"open_ai"`
}

// OpenAIConfig specifies options config
type OpenAIConfig struct {
	BaseURL    string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIVersion string `json:"api_version,omitempty" yaml:"api_version,omitempty"`
	// APIType specifies the type of API to use:
	// OPENAI|AZURE|AZURE_AD|GITHUB|ANTHROPIC
	APIType string `json:"api_type,omitempty" yaml:"api_type,omitempty"`
	// OrgID specifies which organization's quota and billing should be used when making API requests.
	OrgID string `json:"org_id,omitempty" yaml:"org_id,omitempty"`
}

// FindModel returns the first of models served by the provider,
// or the default model.
func (c *ProviderConfig) FindModel(models ...string) string {
	for _, model := range models {
		if slices.Contains(c.AvailableModels, model) {
			return model
		}
	}
	return c.DefaultModel
}

// GitHubModelsProvider returns the preset used when no providers are configured:
// GitHub Models with the token from GITHUB_TOKEN.
func GitHubModelsProvider() *ProviderConfig {
	return &ProviderConfig{
		Name:            "github",
		Token:           os.Getenv(GitHubTokenEnvVarName),
		DefaultModel:    openai.GitHubModelsDefaultModel,
		AvailableModels: []string{openai.GitHubModelsDefaultModel},
		OpenAI: OpenAIConfig{
			APIType:    APITypeGitHub,
			BaseURL:    openai.GitHubModelsBaseURL,
			APIVersion: openai.GitHubModelsAPIVersion,
		},
	}
}

// LoadConfig from file
func LoadConfig(file string) (*Config, error) {
	cfg := new(Config)
	if file == "" {
		return cfg, nil
	}

	err := configloader.UnmarshalAndExpand(file, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
