package openai

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphost/pkg/llms/openai/internal/openaiclient"
	"github.com/effective-security/x/values"
)

const (
	tokenEnvVarName        = "OPENAI_API_KEY"      //nolint:gosec
	modelEnvVarName        = "OPENAI_MODEL"        //nolint:gosec
	baseURLEnvVarName      = "OPENAI_BASE_URL"     //nolint:gosec
	organizationEnvVarName = "OPENAI_ORGANIZATION" //nolint:gosec

	// GitHubTokenEnvVarName is the token of the GitHub Models provider.
	GitHubTokenEnvVarName = "GITHUB_TOKEN" //nolint:gosec
)

type ProviderType = openaiclient.ProviderType

const (
	ProviderOpenAI  = openaiclient.ProviderOpenAI
	ProviderAzure   = openaiclient.ProviderAzure
	ProviderAzureAD = openaiclient.ProviderAzureAD
	ProviderGitHub  = openaiclient.ProviderGitHub
)

const (
	// DefaultAzureAPIVersion is used for Azure when no version is configured.
	DefaultAzureAPIVersion = "2023-05-15"
	// GitHubModelsBaseURL is the GitHub Models inference endpoint.
	GitHubModelsBaseURL = "https://models.github.ai/inference"
	// GitHubModelsAPIVersion is the default api-version query of GitHub Models.
	GitHubModelsAPIVersion = "2024-08-01-preview"
	// GitHubModelsDefaultModel is the default model served by GitHub Models.
	GitHubModelsDefaultModel = "openai/gpt-4o"
)

var (
	// ErrMissingToken is returned when no API token is configured.
	ErrMissingToken = errors.New("missing the OpenAI API key, set it in the OPENAI_API_KEY environment variable")
	// ErrMissingGitHubToken is returned for GitHub Models when no token is configured,
	// it matches ErrMissingToken.
	ErrMissingGitHubToken = errors.Mark(
		errors.New("missing the GitHub Models token, set it in the GITHUB_TOKEN environment variable"),
		ErrMissingToken)
	// ErrEmptyResponse is returned when the API returns no choices.
	ErrEmptyResponse = errors.New("no response")
)

type options struct {
	token        string
	model        string
	baseURL      string
	organization string
	provider     ProviderType
	apiVersion   string
	httpClient   openaiclient.Doer
}

// Option is a functional option for the OpenAI client.
type Option func(*options)

func newClient(opts ...Option) (*openaiclient.Client, error) {
	o := &options{
		provider: ProviderOpenAI,
	}
	for _, opt := range opts {
		opt(o)
	}

	// GitHub Models never falls back to the OPENAI_* environment,
	// so an OpenAI key is not sent to another endpoint.
	if o.provider == ProviderGitHub {
		o.token = values.StringsCoalesce(o.token, os.Getenv(GitHubTokenEnvVarName))
		o.baseURL = values.StringsCoalesce(o.baseURL, GitHubModelsBaseURL)
		o.apiVersion = values.StringsCoalesce(o.apiVersion, GitHubModelsAPIVersion)
		o.model = values.StringsCoalesce(o.model, GitHubModelsDefaultModel)
		if o.token == "" {
			return nil, ErrMissingGitHubToken
		}
		return openaiclient.New(o.provider, o.model, o.token, o.baseURL, o.organization, o.apiVersion, o.httpClient), nil
	}

	o.token = values.StringsCoalesce(o.token, os.Getenv(tokenEnvVarName))
	o.model = values.StringsCoalesce(o.model, os.Getenv(modelEnvVarName))
	o.baseURL = values.StringsCoalesce(o.baseURL, os.Getenv(baseURLEnvVarName))
	o.organization = values.StringsCoalesce(o.organization, os.Getenv(organizationEnvVarName))
	if o.provider == ProviderAzure || o.provider == ProviderAzureAD {
		o.apiVersion = values.StringsCoalesce(o.apiVersion, DefaultAzureAPIVersion)
	}

	if o.token == "" {
		return nil, ErrMissingToken
	}

	return openaiclient.New(o.provider, o.model, o.token, o.baseURL, o.organization, o.apiVersion, o.httpClient), nil
}

// WithToken passes the OpenAI API token to the client. If not set, the token
// is read from the OPENAI_API_KEY environment variable, or GITHUB_TOKEN for
// the GitHub Models provider.
func WithToken(token string) Option {
	return func(opts *options) {
		opts.token = token
	}
}

// WithModel passes the OpenAI model to the client. If not set, the model
// is read from the OPENAI_MODEL environment variable.
// Required when ApiType is Azure.
func WithModel(model string) Option {
	return func(opts *options) {
		opts.model = model
	}
}

// WithBaseURL passes the OpenAI base url to the client. If not set, the base url
// is read from the OPENAI_BASE_URL environment variable. If still not set in ENV
// VAR OPENAI_BASE_URL, then the default value is https://api.openai.com/v1 is used.
func WithBaseURL(baseURL string) Option {
	return func(opts *options) {
		opts.baseURL = baseURL
	}
}

// WithOrganization passes the OpenAI organization to the client. If not set, the
// organization is read from the OPENAI_ORGANIZATION.
func WithOrganization(organization string) Option {
	return func(opts *options) {
		opts.organization = organization
	}
}

// WithProvider passes the api type to the client. If not set, the default value
// is ProviderOpenAI.
func WithProvider(apiType ProviderType) Option {
	return func(opts *options) {
		opts.provider = apiType
	}
}

// WithAPIVersion passes the api version to the client, sent as the api-version query.
func WithAPIVersion(apiVersion string) Option {
	return func(opts *options) {
		opts.apiVersion = apiVersion
	}
}

// WithHTTPClient allows setting a custom HTTP client. If not set, the default value
// is http.DefaultClient.
func WithHTTPClient(client openaiclient.Doer) Option {
	return func(opts *options) {
		opts.httpClient = client
	}
}
