// Package llmfactory creates inference models from configuration,
// supporting OpenAI compatible providers (OpenAI, Azure, GitHub Models) and Anthropic.
package llmfactory
