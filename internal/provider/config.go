// Package provider selects and constructs the LLM chat backend used to
// generate answers. Supported backends: OpenAI, Azure OpenAI, Ollama,
// AWS Bedrock, Google Gemini.
package provider

import "fmt"

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendBedrock selects AWS Bedrock.
	BackendBedrock Backend = "bedrock"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// ProviderOpenAI holds OpenAI-specific settings.
type ProviderOpenAI struct {
	// APIKey is the OpenAI API key (OPENAI_API_KEY).
	APIKey string
	// Model is the model name (OPENAI_MODEL, e.g. "gpt-4o").
	Model string
	// BaseURL overrides the default API endpoint (OPENAI_BASE_URL).
	BaseURL string
}

// ProviderAzureOpenAI holds Azure OpenAI Service settings.
type ProviderAzureOpenAI struct {
	// APIKey is the Azure OpenAI key (AZURE_OPENAI_API_KEY).
	APIKey string
	// Endpoint is the resource endpoint (AZURE_OPENAI_ENDPOINT).
	Endpoint string
	// Deployment is the deployment name (AZURE_OPENAI_DEPLOYMENT).
	Deployment string
	// APIVersion is the REST API version (AZURE_OPENAI_API_VERSION).
	APIVersion string
}

// ProviderOllama holds Ollama settings.
type ProviderOllama struct {
	// Host is the Ollama server base URL (OLLAMA_HOST).
	Host string
	// Model is the model name (OLLAMA_MODEL, e.g. "llama3").
	Model string
}

// ProviderBedrock holds AWS Bedrock settings. AWS credentials themselves are
// resolved via the standard SDK credential chain.
type ProviderBedrock struct {
	// AWSRegion is the AWS region (AWS_REGION).
	AWSRegion string
	// ModelID is the Bedrock model identifier (BEDROCK_MODEL_ID).
	ModelID string
	// Endpoint overrides the Bedrock-compatible runtime endpoint (BEDROCK_ENDPOINT).
	Endpoint string
	// APIKey is the bearer credential for the runtime endpoint, when required.
	APIKey string
}

// ProviderGemini holds Google Gemini settings.
type ProviderGemini struct {
	// APIKey is the AI Studio API key (GOOGLE_API_KEY).
	APIKey string
	// Model is the model name (GEMINI_MODEL, e.g. "gemini-1.5-pro").
	Model string
}

// SharedTuning holds generation parameters common to all backends.
type SharedTuning struct {
	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values. Only the section matching
// Backend is consulted.
type Config struct {
	Backend     Backend
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Ollama      ProviderOllama
	Bedrock     ProviderBedrock
	Gemini      ProviderGemini
	Tuning      SharedTuning
}

// Validate checks that the section for the selected backend carries every
// required field, returning an error naming the missing environment variable.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("provider: OPENAI_API_KEY is required for openai backend")
		}
		if c.OpenAI.Model == "" {
			return fmt.Errorf("provider: OPENAI_MODEL is required for openai backend")
		}
	case BackendAzure:
		if c.AzureOpenAI.APIKey == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_API_KEY is required for azure backend")
		}
		if c.AzureOpenAI.Endpoint == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_ENDPOINT is required for azure backend")
		}
		if c.AzureOpenAI.Deployment == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_DEPLOYMENT is required for azure backend")
		}
	case BackendOllama:
		if c.Ollama.Model == "" {
			return fmt.Errorf("provider: OLLAMA_MODEL is required for ollama backend")
		}
	case BackendBedrock:
		if c.Bedrock.ModelID == "" {
			return fmt.Errorf("provider: BEDROCK_MODEL_ID is required for bedrock backend")
		}
		if c.Bedrock.AWSRegion == "" {
			return fmt.Errorf("provider: AWS_REGION is required for bedrock backend")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("provider: GOOGLE_API_KEY is required for gemini backend")
		}
		if c.Gemini.Model == "" {
			return fmt.Errorf("provider: GEMINI_MODEL is required for gemini backend")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q — valid values: openai, azure, ollama, bedrock, gemini", c.Backend)
	}
	return nil
}
