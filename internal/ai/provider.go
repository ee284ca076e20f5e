package ai

import (
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/sashabaranov/go-openai"
)

const (
	InterfaceOpenAI    = "openai"
	InterfaceAzure     = "azure"
	InterfaceAnthropic = "anthropic"
)

// ProviderConfig selects and authenticates a completion vendor.
type ProviderConfig struct {
	Interface       string
	OpenAIAPIKey    string
	AzureEndpoint   string
	AzureAPIKey     string
	APIVersion      string
	AnthropicAPIKey string
	// BaseURL overrides the vendor endpoint, e.g., for a proxy.
	BaseURL string
}

// NewProvider creates the provider for cfg.Interface. Missing credentials are fatal.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	iface := strings.ToLower(strings.TrimSpace(cfg.Interface))
	switch iface {
	case InterfaceOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fatal(errors.New("OPENAI_API_KEY is required", slog.String("interface", iface)))
		}
		config := openai.DefaultConfig(cfg.OpenAIAPIKey)
		if cfg.BaseURL != "" {
			config.BaseURL = cfg.BaseURL
		}
		return NewOpenAIProvider(config), nil
	case InterfaceAzure:
		if cfg.AzureAPIKey == "" || cfg.AzureEndpoint == "" {
			return nil, fatal(errors.New("AZURE_OPENAI_API_KEY and AZURE_OPENAI_ENDPOINT are required",
				slog.String("interface", iface)))
		}
		config := openai.DefaultAzureConfig(cfg.AzureAPIKey, cfg.AzureEndpoint)
		if cfg.APIVersion != "" {
			config.APIVersion = cfg.APIVersion
		}
		return NewOpenAIProvider(config), nil
	case InterfaceAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fatal(errors.New("ANTHROPIC_API_KEY is required", slog.String("interface", iface)))
		}
		opts := []option.RequestOption{option.WithAPIKey(cfg.AnthropicAPIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		return NewAnthropicProvider(opts...), nil
	default:
		return nil, fatal(errors.New("unknown model interface", slog.String("interface", cfg.Interface)))
	}
}
