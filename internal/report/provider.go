package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kozaktomas/variance-tracker/internal/config"
)

// Provider names accepted in REPORT_PROVIDER.
const (
	ProviderTemplate = "template"
	ProviderOpenAI   = "openai"
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
)

// Provider turns a prompt into narrative text.
type Provider interface {
	Name() string
	Complete(ctx context.Context, systemPrompt, userContent string) (string, error)
	GetUsage() Usage
	ResetUsage()
}

// Usage tracks token usage and calculates cost.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalCost    float64 `json:"total_cost"` // in USD
}

// RequestPricing holds input/output prices per 1M tokens
type RequestPricing struct {
	Input  float64
	Output float64
}

// usageMeter is shared by the providers; a provider serves concurrent
// requests of the HTTP server.
type usageMeter struct {
	mu      sync.Mutex
	usage   Usage
	pricing RequestPricing
}

func (m *usageMeter) track(inputTokens, outputTokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage.InputTokens += inputTokens
	m.usage.OutputTokens += outputTokens
	m.usage.TotalCost += float64(inputTokens) / 1_000_000 * m.pricing.Input
	m.usage.TotalCost += float64(outputTokens) / 1_000_000 * m.pricing.Output
}

func (m *usageMeter) GetUsage() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

func (m *usageMeter) ResetUsage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = Usage{}
}

// NewProvider builds the configured provider. It returns nil without error
// when no provider is configured, in which case reports use the template.
func NewProvider(ctx context.Context, cfg *config.Config) (Provider, error) {
	switch strings.ToLower(cfg.Report.Provider) {
	case "", ProviderTemplate:
		return nil, nil
	case ProviderOpenAI:
		if cfg.Report.OpenAIToken == "" {
			return nil, errors.New("OPENAI_TOKEN environment variable is required")
		}
		pricing := cfg.GetModelPricing(openAIModel)
		return NewOpenAIProvider(cfg.Report.OpenAIToken, RequestPricing{Input: pricing.Input, Output: pricing.Output}), nil
	case ProviderGemini:
		if cfg.Report.GeminiKey == "" {
			return nil, errors.New("GEMINI_API_KEY environment variable is required")
		}
		pricing := cfg.GetModelPricing(geminiModel)
		return NewGeminiProvider(ctx, cfg.Report.GeminiKey, RequestPricing{Input: pricing.Input, Output: pricing.Output})
	case ProviderOllama:
		return NewOllamaProvider(cfg.Report.OllamaURL, cfg.Report.OllamaModel), nil
	default:
		return nil, fmt.Errorf("unknown report provider %q", cfg.Report.Provider)
	}
}
