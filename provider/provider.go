package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/arashpx/seekly/config"
	openai_provider "github.com/arashpx/seekly/provider/openai"
)

// Provider is the contract every LLM backend satisfies. Generate is a single
// blocking completion; Stream delivers the raw token deltas of one completion
// to fn in arrival order and stops early when fn returns an error.
type Provider interface {
	Generate(ctx context.Context, prompt string, model string) (string, error)
	Stream(ctx context.Context, prompt string, model string, fn func(delta string) error) error
	Embed(ctx context.Context, model string, input []string) ([][]float32, error)
	AvailableModels() []string
}

// New builds a Provider from configuration. Only one provider is selected;
// routing between models happens via the routing section, not here.
func New(cfg config.LLMConfig) (Provider, error) {
	for name, pc := range cfg.Providers {
		switch pc.Type {
		case "openai":
			if pc.APIKey == "" {
				return nil, fmt.Errorf("provider %s: api key not configured", name)
			}
			return openai_provider.New(pc), nil
		case "":
			return nil, fmt.Errorf("provider %s: type not set", name)
		default:
			return nil, fmt.Errorf("provider %s: unsupported type %q", name, pc.Type)
		}
	}
	return nil, errors.New("no llm provider configured")
}
