package providers

import (
	"fmt"

	"github.com/nextlevelbuilder/goclaw/internal/providers/anthropic"
	"github.com/nextlevelbuilder/goclaw/internal/providers/openai"
)

// New constructs a Provider for name ("anthropic" or "openai") with the
// given credentials. The core depends only on the Provider interface above
// — concrete vendor wiring lives in the anthropic/openai subpackages.
func New(name, apiKey, baseURL, model string) (Provider, error) {
	switch name {
	case "anthropic":
		return anthropic.New(apiKey, baseURL, model), nil
	case "openai":
		return openai.New(apiKey, baseURL, model), nil
	default:
		return nil, fmt.Errorf("providers: unknown provider %q", name)
	}
}
