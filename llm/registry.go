package llm

import (
	"fmt"
	"sort"
	"sync"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderCohere    = "cohere"
	ProviderGoogle    = "google"
	ProviderMistral   = "mistral"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
)

// KnownProviders lists every provider this module ships an adapter for.
var KnownProviders = []string{
	ProviderOpenAI,
	ProviderAnthropic,
	ProviderMistral,
	ProviderGoogle,
	ProviderCohere,
	ProviderOllama,
}

// ProviderCredentials is the per-provider part of the credential/config source.
type ProviderCredentials struct {
	APIKey       string
	BaseURL      string
	Organization string
	Model        string
}

// ClientKey uniquely identifies an LLM client configuration.
type ClientKey struct {
	Provider     string
	Model        string
	APIKey       string
	BaseURL      string
	Organization string
}

// ProviderRegistry answers which providers are enabled and configured and resolves
// the settings needed to construct a client. Construction itself lives in the
// config package to avoid import cycles with the vendor packages.
type ProviderRegistry struct {
	enabledProviders map[string]bool
	credentials      map[string]ProviderCredentials
	mu               sync.RWMutex
}

// NewProviderRegistry creates a new ProviderRegistry with the given credentials and enabled providers.
func NewProviderRegistry(credentials map[string]ProviderCredentials, enabledProviders []string) *ProviderRegistry {
	enabledMap := make(map[string]bool)
	for _, p := range enabledProviders {
		enabledMap[p] = true
	}
	creds := make(map[string]ProviderCredentials, len(credentials))
	for k, v := range credentials {
		creds[k] = v
	}

	return &ProviderRegistry{
		enabledProviders: enabledMap,
		credentials:      creds,
	}
}

// IsProviderEnabled checks if a provider is in the enabled providers list.
func (r *ProviderRegistry) IsProviderEnabled(provider string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabledProviders[provider]
}

// IsProviderConfigured checks if a provider has the required credentials.
func (r *ProviderRegistry) IsProviderConfigured(provider string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isProviderConfiguredUnlocked(provider)
}

// EnabledProviders returns the enabled providers in sorted order.
func (r *ProviderRegistry) EnabledProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getEnabledProvidersList()
}

// Resolve returns the ClientKey for provider, or an error when it is disabled,
// unknown or missing credentials.
func (r *ProviderRegistry) Resolve(provider string) (*ClientKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !isKnownProvider(provider) {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
	if !r.enabledProviders[provider] {
		return nil, fmt.Errorf("provider %s is not enabled (enabled: %v)", provider, r.getEnabledProvidersList())
	}
	if !r.isProviderConfiguredUnlocked(provider) {
		return nil, fmt.Errorf("provider %s is not configured", provider)
	}
	return r.resolveProviderConfig(provider), nil
}

// ResolvePreferred returns the ClientKey for the first usable provider in
// preferences. With no preferences, enabled providers are tried in sorted order.
func (r *ProviderRegistry) ResolvePreferred(preferences []string) (*ClientKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := preferences
	if len(candidates) == 0 {
		candidates = r.getEnabledProvidersList()
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no providers enabled")
	}

	for _, p := range candidates {
		if !isKnownProvider(p) || !r.enabledProviders[p] || !r.isProviderConfiguredUnlocked(p) {
			continue
		}
		return r.resolveProviderConfig(p), nil
	}
	return nil, fmt.Errorf("no available provider from %v (enabled: %v)", candidates, r.getEnabledProvidersList())
}

// isProviderConfiguredUnlocked is the unlocked version of IsProviderConfigured.
// Must be called with r.mu already locked.
func (r *ProviderRegistry) isProviderConfiguredUnlocked(provider string) bool {
	switch provider {
	case ProviderOllama:
		// Ollama doesn't require API key, just needs host (which has a default)
		return true
	case ProviderOpenAI, ProviderAnthropic, ProviderMistral, ProviderGoogle, ProviderCohere:
		return r.credentials[provider].APIKey != ""
	default:
		return false
	}
}

// resolveProviderConfig builds a ClientKey from the stored credentials.
func (r *ProviderRegistry) resolveProviderConfig(provider string) *ClientKey {
	creds := r.credentials[provider]
	return &ClientKey{
		Provider:     provider,
		Model:        creds.Model,
		APIKey:       creds.APIKey,
		BaseURL:      creds.BaseURL,
		Organization: creds.Organization,
	}
}

// getEnabledProvidersList returns a sorted list of enabled providers (for error messages).
func (r *ProviderRegistry) getEnabledProvidersList() []string {
	var providers []string
	for p, on := range r.enabledProviders {
		if on {
			providers = append(providers, p)
		}
	}
	sort.Strings(providers)
	return providers
}

func isKnownProvider(provider string) bool {
	for _, p := range KnownProviders {
		if p == provider {
			return true
		}
	}
	return false
}
