package llm

import (
	"context"
	"sync"
	"sync/atomic"
)

// ModelState is an immutable snapshot of a client's active models.
type ModelState struct {
	Identity       ProviderIdentity
	Capability     ModelCapability
	HasCapability  bool
	EmbeddingModel string
}

// Validator checks that a composite model key is usable. It returns the model's
// capability when known.
type Validator func(ctx context.Context, key string) (ModelCapability, bool, error)

// ModelSelector guards the active-model state of one client. Reads are lock-free;
// writes are serialized and only publish fully validated snapshots.
type ModelSelector struct {
	provider string
	sep      string

	writeMu sync.Mutex
	state   atomic.Pointer[ModelState]
}

// NewModelSelector creates a selector seeded with an already validated state.
func NewModelSelector(provider, sep string, initial ModelState) *ModelSelector {
	s := &ModelSelector{provider: provider, sep: sep}
	initial.Identity.Provider = provider
	s.state.Store(&initial)
	return s
}

// Current returns the active snapshot.
func (s *ModelSelector) Current() ModelState {
	return *s.state.Load()
}

// Key returns the composite key family+version for this selector's family.
func (s *ModelSelector) Key(version string) string {
	return ModelKey(s.Current().Identity.Family, s.sep, version)
}

// SetGeneration validates family+version and publishes it as the active generation
// model. An empty version selects the bare family, which must itself be a valid
// model. It reports whether the active model changed. On error the state is untouched.
func (s *ModelSelector) SetGeneration(ctx context.Context, version string, validate Validator) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := s.state.Load()
	key := ModelKey(cur.Identity.Family, s.sep, version)
	if key == "" {
		return false, NewUnsupportedModelError(s.provider, key, nil)
	}
	capability, ok, err := validate(ctx, key)
	if err != nil {
		return false, err
	}

	next := *cur
	next.Identity.Version = version
	next.Identity.Model = key
	next.Capability = capability
	next.HasCapability = ok
	s.state.Store(&next)
	return cur.Identity.Model != key, nil
}

// SetEmbedding validates an embedding model name and publishes it. It reports whether
// the active embedding model changed. On error the state is untouched.
func (s *ModelSelector) SetEmbedding(ctx context.Context, model string, validate Validator) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if model == "" {
		return false, NewUnsupportedModelError(s.provider, model, nil)
	}
	if _, _, err := validate(ctx, model); err != nil {
		return false, err
	}

	cur := s.state.Load()
	next := *cur
	next.EmbeddingModel = model
	s.state.Store(&next)
	return cur.EmbeddingModel != model, nil
}

// CatalogValidator adapts a static Catalog into a Validator.
func CatalogValidator(c Catalog) Validator {
	return func(_ context.Context, key string) (ModelCapability, bool, error) {
		capability, ok := c.Lookup(key)
		if !ok {
			return ModelCapability{}, false, c.Validate(key)
		}
		return capability, true, nil
	}
}
