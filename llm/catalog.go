package llm

import (
	"sort"
	"strings"

	"github.com/samber/lo"
)

// ModelCapability is read-only metadata about one model.
type ModelCapability struct {
	ContextWindow       int
	DefaultOutputTokens int
	SupportsEmbedding   bool
	Dimensions          int // embedding width, 0 for generation models
}

// Catalog is an immutable table of models keyed by composite model name.
type Catalog struct {
	provider string
	models   map[string]ModelCapability
}

// NewCatalog builds a Catalog from models. The map is copied.
func NewCatalog(provider string, models map[string]ModelCapability) Catalog {
	return Catalog{provider: provider, models: lo.Assign(models)}
}

// Lookup returns the capability for key.
func (c Catalog) Lookup(key string) (ModelCapability, bool) {
	capability, ok := c.models[key]
	return capability, ok
}

// Validate returns an UnsupportedModelError when key is not in the catalog.
func (c Catalog) Validate(key string) error {
	if _, ok := c.models[key]; !ok {
		return NewUnsupportedModelError(c.provider, key, nil)
	}
	return nil
}

// Keys returns the sorted model names in the catalog.
func (c Catalog) Keys() []string {
	keys := lo.Keys(c.models)
	sort.Strings(keys)
	return keys
}

// Len returns the number of models in the catalog.
func (c Catalog) Len() int {
	return len(c.models)
}

// ModelKey builds the composite model name from a family and version.
// An empty version yields the bare family.
func ModelKey(family, sep, version string) string {
	switch {
	case version == "":
		return family
	case family == "":
		return version
	default:
		return family + sep + version
	}
}

// VersionOf is the inverse of ModelKey: it returns the version that selects key
// under family, and false when no version of family forms key.
func VersionOf(family, sep, key string) (string, bool) {
	switch {
	case key == "":
		return "", false
	case key == family:
		return "", true
	case family == "":
		return key, true
	}
	version, ok := strings.CutPrefix(key, family+sep)
	return version, ok && version != ""
}
