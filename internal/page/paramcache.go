package page

import "sync"

// Cache keys for the generation parameters mirrored from the page.
const (
	paramTemperature     = "temperature"
	paramMaxOutputTokens = "max_output_tokens"
	paramTopP            = "top_p"
	paramStopSequences   = "stop_sequences"
)

// ParamCache remembers the last value confirmed on the page for each
// generation parameter, so an unchanged parameter costs zero page
// interactions. The cache is authoritative only while the model id and the
// defaults hash it was filled under still match; EnsureValid enforces that.
type ParamCache struct {
	mu           sync.Mutex
	values       map[string]string
	modelID      string
	defaultsHash string
}

func NewParamCache() *ParamCache {
	return &ParamCache{values: make(map[string]string)}
}

// EnsureValid invalidates everything when the model or the default-value
// configuration changed since the cache was last filled.
func (c *ParamCache) EnsureValid(modelID, defaultsHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.modelID != modelID || c.defaultsHash != defaultsHash {
		c.values = make(map[string]string)
		c.modelID = modelID
		c.defaultsHash = defaultsHash
	}
}

func (c *ParamCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *ParamCache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Evict drops a single key, used after a write-verification failure.
func (c *ParamCache) Evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
}

// Clear drops everything, e.g. on an explicit admin reset.
func (c *ParamCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = make(map[string]string)
	c.modelID = ""
	c.defaultsHash = ""
}
