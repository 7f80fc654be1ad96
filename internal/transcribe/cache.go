package transcribe

import (
	"context"
	"fmt"
	"sync"
)

// Cache holds at most one loaded model. Asking for a different configuration
// closes the current model before loading the new one.
type Cache struct {
	loader Loader

	mu     sync.Mutex
	model  Model
	cfg    ModelConfig
	loaded bool
	loads  int
}

// NewCache returns an empty cache backed by loader.
func NewCache(loader Loader) *Cache {
	return &Cache{loader: loader}
}

// Get returns the model for cfg, loading it on first use. Load failures are
// returned as *LoadError and leave the cache empty.
func (c *Cache) Get(ctx context.Context, cfg ModelConfig) (Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded && c.cfg == cfg {
		return c.model, nil
	}
	if c.loaded {
		_ = c.model.Close()
		c.model, c.loaded = nil, false
	}

	m, err := c.loader.Load(ctx, cfg)
	if err != nil {
		return nil, &LoadError{Config: cfg, Err: err}
	}
	if m == nil {
		return nil, &LoadError{Config: cfg, Err: fmt.Errorf("loader returned no model")}
	}
	c.model, c.cfg, c.loaded = m, cfg, true
	c.loads++
	return m, nil
}

// Current reports the loaded configuration, if any.
func (c *Cache) Current() (ModelConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg, c.loaded
}

// Loads counts successful loads since creation.
func (c *Cache) Loads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

// Evict closes the loaded model if it matches cfg. A catastrophic runtime
// failure leaves the model unusable, so it must not be served again.
func (c *Cache) Evict(cfg ModelConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded && c.cfg == cfg {
		_ = c.model.Close()
		c.model, c.loaded = nil, false
	}
}

// Close releases the loaded model.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return nil
	}
	err := c.model.Close()
	c.model, c.loaded = nil, false
	return err
}
