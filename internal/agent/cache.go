package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/angelmondragon/confops/internal/localstate"
)

const assetCacheKey = "asset_cache"

// Cache holds pre-warmed notification assets per generation.
type Cache interface {
	Put(ctx context.Context, generation string, urls ...string) error
	Has(ctx context.Context, generation, url string) (bool, error)
	Generations(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, generation string) error
}

// StateCache persists the asset index through localstate so a restarted host
// still knows which generation is warm.
type StateCache struct {
	mu    sync.Mutex
	state *localstate.Store
}

func NewStateCache(state *localstate.Store) (*StateCache, error) {
	if state == nil {
		return nil, fmt.Errorf("local state required")
	}
	return &StateCache{state: state}, nil
}

func (c *StateCache) Put(ctx context.Context, generation string, urls ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	index, err := c.load(ctx)
	if err != nil {
		return err
	}
	existing := index[generation]
	for _, u := range urls {
		if u == "" || contains(existing, u) {
			continue
		}
		existing = append(existing, u)
	}
	index[generation] = existing
	return c.state.SaveJSON(ctx, assetCacheKey, index)
}

func (c *StateCache) Has(ctx context.Context, generation, url string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	index, err := c.load(ctx)
	if err != nil {
		return false, err
	}
	return contains(index[generation], url), nil
}

func (c *StateCache) Generations(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	index, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(index))
	for g := range index {
		out = append(out, g)
	}
	sort.Strings(out)
	return out, nil
}

func (c *StateCache) Delete(ctx context.Context, generation string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	index, err := c.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := index[generation]; !ok {
		return nil
	}
	delete(index, generation)
	return c.state.SaveJSON(ctx, assetCacheKey, index)
}

func (c *StateCache) load(ctx context.Context) (map[string][]string, error) {
	index := map[string][]string{}
	if _, err := c.state.LoadJSON(ctx, assetCacheKey, &index); err != nil {
		return nil, err
	}
	if index == nil {
		index = map[string][]string{}
	}
	return index, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func generationName(version int) string {
	return fmt.Sprintf("confops-assets-v%d", version)
}
