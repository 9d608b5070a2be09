package election

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/univote/backend/internal/models"
)

const (
	defaultCacheSize = 64
	defaultCacheTTL  = 5 * time.Second

	postsKey          = "posts"
	contestantsPrefix = "contestants:"
)

type cacheItem struct {
	posts       []models.Post
	contestants []models.Contestant
	expiresAt   time.Time
}

// catalogCache is a read-through cache for post and contestant listings.
// Entries expire after ttl and are dropped on every write that could change them.
//
// Each invalidation bumps a generation. A reader takes the generation before going to
// the store and its result is only cached if no invalidation happened in between, so a
// list read before a concurrent write is never stored after that write.
type catalogCache struct {
	lru *lru.Cache[string, cacheItem]
	ttl time.Duration
	now func() time.Time

	mu             sync.Mutex
	postsGen       uint64
	contestantsGen uint64
}

func newCatalogCache(size int, ttl time.Duration) *catalogCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	l, err := lru.New[string, cacheItem](size)
	if err != nil {
		// only returned for size <= 0, which is excluded above
		panic(err)
	}
	return &catalogCache{lru: l, ttl: ttl, now: time.Now}
}

func (c *catalogCache) get(key string) (cacheItem, bool) {
	item, ok := c.lru.Get(key)
	if !ok {
		return cacheItem{}, false
	}
	if c.now().After(item.expiresAt) {
		c.lru.Remove(key)
		return cacheItem{}, false
	}
	return item, true
}

func (c *catalogCache) put(key string, item cacheItem) {
	if c.ttl <= 0 {
		return
	}
	item.expiresAt = c.now().Add(c.ttl)
	c.lru.Add(key, item)
}

func (c *catalogCache) posts() ([]models.Post, bool) {
	item, ok := c.get(postsKey)
	if !ok {
		return nil, false
	}
	out := make([]models.Post, len(item.posts))
	copy(out, item.posts)
	return out, true
}

// postsGeneration is taken before a store read whose result goes to setPosts.
func (c *catalogCache) postsGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.postsGen
}

// setPosts caches posts unless the posts were invalidated after gen was taken.
func (c *catalogCache) setPosts(gen uint64, posts []models.Post) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.postsGen {
		return
	}
	c.put(postsKey, cacheItem{posts: append([]models.Post(nil), posts...)})
}

func (c *catalogCache) contestants(key string) ([]models.Contestant, bool) {
	item, ok := c.get(contestantsPrefix + key)
	if !ok {
		return nil, false
	}
	out := make([]models.Contestant, len(item.contestants))
	copy(out, item.contestants)
	return out, true
}

func (c *catalogCache) contestantsGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contestantsGen
}

// setContestants caches list under key unless contestants were invalidated after gen was taken.
func (c *catalogCache) setContestants(gen uint64, key string, list []models.Contestant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.contestantsGen {
		return
	}
	c.put(contestantsPrefix+key, cacheItem{contestants: append([]models.Contestant(nil), list...)})
}

func (c *catalogCache) invalidatePosts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.postsGen++
	c.lru.Remove(postsKey)
}

func (c *catalogCache) invalidateContestants() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contestantsGen++
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, contestantsPrefix) {
			c.lru.Remove(k)
		}
	}
}
