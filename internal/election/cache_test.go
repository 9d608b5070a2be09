package election

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/univote/backend/internal/models"
)

func TestCatalogCacheExpires(t *testing.T) {
	c := newCatalogCache(4, time.Second)
	now := t0
	c.now = func() time.Time { return now }

	c.setPosts(0, []models.Post{{Name: "President"}})
	posts, ok := c.posts()
	require.True(t, ok)
	assert.Len(t, posts, 1)

	now = now.Add(2 * time.Second)
	_, ok = c.posts()
	assert.False(t, ok)
}

func TestCatalogCacheReturnsCopies(t *testing.T) {
	c := newCatalogCache(4, time.Minute)
	c.setContestants(0, "all", []models.Contestant{{Name: "A", Votes: 1}})

	list, ok := c.contestants("all")
	require.True(t, ok)
	list[0].Votes = 99

	again, _ := c.contestants("all")
	assert.EqualValues(t, 1, again[0].Votes)
}

func TestCatalogCacheEmptyListIsNotNil(t *testing.T) {
	c := newCatalogCache(4, time.Minute)
	c.setPosts(0, []models.Post{})
	posts, ok := c.posts()
	require.True(t, ok)
	assert.NotNil(t, posts)
}

func TestCatalogCacheInvalidateContestantsKeepsPosts(t *testing.T) {
	c := newCatalogCache(8, time.Minute)
	post := uuid.New()
	c.setPosts(0, []models.Post{{ID: post}})
	c.setContestants(0, "all", []models.Contestant{{PostID: post}})
	c.setContestants(0, post.String(), []models.Contestant{{PostID: post}})

	c.invalidateContestants()
	_, ok := c.contestants("all")
	assert.False(t, ok)
	_, ok = c.contestants(post.String())
	assert.False(t, ok)
	_, ok = c.posts()
	assert.True(t, ok)

	c.invalidatePosts()
	_, ok = c.posts()
	assert.False(t, ok)
}

func TestCatalogCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newCatalogCache(2, time.Minute)
	c.setContestants(0, "a", nil)
	c.setContestants(0, "b", nil)
	_, _ = c.contestants("a")
	c.setContestants(0, "c", nil)

	_, ok := c.contestants("b")
	assert.False(t, ok)
	_, ok = c.contestants("a")
	assert.True(t, ok)
}

func TestCatalogCacheDropsResultReadBeforeInvalidation(t *testing.T) {
	c := newCatalogCache(4, time.Minute)

	gen := c.contestantsGeneration()
	c.invalidateContestants()
	c.setContestants(gen, "all", []models.Contestant{{Name: "stale"}})
	_, ok := c.contestants("all")
	assert.False(t, ok)

	c.setContestants(c.contestantsGeneration(), "all", []models.Contestant{{Name: "fresh"}})
	list, ok := c.contestants("all")
	require.True(t, ok)
	assert.Equal(t, "fresh", list[0].Name)

	pgen := c.postsGeneration()
	c.invalidatePosts()
	c.setPosts(pgen, []models.Post{{Name: "stale"}})
	_, ok = c.posts()
	assert.False(t, ok)
}
