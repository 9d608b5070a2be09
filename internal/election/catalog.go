package election

import (
	"context"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/univote/backend/internal/models"
)

// NewContestant is the input for CreateContestant. Image is optional.
type NewContestant struct {
	Name   string
	PostID uuid.UUID
	Bio    string
	Image  *ImageUpload
}

// ImageUpload is a contestant picture to store before the row is created.
type ImageUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// CreatePost adds a post.
func (s *Service) CreatePost(ctx context.Context, name, description string) (*models.Post, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("name", "post name is required")
	}
	p := &models.Post{Name: name, Description: strings.TrimSpace(description)}
	if err := s.store.CreatePost(ctx, p); err != nil {
		return nil, storageErr("create post", err)
	}
	s.cache.invalidatePosts()
	s.notifier.Publish(TopicContestants, EventPostCreated, p)
	return p, nil
}

// DeletePost removes a post with its contestants and their votes.
func (s *Service) DeletePost(ctx context.Context, id uuid.UUID) error {
	removed, err := s.store.DeletePost(ctx, id)
	if err != nil {
		return storageErr("delete post", err)
	}
	s.cache.invalidatePosts()
	s.cache.invalidateContestants()
	for _, c := range removed {
		s.scheduleImageCleanup(ctx, c)
	}
	s.notifier.Publish(TopicContestants, EventPostDeleted, map[string]interface{}{
		"id": id, "contestants_removed": len(removed),
	})
	return nil
}

// ListPosts returns all posts ordered by name.
func (s *Service) ListPosts(ctx context.Context) ([]models.Post, error) {
	if posts, ok := s.cache.posts(); ok {
		return posts, nil
	}
	gen := s.cache.postsGeneration()
	posts, err := s.store.ListPosts(ctx)
	if err != nil {
		return nil, storageErr("list posts", err)
	}
	if posts == nil {
		posts = []models.Post{}
	}
	s.cache.setPosts(gen, posts)
	return posts, nil
}

// ListContestants returns contestants, optionally restricted to one post.
func (s *Service) ListContestants(ctx context.Context, postID *uuid.UUID) ([]models.Contestant, error) {
	key := "all"
	if postID != nil {
		key = postID.String()
	}
	if list, ok := s.cache.contestants(key); ok {
		return list, nil
	}
	gen := s.cache.contestantsGeneration()
	list, err := s.store.ListContestants(ctx, postID)
	if err != nil {
		return nil, storageErr("list contestants", err)
	}
	if list == nil {
		list = []models.Contestant{}
	}
	s.cache.setContestants(gen, key, list)
	return list, nil
}

// GetContestant returns one contestant with its current counter.
func (s *Service) GetContestant(ctx context.Context, id uuid.UUID) (*models.Contestant, error) {
	c, err := s.store.GetContestant(ctx, id)
	if err != nil {
		return nil, storageErr("get contestant", err)
	}
	return c, nil
}

// CreateContestant validates the input, stores the optional image and inserts the contestant
// with zero votes. A failed image upload does not block creation.
func (s *Service) CreateContestant(ctx context.Context, in NewContestant) (*models.Contestant, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, invalid("name", "contestant name is required")
	}
	if in.PostID == uuid.Nil {
		return nil, invalid("post_id", "post is required")
	}

	c := &models.Contestant{Name: in.Name, PostID: in.PostID, Bio: strings.TrimSpace(in.Bio)}
	if in.Image != nil && in.Image.Body != nil {
		if s.images == nil {
			s.logger.Warn("image upload skipped: no image store configured")
		} else {
			url, key, err := s.images.UploadContestantImage(ctx, in.Image.Filename, in.Image.ContentType, in.Image.Body, in.Image.Size)
			if err != nil {
				s.logger.Warn("contestant image upload failed, continuing without image", zap.Error(err))
			} else {
				c.Image, c.ImageKey = url, key
			}
		}
	}

	if err := s.store.CreateContestant(ctx, c); err != nil {
		if c.ImageKey != "" {
			s.scheduleImageCleanup(ctx, *c)
		}
		return nil, storageErr("create contestant", err)
	}
	s.cache.invalidateContestants()
	s.notifier.Publish(TopicContestants, EventContestantCreated, c)
	return c, nil
}

// DeleteContestant removes a contestant and its votes.
func (s *Service) DeleteContestant(ctx context.Context, id uuid.UUID) error {
	c, err := s.store.DeleteContestant(ctx, id)
	if err != nil {
		return storageErr("delete contestant", err)
	}
	s.cache.invalidateContestants()
	s.scheduleImageCleanup(ctx, *c)
	s.notifier.Publish(TopicContestants, EventContestantDeleted, map[string]interface{}{
		"id": c.ID, "post_id": c.PostID,
	})
	return nil
}

// Stats returns overview counters.
func (s *Service) Stats(ctx context.Context) (*models.ElectionStats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, storageErr("stats", err)
	}
	return st, nil
}

func (s *Service) scheduleImageCleanup(ctx context.Context, c models.Contestant) {
	if s.cleanup == nil || c.ImageKey == "" {
		return
	}
	if err := s.cleanup.EnqueueImageCleanup(ctx, c.ImageKey); err != nil {
		s.logger.Warn("enqueue image cleanup failed", zap.Error(err), zap.String("key", c.ImageKey))
	}
}
