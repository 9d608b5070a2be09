package election

import (
	"time"

	"go.uber.org/zap"
)

// Service implements voting, tallying, results and admin control on top of a Store.
// It holds no election state of its own apart from the catalog cache.
type Service struct {
	store    Store
	notifier Notifier
	images   ImageStore
	cleanup  CleanupQueue
	cache    *catalogCache
	logger   *zap.Logger

	historyLimit int
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the change-feed publisher.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithImageStore enables contestant image uploads.
func WithImageStore(i ImageStore) Option {
	return func(s *Service) { s.images = i }
}

// WithCleanupQueue enables background removal of images of deleted contestants.
func WithCleanupQueue(q CleanupQueue) Option {
	return func(s *Service) { s.cleanup = q }
}

// WithCache sizes the catalog read-through cache.
func WithCache(size int, ttl time.Duration) Option {
	return func(s *Service) { s.cache = newCatalogCache(size, ttl) }
}

// WithHistoryLimit sets how many ledger rows History returns when the caller gives no limit.
func WithHistoryLimit(n int) Option {
	return func(s *Service) {
		if n > 0 && n <= maxHistoryLimit {
			s.historyLimit = n
		}
	}
}

// NewService creates an election service.
func NewService(store Store, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:    store,
		notifier: nopNotifier{},
		logger:   logger,

		historyLimit: 200,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = newCatalogCache(defaultCacheSize, defaultCacheTTL)
	}
	return s
}

// HandleChange is the change-feed consumer: it drops cached catalog reads when another
// instance reports a relevant write.
func (s *Service) HandleChange(topic, event string) {
	switch topic {
	case TopicContestants, TopicVotes:
		s.cache.invalidateContestants()
		if event == EventPostCreated || event == EventPostDeleted {
			s.cache.invalidatePosts()
		}
	}
}
