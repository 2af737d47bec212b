package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stockscan/backend/internal/cache"
	"stockscan/backend/internal/domain"
	"stockscan/backend/internal/events"
	"stockscan/backend/internal/metrics"
	"stockscan/backend/internal/store"
)

const (
	defaultPageSize    = 10
	maxPageSize        = 100
	recentScanLimit    = 10
	defaultChunkSize   = 500
	defaultMaxChunk    = 2000
	defaultMaxQuantity = 10000
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Progress    cache.ProgressStore
	Events      events.Publisher
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
	ChunkSize   int
	MaxChunk    int
	MaxQuantity int
	Now         func() time.Time
}

type Service struct {
	repo        store.Repository
	progress    cache.ProgressStore
	events      events.Publisher
	metrics     *metrics.Metrics
	log         zerolog.Logger
	chunkSize   int
	maxChunk    int
	maxQuantity int
	now         func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	s := &Service{
		repo:        repo,
		progress:    opts.Progress,
		events:      opts.Events,
		metrics:     opts.Metrics,
		log:         opts.Logger.With().Str("component", "service").Logger(),
		chunkSize:   opts.ChunkSize,
		maxChunk:    opts.MaxChunk,
		maxQuantity: opts.MaxQuantity,
		now:         opts.Now,
	}
	if s.progress == nil {
		s.progress = cache.NewMemoryProgressStore(time.Hour)
	}
	if s.events == nil {
		s.events = events.NoopPublisher{}
	}
	if s.chunkSize < 1 {
		s.chunkSize = defaultChunkSize
	}
	if s.maxChunk < s.chunkSize {
		s.maxChunk = max(defaultMaxChunk, s.chunkSize)
	}
	if s.maxQuantity < 1 {
		s.maxQuantity = defaultMaxQuantity
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) Capabilities() domain.SchemaCapabilities {
	return s.repo.Capabilities()
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return store.ErrUnauthorized
	}
	if actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required: %w", store.ErrForbidden)
	}
	return nil
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.Username
	}
	return ""
}

func normalizeQuery(q domain.ProductQuery) domain.ProductQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}
	q.Query = strings.TrimSpace(q.Query)
	return q
}
