package workflow

import (
	"context"
	"time"

	"github.com/dukex/fieldflow/pkg/models"
	"github.com/dukex/fieldflow/pkg/persistence"
	"github.com/patrickmn/go-cache"
)

const activeWorkflowsKey = "active"

// CachedRepository serves workflow reads from an in-memory TTL cache in front of
// another repository. Workflow edits become visible after at most one TTL.
type CachedRepository struct {
	next  persistence.WorkflowRepository
	cache *cache.Cache
}

// NewCachedRepository wraps next. A ttl of zero or less disables caching.
func NewCachedRepository(next persistence.WorkflowRepository, ttl time.Duration) *CachedRepository {
	if ttl <= 0 {
		ttl = time.Nanosecond
	}

	return &CachedRepository{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (r *CachedRepository) ListActive(ctx context.Context) ([]*models.Workflow, error) {
	if cached, found := r.cache.Get(activeWorkflowsKey); found {
		return cached.([]*models.Workflow), nil
	}

	workflows, err := r.next.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	r.cache.SetDefault(activeWorkflowsKey, workflows)

	return workflows, nil
}

func (r *CachedRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	if cached, found := r.cache.Get("workflow:" + id); found {
		return cached.(*models.Workflow), nil
	}

	workflow, err := r.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cache.SetDefault("workflow:"+id, workflow)

	return workflow, nil
}

// Save writes through and drops every cached entry.
func (r *CachedRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	err := r.next.Save(ctx, workflow)
	if err != nil {
		return err
	}

	r.Invalidate()

	return nil
}

func (r *CachedRepository) Invalidate() {
	r.cache.Flush()
}
