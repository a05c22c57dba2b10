package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"talep/internal/domain"
	"talep/internal/models"

	"github.com/rs/zerolog"
)

// ResourceService keeps the active catalogue in memory. Inactive resources
// are read through to the repository so callers can still see them.
type ResourceService struct {
	repo      domain.ResourceRepository
	logger    *zerolog.Logger
	resources []models.Resource
	byID      map[int64]models.Resource
	mu        sync.RWMutex
}

func NewResourceService(repo domain.ResourceRepository, logger *zerolog.Logger) *ResourceService {
	return &ResourceService{
		repo:   repo,
		logger: logger,
		byID:   make(map[int64]models.Resource),
	}
}

// Seed upserts the configured catalogue and reloads the cache.
func (s *ResourceService) Seed(ctx context.Context, resources []models.Resource) error {
	if err := s.repo.SyncResources(ctx, resources); err != nil {
		return fmt.Errorf("failed to sync resources: %w", err)
	}
	s.logger.Info().Int("count", len(resources)).Msg("resources synced")
	return s.Refresh(ctx)
}

func (s *ResourceService) GetActiveResources(ctx context.Context) ([]models.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Resource, len(s.resources))
	copy(out, s.resources)
	return out, nil
}

// GetActiveByKind filters the cached catalogue by kind.
func (s *ResourceService) GetActiveByKind(ctx context.Context, kind models.ResourceKind) []models.Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Resource
	for _, r := range s.resources {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func (s *ResourceService) GetResource(ctx context.Context, id int64) (*models.Resource, error) {
	s.mu.RLock()
	r, ok := s.byID[id]
	s.mu.RUnlock()
	if ok {
		return &r, nil
	}
	return s.repo.GetResource(ctx, id)
}

// Deactivate takes a resource out of service. Existing reservations are kept
// but new requests and approvals on it fail with ErrInvalidState.
func (s *ResourceService) Deactivate(ctx context.Context, actor models.Actor, id int64) (*models.Resource, error) {
	return s.setActive(ctx, actor, id, false)
}

func (s *ResourceService) Activate(ctx context.Context, actor models.Actor, id int64) (*models.Resource, error) {
	return s.setActive(ctx, actor, id, true)
}

func (s *ResourceService) setActive(ctx context.Context, actor models.Actor, id int64, active bool) (*models.Resource, error) {
	if !actor.IsAdmin {
		return nil, fmt.Errorf("%w: only admins can change resource state", domain.ErrForbidden)
	}
	if err := s.repo.SetResourceActive(ctx, id, active); err != nil {
		return nil, err
	}
	s.logger.Info().Int64("resource_id", id).Int64("actor_id", actor.UserID).Bool("active", active).Msg("resource state changed")
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s.repo.GetResource(ctx, id)
}

func (s *ResourceService) Refresh(ctx context.Context) error {
	resources, err := s.repo.GetActiveResources(ctx)
	if err != nil {
		return err
	}
	sort.SliceStable(resources, func(i, j int) bool {
		if resources[i].SortOrder == resources[j].SortOrder {
			return resources[i].ID < resources[j].ID
		}
		return resources[i].SortOrder < resources[j].SortOrder
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources = resources
	s.byID = make(map[int64]models.Resource, len(resources))
	for _, r := range resources {
		s.byID[r.ID] = r
	}
	return nil
}
