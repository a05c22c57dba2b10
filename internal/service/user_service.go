package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"talep/internal/domain"
	"talep/internal/models"

	"github.com/rs/zerolog"
)

type UserService struct {
	repo      domain.UserRepository
	logger    *zerolog.Logger
	adminsMap map[int64]bool
}

// NewUserService treats every id in admins as an admin on top of the
// is_admin flag stored with the user.
func NewUserService(repo domain.UserRepository, admins []int64, logger *zerolog.Logger) *UserService {
	adminsMap := make(map[int64]bool)
	for _, id := range admins {
		adminsMap[id] = true
	}

	return &UserService{
		repo:      repo,
		logger:    logger,
		adminsMap: adminsMap,
	}
}

func (s *UserService) IsAdmin(user *models.User) bool {
	return user != nil && (user.IsAdmin || s.adminsMap[user.ID])
}

// ResolveActor loads the user behind id. Unknown users may not act.
func (s *UserService) ResolveActor(ctx context.Context, id int64) (models.Actor, error) {
	if id <= 0 {
		return models.Actor{}, fmt.Errorf("%w: actor id is required", domain.ErrForbidden)
	}
	user, err := s.repo.GetUserByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return models.Actor{}, fmt.Errorf("%w: unknown user %d", domain.ErrForbidden, id)
	}
	if err != nil {
		return models.Actor{}, err
	}
	return models.Actor{UserID: user.ID, Name: user.Name, IsAdmin: s.IsAdmin(user)}, nil
}

func (s *UserService) SaveUser(ctx context.Context, user *models.User) error {
	user.Name = strings.TrimSpace(user.Name)
	user.Phone = models.NormalizePhone(user.Phone)
	if user.ID <= 0 {
		return domain.NewValidationError("id", "must be positive")
	}
	if user.Name == "" {
		return domain.NewValidationError("name", "is required")
	}
	return s.repo.CreateOrUpdateUser(ctx, user)
}

func (s *UserService) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// GetAdmins returns stored admins plus configured admin ids that have a user record.
func (s *UserService) GetAdmins(ctx context.Context) ([]*models.User, error) {
	admins, err := s.repo.GetAdmins(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool, len(admins))
	for _, a := range admins {
		seen[a.ID] = true
	}
	for id := range s.adminsMap {
		if seen[id] {
			continue
		}
		user, err := s.repo.GetUserByID(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		admins = append(admins, user)
	}
	return admins, nil
}
