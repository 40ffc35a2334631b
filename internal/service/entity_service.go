package service

import (
	"context"
	"strings"
	"time"

	"github.com/onichip/pettrack-backend-go/internal/apperr"
	"github.com/onichip/pettrack-backend-go/internal/models"
	"github.com/onichip/pettrack-backend-go/internal/repository"
)

// EntityService maintains the local entity directory
type EntityService struct {
	repo *repository.EntityRepository
}

// NewEntityService creates a new entity service
func NewEntityService(repo *repository.EntityRepository) *EntityService {
	return &EntityService{repo: repo}
}

// Register creates or updates an entity. An authenticated requester may
// only register entities for itself and may not take over another
// owner's entity.
func (s *EntityService) Register(ctx context.Context, requester string, e models.Entity) (*models.Entity, error) {
	if strings.TrimSpace(e.ID) == "" {
		return nil, apperr.InvalidPayload("entity id is required")
	}
	if e.OwnerID == "" {
		e.OwnerID = requester
	}
	if e.OwnerID == "" {
		return nil, apperr.InvalidPayload("ownerId is required")
	}
	if requester != "" && e.OwnerID != requester {
		return nil, apperr.Forbidden("cannot register entities for %s", e.OwnerID)
	}

	existing, err := s.repo.Get(ctx, e.ID)
	switch {
	case err == nil:
		if requester != "" && existing.OwnerID != requester {
			return nil, apperr.Forbidden("entity %s belongs to another owner", e.ID)
		}
		e.CreatedAt = existing.CreatedAt
	case apperr.CodeOf(err) == apperr.CodeNotFound:
		e.CreatedAt = time.Now().UTC()
	default:
		return nil, err
	}

	if err := s.repo.Upsert(ctx, e); err != nil {
		return nil, err
	}
	return &e, nil
}
