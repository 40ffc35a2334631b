package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/onichip/pettrack-backend-go/internal/apperr"
	"github.com/onichip/pettrack-backend-go/internal/models"
)

// EntityRepository is a minimal local entity directory: who owns each
// tracked entity and what it is called.
type EntityRepository struct {
	db *sql.DB
}

// NewEntityRepository creates a new entity repository
func NewEntityRepository(db *sql.DB) *EntityRepository {
	return &EntityRepository{db: db}
}

// Upsert registers an entity or updates its owner and name.
func (r *EntityRepository) Upsert(ctx context.Context, e models.Entity) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO entities (id, owner_id, name, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET owner_id = excluded.owner_id, name = excluded.name`,
		e.ID, e.OwnerID, e.Name, toNanos(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}
	return nil
}

// Get returns the entity or a NotFound error.
func (r *EntityRepository) Get(ctx context.Context, id string) (*models.Entity, error) {
	var (
		e         models.Entity
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, owner_id, name, created_at FROM entities WHERE id = ?`, id).
		Scan(&e.ID, &e.OwnerID, &e.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("entity %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	e.CreatedAt = fromNanos(createdAt)
	return &e, nil
}

// GetOwnerAndName satisfies the entity directory contract used for zone authorization.
func (r *EntityRepository) GetOwnerAndName(ctx context.Context, id string) (string, string, error) {
	e, err := r.Get(ctx, id)
	if err != nil {
		return "", "", err
	}
	return e.OwnerID, e.Name, nil
}
