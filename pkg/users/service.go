package users

import (
	"context"
	"database/sql"
	"time"

	"github.com/bibliograph/bibliograph/pkg/errcodes"
	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = user.CreatedAt

	_, err := svc.db.
		NewInsert().
		Model(user).
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) ListUsers(ctx context.Context) ([]*models.User, error) {
	users := []*models.User{}
	err := svc.db.NewSelect().Model(&users).Order("u.id ASC").Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return users, nil
}

// RetrieveSystemUser returns the user that system-triggered tasks are
// attributed to: the first admin, falling back to the first user.
func (svc *Service) RetrieveSystemUser(ctx context.Context) (*models.User, error) {
	user := &models.User{}

	err := svc.db.
		NewSelect().
		Model(user).
		OrderExpr("u.is_admin DESC, u.id ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("User")
		}
		return nil, errors.WithStack(err)
	}

	return user, nil
}
