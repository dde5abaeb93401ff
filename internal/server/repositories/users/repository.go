package users

import (
	"context"

	"github.com/dmitrijs2005/attendkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	FindByGoogleSub(ctx context.Context, sub string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateEmail(ctx context.Context, id, email string) error
}
