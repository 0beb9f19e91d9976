package repository

import (
	"context"

	"habita/internal/domain/entity"
)

type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Account, error)
	Search(ctx context.Context, role, query string, limit int) ([]*entity.Account, error)
}
