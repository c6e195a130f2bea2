package repository

import (
	"context"

	"rentline/internal/domain/entity"
)

type ListingFilter struct {
	OwnerID  string
	Category string
	Status   string
}

type ListingRepository interface {
	Create(ctx context.Context, listing *entity.Listing) error
	GetByID(ctx context.Context, id string) (*entity.Listing, error)
	List(ctx context.Context, filter ListingFilter, limit, offset int) ([]*entity.Listing, int64, error)
	Update(ctx context.Context, listing *entity.Listing) error
}
