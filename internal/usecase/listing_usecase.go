package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"rentline/internal/domain/entity"
	"rentline/internal/domain/repository"
	"rentline/pkg/errors"
)

type ListingUseCase struct {
	listingRepo repository.ListingRepository
}

func NewListingUseCase(listingRepo repository.ListingRepository) *ListingUseCase {
	return &ListingUseCase{
		listingRepo: listingRepo,
	}
}

type CreateListingInput struct {
	Title       string                `json:"title" validate:"required,min=3,max=120"`
	Description string                `json:"description" validate:"required,min=10"`
	Price       float64               `json:"price" validate:"required,gt=0"`
	Currency    string                `json:"currency" validate:"required,len=3"`
	Location    string                `json:"location" validate:"required"`
	Categories  []string              `json:"categories" validate:"omitempty,dive,min=2"`
	Images      []entity.ListingImage `json:"images"`
}

type UpdateListingInput struct {
	Title       string  `json:"title" validate:"omitempty,min=3,max=120"`
	Description string  `json:"description" validate:"omitempty,min=10"`
	Price       float64 `json:"price" validate:"omitempty,gt=0"`
	Location    string  `json:"location"`
	Status      string  `json:"status" validate:"omitempty,oneof=active archived"`
}

func (uc *ListingUseCase) CreateListing(ctx context.Context, ownerID string, input CreateListingInput) (*entity.Listing, error) {
	now := time.Now()
	listing := &entity.Listing{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		Title:       input.Title,
		Description: input.Description,
		Price:       input.Price,
		Currency:    input.Currency,
		Location:    input.Location,
		Categories:  input.Categories,
		Images:      input.Images,
		Status:      "active",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := uc.listingRepo.Create(ctx, listing); err != nil {
		return nil, err
	}

	return listing, nil
}

func (uc *ListingUseCase) GetListing(ctx context.Context, id string) (*entity.Listing, error) {
	listing, err := uc.listingRepo.GetByID(ctx, id)
	if err != nil {
		return nil, errors.NotFound("Listing", err)
	}
	return listing, nil
}

func (uc *ListingUseCase) ListListings(ctx context.Context, filter repository.ListingFilter, limit, offset int) ([]*entity.Listing, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return uc.listingRepo.List(ctx, filter, limit, offset)
}

// UpdateListing applies the non-zero fields of the input. Only the owner may
// modify a listing.
func (uc *ListingUseCase) UpdateListing(ctx context.Context, ownerID, id string, input UpdateListingInput) (*entity.Listing, error) {
	listing, err := uc.listingRepo.GetByID(ctx, id)
	if err != nil {
		return nil, errors.NotFound("Listing", err)
	}
	if listing.OwnerID != ownerID {
		return nil, errors.Forbidden("You do not own this listing", nil)
	}

	if input.Title != "" {
		listing.Title = input.Title
	}
	if input.Description != "" {
		listing.Description = input.Description
	}
	if input.Price > 0 {
		listing.Price = input.Price
	}
	if input.Location != "" {
		listing.Location = input.Location
	}
	if input.Status != "" {
		listing.Status = input.Status
	}
	listing.UpdatedAt = time.Now()

	if err := uc.listingRepo.Update(ctx, listing); err != nil {
		return nil, err
	}

	return listing, nil
}

// ArchiveListing takes the listing off the market without destroying the
// conversations that reference it.
func (uc *ListingUseCase) ArchiveListing(ctx context.Context, ownerID, id string) error {
	listing, err := uc.listingRepo.GetByID(ctx, id)
	if err != nil {
		return errors.NotFound("Listing", err)
	}
	if listing.OwnerID != ownerID {
		return errors.Forbidden("You do not own this listing", nil)
	}

	listing.Status = "archived"
	listing.UpdatedAt = time.Now()

	return uc.listingRepo.Update(ctx, listing)
}
