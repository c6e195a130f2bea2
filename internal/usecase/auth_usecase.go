package usecase

import (
	"context"
	"strings"
	"time"

	"rentline/internal/domain/entity"
	"rentline/internal/domain/repository"
	"rentline/internal/infrastructure/firebase"
	"rentline/pkg/errors"
	"rentline/pkg/logger"
)

type AuthUseCase struct {
	userRepo   repository.UserRepository
	authClient *firebase.AuthClient
}

func NewAuthUseCase(userRepo repository.UserRepository, authClient *firebase.AuthClient) *AuthUseCase {
	return &AuthUseCase{
		userRepo:   userRepo,
		authClient: authClient,
	}
}

type RegisterInput struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	DisplayName string `json:"display_name" validate:"required,min=2,max=60"`
	Phone       string `json:"phone" validate:"omitempty,min=6,max=20"`
}

// Register creates the Firebase account and the matching profile document.
// The Firebase account is rolled back when the profile write fails so a
// retry does not hit an email-already-exists error.
func (uc *AuthUseCase) Register(ctx context.Context, input RegisterInput) (*entity.User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))

	if existing, err := uc.userRepo.GetByEmail(ctx, email); err == nil && existing != nil {
		return nil, errors.Conflict("Email is already registered", nil)
	}

	uid, err := uc.authClient.CreateUser(ctx, email, input.Password, input.DisplayName)
	if err != nil {
		return nil, errors.BadRequest("Failed to create account", err)
	}

	now := time.Now()
	user := &entity.User{
		ID:          uid,
		Email:       email,
		DisplayName: input.DisplayName,
		Phone:       input.Phone,
		Status:      "active",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := uc.userRepo.Create(ctx, user); err != nil {
		if delErr := uc.authClient.DeleteUser(ctx, uid); delErr != nil {
			logger.Error("Failed to roll back Firebase user %s: %v", uid, delErr)
		}
		return nil, err
	}

	return user, nil
}

func (uc *AuthUseCase) GetUserByID(ctx context.Context, uid string) (*entity.User, error) {
	user, err := uc.userRepo.GetByID(ctx, uid)
	if err != nil {
		return nil, errors.NotFound("User", err)
	}
	return user, nil
}
