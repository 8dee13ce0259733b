package services

import (
	"context"
	"errors"
	"strings"

	"github.com/myasiaentertainmentjp/graymall-sub000/internal/auth"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/models"
	repo "github.com/myasiaentertainmentjp/graymall-sub000/internal/repository"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type UserService struct {
	r repo.Users
}

func NewUserService(r repo.Users) *UserService { return &UserService{r: r} }

func (s *UserService) Register(ctx context.Context, username, email, password string) (models.User, error) {
	u := models.User{Username: strings.TrimSpace(username), Email: strings.TrimSpace(email), Role: "user"}
	if err := u.Validate(); err != nil {
		return models.User{}, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return models.User{}, err
	}
	return s.r.Create(ctx, u.Username, u.Email, hash, u.Role)
}

func (s *UserService) Authenticate(ctx context.Context, email, password string) (models.User, error) {
	u, err := s.r.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return models.User{}, ErrInvalidCredentials
	}
	if err := auth.VerifyPassword(password, u.PasswordHash); err != nil {
		return models.User{}, ErrInvalidCredentials
	}
	return u, nil
}
