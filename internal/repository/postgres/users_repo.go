package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/myasiaentertainmentjp/graymall-sub000/internal/models"
	repo "github.com/myasiaentertainmentjp/graymall-sub000/internal/repository"
)

type usersRepo struct{ pool *pgxpool.Pool }

func (r *usersRepo) Create(ctx context.Context, username, email, hash, role string) (models.User, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users(id, username, email, password_hash, role) VALUES($1,$2,$3,$4,$5)`,
		id, username, email, hash, role,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, repo.ErrDuplicate
		}
		return models.User{}, err
	}
	return r.GetByID(ctx, id)
}

func (r *usersRepo) GetByID(ctx context.Context, id string) (models.User, error) {
	return r.get(ctx, `WHERE id=$1`, id)
}

func (r *usersRepo) GetByEmail(ctx context.Context, email string) (models.User, error) {
	return r.get(ctx, `WHERE email=$1`, email)
}

func (r *usersRepo) get(ctx context.Context, where string, arg any) (models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, email, password_hash, role, created_at, updated_at FROM users `+where, arg,
	).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, repo.ErrNotFound
	}
	return u, err
}
