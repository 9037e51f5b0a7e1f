package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"researchmcp/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserExists      = errors.New("Username already exists.")
	ErrUserNotFound    = errors.New("User not found.")
	ErrInvalidPassword = errors.New("Invalid password.")
)

var (
	validate          = validator.New()
	namespaceDisallow = regexp.MustCompile(`[^a-z0-9_]`)
)

type Registration struct {
	Username string `validate:"required,min=3"`
	Password string `validate:"required,min=4"`
}

// SafeNamespace derives the vector-store namespace owned by username.
func SafeNamespace(username string) string {
	s := strings.ToLower(strings.TrimSpace(username))
	s = strings.ReplaceAll(s, " ", "_")
	return "user_" + namespaceDisallow.ReplaceAllString(s, "")
}

type UserRepo struct {
	db *DB
}

func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) Create(ctx context.Context, username, password string) (models.User, error) {
	reg := Registration{Username: strings.TrimSpace(username), Password: password}
	if err := validate.Struct(reg); err != nil {
		return models.User{}, fmt.Errorf("invalid registration: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := models.User{
		Username:     reg.Username,
		PasswordHash: string(hash),
		Namespace:    SafeNamespace(reg.Username),
	}
	err = r.db.Pool.QueryRow(ctx, `
INSERT INTO users (username, password_hash, namespace)
VALUES ($1, $2, $3)
RETURNING id, created_at`, u.Username, u.PasswordHash, u.Namespace).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.User{}, ErrUserExists
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (r *UserRepo) Authenticate(ctx context.Context, username, password string) (models.User, error) {
	u, err := r.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return models.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return models.User{}, ErrInvalidPassword
	}
	return u, nil
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (models.User, error) {
	return r.getOne(ctx, `WHERE username=$1`, username)
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (models.User, error) {
	return r.getOne(ctx, `WHERE id=$1`, id)
}

// Namespace returns the user's namespace, or "" when the user does not exist.
func (r *UserRepo) Namespace(ctx context.Context, userID int64) (string, error) {
	u, err := r.GetByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return u.Namespace, nil
}

func (r *UserRepo) getOne(ctx context.Context, where string, arg any) (models.User, error) {
	var u models.User
	err := r.db.Pool.QueryRow(ctx, `
SELECT id, username, password_hash, namespace, created_at
FROM users `+where, arg).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Namespace, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}
