package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderdesk/orderdesk/internal/models"
)

type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userColumns = `id, name, email, phone, password_hash, role, addresses, created_at`

func (s *UserStore) Create(ctx context.Context, user *User) error {
	addresses, err := json.Marshal(nonNilAddresses(user.Addresses))
	if err != nil {
		return err
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	query := `
		INSERT INTO users (name, email, phone, password_hash, role, addresses)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err = s.pool.QueryRow(ctx, query,
		user.Name, user.Email, user.Phone, user.PasswordHash, string(user.Role), addresses,
	).Scan(&user.ID, &user.CreatedAt)
	return mapError(err)
}

func (s *UserStore) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		return nil, mapError(err)
	}
	return user, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, strings.TrimSpace(email))
	user, err := scanUser(row)
	if err != nil {
		return nil, mapError(err)
	}
	return user, nil
}

// UpdateCredentials resets password and role. Used when bootstrapping the
// configured admin account over an existing user.
func (s *UserStore) UpdateCredentials(ctx context.Context, id uuid.UUID, passwordHash string, role models.Role) error {
	cmdTag, err := s.pool.Exec(ctx, `UPDATE users SET password_hash = $2, role = $3 WHERE id = $1`, id, passwordHash, string(role))
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddAddress appends a saved delivery address unless an identical line is
// already stored.
func (s *UserStore) AddAddress(ctx context.Context, id uuid.UUID, address models.Address) error {
	encoded, err := json.Marshal([]models.Address{address})
	if err != nil {
		return err
	}
	query := `
		UPDATE users
		SET addresses = addresses || $2::jsonb
		WHERE id = $1 AND NOT EXISTS (
			SELECT 1 FROM jsonb_array_elements(addresses) AS a WHERE a->>'line' = $3
		)
	`
	if _, err := s.pool.Exec(ctx, query, id, encoded, address.Line); err != nil {
		return fmt.Errorf("failed to save address: %w", err)
	}
	return nil
}

func scanUser(row rowScanner) (*User, error) {
	var (
		user      User
		role      string
		addresses []byte
	)
	if err := row.Scan(&user.ID, &user.Name, &user.Email, &user.Phone, &user.PasswordHash, &role, &addresses, &user.CreatedAt); err != nil {
		return nil, err
	}
	user.Role = models.Role(role)
	if len(addresses) > 0 {
		if err := json.Unmarshal(addresses, &user.Addresses); err != nil {
			return nil, fmt.Errorf("failed to decode addresses: %w", err)
		}
	}
	return &user, nil
}

func nonNilAddresses(addresses []models.Address) []models.Address {
	if addresses == nil {
		return []models.Address{}
	}
	return addresses
}
