package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGOperatorStore reads operators from PostgreSQL.
type PGOperatorStore struct {
	pool *pgxpool.Pool
}

func NewPGOperatorStore(pool *pgxpool.Pool) *PGOperatorStore {
	return &PGOperatorStore{pool: pool}
}

func (s *PGOperatorStore) OperatorByEmail(ctx context.Context, email string) (*Operator, error) {
	var op Operator
	row := s.pool.QueryRow(ctx, `SELECT id, email, name, password FROM operators WHERE lower(email) = $1`, email)
	if err := row.Scan(&op.ID, &op.Email, &op.Name, &op.PasswordHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &op, nil
}

// CreateOperator inserts an operator or updates the name and password of an
// existing one with the same email.
func (s *PGOperatorStore) CreateOperator(ctx context.Context, email, name, password string) (*Operator, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	op := Operator{Email: email, Name: name, PasswordHash: hash}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO operators (email, name, password) VALUES (lower($1), $2, $3)
		ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, password = EXCLUDED.password
		RETURNING id, email`, email, name, hash).Scan(&op.ID, &op.Email)
	if err != nil {
		return nil, err
	}
	return &op, nil
}
