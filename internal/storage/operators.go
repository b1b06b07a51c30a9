package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ernie/killfeed/internal/domain"
)

// ErrOperatorNotFound is returned when no operator matches
var ErrOperatorNotFound = errors.New("operator not found")

const operatorColumns = `id, username, password_hash, is_admin, created_at, last_login`

// CreateOperator adds an operator account
func (s *Store) CreateOperator(ctx context.Context, op *domain.Operator) error {
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO operators (username, password_hash, is_admin, created_at) VALUES (?, ?, ?, ?)
	`, op.Username, op.PasswordHash, op.IsAdmin, formatTimestamp(op.CreatedAt))
	if err != nil {
		return fmt.Errorf("creating operator %q: %w", op.Username, err)
	}
	op.ID, err = result.LastInsertId()
	return err
}

// GetOperatorByUsername looks up an operator for login
func (s *Store) GetOperatorByUsername(ctx context.Context, username string) (*domain.Operator, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+operatorColumns+` FROM operators WHERE username = ?`, username)
	op, err := scanOperator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOperatorNotFound
	}
	return op, err
}

// ListOperators returns all operator accounts
func (s *Store) ListOperators(ctx context.Context) ([]domain.Operator, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+operatorColumns+` FROM operators ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []domain.Operator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, *op)
	}
	return ops, rows.Err()
}

// UpdateOperatorPassword replaces an operator's password hash
func (s *Store) UpdateOperatorPassword(ctx context.Context, username, passwordHash string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE operators SET password_hash = ? WHERE username = ?`, passwordHash, username)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return operatorAffected(result)
}

// SetOperatorAdmin grants or revokes admin rights
func (s *Store) SetOperatorAdmin(ctx context.Context, username string, isAdmin bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE operators SET is_admin = ? WHERE username = ?`, isAdmin, username)
	if err != nil {
		return fmt.Errorf("updating admin flag: %w", err)
	}
	return operatorAffected(result)
}

// UpdateOperatorLastLogin records a successful login
func (s *Store) UpdateOperatorLastLogin(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE operators SET last_login = ? WHERE id = ?`, formatTimestamp(time.Now()), id)
	return err
}

// DeleteOperator removes an operator account
func (s *Store) DeleteOperator(ctx context.Context, username string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM operators WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("deleting operator: %w", err)
	}
	return operatorAffected(result)
}

func operatorAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOperatorNotFound
	}
	return nil
}

func scanOperator(row scanner) (*domain.Operator, error) {
	var op domain.Operator
	var lastLogin sql.NullTime
	if err := row.Scan(&op.ID, &op.Username, &op.PasswordHash, &op.IsAdmin, &op.CreatedAt, &lastLogin); err != nil {
		return nil, err
	}
	op.LastLogin = scanNullTime(lastLogin)
	return &op, nil
}
