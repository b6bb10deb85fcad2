// Package postgres implements shop.Store on PostgreSQL using pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/shopcsv/internal/shop"
)

//go:embed schema.sql
var schemaSQL string

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Pool is a DBTX that can also start transactions. *pgxpool.Pool satisfies it.
type Pool interface {
	DBTX
	Begin(context.Context) (pgx.Tx, error)
}

// Store is the PostgreSQL-backed record store.
type Store struct {
	pool Pool
}

var _ shop.Store = (*Store)(nil)

// New returns a Store using pool for all queries.
func New(pool Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// CreateUser inserts a user and returns it with its id.
func (s *Store) CreateUser(ctx context.Context, username string) (shop.User, error) {
	u := shop.User{Username: username}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (username) VALUES ($1) RETURNING id`, username,
	).Scan(&u.ID)
	if err != nil {
		return shop.User{}, fmt.Errorf("create user %q: %w", username, err)
	}
	return u, nil
}

// UserByUsername implements shop.UserStore.
func (s *Store) UserByUsername(ctx context.Context, username string) (shop.User, error) {
	var u shop.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username FROM users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username)
	if err != nil {
		return shop.User{}, translate(err)
	}
	return u, nil
}

// UserByID implements shop.UserStore.
func (s *Store) UserByID(ctx context.Context, id int64) (shop.User, error) {
	var u shop.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username)
	if err != nil {
		return shop.User{}, translate(err)
	}
	return u, nil
}

// translate maps driver errors onto the shop sentinels.
func translate(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return shop.ErrNotFound
	}
	return err
}

// orderClause builds a validated ORDER BY clause. columns maps the public
// ordering field to its SQL expression.
func orderClause(expr string, allowed []string, columns map[string]string, tiebreak string) (string, error) {
	field, desc, err := shop.ParseOrdering(expr, allowed)
	if err != nil {
		return "", err
	}
	if field == "" {
		return " ORDER BY " + tiebreak, nil
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, %s", columns[field], dir, tiebreak), nil
}

// likePattern escapes s for use inside an ILIKE substring match.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
