package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateUser adds an account. Usernames are unique.
func (d *Database) CreateUser(ctx context.Context, username string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("username cannot be empty")
	}

	done := observeQuery("create_user")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, "INSERT INTO users (username) VALUES (?)", username)
	if err != nil {
		if isUniqueViolation(err) {
			err = fmt.Errorf("user %q already exists", username)
		}
		done(err)
		return nil, err
	}
	done(nil)

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &User{ID: id, Username: username, CreatedAt: time.Now().UTC()}, nil
}

// UserByUsername returns ErrNotFound for unknown names.
func (d *Database) UserByUsername(ctx context.Context, username string) (*User, error) {
	done := observeQuery("user_by_username")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var u User
	var created int64
	err := d.db.QueryRowContext(ctx,
		"SELECT id, username, created_at FROM users WHERE username = ?", username,
	).Scan(&u.ID, &u.Username, &created)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	done(err)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	return &u, nil
}

// ListUsers returns all accounts ordered by name.
func (d *Database) ListUsers(ctx context.Context) ([]User, error) {
	done := observeQuery("list_users")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, "SELECT id, username, created_at FROM users ORDER BY username")
	if err != nil {
		done(err)
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var created int64
		if err := rows.Scan(&u.ID, &u.Username, &created); err != nil {
			done(err)
			return nil, err
		}
		u.CreatedAt = time.Unix(created, 0).UTC()
		users = append(users, u)
	}
	err = rows.Err()
	done(err)
	return users, err
}
