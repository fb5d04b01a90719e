package main

import (
	"context"
	"fmt"
	"sync"
)

// UsersStore is the in-memory username->password map loaded once at
// startup and mutated under lock from the registration dispatch path.
type UsersStore struct {
	mu    sync.Mutex
	users map[string]string
}

// NewUsersStore queries the user table once and populates the map.
func NewUsersStore(ctx context.Context, pool *DBPool) (*UsersStore, error) {
	s := &UsersStore{users: make(map[string]string)}

	lease, err := pool.Lease(ctx)
	if err != nil {
		return nil, fmt.Errorf("users: lease: %w", err)
	}
	defer lease.Release()

	rows, err := lease.Conn().QueryContext(ctx, "SELECT username, password FROM user")
	if err != nil {
		return nil, fmt.Errorf("users: select: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var username, password string
		if err := rows.Scan(&username, &password); err != nil {
			return nil, fmt.Errorf("users: scan: %w", err)
		}
		s.users[username] = password
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("users: rows: %w", err)
	}
	return s, nil
}

// Lookup reports the stored password for username and whether it exists.
func (s *UsersStore) Lookup(username string) (password string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	password, ok = s.users[username]
	return password, ok
}

// Exists reports whether username is registered.
func (s *UsersStore) Exists(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[username]
	return ok
}

// Insert adds username/password to the map under lock.
func (s *UsersStore) Insert(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = password
}

// Register performs the registration path's DB insert and map update as a
// single unit, with the DB write issued while the map lock is held so a
// concurrent Lookup can never observe the insert before the row commits.
func (s *UsersStore) Register(ctx context.Context, pool *DBPool, username, password string) error {
	lease, err := pool.Lease(ctx)
	if err != nil {
		return fmt.Errorf("users: register lease: %w", err)
	}
	defer lease.Release()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = lease.Conn().ExecContext(ctx,
		"INSERT INTO user(username, password) VALUES(?, ?)", username, password)
	if err != nil {
		return err
	}
	s.users[username] = password
	return nil
}
