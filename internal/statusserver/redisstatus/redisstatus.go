// Package redisstatus is the optional cross-process implementation of
// statusserver.Store, letting a run's live progress be read from a process
// other than the runner itself.
//
// Grounded on the teacher's internal/repository/redis.go: a pipelined
// write (here, a single SET with TTL rather than the teacher's paired
// Get/IncrByFloat/Expire triple, since a status snapshot replaces rather
// than accumulates) and the same "ping on construction, fail loud" dial
// pattern.
package redisstatus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sigridjineth/hlbench/internal/statusserver"
)

const (
	statusKey = "hlbench:run:status"
	statusTTL = 48 * time.Hour
)

// Store is a redis-backed statusserver.Store.
type Store struct {
	client *redis.Client
}

// New dials addr and verifies connectivity before returning, matching the
// teacher's NewRedisClient.
func New(addr, password string, db int) (*Store, error) {
	if addr == "" {
		return nil, fmt.Errorf("redisstatus: redis address is empty")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisstatus: connect to redis: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Publish(status statusserver.RunStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("redisstatus: marshal status: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.client.Set(ctx, statusKey, payload, statusTTL).Err()
}

func (s *Store) Latest() (statusserver.RunStatus, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, err := s.client.Get(ctx, statusKey).Bytes()
	if err != nil {
		return statusserver.RunStatus{}, false
	}
	var status statusserver.RunStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return statusserver.RunStatus{}, false
	}
	return status, true
}
