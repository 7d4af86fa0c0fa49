package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "operator:session:"

// Redis stores sessions under operator:session:<user id> without expiry
type Redis struct {
	client *redis.Client
}

// OpenRedis creates a Redis client and pings it to validate the connection
func OpenRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	if addr == "" {
		return nil, errors.New("empty redis addr")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return &Redis{client: client}, nil
}

func key(userID int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, userID)
}

func (r *Redis) Get(ctx context.Context, userID int64) (State, error) {
	raw, err := r.client.Get(ctx, key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return None, nil
	}
	if err != nil {
		return None, fmt.Errorf("failed to get session: %w", err)
	}
	return parseState(raw)
}

func (r *Redis) Set(ctx context.Context, userID int64, state State) error {
	if state == None {
		return r.Clear(ctx, userID)
	}
	if err := r.client.Set(ctx, key(userID), string(state), 0).Err(); err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
