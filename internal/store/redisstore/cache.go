package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/visageapp/visage/internal/chat"
)

const (
	listKey = "visage:conversations:recent"
	listTTL = 5 * time.Minute
)

// Store caches the most-recent-conversations listing. Any message insert
// or conversation delete invalidates it; readers fall through to the
// database on a miss.
type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// GetConversations returns the cached listing, or (nil, false, nil) on a
// miss.
func (s *Store) GetConversations(ctx context.Context) ([]chat.Conversation, bool, error) {
	raw, err := s.rdb.Get(ctx, listKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var convs []chat.Conversation
	if err := json.Unmarshal(raw, &convs); err != nil {
		// poisoned entry, drop it
		_ = s.rdb.Del(ctx, listKey).Err()
		return nil, false, nil
	}
	return convs, true, nil
}

func (s *Store) SetConversations(ctx context.Context, convs []chat.Conversation) error {
	raw, err := json.Marshal(convs)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, listKey, raw, listTTL).Err()
}

func (s *Store) Invalidate(ctx context.Context) error {
	return s.rdb.Del(ctx, listKey).Err()
}
