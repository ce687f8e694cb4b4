package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mossy-p/videoroom-relay/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	peersTTL = 24 * time.Hour
	mountTTL = 24 * time.Hour
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("not found")

// Store mirrors room presence and mountpoint metadata into Redis so the REST
// API can read them. The in-process registry stays the source of truth.
type Store struct {
	rdb  redis.Cmdable
	room uint64
}

func NewStore(rdb redis.Cmdable, room uint64) *Store {
	return &Store{rdb: rdb, room: room}
}

func (s *Store) peersKey() string {
	return fmt.Sprintf("room:%d:peers", s.room)
}

func mountKey(id uint64) string {
	return fmt.Sprintf("mount:%d", id)
}

// Reset clears the presence set, which is stale after a restart.
func (s *Store) Reset(ctx context.Context) error {
	return s.rdb.Del(ctx, s.peersKey()).Err()
}

func (s *Store) AddPeer(ctx context.Context, name string) error {
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, s.peersKey(), name)
	pipe.Expire(ctx, s.peersKey(), peersTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) RemovePeer(ctx context.Context, name string) error {
	return s.rdb.SRem(ctx, s.peersKey(), name).Err()
}

func (s *Store) Peers(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, s.peersKey()).Result()
}

func (s *Store) SaveMount(ctx context.Context, m models.MountMetadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, mountKey(m.ID), data, mountTTL).Err()
}

func (s *Store) GetMount(ctx context.Context, id uint64) (*models.MountMetadata, error) {
	data, err := s.rdb.Get(ctx, mountKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var m models.MountMetadata
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("failed to parse mount data: %w", err)
	}
	return &m, nil
}

func (s *Store) DeleteMount(ctx context.Context, id uint64) error {
	return s.rdb.Del(ctx, mountKey(id)).Err()
}
