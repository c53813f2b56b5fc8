// Package scenestore keeps the show's selected scene and per-setting
// overrides. Redis-backed when an address is configured so show control
// survives a process restart, in-memory otherwise.
package scenestore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/stagehand-live/stagehand/internal/domain"
)

const (
	sceneKey     = "show:scene"
	overridesKey = "show:overrides"
)

// Store is the show-control persistence surface. The room core only
// ever reads it (through Current); writes come from the REST layer.
type Store interface {
	Current(ctx context.Context) (*domain.Scene, map[domain.Setting]domain.Override, error)
	SetScene(ctx context.Context, sc *domain.Scene) error
	SetOverride(ctx context.Context, setting domain.Setting, override domain.Override) error
}

// New picks redis when addr is set, memory otherwise.
func New(addr string) Store {
	if addr == "" {
		return NewMemory()
	}
	log.Info().Str("module", "scenestore").Str("addr", addr).Msg("using redis scene store")
	return NewRedis(redis.NewClient(&redis.Options{Addr: addr}))
}

type redisStore struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) Store {
	return &redisStore{rdb: rdb}
}

func (s *redisStore) Current(ctx context.Context) (*domain.Scene, map[domain.Setting]domain.Override, error) {
	var sc *domain.Scene
	raw, err := s.rdb.Get(ctx, sceneKey).Bytes()
	switch {
	case err == redis.Nil:
		// No scene selected.
	case err != nil:
		return nil, nil, err
	default:
		sc = &domain.Scene{}
		if err := json.Unmarshal(raw, sc); err != nil {
			return nil, nil, err
		}
	}

	fields, err := s.rdb.HGetAll(ctx, overridesKey).Result()
	if err != nil {
		return nil, nil, err
	}
	overrides := make(map[domain.Setting]domain.Override, len(fields))
	for k, v := range fields {
		overrides[domain.Setting(k)] = domain.Override(v)
	}
	return sc, overrides, nil
}

func (s *redisStore) SetScene(ctx context.Context, sc *domain.Scene) error {
	if sc == nil {
		return s.rdb.Del(ctx, sceneKey).Err()
	}
	raw, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, sceneKey, raw, 0).Err()
}

func (s *redisStore) SetOverride(ctx context.Context, setting domain.Setting, override domain.Override) error {
	return s.rdb.HSet(ctx, overridesKey, string(setting), string(override)).Err()
}

type memoryStore struct {
	mu        sync.RWMutex
	scene     *domain.Scene
	overrides map[domain.Setting]domain.Override
}

func NewMemory() Store {
	return &memoryStore{overrides: make(map[domain.Setting]domain.Override)}
}

func (s *memoryStore) Current(context.Context) (*domain.Scene, map[domain.Setting]domain.Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	overrides := make(map[domain.Setting]domain.Override, len(s.overrides))
	for k, v := range s.overrides {
		overrides[k] = v
	}
	var sc *domain.Scene
	if s.scene != nil {
		copied := *s.scene
		sc = &copied
	}
	return sc, overrides, nil
}

func (s *memoryStore) SetScene(_ context.Context, sc *domain.Scene) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc == nil {
		s.scene = nil
		return nil
	}
	copied := *sc
	s.scene = &copied
	return nil
}

func (s *memoryStore) SetOverride(_ context.Context, setting domain.Setting, override domain.Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[setting] = override
	return nil
}
