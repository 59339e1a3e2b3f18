package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/rendezvous/core"
)

// MemoryPrincipalRepository keeps principals in process memory.
// It backs development deployments and tests.
type MemoryPrincipalRepository struct {
	byID       map[string]*core.Principal
	byUsername map[string]string
	mu         sync.RWMutex
}

// NewMemoryPrincipalRepository creates an empty repository
func NewMemoryPrincipalRepository() *MemoryPrincipalRepository {
	return &MemoryPrincipalRepository{
		byID:       make(map[string]*core.Principal),
		byUsername: make(map[string]string),
	}
}

func (r *MemoryPrincipalRepository) Create(ctx context.Context, principal *core.Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byUsername[principal.Username]; exists {
		return core.ErrUsernameTaken
	}

	stored := *principal
	stored.PublicKey = append([]byte(nil), principal.PublicKey...)
	r.byID[principal.ID] = &stored
	r.byUsername[principal.Username] = principal.ID

	return nil
}

func (r *MemoryPrincipalRepository) GetByUsername(ctx context.Context, username string) (*core.Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byUsername[username]
	if !exists {
		return nil, core.ErrPrincipalNotFound
	}

	found := *r.byID[id]
	return &found, nil
}

func (r *MemoryPrincipalRepository) GetByID(ctx context.Context, id string) (*core.Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	principal, exists := r.byID[id]
	if !exists {
		return nil, core.ErrPrincipalNotFound
	}

	found := *principal
	return &found, nil
}

func (r *MemoryPrincipalRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.byUsername[username]
	return exists, nil
}

func (r *MemoryPrincipalRepository) UpdatePushToken(ctx context.Context, id, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	principal, exists := r.byID[id]
	if !exists {
		return core.ErrPrincipalNotFound
	}

	// A push token identifies one device; move it if another principal had it.
	for _, other := range r.byID {
		if other.ID != id && other.PushToken == token {
			other.PushToken = ""
		}
	}
	principal.PushToken = token

	return nil
}

func (r *MemoryPrincipalRepository) ClearPushToken(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if principal, exists := r.byID[id]; exists {
		principal.PushToken = ""
	}
	return nil
}

func (r *MemoryPrincipalRepository) ClearPushTokenValue(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, principal := range r.byID {
		if principal.PushToken == token {
			principal.PushToken = ""
		}
	}
	return nil
}

const (
	fieldID        = "id"
	fieldUsername  = "username"
	fieldPublicKey = "public_key"
	fieldPushToken = "push_token"
	fieldCreatedAt = "created_at"
)

// RedisPrincipalRepository stores principals as Redis hashes with a
// username index and a push-token index.
type RedisPrincipalRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisPrincipalRepository creates a new Redis principal repository
func NewRedisPrincipalRepository(client *redis.Client, prefix string) *RedisPrincipalRepository {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisPrincipalRepository{
		client: client,
		prefix: prefix + "principal:",
	}
}

func (r *RedisPrincipalRepository) key(id string) string {
	return r.prefix + "id:" + id
}

func (r *RedisPrincipalRepository) usernameKey(username string) string {
	return r.prefix + "username:" + username
}

func (r *RedisPrincipalRepository) pushKey(token string) string {
	return r.prefix + "push:" + token
}

func (r *RedisPrincipalRepository) Create(ctx context.Context, principal *core.Principal) error {
	claimed, err := r.client.SetNX(ctx, r.usernameKey(principal.Username), principal.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("redis claim username: %w", err)
	}
	if !claimed {
		return core.ErrUsernameTaken
	}

	if err := r.client.HSet(ctx, r.key(principal.ID), map[string]any{
		fieldID:        principal.ID,
		fieldUsername:  principal.Username,
		fieldPublicKey: principal.PublicKey,
		fieldPushToken: principal.PushToken,
		fieldCreatedAt: strconv.FormatInt(principal.CreatedAt.Unix(), 10),
	}).Err(); err != nil {
		_ = r.client.Del(ctx, r.usernameKey(principal.Username)).Err()
		return fmt.Errorf("redis store principal: %w", err)
	}

	return nil
}

func (r *RedisPrincipalRepository) GetByUsername(ctx context.Context, username string) (*core.Principal, error) {
	id, err := r.client.Get(ctx, r.usernameKey(username)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("redis lookup username: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *RedisPrincipalRepository) GetByID(ctx context.Context, id string) (*core.Principal, error) {
	values, err := r.client.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall principal: %w", err)
	}
	if len(values) == 0 {
		return nil, core.ErrPrincipalNotFound
	}

	createdAt, err := strconv.ParseInt(values[fieldCreatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &core.Principal{
		ID:        values[fieldID],
		Username:  values[fieldUsername],
		PublicKey: []byte(values[fieldPublicKey]),
		PushToken: values[fieldPushToken],
		CreatedAt: time.Unix(createdAt, 0).UTC(),
	}, nil
}

func (r *RedisPrincipalRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	n, err := r.client.Exists(ctx, r.usernameKey(username)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists username: %w", err)
	}
	return n > 0, nil
}

func (r *RedisPrincipalRepository) UpdatePushToken(ctx context.Context, id, token string) error {
	previous, err := r.client.HGet(ctx, r.key(id), fieldPushToken).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.ErrPrincipalNotFound
		}
		return fmt.Errorf("redis get push token: %w", err)
	}

	// Detach the token from a principal that registered it before.
	if holder, err := r.client.Get(ctx, r.pushKey(token)).Result(); err == nil && holder != id {
		_ = r.client.HSet(ctx, r.key(holder), fieldPushToken, "").Err()
	}

	pipe := r.client.TxPipeline()
	if previous != "" && previous != token {
		pipe.Del(ctx, r.pushKey(previous))
	}
	pipe.HSet(ctx, r.key(id), fieldPushToken, token)
	pipe.Set(ctx, r.pushKey(token), id, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis update push token: %w", err)
	}

	return nil
}

func (r *RedisPrincipalRepository) ClearPushToken(ctx context.Context, id string) error {
	token, err := r.client.HGet(ctx, r.key(id), fieldPushToken).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("redis get push token: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.key(id), fieldPushToken, "")
	if token != "" {
		pipe.Del(ctx, r.pushKey(token))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis clear push token: %w", err)
	}

	return nil
}

// clearPushTokenScript drops the token index and clears the owner's field
// only while it still holds that token.
var clearPushTokenScript = redis.NewScript(`
local id = redis.call("GET", KEYS[1])
if not id then
	return 0
end
redis.call("DEL", KEYS[1])
local owner = ARGV[2] .. id
if redis.call("HGET", owner, ARGV[3]) == ARGV[1] then
	redis.call("HSET", owner, ARGV[3], "")
end
return 1
`)

func (r *RedisPrincipalRepository) ClearPushTokenValue(ctx context.Context, token string) error {
	err := clearPushTokenScript.Run(ctx, r.client,
		[]string{r.pushKey(token)}, token, r.key(""), fieldPushToken).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis clear push token: %w", err)
	}
	return nil
}
