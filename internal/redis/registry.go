package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gamehub-backend/internal/config"
	"github.com/gamehub-backend/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Registry stores live game server records in Redis. Each record lives under
// its own value key; a set indexes the addresses that have been published.
type Registry struct {
	client    redis.UniversalClient
	keyPrefix string
	indexKey  string
	ttl       time.Duration
	logger    *slog.Logger
}

// NewClient creates a Redis client from configuration and checks connectivity
func NewClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// NewRegistry creates a new Redis server registry
func NewRegistry(client redis.UniversalClient, cfg *config.RegistryConfig, logger *slog.Logger) *Registry {
	return &Registry{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		indexKey:  cfg.IndexKey,
		ttl:       cfg.ServerTTL,
		logger:    logger,
	}
}

// Close closes the Redis connection
func (r *Registry) Close() error {
	return r.client.Close()
}

// Ping checks Redis connectivity
func (r *Registry) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return domain.StoreError("pinging redis", err)
	}
	return nil
}

// serverKey returns the Redis key holding a server's record
func (r *Registry) serverKey(address string) string {
	return r.keyPrefix + address
}

// Publish stores record under its address and then adds the address to the
// index. A failed value write leaves the index untouched. A negative or zero
// TTL stores the record without expiry.
func (r *Registry) Publish(ctx context.Context, record domain.ServerRecord) error {
	if strings.TrimSpace(record.Address) == "" {
		return domain.ErrInvalidRequest
	}

	data, err := json.Marshal(record)
	if err != nil {
		return domain.StoreError("encoding server record", err)
	}

	ttl := r.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.serverKey(record.Address), data, ttl).Err(); err != nil {
		return domain.StoreError("setting server record", err)
	}

	if err := r.client.SAdd(ctx, r.indexKey, record.Address).Err(); err != nil {
		return domain.StoreError("indexing server", err)
	}
	return nil
}

// Get returns the record published under address
func (r *Registry) Get(ctx context.Context, address string) (*domain.ServerRecord, error) {
	if strings.TrimSpace(address) == "" {
		return nil, domain.ErrServerNotFound
	}

	data, err := r.client.Get(ctx, r.serverKey(address)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrServerNotFound
		}
		return nil, domain.StoreError("getting server record", err)
	}

	record, ok := r.decode(address, data)
	if !ok {
		return nil, domain.ErrServerNotFound
	}
	return record, nil
}

// List returns every indexed record that still has a value. Order follows
// the index iteration order.
func (r *Registry) List(ctx context.Context) ([]domain.ServerRecord, error) {
	addresses, err := r.client.SMembers(ctx, r.indexKey).Result()
	if err != nil {
		return nil, domain.StoreError("listing server index", err)
	}
	if len(addresses) == 0 {
		return []domain.ServerRecord{}, nil
	}

	keys := make([]string, len(addresses))
	for i, address := range addresses {
		keys[i] = r.serverKey(address)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, domain.StoreError("getting server records", err)
	}

	records := make([]domain.ServerRecord, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			// Value expired or was evicted since it was indexed
			continue
		}
		record, ok := r.decode(addresses[i], []byte(raw))
		if !ok {
			continue
		}
		records = append(records, *record)
	}
	return records, nil
}

// pruneScript removes each candidate address from the index unless its value
// key exists at the moment of removal. KEYS[1] is the index, ARGV[1] the key
// prefix and the remaining arguments the candidates.
var pruneScript = redis.NewScript(`
local removed = 0
for i = 2, #ARGV do
	if redis.call('EXISTS', ARGV[1] .. ARGV[i]) == 0 then
		removed = removed + redis.call('SREM', KEYS[1], ARGV[i])
	end
end
return removed
`)

// Prune removes index members whose value no longer exists and returns how
// many were removed. Candidates are found with a pipelined EXISTS and then
// re-checked and removed in one script, so a server published in between
// stays indexed.
func (r *Registry) Prune(ctx context.Context) (int, error) {
	addresses, err := r.client.SMembers(ctx, r.indexKey).Result()
	if err != nil {
		return 0, domain.StoreError("listing server index", err)
	}
	if len(addresses) == 0 {
		return 0, nil
	}

	pipe := r.client.Pipeline()
	checks := make([]*redis.IntCmd, len(addresses))
	for i, address := range addresses {
		checks[i] = pipe.Exists(ctx, r.serverKey(address))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, domain.StoreError("checking server records", err)
	}

	args := []any{r.keyPrefix}
	for i, check := range checks {
		if check.Val() == 0 {
			args = append(args, addresses[i])
		}
	}
	if len(args) == 1 {
		return 0, nil
	}

	removed, err := pruneScript.Run(ctx, r.client, []string{r.indexKey}, args...).Int()
	if err != nil {
		return 0, domain.StoreError("pruning server index", err)
	}
	return removed, nil
}

// Count returns the number of indexed addresses
func (r *Registry) Count(ctx context.Context) (int64, error) {
	count, err := r.client.SCard(ctx, r.indexKey).Result()
	if err != nil {
		return 0, domain.StoreError("counting server index", err)
	}
	return count, nil
}

func (r *Registry) decode(address string, data []byte) (*domain.ServerRecord, bool) {
	var record domain.ServerRecord
	if err := json.Unmarshal(data, &record); err != nil {
		r.logger.Warn("discarding unparseable server record", "address", address, "error", err)
		return nil, false
	}
	if record.PlayerIDs == nil {
		record.PlayerIDs = []uuid.UUID{}
	}
	return &record, true
}
