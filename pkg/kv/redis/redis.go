package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pocket-ledger/pkg/kv"

	"github.com/redis/rueidis"
)

// Store is a kv.Store on Redis. Values are stored as plain strings;
// multi-key operations use MGET and MSET, which Redis applies atomically.
type Store struct {
	client rueidis.Client
	name   string
	config Config
}

// Config holds the Redis connection settings.
type Config struct {
	Name string
	// Addr is the Redis server address for single node mode.
	// Examples: "localhost:6379", "redis.example.com:6379"
	Addr string
	// ClusterAddrs is a list of Redis cluster node addresses.
	// If set, cluster mode is enabled and KeyPrefix is hash-tagged
	// so a ledger's keys share one slot.
	ClusterAddrs []string
	Username     string
	Password     string
	// DB is the Redis database number. Cluster mode only supports 0.
	DB           int
	KeyPrefix    string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// Sentinel configuration for high availability
	SentinelMasterSet string
	SentinelAddrs     []string
	SentinelUsername  string
	SentinelPassword  string
}

// DefaultConfig returns settings for a local single node.
func DefaultConfig() Config {
	return Config{
		Name:         "redis",
		Addr:         "localhost:6379",
		DB:           0,
		KeyPrefix:    "ledger:",
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// ClusterConfig returns a configuration for Redis Cluster mode.
func ClusterConfig(name string, clusterAddrs []string, password string) Config {
	config := DefaultConfig()
	config.Name = name
	config.ClusterAddrs = clusterAddrs
	config.Password = password
	config.Addr = ""
	config.DB = 0
	return config
}

// SentinelConfig returns a configuration for Redis Sentinel mode.
func SentinelConfig(name string, sentinelAddrs []string, masterSet, password string) Config {
	config := DefaultConfig()
	config.Name = name
	config.SentinelAddrs = sentinelAddrs
	config.SentinelMasterSet = masterSet
	config.Password = password
	config.Addr = ""
	return config
}

// New connects and pings the server.
func New(config Config) (*Store, error) {
	if config.Name == "" {
		config.Name = "redis"
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}

	var initAddress []string
	switch {
	case len(config.ClusterAddrs) > 0:
		initAddress = config.ClusterAddrs
		config.KeyPrefix = hashTag(config.KeyPrefix)
	case len(config.SentinelAddrs) > 0:
		initAddress = config.SentinelAddrs
	case config.Addr != "":
		initAddress = []string{config.Addr}
	default:
		return nil, fmt.Errorf("redis: no addresses configured (set Addr, ClusterAddrs, or SentinelAddrs)")
	}

	clientOpts := rueidis.ClientOption{
		InitAddress:      initAddress,
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		ConnWriteTimeout: config.WriteTimeout,
		// Client-side caching is not used; every read goes to the server.
		DisableCache: true,
	}

	if len(config.SentinelAddrs) > 0 {
		clientOpts.Sentinel = rueidis.SentinelOption{
			MasterSet: config.SentinelMasterSet,
			Username:  config.SentinelUsername,
			Password:  config.SentinelPassword,
		}
	}

	client, err := rueidis.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("redis: failed to create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to ping server: %w", err)
	}

	return &Store{
		client: client,
		name:   config.Name,
		config: config,
	}, nil
}

// hashTag wraps the prefix in braces so cluster mode hashes only the prefix.
func hashTag(prefix string) string {
	if prefix == "" {
		prefix = "ledger:"
	}
	if strings.Contains(prefix, "{") {
		return prefix
	}
	trimmed := strings.TrimSuffix(prefix, ":")
	return "{" + trimmed + "}:"
}

func (s *Store) fullKey(key string) string {
	return s.config.KeyPrefix + key
}

// Get retrieves a value.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := kv.ValidateKey(key); err != nil {
		return "", err
	}

	resp := s.client.Do(ctx, s.client.B().Get().Key(s.fullKey(key)).Build())
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return "", kv.ErrKeyNotFound
		}
		return "", fmt.Errorf("redis get: %w", err)
	}

	value, err := resp.ToString()
	if err != nil {
		return "", fmt.Errorf("redis get: failed to read response: %w", err)
	}
	return value, nil
}

// GetMulti reads all keys with one MGET.
func (s *Store) GetMulti(ctx context.Context, keys []string) (map[string]string, error) {
	if err := kv.ValidateKeys(keys); err != nil {
		return nil, err
	}
	result := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	fullKeys := make([]string, len(keys))
	for i, k := range keys {
		fullKeys[i] = s.fullKey(k)
	}

	values, err := s.client.Do(ctx, s.client.B().Mget().Key(fullKeys...).Build()).ToArray()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	if len(values) != len(keys) {
		return nil, fmt.Errorf("redis mget: expected %d values, got %d", len(keys), len(values))
	}

	for i, msg := range values {
		if msg.IsNil() {
			continue
		}
		v, err := msg.ToString()
		if err != nil {
			return nil, fmt.Errorf("redis mget: key %s: %w", keys[i], err)
		}
		result[keys[i]] = v
	}
	return result, nil
}

// Set stores a value without expiry.
func (s *Store) Set(ctx context.Context, key string, value string) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}

	cmd := s.client.B().Set().Key(s.fullKey(key)).Value(value).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// SetMulti stores all entries with one MSET.
func (s *Store) SetMulti(ctx context.Context, entries map[string]string) error {
	if err := kv.ValidateEntries(entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	builder := s.client.B().Mset().KeyValue()
	for k, v := range entries {
		builder = builder.KeyValue(s.fullKey(k), v)
	}

	if err := s.client.Do(ctx, builder.Build()).Error(); err != nil {
		return fmt.Errorf("redis mset: %w", err)
	}
	return nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}

	if err := s.client.Do(ctx, s.client.B().Del().Key(s.fullKey(key)).Build()).Error(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Clear deletes every key under this store's prefix.
func (s *Store) Clear(ctx context.Context) error {
	// SCAN only walks the node it is sent to, so every node is scanned.
	// Deletes go through the main client, which routes them by slot.
	for addr, node := range s.client.Nodes() {
		if err := s.clearNode(ctx, node); err != nil {
			return fmt.Errorf("redis clear: node %s: %w", addr, err)
		}
	}
	return nil
}

func (s *Store) clearNode(ctx context.Context, node rueidis.Client) error {
	var cursor uint64
	for {
		entry, err := node.Do(ctx, node.B().Scan().Cursor(cursor).
			Match(s.config.KeyPrefix+"*").Count(100).Build()).AsScanEntry()
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		for _, key := range entry.Elements {
			if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
				return err
			}
		}
		if entry.Cursor == 0 {
			return nil
		}
		cursor = entry.Cursor
	}
}

// Ping checks the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}

// Name returns the store identifier.
func (s *Store) Name() string {
	return s.name
}

// KeyPrefix returns the effective key prefix.
func (s *Store) KeyPrefix() string {
	return s.config.KeyPrefix
}

// Close closes the client.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}
