// Package records stores the relational records served as the active_record
// layer of graph nodes. Each record is a Redis hash keyed by node type and
// number.
package records

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/dyluth/nodegraph/pkg/nodegraph"
	"github.com/redis/go-redis/v9"
)

// Store is a Redis-backed nodegraph.RecordSource. It is safe for concurrent use.
type Store struct {
	rdb       *redis.Client
	namespace string
}

var _ nodegraph.RecordSource = (*Store)(nil)

// NewStore creates a store whose keys are prefixed with namespace.
// Returns an error if namespace is empty.
func NewStore(redisOpts *redis.Options, namespace string) (*Store, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	return &Store{
		rdb:       redis.NewClient(redisOpts),
		namespace: namespace,
	}, nil
}

// NewStoreFromURL parses a redis:// URL and creates a store.
func NewStoreFromURL(redisURL, namespace string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return NewStore(opts, namespace)
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Put replaces the record for nodeType and number.
func (s *Store) Put(ctx context.Context, nodeType string, number int64, fields map[string]any) error {
	if nodeType == "" {
		return fmt.Errorf("node type cannot be empty")
	}
	hash, err := RecordToHash(fields)
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}

	key := RecordKey(s.namespace, nodeType, number)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(hash) > 0 {
			pipe.HSet(ctx, key, hash)
		}
		pipe.SAdd(ctx, TypeIndexKey(s.namespace, nodeType), number)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write record to Redis: %w", err)
	}
	return nil
}

// Get returns one record. Returns (nil, redis.Nil) if it does not exist; use
// IsNotFound to check.
func (s *Store) Get(ctx context.Context, nodeType string, number int64) (map[string]any, error) {
	hash, err := s.rdb.HGetAll(ctx, RecordKey(s.namespace, nodeType, number)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read record from Redis: %w", err)
	}
	if len(hash) == 0 {
		return nil, redis.Nil
	}

	fields, err := HashToRecord(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize record: %w", err)
	}
	return fields, nil
}

// FindRecords loads the records for numbers in one pipelined round trip.
// Numbers without a record are absent from the result.
func (s *Store) FindRecords(ctx context.Context, nodeType string, numbers []int64) (map[int64]map[string]any, error) {
	out := make(map[int64]map[string]any, len(numbers))
	if len(numbers) == 0 {
		return out, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(numbers))
	for i, n := range numbers {
		cmds[i] = pipe.HGetAll(ctx, RecordKey(s.namespace, nodeType, n))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read %s records from Redis: %w", nodeType, err)
	}

	for i, cmd := range cmds {
		hash := cmd.Val()
		if len(hash) == 0 {
			continue
		}
		fields, err := HashToRecord(hash)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize %s record %d: %w", nodeType, numbers[i], err)
		}
		out[numbers[i]] = fields
	}
	return out, nil
}

// Numbers returns the record numbers stored for nodeType, ascending.
func (s *Store) Numbers(ctx context.Context, nodeType string) ([]int64, error) {
	members, err := s.rdb.SMembers(ctx, TypeIndexKey(s.namespace, nodeType)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s index: %w", nodeType, err)
	}
	numbers := make([]int64, 0, len(members))
	for _, m := range members {
		n, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt %s index entry %q: %w", nodeType, m, err)
		}
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	return numbers, nil
}

// Delete removes a record. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, nodeType string, number int64) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, RecordKey(s.namespace, nodeType, number))
		pipe.SRem(ctx, TypeIndexKey(s.namespace, nodeType), number)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// IsNotFound reports whether err is the not-found error returned by Get.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
