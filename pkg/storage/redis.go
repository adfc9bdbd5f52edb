package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
)

// RedisStore keeps each snapshot document under its own key, indexed by a
// sorted set scored with the capture time in microseconds.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// OpenRedis parses a redis:// URL and verifies the connection.
func OpenRedis(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStore(rdb, prefix), nil
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "hybridcost:pricing"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// Key helpers
func (r *RedisStore) docKey(id string) string { return fmt.Sprintf("%s:snapshot:%s", r.prefix, id) }
func (r *RedisStore) indexKey() string        { return r.prefix + ":index" }
func (r *RedisStore) latestKey() string       { return r.prefix + ":latest" }
func (r *RedisStore) seqKey() string          { return r.prefix + ":seq" }

// Index members are "<seq>:<id>" with a zero-padded sequence, so members
// sharing a score sort in append order.
func indexMember(seq int64, id string) string {
	return fmt.Sprintf("%019d:%s", seq, id)
}

func memberID(member string) string {
	_, id, _ := strings.Cut(member, ":")
	return id
}

func (r *RedisStore) Append(ctx context.Context, s *pricing.Snapshot) (string, error) {
	doc, err := pricing.EncodeSnapshot(s)
	if err != nil {
		return "", err
	}

	n, err := r.rdb.Exists(ctx, r.docKey(s.ID)).Result()
	if err != nil {
		return "", fmt.Errorf("check snapshot %s: %w", s.ID, err)
	}
	if n > 0 {
		return "", fmt.Errorf("%w: %s", ErrDuplicate, s.ID)
	}

	seq, err := r.rdb.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return "", fmt.Errorf("allocate sequence: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.docKey(s.ID), doc, 0)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{
			Score:  float64(s.CapturedAt.UnixMicro()),
			Member: indexMember(seq, s.ID),
		})
		pipe.Set(ctx, r.latestKey(), s.ID, 0)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("store snapshot %s: %w", s.ID, err)
	}
	return s.ID, nil
}

func (r *RedisStore) Latest(ctx context.Context) (*pricing.Snapshot, error) {
	id, err := r.rdb.Get(ctx, r.latestKey()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest pointer: %w", err)
	}
	return r.load(ctx, id)
}

func (r *RedisStore) History(ctx context.Context, from, to time.Time) iter.Seq2[*pricing.Snapshot, error] {
	return func(yield func(*pricing.Snapshot, error) bool) {
		var offset int64
		for {
			members, err := r.rdb.ZRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{
				Min:    strconv.FormatInt(from.UnixMicro(), 10),
				Max:    strconv.FormatInt(to.UnixMicro(), 10),
				Offset: offset,
				Count:  historyPageSize,
			}).Result()
			if err != nil {
				yield(nil, fmt.Errorf("zrangebyscore failed: %w", err))
				return
			}

			for _, m := range members {
				s, err := r.load(ctx, memberID(m))
				if !yield(s, err) || err != nil {
					return
				}
			}
			if len(members) < historyPageSize {
				return
			}
			offset += int64(len(members))
		}
	}
}

func (r *RedisStore) load(ctx context.Context, id string) (*pricing.Snapshot, error) {
	data, err := r.rdb.Get(ctx, r.docKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	return pricing.DecodeSnapshot(data)
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
