// Package redis keeps rate limit windows in Redis so every instance shares
// one budget per client. Each window is a sorted set of request times.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	windowPrefix = "ratelimit:window:"
	blockPrefix  = "ratelimit:block:"
)

type Store struct {
	client redis.UniversalClient
}

func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Hit trims the window, adds now and reads the count in one transaction.
// Scores are Unix microseconds.
func (s *Store) Hit(ctx context.Context, key string, now time.Time, window time.Duration) (int, time.Time, error) {
	k := windowPrefix + key
	cutoff := strconv.FormatInt(now.Add(-window).UnixMicro(), 10)

	var (
		card  *redis.IntCmd
		first *redis.ZSliceCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, k, "-inf", cutoff)
		pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMicro()), Member: uuid.NewString()})
		card = pipe.ZCard(ctx, k)
		first = pipe.ZRangeWithScores(ctx, k, 0, 0)
		pipe.PExpire(ctx, k, window)
		return nil
	})
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("rate limit hit: %w", err)
	}

	oldest := now
	if zs := first.Val(); len(zs) > 0 {
		oldest = time.UnixMicro(int64(zs[0].Score)).UTC()
	}
	return int(card.Val()), oldest, nil
}

func (s *Store) Block(ctx context.Context, key string, now time.Time, d time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, blockPrefix+key, now.Add(d).UnixMilli(), d)
		pipe.Del(ctx, windowPrefix+key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("block client: %w", err)
	}
	return nil
}

func (s *Store) BlockedUntil(ctx context.Context, key string, now time.Time) (time.Time, bool, error) {
	ms, err := s.client.Get(ctx, blockPrefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read blocklist: %w", err)
	}
	until := time.UnixMilli(ms).UTC()
	if !now.Before(until) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}
