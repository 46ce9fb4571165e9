package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/earlywatch/sentinel/internal/models"
)

const (
	lockBucket = time.Hour
	lockTTL    = 30 * time.Second
	indexTTL   = 48 * time.Hour
)

// Locks serializes duplicate resolution per (detector, time-bucket)
// across workers using Redis SETNX locks, so two concurrent runs
// producing overlapping detections cannot both pass the exact-duplicate
// check. Best effort: callers continue without the lock if Redis is
// down and accept duplicate cleanup on a later run.
type Locks struct {
	rdb *redis.Client
}

func NewLocks(addr, password string, db int) (*Locks, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Printf("Connected to Redis: %s", addr)
	return &Locks{rdb: rdb}, nil
}

func (l *Locks) Close() error {
	return l.rdb.Close()
}

// HealthCheck verifies the Redis connection is alive.
func (l *Locks) HealthCheck(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

// Acquire blocks until the bucket lock is held or the context ends.
// The returned release function is safe to call once.
func (l *Locks) Acquire(ctx context.Context, detectorID string, ts time.Time) (func(), error) {
	key := fmt.Sprintf("dedup:lock:%s:%d", detectorID, ts.UTC().Truncate(lockBucket).Unix())

	for {
		ok, err := l.rdb.SetNX(ctx, key, "1", lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire dedup lock: %w", err)
		}
		if ok {
			return func() {
				if err := l.rdb.Del(context.Background(), key).Err(); err != nil {
					log.Printf("Warning: failed to release dedup lock %s: %v", key, err)
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// RegisterDetection records a fingerprint of a created detection so
// SeenExact can short-circuit the exact check without a store query.
func (l *Locks) RegisterDetection(ctx context.Context, d *models.Detection) error {
	key := fingerprintKey(d)
	if err := l.rdb.Set(ctx, key, d.ID, indexTTL).Err(); err != nil {
		return fmt.Errorf("failed to index detection: %w", err)
	}
	return nil
}

// SeenExact returns the ID of a previously indexed detection with the
// same detector, timestamp, and location set, or "" when none exists.
func (l *Locks) SeenExact(ctx context.Context, d *models.Detection) (string, error) {
	id, err := l.rdb.Get(ctx, fingerprintKey(d)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to check detection index: %w", err)
	}
	return id, nil
}

func fingerprintKey(d *models.Detection) string {
	ids := d.LocationIDs()
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, ",")))
	return fmt.Sprintf("dedup:seen:%s:%d:%s", d.DetectorID, d.Timestamp.UTC().Unix(), hex.EncodeToString(sum[:8]))
}
