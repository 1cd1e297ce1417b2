package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/llmrouter/pipeline"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRecorder is a pipeline.Recorder that appends each Snapshot to a
// per-request Redis list (RPUSH), trims it to maxLen entries, and sets a TTL
// so abandoned in-flight trails expire on their own. A trailing key records
// the terminal outcome once Flush{Success,Error} is called.
//
// Grounded on the teacher's RedisTaskStore (agent/persistence/redis_task_store.go):
// same *redis.Client construction and context.WithTimeout-guarded Ping, same
// keyPrefix convention, same json.Marshal-then-Set payload shape.
type RedisRecorder struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	maxLen    int64
	ttl       time.Duration
}

// RedisConfig configures a RedisRecorder's connection and retention policy.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string        // defaults to "llmrouter:snapshot:"
	MaxLen    int64         // defaults to 64 entries per request
	TTL       time.Duration // defaults to 10 minutes
}

// NewRedisRecorder dials addr and verifies connectivity before returning.
func NewRedisRecorder(cfg RedisConfig, logger *zap.Logger) (*RedisRecorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("snapshot: connect to redis: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "llmrouter:snapshot:"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 64
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &RedisRecorder{
		client:    client,
		logger:    logger,
		keyPrefix: keyPrefix,
		maxLen:    maxLen,
		ttl:       ttl,
	}, nil
}

// Close releases the underlying connection pool.
func (r *RedisRecorder) Close() error {
	return r.client.Close()
}

func (r *RedisRecorder) trailKey(requestID string) string {
	return r.keyPrefix + "trail:" + requestID
}

func (r *RedisRecorder) outcomeKey(requestID string) string {
	return r.keyPrefix + "outcome:" + requestID
}

// Record implements pipeline.Recorder. Failures are logged, not returned:
// the snapshot trail is best-effort observability and must never affect the
// request path it's reporting on.
func (r *RedisRecorder) Record(snap pipeline.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := json.Marshal(snap)
	if err != nil {
		r.logger.Warn("snapshot: marshal failed", zap.Error(err))
		return
	}

	key := r.trailKey(snap.RequestID)
	pipe := r.client.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -r.maxLen, -1)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("snapshot: record failed", zap.String("requestId", snap.RequestID), zap.Error(err))
	}
}

// FlushSuccess implements pipeline.Recorder.
func (r *RedisRecorder) FlushSuccess(requestID string) {
	r.setOutcome(requestID, "success")
}

// FlushError implements pipeline.Recorder.
func (r *RedisRecorder) FlushError(requestID string) {
	r.setOutcome(requestID, "error")
}

func (r *RedisRecorder) setOutcome(requestID, outcome string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Set(ctx, r.outcomeKey(requestID), outcome, r.ttl).Err(); err != nil {
		r.logger.Warn("snapshot: flush failed", zap.String("requestId", requestID), zap.Error(err))
	}
}

// Trail reads back a request's recorded snapshots and outcome (empty string
// if not yet flushed or expired).
func (r *RedisRecorder) Trail(ctx context.Context, requestID string) ([]pipeline.Snapshot, string, error) {
	raw, err := r.client.LRange(ctx, r.trailKey(requestID), 0, -1).Result()
	if err != nil {
		return nil, "", fmt.Errorf("snapshot: read trail: %w", err)
	}

	out := make([]pipeline.Snapshot, 0, len(raw))
	for _, item := range raw {
		var snap pipeline.Snapshot
		if err := json.Unmarshal([]byte(item), &snap); err != nil {
			continue
		}
		out = append(out, snap)
	}

	outcome, err := r.client.Get(ctx, r.outcomeKey(requestID)).Result()
	if err != nil && err != redis.Nil {
		return out, "", fmt.Errorf("snapshot: read outcome: %w", err)
	}
	return out, outcome, nil
}
