package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/desk-scheduler/internal/application"
	"github.com/example/desk-scheduler/internal/config"
)

const (
	defaultStreamMaxLen = 10000
	defaultReminderTTL  = 2 * time.Hour
	remindedKeyPrefix   = "deskd:reminded:"
)

// NewRedisClient creates a Redis client from the configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

// RedisPublisher appends changes and reminders to Redis streams. Reminders
// are deduplicated per reservation with a SETNX marker.
type RedisPublisher struct {
	client         *redis.Client
	changeStream   string
	reminderStream string
	maxLen         int64
	reminderTTL    time.Duration
	logger         *zap.Logger
}

// RedisOption configures a RedisPublisher.
type RedisOption func(*RedisPublisher)

// WithStreamMaxLen caps each stream at n entries.
func WithStreamMaxLen(n int64) RedisOption {
	return func(p *RedisPublisher) {
		if n > 0 {
			p.maxLen = n
		}
	}
}

// WithReminderTTL sets how long a reservation stays marked as reminded.
func WithReminderTTL(ttl time.Duration) RedisOption {
	return func(p *RedisPublisher) {
		if ttl > 0 {
			p.reminderTTL = ttl
		}
	}
}

// NewRedisPublisher returns a publisher writing to the configured streams.
func NewRedisPublisher(client *redis.Client, cfg config.RedisConfig, logger *zap.Logger, opts ...RedisOption) *RedisPublisher {
	if logger == nil {
		logger = zap.L()
	}
	p := &RedisPublisher{
		client:         client,
		changeStream:   cfg.ChangeStream,
		reminderStream: cfg.ReminderStream,
		maxLen:         defaultStreamMaxLen,
		reminderTTL:    defaultReminderTTL,
		logger:         logger.With(zap.String("component", "notify")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishChanges appends one stream entry per change.
func (p *RedisPublisher) PublishChanges(ctx context.Context, changes []application.Change) error {
	for _, c := range changes {
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("notify: encode change: %w", err)
		}
		values := map[string]interface{}{
			"kind":           string(c.Kind),
			"reservation_id": c.ReservationID,
			"desk_id":        c.DeskID,
			"status":         c.Status,
			"at":             c.At.UTC().Format(time.RFC3339Nano),
			"data":           string(data),
		}
		if err := p.add(ctx, p.changeStream, values); err != nil {
			return err
		}
	}
	return nil
}

// PublishReminders appends reservations not reminded about yet to the
// reminder stream.
func (p *RedisPublisher) PublishReminders(ctx context.Context, reservations []application.Reservation) (int, error) {
	sent := 0
	for _, r := range reservations {
		fresh, err := p.client.SetNX(ctx, remindedKeyPrefix+r.ID, r.Start.UTC().Format(time.RFC3339), p.reminderTTL).Result()
		if err != nil {
			return sent, fmt.Errorf("notify: mark reminder %s: %w", r.ID, err)
		}
		if !fresh {
			continue
		}
		values := map[string]interface{}{
			"reservation_id": r.ID,
			"user_id":        r.UserID,
			"desk_id":        r.DeskID,
			"start":          r.Start.UTC().Format(time.RFC3339Nano),
			"end":            r.End.UTC().Format(time.RFC3339Nano),
		}
		if err := p.add(ctx, p.reminderStream, values); err != nil {
			// Allow a retry on the next run.
			p.client.Del(ctx, remindedKeyPrefix+r.ID)
			return sent, err
		}
		sent++
	}
	if sent > 0 {
		p.logger.Debug("reminders published", zap.Int("count", sent))
	}
	return sent, nil
}

func (p *RedisPublisher) add(ctx context.Context, stream string, values map[string]interface{}) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("notify: xadd %s: %w", stream, err)
	}
	return nil
}
