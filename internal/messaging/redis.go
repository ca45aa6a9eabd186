package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BTreeMap/MoodPipe/internal/dashboard"
)

// Stream defaults.
const (
	DefaultEventStream    = "moodpipe:dashboard:events"
	DefaultStreamMaxLen   = 10000
	DefaultPublishTimeout = 2 * time.Second
)

// streamAdder is the part of the Redis client the publisher uses.
type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisConfig holds configuration for the Redis connection.
type RedisConfig struct {
	URL    string // redis://[:password@]host:port/db
	Stream string
	MaxLen int64
}

// StreamPublisher appends dashboard notifications to a Redis Stream so other services
// can follow mood changes with XREAD or consumer groups.
type StreamPublisher struct {
	client  streamAdder
	closer  func() error
	stream  string
	maxLen  int64
	timeout time.Duration

	wg sync.WaitGroup
}

// NewStreamPublisher connects to Redis and checks the connection with PING.
func NewStreamPublisher(cfg RedisConfig) (*StreamPublisher, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	p := newStreamPublisher(rdb, cfg.Stream, cfg.MaxLen)
	p.closer = rdb.Close
	slog.Info("Redis stream publisher connected", "addr", opts.Addr, "stream", p.stream)
	return p, nil
}

func newStreamPublisher(client streamAdder, stream string, maxLen int64) *StreamPublisher {
	if stream == "" {
		stream = DefaultEventStream
	}
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &StreamPublisher{
		client:  client,
		stream:  stream,
		maxLen:  maxLen,
		timeout: DefaultPublishTimeout,
	}
}

// Stream returns the stream key notifications are appended to.
func (p *StreamPublisher) Stream() string {
	return p.stream
}

// Notify is a dashboard.Subscriber. The XADD runs on its own goroutine.
func (p *StreamPublisher) Notify(n dashboard.Notification) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if _, err := p.Publish(ctx, n); err != nil {
			slog.Error("StreamPublisher: publish failed", "userID", n.UserID, "error", err)
		}
	}()
}

// Publish appends n to the stream and returns the entry ID.
func (p *StreamPublisher) Publish(ctx context.Context, n dashboard.Notification) (string, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("failed to encode notification: %w", err)
	}
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"notification_id": n.ID,
			"user_id":         n.UserID,
			"mood":            n.MoodName,
			"score":           strconv.Itoa(n.Score),
			"payload":         string(payload),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd failed: %w", err)
	}
	slog.Debug("StreamPublisher: notification published", "userID", n.UserID, "entryID", id)
	return id, nil
}

// Close waits for in-flight publishes and closes the connection.
func (p *StreamPublisher) Close() error {
	p.wg.Wait()
	if p.closer != nil {
		return p.closer()
	}
	return nil
}
