package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/deptex/watchtower/pkg/logger"
)

var log = logger.New("watchtower:queue")

// Client is the queue transport over a Redis-compatible endpoint. Jobs live
// in plain lists; producers RPUSH, the dispatcher LPOPs.
type Client struct {
	rdb *redis.Client
}

// New connects to the queue endpoint. url is a redis:// or rediss:// URL;
// token, when non-empty, replaces the password from the URL (Upstash issues
// the token separately from the endpoint).
func New(url, token string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid queue URL: %w", err)
	}
	if token != "" {
		opts.Password = token
	}

	log.Printf("Connecting to queue endpoint %s", opts.Addr)
	return &Client{rdb: redis.NewClient(opts)}, nil
}

// NewFromRedis wraps an existing redis client (used by tests)
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Pop removes and returns the head of the named queue. ok is false when the
// queue is empty; err is a transport error.
func (c *Client) Pop(ctx context.Context, queue string) (payload string, ok bool, err error) {
	payload, err = c.rdb.LPop(ctx, queue).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("queue pop failed for %s: %w", queue, err)
	}
	return payload, true, nil
}

// Push appends a job to the tail of the named queue. Non-string values are
// JSON encoded.
func (c *Client) Push(ctx context.Context, queue string, job any) error {
	var payload string
	switch v := job.(type) {
	case string:
		payload = v
	default:
		encoded, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to encode job for %s: %w", queue, err)
		}
		payload = string(encoded)
	}

	if err := c.rdb.RPush(ctx, queue, payload).Err(); err != nil {
		return fmt.Errorf("queue push failed for %s: %w", queue, err)
	}
	log.Printf("Pushed job to %s", queue)
	return nil
}

// Len returns the current depth of the named queue
func (c *Client) Len(ctx context.Context, queue string) (int64, error) {
	n, err := c.rdb.LLen(ctx, queue).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length failed for %s: %w", queue, err)
	}
	return n, nil
}

// Close releases the underlying connection
func (c *Client) Close() error {
	return c.rdb.Close()
}
