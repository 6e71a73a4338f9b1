// Package queue provides the durable FIFO queue feeding the machine
// translation worker. Items are JSON blobs in a Redis list; requeues go
// back to the head so a failed item is retried first.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PretranslateKey is the list holding pending machine translation requests.
const PretranslateKey = "next_deepl_segments"

// ErrEmpty is returned by PopHead when the queue holds no items.
var ErrEmpty = errors.New("queue is empty")

// Item identifies one original segment to machine-translate into a
// language.
type Item struct {
	WorkID   int64  `json:"work_id"`
	Language string `json:"language"`
	Position int    `json:"position"`
}

// Queue is a Redis-list FIFO with head-push requeue.
type Queue struct {
	client *redis.Client
	key    string
}

// New connects to Redis and verifies the connection.
func New(redisURL, key string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Queue{client: client, key: key}, nil
}

// NewWithClient builds a queue from an existing Redis client.
func NewWithClient(client *redis.Client, key string) *Queue {
	return &Queue{client: client, key: key}
}

// PushTail appends an item for normal FIFO consumption.
func (q *Queue) PushTail(ctx context.Context, item Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("push queue item: %w", err)
	}
	return nil
}

// PushHead requeues an item so it is popped next.
func (q *Queue) PushHead(ctx context.Context, item Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("requeue queue item: %w", err)
	}
	return nil
}

// PopHead removes and returns the oldest item, or ErrEmpty.
func (q *Queue) PopHead(ctx context.Context) (Item, error) {
	data, err := q.client.LPop(ctx, q.key).Result()
	if err == redis.Nil {
		return Item{}, ErrEmpty
	}
	if err != nil {
		return Item{}, fmt.Errorf("pop queue item: %w", err)
	}
	var item Item
	if err := json.Unmarshal([]byte(data), &item); err != nil {
		return Item{}, fmt.Errorf("unmarshal queue item: %w", err)
	}
	return item, nil
}

func (q *Queue) Length(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}
