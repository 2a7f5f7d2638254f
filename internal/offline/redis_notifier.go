package offline

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// SyncQueueKey is the redis list the shoreside sync daemon consumes.
const SyncQueueKey = "queue:quiz-sync"

// RedisNotifier pushes eligible queue entry ids onto a redis list for
// the external sync daemon.
type RedisNotifier struct {
	client *redis.Client
	key    string
}

func NewRedisNotifier(client *redis.Client, key string) *RedisNotifier {
	if key == "" {
		key = SyncQueueKey
	}
	return &RedisNotifier{client: client, key: key}
}

func (n *RedisNotifier) Enqueue(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	vals := make([]interface{}, len(ids))
	for i, id := range ids {
		vals[i] = id
	}
	return n.client.RPush(ctx, n.key, vals...).Err()
}
