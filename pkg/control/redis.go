package control

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient is a narrow Redis wrapper exposing only the operations
// this package needs: an HSet+Publish pipeline pair, BRPop, and a
// verbatim publish for the payload channel.
type redisClient struct {
	client *redis.Client
	ctx    context.Context
}

func newRedisClient(addr, password string, db int) (*redisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("control: connect to redis: %w", err)
	}

	return &redisClient{client: client, ctx: ctx}, nil
}

// writeAndPublishInt writes field=value into the hash at key and
// publishes "field:value" to the channel of the same name as one
// pipelined round trip.
func (c *redisClient) writeAndPublishInt(key, field string, value int) error {
	pipe := c.client.Pipeline()
	pipe.HSet(c.ctx, key, field, value)
	pipe.Publish(c.ctx, key, fmt.Sprintf("%s:%d", field, value))
	_, err := pipe.Exec(c.ctx)
	return err
}

// writeAndPublishFloat is writeAndPublishInt's float counterpart, needed
// for the bit-error-rate telemetry field.
func (c *redisClient) writeAndPublishFloat(key, field string, value float64) error {
	pipe := c.client.Pipeline()
	pipe.HSet(c.ctx, key, field, value)
	pipe.Publish(c.ctx, key, fmt.Sprintf("%s:%f", field, value))
	_, err := pipe.Exec(c.ctx)
	return err
}

// publish publishes message to channel verbatim (used for the received
// payload channel, which isn't a hash-backed field).
func (c *redisClient) publish(channel string, message []byte) error {
	return c.client.Publish(c.ctx, channel, message).Err()
}

// brPop blocks on the given list key, returning [key, value] on success
// and (nil, nil) when timeout elapses with nothing to pop. A cancelled
// ctx is returned as an error.
func (c *redisClient) brPop(ctx context.Context, timeout time.Duration, key string) ([]string, error) {
	result, err := c.client.BRPop(ctx, timeout, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	if len(result) != 2 {
		return nil, fmt.Errorf("control: unexpected BRPOP result from %s: %v", key, result)
	}
	return result, nil
}

func (c *redisClient) close() error {
	return c.client.Close()
}
