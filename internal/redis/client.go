package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// Live-state entries are namespaced per entity kind and keyed by entity id.

func DeviceStateKey(deviceID string) string {
	return fmt.Sprintf("devices:%s", deviceID)
}

func SessionStateKey(sessionID string) string {
	return fmt.Sprintf("sessions:%s", sessionID)
}
