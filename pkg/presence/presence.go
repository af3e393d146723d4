// Package presence tracks live sessions and server pods in Redis so
// multiple chat server instances can share one view of who is online.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const podTTL = 30 * time.Second

// Client wraps a Redis connection scoped to one server pod.
type Client struct {
	rdb   *redis.Client
	podID string
}

// SessionData is the shared record for one connected session.
type SessionData struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Room  string `json:"room"`
	PodID string `json:"pod_id"`
}

// PodInfo is the shared record for one running server pod.
type PodInfo struct {
	PodID         string    `json:"pod_id"`
	StartTime     time.Time `json:"start_time"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	SessionCount  int       `json:"session_count"`
	Version       string    `json:"version"`
}

// NewClient connects to Redis and verifies the connection.
func NewClient(redisURL, podID string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	// Short timeout so a down Redis fails fast at startup.
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb, podID: podID}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// RegisterPod announces this pod. The record carries a TTL so a crashed pod
// disappears on its own once heartbeats stop.
func (c *Client) RegisterPod(ctx context.Context, version string) error {
	info := PodInfo{
		PodID:     c.podID,
		StartTime: time.Now(),
		Version:   version,
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal pod info: %w", err)
	}

	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, fmt.Sprintf("pod:%s", c.podID), data, podTTL)
	pipe.SAdd(ctx, "pods:active", c.podID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register pod: %w", err)
	}
	return nil
}

// Heartbeat refreshes this pod's record and TTL.
func (c *Client) Heartbeat(ctx context.Context, sessionCount int, version string) error {
	info := PodInfo{
		PodID:         c.podID,
		LastHeartbeat: time.Now(),
		SessionCount:  sessionCount,
		Version:       version,
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal pod info: %w", err)
	}

	if err := c.rdb.Set(ctx, fmt.Sprintf("pod:%s", c.podID), data, podTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh pod record: %w", err)
	}
	return nil
}

// RegisterSession stores or updates one session's record and ties it to this
// pod.
func (c *Client) RegisterSession(ctx context.Context, sess SessionData) error {
	sess.PodID = c.podID

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session data: %w", err)
	}

	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, fmt.Sprintf("session:%d", sess.ID), data, 0)
	pipe.SAdd(ctx, fmt.Sprintf("pod:%s:sessions", c.podID), sess.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register session: %w", err)
	}
	return nil
}

// GetSession retrieves one session's record by client id.
func (c *Client) GetSession(ctx context.Context, id int64) (*SessionData, error) {
	data, err := c.rdb.Get(ctx, fmt.Sprintf("session:%d", id)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("session not found: %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var sess SessionData
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session data: %w", err)
	}
	return &sess, nil
}

// UnregisterSession removes one session's record.
func (c *Client) UnregisterSession(ctx context.Context, id int64) error {
	pipe := c.rdb.Pipeline()
	pipe.Del(ctx, fmt.Sprintf("session:%d", id))
	pipe.SRem(ctx, fmt.Sprintf("pod:%s:sessions", c.podID), id)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to unregister session: %w", err)
	}
	return nil
}

// PodSessions returns the ids of all sessions registered to this pod.
func (c *Client) PodSessions(ctx context.Context) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, fmt.Sprintf("pod:%s:sessions", c.podID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get pod sessions: %w", err)
	}
	return members, nil
}

// Health checks if the Redis connection is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// GracefulShutdown removes this pod's records so other pods see it gone
// immediately instead of waiting out the TTL.
func (c *Client) GracefulShutdown(ctx context.Context) error {
	pipe := c.rdb.Pipeline()
	pipe.Del(ctx, fmt.Sprintf("pod:%s", c.podID))
	pipe.Del(ctx, fmt.Sprintf("pod:%s:sessions", c.podID))
	pipe.SRem(ctx, "pods:active", c.podID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clean up pod records: %w", err)
	}
	return nil
}
