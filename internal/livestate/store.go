// Package livestate is the adapter over the live-state cache. Entries are
// JSON documents keyed by entity id; the durable store never sees any of
// these fields. A missing or unreadable entry is reported as absent, not as
// an error, because "status unknown" is a valid state on every read path.
package livestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/devshare/control-server-go/internal/model"
	redisclient "github.com/devshare/control-server-go/internal/redis"
)

// DeviceStateStore reads and writes per-device live-state documents.
type DeviceStateStore interface {
	// Get returns (nil, nil) when the entry is missing or unreadable.
	Get(ctx context.Context, deviceID string) (*model.DeviceLiveState, error)
	Set(ctx context.Context, deviceID string, state *model.DeviceLiveState) error
	Delete(ctx context.Context, deviceID string) error
	Keys(ctx context.Context) ([]string, error)
}

// SessionStateStore reads and writes per-session live-state documents.
type SessionStateStore interface {
	Get(ctx context.Context, sessionID string) (*model.SessionLiveState, error)
	Set(ctx context.Context, sessionID string, state *model.SessionLiveState) error
	Delete(ctx context.Context, sessionID string) error
	Keys(ctx context.Context) ([]string, error)
}

type deviceStore struct {
	client *redisclient.Client
}

func NewDeviceStateStore(client *redisclient.Client) DeviceStateStore {
	return &deviceStore{client: client}
}

func (s *deviceStore) Get(ctx context.Context, deviceID string) (*model.DeviceLiveState, error) {
	data, err := s.client.Get(ctx, redisclient.DeviceStateKey(deviceID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get device state %s: %w", deviceID, err)
	}

	var state model.DeviceLiveState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		log.Warn().Err(err).Str("deviceId", deviceID).Msg("malformed device live-state entry, treating as absent")
		return nil, nil
	}

	return &state, nil
}

func (s *deviceStore) Set(ctx context.Context, deviceID string, state *model.DeviceLiveState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal device state %s: %w", deviceID, err)
	}

	if err := s.client.Set(ctx, redisclient.DeviceStateKey(deviceID), data, 0).Err(); err != nil {
		return fmt.Errorf("set device state %s: %w", deviceID, err)
	}

	return nil
}

func (s *deviceStore) Delete(ctx context.Context, deviceID string) error {
	return s.client.Del(ctx, redisclient.DeviceStateKey(deviceID)).Err()
}

func (s *deviceStore) Keys(ctx context.Context) ([]string, error) {
	return scanIDs(ctx, s.client, "devices:")
}

type sessionStore struct {
	client *redisclient.Client
}

func NewSessionStateStore(client *redisclient.Client) SessionStateStore {
	return &sessionStore{client: client}
}

func (s *sessionStore) Get(ctx context.Context, sessionID string) (*model.SessionLiveState, error) {
	data, err := s.client.Get(ctx, redisclient.SessionStateKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session state %s: %w", sessionID, err)
	}

	var state model.SessionLiveState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("malformed session live-state entry, treating as absent")
		return nil, nil
	}

	return &state, nil
}

func (s *sessionStore) Set(ctx context.Context, sessionID string, state *model.SessionLiveState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session state %s: %w", sessionID, err)
	}

	if err := s.client.Set(ctx, redisclient.SessionStateKey(sessionID), data, 0).Err(); err != nil {
		return fmt.Errorf("set session state %s: %w", sessionID, err)
	}

	return nil
}

func (s *sessionStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, redisclient.SessionStateKey(sessionID)).Err()
}

func (s *sessionStore) Keys(ctx context.Context) ([]string, error) {
	return scanIDs(ctx, s.client, "sessions:")
}

// scanIDs walks the namespace with SCAN and returns entity ids with the
// namespace prefix stripped.
func scanIDs(ctx context.Context, client *redisclient.Client, prefix string) ([]string, error) {
	var ids []string
	var cursor uint64

	for {
		keys, next, err := client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s keys: %w", prefix, err)
		}

		for _, key := range keys {
			ids = append(ids, strings.TrimPrefix(key, prefix))
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return ids, nil
}
