// Package events publishes domain facts to NATS JetStream and hosts the
// requirement-approval bridge consumer. Publishes are at-least-once;
// consumers must be idempotent.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/devshare/control-server-go/internal/config"
)

// Event subjects. Payloads are minimal JSON facts carrying the entity id.
const (
	SubjectDeviceCreated  = "devices:created"
	SubjectDeviceUpdated  = "devices:updated"
	SubjectDeviceDeleted  = "devices:deleted"
	SubjectDeviceKVUpsert = "devices:kv:upsert"
	SubjectDeviceKVDelete = "devices:kv:delete"

	SubjectSessionCreate = "sessions:create"
	SubjectSessionStop   = "sessions:stop"

	SubjectRequirementCreate = "requirements:create"
	SubjectRequirementUpdate = "requirements:update"
)

const (
	DevicesStream      = "devices-stream"
	SessionsStream     = "sessions-stream"
	RequirementsStream = "requirements-stream"
)

// Fact is the minimal event payload.
type Fact struct {
	ID string `json:"id"`
}

// Publisher is the event-bus seam the coordinators depend on.
type Publisher interface {
	// Publish appends a fact without duplicate detection.
	Publish(ctx context.Context, subject string, payload any) error
	// PublishDedup appends a fact with a message id; the returned flag is
	// true when the broker had already accepted the same id inside the
	// duplicate window.
	PublishDedup(ctx context.Context, subject, msgID string, payload any) (duplicate bool, err error)
}

// Bus wraps a NATS connection with a JetStream context.
type Bus struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func Connect(natsURL string) (*Bus, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Bus{nc: nc, js: js}, nil
}

// JetStream exposes the underlying context for consumers.
func (b *Bus) JetStream() jetstream.JetStream {
	return b.js
}

func (b *Bus) Close() {
	b.nc.Close()
}

// EnsureStreams creates or updates the streams backing the event subjects.
// The duplicate window must be non-zero for idempotent-close detection.
func (b *Bus) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name: DevicesStream,
			Subjects: []string{
				SubjectDeviceCreated,
				SubjectDeviceUpdated,
				SubjectDeviceDeleted,
				SubjectDeviceKVUpsert,
				SubjectDeviceKVDelete,
			},
			Duplicates: config.EventDuplicateWindow,
		},
		{
			Name:       SessionsStream,
			Subjects:   []string{SubjectSessionCreate, SubjectSessionStop},
			Duplicates: config.EventDuplicateWindow,
		},
		{
			Name:       RequirementsStream,
			Subjects:   []string{SubjectRequirementCreate, SubjectRequirementUpdate},
			Duplicates: config.EventDuplicateWindow,
		},
	}

	for _, cfg := range streams {
		if _, err := b.js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}

	return nil
}

func (b *Bus) Publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}

	if _, err := b.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	return nil
}

func (b *Bus) PublishDedup(ctx context.Context, subject, msgID string, payload any) (bool, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal %s payload: %w", subject, err)
	}

	ack, err := b.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID))
	if err != nil {
		return false, fmt.Errorf("publish %s: %w", subject, err)
	}

	return ack.Duplicate, nil
}
