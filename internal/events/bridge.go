package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const (
	bridgeConsumerName = "requirement-bridge"
	bridgeApplyTimeout = 10 * time.Second
)

// RequirementApplier applies the side effect of an approved requirement.
// It must be idempotent: the bridge consumes at-least-once.
type RequirementApplier interface {
	ApplyApprovedByID(ctx context.Context, requirementID string) error
}

// StartRequirementBridge runs a durable consumer on requirement update facts.
// Each fact is re-read from the durable store by the applier, so stale or
// redelivered facts resolve to no-ops.
func StartRequirementBridge(ctx context.Context, js jetstream.JetStream, applier RequirementApplier) (jetstream.ConsumeContext, error) {
	consumer, err := js.CreateOrUpdateConsumer(ctx, RequirementsStream, jetstream.ConsumerConfig{
		Durable:       bridgeConsumerName,
		FilterSubject: SubjectRequirementUpdate,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
	})
	if err != nil {
		return nil, err
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var fact Fact
		if err := json.Unmarshal(msg.Data(), &fact); err != nil || fact.ID == "" {
			log.Warn().Err(err).Str("subject", msg.Subject()).Msg("requirement bridge: unreadable fact, dropping")
			_ = msg.Ack()
			return
		}

		applyCtx, cancel := context.WithTimeout(context.Background(), bridgeApplyTimeout)
		defer cancel()

		if err := applier.ApplyApprovedByID(applyCtx, fact.ID); err != nil {
			log.Error().Err(err).Str("requirementId", fact.ID).Msg("requirement bridge: apply failed, will redeliver")
			_ = msg.Nak()
			return
		}

		_ = msg.Ack()
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("consumer", bridgeConsumerName).Msg("requirement bridge started")

	return cc, nil
}
