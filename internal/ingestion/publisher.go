package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"PerpVault/internal/core"
	"PerpVault/internal/event"
	"PerpVault/internal/observability"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// EventSubjectPrefix is the outbound subject root.
const EventSubjectPrefix = "perp.vault.events."

// OutboundPublisher publishes committed events to NATS for downstream
// consumers. It reads the processor's publish channel, which is fed with
// a non-blocking send; consumers that need every event read the event log.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.Output
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishableEvent is the outbound wire form of one envelope.
type PublishableEvent struct {
	Sequence     int64           `json:"sequence"`
	CommandSeq   int64           `json:"command_sequence"`
	OperationSeq int64           `json:"operation_sequence"`
	OperationID  uuid.UUID       `json:"operation_id"`
	Operation    string          `json:"operation"`
	EventType    string          `json:"event_type"`
	Asset        *string         `json:"asset,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	StateHash    string          `json:"state_hash"`
	PrevHash     string          `json:"prev_hash"`
	Timestamp    time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.Output, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			for _, env := range out.Events {
				if err := op.publish(ctx, out.Sequence, env); err != nil {
					// Non-fatal: downstream consumers can read the event log
					op.logger.Warn().Err(err).Int64("sequence", env.Sequence).Msg("outbound publish failed")
					if op.metrics != nil {
						op.metrics.PublishDrops.Inc()
					}
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, commandSeq int64, env event.EventEnvelope) error {
	evt, err := NewPublishableEvent(commandSeq, env)
	if err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = op.js.Publish(ctx, EventSubject(env), data,
		jetstream.WithMsgID(fmt.Sprintf("vault-event-%d", env.Sequence)))
	return err
}

// NewPublishableEvent converts an envelope to its outbound form.
func NewPublishableEvent(commandSeq int64, env event.EventEnvelope) (PublishableEvent, error) {
	payload, err := event.EncodePayload(env.Payload)
	if err != nil {
		return PublishableEvent{}, fmt.Errorf("encode %s: %w", env.EventType, err)
	}
	return PublishableEvent{
		Sequence:     env.Sequence,
		CommandSeq:   commandSeq,
		OperationSeq: env.OperationSeq,
		OperationID:  env.OperationID,
		Operation:    env.Operation,
		EventType:    env.EventType.String(),
		Asset:        env.Asset,
		Payload:      payload,
		StateHash:    hex.EncodeToString(env.StateHash[:]),
		PrevHash:     hex.EncodeToString(env.PrevHash[:]),
		Timestamp:    env.Timestamp,
	}, nil
}

// EventSubject is perp.vault.events.{EventType}[.{asset}].
func EventSubject(env event.EventEnvelope) string {
	subject := EventSubjectPrefix + env.EventType.String()
	if env.Asset != nil {
		subject += "." + *env.Asset
	}
	return subject
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       "PERP_VAULT_EVENTS",
		Subjects:   []string{EventSubjectPrefix + ">"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Replicas:   1,
		Duplicates: 10 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", "PERP_VAULT_EVENTS").Msg("ensured outbound stream")
	return nil
}
