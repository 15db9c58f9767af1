package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PerpVault/internal/core"
	"PerpVault/internal/vault"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber consumes commands and oracle prices from JetStream and
// submits them to the processor, one message at a time per consumer.
type NATSSubscriber struct {
	js        jetstream.JetStream
	submitCh  chan<- core.Submission
	oracle    uuid.UUID
	logger    zerolog.Logger
	consumers []jetstream.ConsumeContext
}

// SubjectConfig binds a filter subject to a durable consumer.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
	Prices       bool
}

func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: CommandSubjectPrefix + ">", ConsumerName: "vault-commands", StreamName: "PERP_VAULT_COMMANDS"},
		{Subject: PriceSubjectPrefix + ">", ConsumerName: "vault-prices", StreamName: "PERP_VAULT_PRICES", Prices: true},
	}
}

// NewNATSSubscriber builds a subscriber. Price messages are submitted with
// oracle as the caller.
func NewNATSSubscriber(js jetstream.JetStream, submitCh chan<- core.Submission, oracle uuid.UUID, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:       js,
		submitCh: submitCh,
		oracle:   oracle,
		logger:   logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		prices := cfg.Prices
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			ns.handle(ctx, msg, prices)
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}
	return nil
}

func (ns *NATSSubscriber) handle(ctx context.Context, msg jetstream.Msg, prices bool) {
	var (
		cmd *core.Command
		err error
	)
	if prices {
		cmd, err = ParsePrice(AssetFromSubject(msg.Subject()), ns.oracle, msg.Data())
	} else {
		cmd, err = ParseSubjectCommand(msg.Subject(), msg.Data())
	}
	if err != nil {
		// Redelivery cannot fix a malformed or refused message.
		ns.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping message")
		msg.Term()
		return
	}

	res, err := core.Submit(ctx, ns.submitCh, cmd)
	switch {
	case err == nil:
		if res.Duplicate {
			ns.logger.Debug().Str("command_id", cmd.ID.String()).Msg("duplicate command acked")
		}
		msg.Ack()
	case Permanent(err):
		ns.logger.Info().Err(err).Str("kind", string(cmd.Kind())).Str("command_id", cmd.ID.String()).
			Str("class", vault.Class(err)).Msg("command rejected")
		msg.Ack()
	default:
		ns.logger.Warn().Err(err).Str("command_id", cmd.ID.String()).Msg("command not applied, redelivering")
		msg.Nak()
	}
}

// Permanent reports whether retrying err can never succeed: a parse error
// or a rejection in the vault's error taxonomy.
func Permanent(err error) bool {
	if errors.Is(err, ErrParse) {
		return true
	}
	switch vault.Class(err) {
	case "permission_denied", "not_found", "invalid_state", "out_of_range":
		return true
	}
	return false
}

// EnsureStreams creates the inbound JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "PERP_VAULT_COMMANDS",
			Subjects:  []string{CommandSubjectPrefix + ">"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "PERP_VAULT_PRICES",
			Subjects:  []string{PriceSubjectPrefix + ">"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("perpvault"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
