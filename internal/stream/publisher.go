package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sumit-mahajan/refi/internal/event"
	"github.com/sumit-mahajan/refi/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Publisher forwards committed operation envelopes to NATS for downstream
// consumers. Subjects follow the pattern refi.events.{op_type}.{asset}.
type Publisher struct {
	js    jetstream.JetStream
	input <-chan event.Envelope
	log   zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, input <-chan event.Envelope) *Publisher {
	return &Publisher{
		js:    js,
		input: input,
		log:   observability.NewLogger("publisher"),
	}
}

// Run drains the input channel until it closes or the context is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-p.input:
			if !ok {
				return nil
			}

			if err := p.publish(ctx, env); err != nil {
				// Non-fatal: consumers can replay from the operation log
				p.log.Warn().
					Err(err).
					Int64("sequence", env.Sequence).
					Msg("outbound publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := fmt.Sprintf("refi.events.%s.%s", env.OperationType.Subject(), strings.ToLower(env.Asset))
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureEventStream creates the outbound events stream.
func EnsureEventStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "REFI_EVENTS",
		Subjects:  []string{"refi.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create events stream: %w", err)
	}
	return nil
}
