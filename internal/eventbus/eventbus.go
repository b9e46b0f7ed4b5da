// Package eventbus bridges external NATS messages into the scheduler's
// event-triggered schedules. Grounded on
// _teacher_copy/core/natsctx/natsctx.go's trace-propagating publish/
// subscribe helpers, narrowed from a generic pub/sub wrapper to the one
// thing this codebase's scheduler needs: turning a subject's messages
// into Scheduler.TriggerEvent calls.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var propagator = propagation.TraceContext{}

// EventTrigger is the subset of Scheduler a Bridge needs to fan an event
// into matching schedules.
type EventTrigger interface {
	TriggerEvent(ctx context.Context, eventType string, eventData map[string]any)
}

// event is the wire envelope a publisher sends on the bridge's subject.
type event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Bridge subscribes to one NATS subject and forwards each message to a
// scheduler as an event trigger.
type Bridge struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	tracer trace.Tracer
}

// Connect dials url and subscribes subject, forwarding every well-formed
// event message to sched.TriggerEvent. Returns (nil, nil) if url is empty
// so callers can treat the event bus as an optional component.
func Connect(url, subject string, sched EventTrigger) (*Bridge, error) {
	if url == "" {
		return nil, nil
	}

	nc, err := nats.Connect(url, nats.Name("taskmesh-orchestrator"))
	if err != nil {
		return nil, err
	}

	b := &Bridge{nc: nc, tracer: otel.Tracer("taskmesh-eventbus")}
	sub, err := nc.Subscribe(subject, func(m *nats.Msg) {
		b.handle(sched, m)
	})
	if err != nil {
		nc.Close()
		return nil, err
	}
	b.sub = sub
	slog.Info("event bus bridge connected", "url", url, "subject", subject)
	return b, nil
}

func (b *Bridge) handle(sched EventTrigger, m *nats.Msg) {
	carrier := propagation.HeaderCarrier(m.Header)
	ctx := propagator.Extract(context.Background(), carrier)
	ctx, span := b.tracer.Start(ctx, "eventbus.consume", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	var evt event
	if err := json.Unmarshal(m.Data, &evt); err != nil {
		slog.Warn("event bus: dropping malformed message", "subject", m.Subject, "error", err)
		return
	}
	if evt.Type == "" {
		slog.Warn("event bus: dropping message with no event type", "subject", m.Subject)
		return
	}
	sched.TriggerEvent(ctx, evt.Type, evt.Data)
}

// Publish injects the caller's trace context into a NATS message header
// and publishes it, for producers that share this process's NATS
// connection (e.g. tests or sibling components).
func Publish(ctx context.Context, nc *nats.Conn, subject, eventType string, data map[string]any) error {
	hdr := nats.Header{}
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	payload, err := json.Marshal(event{Type: eventType, Data: data})
	if err != nil {
		return err
	}
	return nc.PublishMsg(&nats.Msg{Subject: subject, Data: payload, Header: hdr})
}

// Close unsubscribes and closes the underlying NATS connection.
func (b *Bridge) Close() {
	if b == nil {
		return
	}
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	if b.nc != nil {
		b.nc.Close()
	}
}
