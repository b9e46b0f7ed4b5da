package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

type recordingTrigger struct {
	mu    sync.Mutex
	calls []string
	data  map[string]any
}

func (r *recordingTrigger) TriggerEvent(ctx context.Context, eventType string, eventData map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, eventType)
	r.data = eventData
}

func (r *recordingTrigger) called() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestConnectWithEmptyURLIsANoop(t *testing.T) {
	b, err := Connect("", "taskmesh.events", &recordingTrigger{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if b != nil {
		t.Fatalf("expected nil bridge for empty url, got %+v", b)
	}
	b.Close() // must tolerate a nil receiver
}

func TestHandleForwardsWellFormedEvent(t *testing.T) {
	trig := &recordingTrigger{}
	b := &Bridge{tracer: otel.Tracer("eventbus-test")}

	b.handle(trig, &nats.Msg{
		Subject: "taskmesh.events",
		Data:    []byte(`{"type":"webhook.received","data":{"order_id":"42"}}`),
	})

	deadline := time.Now().Add(time.Second)
	for {
		if len(trig.called()) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("trigger was never called")
		}
		time.Sleep(5 * time.Millisecond)
	}

	calls := trig.called()
	if calls[0] != "webhook.received" {
		t.Fatalf("expected webhook.received, got %s", calls[0])
	}
	if trig.data["order_id"] != "42" {
		t.Fatalf("expected order_id=42, got %v", trig.data)
	}
}

func TestHandleDropsMalformedMessage(t *testing.T) {
	trig := &recordingTrigger{}
	b := &Bridge{tracer: otel.Tracer("eventbus-test")}

	b.handle(trig, &nats.Msg{Subject: "taskmesh.events", Data: []byte(`not json`)})

	if calls := trig.called(); len(calls) != 0 {
		t.Fatalf("expected no trigger calls for malformed message, got %v", calls)
	}
}

func TestHandleDropsMessageWithNoEventType(t *testing.T) {
	trig := &recordingTrigger{}
	b := &Bridge{tracer: otel.Tracer("eventbus-test")}

	b.handle(trig, &nats.Msg{Subject: "taskmesh.events", Data: []byte(`{"data":{"a":1}}`)})

	if calls := trig.called(); len(calls) != 0 {
		t.Fatalf("expected no trigger calls for empty event type, got %v", calls)
	}
}
