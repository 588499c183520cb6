package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/no-ai-labs/spice-go/result"
)

type orderPlaced struct {
	OrderID string  `json:"order_id"`
	Amount  float64 `json:"amount"`
}

func newTestBus() (*Bus, *SchemaRegistry) {
	registry := NewSchemaRegistry()
	registry.Register("OrderPlaced", "v1", JSONCodec[orderPlaced]())
	return New(registry), registry
}

func TestChannelRequiresRegisteredSchema(t *testing.T) {
	bus, _ := newTestBus()

	if _, err := bus.Channel("orders", "OrderPlaced", "v2", ChannelConfig{}); err == nil {
		t.Fatalf("unregistered version must fail at channel creation")
	} else if err.Code != result.CodeConfiguration {
		t.Fatalf("expected configuration error, got %s", err.Code)
	}

	if _, err := bus.Channel("orders", "OrderPlaced", "v1", ChannelConfig{}); err != nil {
		t.Fatalf("registered schema rejected: %v", err)
	}
}

func TestSameNameSameHandle(t *testing.T) {
	bus, _ := newTestBus()
	a, _ := bus.Channel("orders", "OrderPlaced", "v1", ChannelConfig{})
	b, _ := bus.Channel("orders", "OrderPlaced", "v1", ChannelConfig{})
	if a != b {
		t.Fatalf("same name and version must return the same handle")
	}

	bus.Registry().Register("OrderPlaced", "v2", JSONCodec[orderPlaced]())
	if _, err := bus.Channel("orders", "OrderPlaced", "v2", ChannelConfig{}); err == nil {
		t.Fatalf("conflicting rebinding must fail")
	}
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	bus, _ := newTestBus()
	ch, _ := bus.Channel("orders", "OrderPlaced", "v1", ChannelConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sub := bus.Subscribe(ctx, ch, nil)
	defer sub.Close()

	id := bus.Publish(ctx, ch, orderPlaced{OrderID: "o1", Amount: 9.5}, map[string]string{"source": "test"})
	if id.IsFailure() {
		t.Fatalf("publish failed: %v", id.Err())
	}

	event, ok := sub.Next(ctx)
	if !ok {
		t.Fatalf("expected event")
	}
	placed := event.Event.(orderPlaced)
	if placed.OrderID != "o1" {
		t.Fatalf("unexpected event: %+v", placed)
	}
	if event.Envelope.Metadata["source"] != "test" {
		t.Fatalf("metadata lost in envelope")
	}
}

func TestDeadLetterRouting(t *testing.T) {
	bus, _ := newTestBus()
	ch, _ := bus.Channel("orders", "OrderPlaced", "v1", ChannelConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sub := bus.Subscribe(ctx, ch, nil)
	defer sub.Close()

	// Well-formed event delivers.
	bus.Publish(ctx, ch, orderPlaced{OrderID: "good"}, nil)
	if _, ok := sub.Next(ctx); !ok {
		t.Fatalf("good event must deliver")
	}
	if bus.Stats().DeadLettered != 0 {
		t.Fatalf("no dead letters expected yet")
	}

	// Garbage tagged v1: subscriber sees nothing, dead-letter counts one.
	bus.PublishRaw(ctx, ch, []byte{0xde, 0xad, 0xbe, 0xef}, nil)
	bus.Publish(ctx, ch, orderPlaced{OrderID: "after"}, nil)

	event, ok := sub.Next(ctx)
	if !ok {
		t.Fatalf("expected the event published after the garbage")
	}
	if event.Event.(orderPlaced).OrderID != "after" {
		t.Fatalf("garbage must be skipped, got %+v", event.Event)
	}

	stats := bus.Stats()
	if stats.DeadLettered != 1 || stats.Channels["orders"].DeadLettered != 1 {
		t.Fatalf("dead letter not counted: %+v", stats)
	}
	if stats.Channels["orders"].Delivered != 2 {
		t.Fatalf("expected 2 delivered, got %+v", stats.Channels["orders"])
	}

	letters := bus.DeadLetters()
	if len(letters) != 1 || letters[0].Kind != "deserialization" {
		t.Fatalf("dead letter entry missing: %+v", letters)
	}
}

func TestFilter(t *testing.T) {
	bus, _ := newTestBus()
	ch, _ := bus.Channel("orders", "OrderPlaced", "v1", ChannelConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sub := bus.Subscribe(ctx, ch, func(env Envelope) bool {
		return env.Metadata["tenant"] == "a"
	})
	defer sub.Close()

	bus.Publish(ctx, ch, orderPlaced{OrderID: "skip"}, map[string]string{"tenant": "b"})
	bus.Publish(ctx, ch, orderPlaced{OrderID: "keep"}, map[string]string{"tenant": "a"})

	event, ok := sub.Next(ctx)
	if !ok || event.Event.(orderPlaced).OrderID != "keep" {
		t.Fatalf("filter must drop non-matching envelopes")
	}
}

func TestFailPublisherOverflow(t *testing.T) {
	bus, _ := newTestBus()
	ch, _ := bus.Channel("commands", "OrderPlaced", "v1", ChannelConfig{
		BufferSize:     1,
		OverflowPolicy: FailPublisher,
	})

	ctx := context.Background()
	sub := bus.Subscribe(ctx, ch, nil)
	defer sub.Close()

	if res := bus.Publish(ctx, ch, orderPlaced{OrderID: "1"}, nil); res.IsFailure() {
		t.Fatalf("first publish must fit: %v", res.Err())
	}
	res := bus.Publish(ctx, ch, orderPlaced{OrderID: "2"}, nil)
	if res.Err() == nil || res.Err().Code != result.CodeEventBusFull {
		t.Fatalf("expected EVENT_BUS_FULL, got %v", res.Err())
	}
}

func TestDropOldestOverflow(t *testing.T) {
	bus, _ := newTestBus()
	ch, _ := bus.Channel("obs", "OrderPlaced", "v1", ChannelConfig{
		BufferSize:     1,
		OverflowPolicy: DropOldest,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sub := bus.Subscribe(ctx, ch, nil)
	defer sub.Close()

	bus.Publish(ctx, ch, orderPlaced{OrderID: "old"}, nil)
	bus.Publish(ctx, ch, orderPlaced{OrderID: "new"}, nil)

	event, ok := sub.Next(ctx)
	if !ok || event.Event.(orderPlaced).OrderID != "new" {
		t.Fatalf("oldest must be dropped, got %+v", event.Event)
	}
}

func TestBlockPublisherHonorsCancellation(t *testing.T) {
	bus, _ := newTestBus()
	ch, _ := bus.Channel("cmd", "OrderPlaced", "v1", ChannelConfig{
		BufferSize:     1,
		OverflowPolicy: BlockPublisher,
	})

	sub := bus.Subscribe(context.Background(), ch, nil)
	defer sub.Close()

	bus.Publish(context.Background(), ch, orderPlaced{OrderID: "fill"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := bus.Publish(ctx, ch, orderPlaced{OrderID: "blocked"}, nil)
	if res.Err() == nil || res.Err().Code != result.CodeTimeout {
		t.Fatalf("blocked publish must fail on deadline, got %v", res.Err())
	}
}

func TestHistoryReplay(t *testing.T) {
	bus, _ := newTestBus()
	ch, _ := bus.Channel("audit", "OrderPlaced", "v1", ChannelConfig{EnableHistory: true})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	bus.Publish(ctx, ch, orderPlaced{OrderID: "early"}, nil)

	sub := bus.Subscribe(ctx, ch, nil)
	defer sub.Close()

	event, ok := sub.Next(ctx)
	if !ok || event.Event.(orderPlaced).OrderID != "early" {
		t.Fatalf("history must replay to late subscribers")
	}
}

func TestPerPublisherOrdering(t *testing.T) {
	bus, _ := newTestBus()
	ch, _ := bus.Channel("ordered", "OrderPlaced", "v1", ChannelConfig{BufferSize: 16, StrictOrder: true})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sub := bus.Subscribe(ctx, ch, nil)
	defer sub.Close()

	ids := []string{"1", "2", "3", "4"}
	for _, id := range ids {
		bus.Publish(ctx, ch, orderPlaced{OrderID: id}, nil)
	}
	for _, want := range ids {
		event, ok := sub.Next(ctx)
		if !ok || event.Event.(orderPlaced).OrderID != want {
			t.Fatalf("ordering violated: wanted %s got %+v", want, event.Event)
		}
	}
}
