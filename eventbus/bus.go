// Package eventbus is a unified in-process pub/sub with typed channels.
// Every channel is bound to a registered (eventType, version) schema;
// subscribers get independent bounded queues with a per-channel overflow
// policy, and payloads that fail to decode are routed to a dead-letter
// sink instead of surfacing to subscribers.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/no-ai-labs/spice-go/result"
)

// OverflowPolicy decides what happens when a subscriber queue is full.
type OverflowPolicy string

const (
	// DropOldest evicts the oldest queued event. Default for observability
	// channels.
	DropOldest OverflowPolicy = "DROP_OLDEST"
	// DropNewest discards the incoming event.
	DropNewest OverflowPolicy = "DROP_NEWEST"
	// BlockPublisher makes Publish wait for capacity. Default for command
	// channels.
	BlockPublisher OverflowPolicy = "BLOCK_PUBLISHER"
	// FailPublisher makes Publish return EVENT_BUS_FULL.
	FailPublisher OverflowPolicy = "FAIL_PUBLISHER"
)

// ChannelConfig tunes one channel.
type ChannelConfig struct {
	BufferSize     int
	OverflowPolicy OverflowPolicy
	StrictOrder    bool
	EnableHistory  bool
	HistoryLimit   int
}

const (
	defaultBufferSize   = 64
	defaultHistoryLimit = 128
)

// Envelope wraps a serialized event for delivery and persistence.
type Envelope struct {
	ID        string            `json:"id"`
	Channel   string            `json:"channel"`
	EventType string            `json:"event_type"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Payload   []byte            `json:"payload"`
}

// TypedEvent is a decoded event together with its envelope.
type TypedEvent struct {
	Envelope Envelope
	Event    any
}

// DeadLetter records an envelope the bus could not deliver.
type DeadLetter struct {
	Envelope   Envelope  `json:"envelope"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	ReceivedAt time.Time `json:"received_at"`
}

// Filter selects envelopes a subscriber wants; nil accepts everything.
type Filter func(Envelope) bool

// ChannelStats counts per-channel activity.
type ChannelStats struct {
	Published    int64
	Delivered    int64
	DeadLettered int64
}

// Stats aggregates bus counters.
type Stats struct {
	Channels     map[string]ChannelStats
	DeadLettered int64
}

// Channel is a handle to one named, schema-bound event stream.
type Channel struct {
	name      string
	eventType string
	version   string
	config    ChannelConfig
	codec     Codec

	mu      sync.Mutex
	subs    []*Subscription
	history []Envelope

	published    atomic.Int64
	delivered    atomic.Int64
	deadLettered atomic.Int64
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Subscription is a cooperative, single-consumer event sequence.
type Subscription struct {
	channel *Channel
	bus     *Bus
	filter  Filter
	queue   chan Envelope
	done    chan struct{}
	once    sync.Once
}

// Bus multiplexes typed channels over registered schemas.
type Bus struct {
	registry *SchemaRegistry
	logger   *zap.Logger

	mu       sync.RWMutex
	channels map[string]*Channel

	dlMu        sync.Mutex
	deadLetters []DeadLetter
	dlSubs      []chan DeadLetter
	dlCount     atomic.Int64
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger attaches a structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a bus over the given schema registry.
func New(registry *SchemaRegistry, opts ...Option) *Bus {
	if registry == nil {
		registry = NewSchemaRegistry()
	}
	b := &Bus{
		registry: registry,
		logger:   zap.NewNop(),
		channels: make(map[string]*Channel),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Registry exposes the schema registry backing this bus.
func (b *Bus) Registry() *SchemaRegistry { return b.registry }

// Channel returns the handle for name, creating it on first use. The
// (eventType, version) pair must be registered; otherwise a
// CONFIGURATION_ERROR is returned and neither publish nor subscribe is
// possible. An existing channel with the same type and version is returned
// as the same handle; a conflicting binding is a configuration error.
func (b *Bus) Channel(name, eventType, version string, config ChannelConfig) (*Channel, *result.Error) {
	codec, ok := b.registry.Lookup(eventType, version)
	if !ok {
		return nil, result.Configuration(
			"schema not registered for channel", "channel").
			WithContext("channel", name, "event_type", eventType, "version", version)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, found := b.channels[name]; found {
		if existing.eventType != eventType || existing.version != version {
			return nil, result.Configuration(
				"channel already bound to a different schema", "channel").
				WithContext("channel", name,
					"bound_type", existing.eventType, "bound_version", existing.version)
		}
		return existing, nil
	}

	if config.BufferSize <= 0 {
		config.BufferSize = defaultBufferSize
	}
	if config.OverflowPolicy == "" {
		config.OverflowPolicy = DropOldest
	}
	if config.EnableHistory && config.HistoryLimit <= 0 {
		config.HistoryLimit = defaultHistoryLimit
	}

	ch := &Channel{
		name:      name,
		eventType: eventType,
		version:   version,
		config:    config,
		codec:     codec,
	}
	b.channels[name] = ch
	b.logger.Debug("channel created",
		zap.String("channel", name),
		zap.String("event_type", eventType),
		zap.String("version", version))
	return ch, nil
}

// Publish serializes the event, wraps it in an envelope and fans it out to
// the channel's current subscribers. Per-channel per-publisher order is
// preserved; with StrictOrder the channel lock serializes all publishers.
func (b *Bus) Publish(ctx context.Context, ch *Channel, event any, metadata map[string]string) result.Result[string] {
	if ch == nil {
		return result.Failure[string](result.Configuration("publish on nil channel", "channel"))
	}

	payload, err := ch.codec.Encode(event)
	if err != nil {
		return result.Failure[string](
			result.Serialization("event encoding failed", "json").
				WithCause(err).
				WithContext("channel", ch.name))
	}

	return b.publishEnvelope(ctx, ch, payload, metadata)
}

// PublishRaw publishes a pre-serialized payload, tagged with the channel's
// schema version. The payload is not checked against the schema here;
// decoding happens at delivery, so a malformed payload reaches the
// dead-letter path rather than the subscribers.
func (b *Bus) PublishRaw(ctx context.Context, ch *Channel, payload []byte, metadata map[string]string) result.Result[string] {
	if ch == nil {
		return result.Failure[string](result.Configuration("publish on nil channel", "channel"))
	}
	return b.publishEnvelope(ctx, ch, payload, metadata)
}

func (b *Bus) publishEnvelope(ctx context.Context, ch *Channel, payload []byte, metadata map[string]string) result.Result[string] {
	env := Envelope{
		ID:        uuid.New().String(),
		Channel:   ch.name,
		EventType: ch.eventType,
		Version:   ch.version,
		Timestamp: time.Now(),
		Metadata:  metadata,
		Payload:   payload,
	}

	ch.mu.Lock()
	subs := make([]*Subscription, len(ch.subs))
	copy(subs, ch.subs)
	if ch.config.EnableHistory {
		ch.history = append(ch.history, env)
		if len(ch.history) > ch.config.HistoryLimit {
			ch.history = ch.history[len(ch.history)-ch.config.HistoryLimit:]
		}
	}
	if !ch.config.StrictOrder {
		ch.mu.Unlock()
	} else {
		defer ch.mu.Unlock()
	}

	ch.published.Add(1)
	for _, sub := range subs {
		if sub.filter != nil && !sub.filter(env) {
			continue
		}
		if err := b.enqueue(ctx, ch, sub, env); err != nil {
			return result.Failure[string](err)
		}
	}
	return result.Success(env.ID)
}

func (b *Bus) enqueue(ctx context.Context, ch *Channel, sub *Subscription, env Envelope) *result.Error {
	switch ch.config.OverflowPolicy {
	case BlockPublisher:
		select {
		case sub.queue <- env:
			return nil
		case <-sub.done:
			return nil
		case <-ctx.Done():
			return result.FromError(ctx.Err())
		}
	case FailPublisher:
		select {
		case sub.queue <- env:
			return nil
		default:
			return result.New(result.CodeEventBusFull, "subscriber queue full").
				WithContext("channel", ch.name)
		}
	case DropNewest:
		select {
		case sub.queue <- env:
		default:
		}
		return nil
	default: // DropOldest
		for {
			select {
			case sub.queue <- env:
				return nil
			default:
				select {
				case <-sub.queue:
				default:
				}
			}
		}
	}
}

// Subscribe attaches a new independent subscriber queue to the channel.
// With history enabled, retained events are replayed first. The returned
// subscription is single-consumer; it ends when ctx is cancelled or Close
// is called.
func (b *Bus) Subscribe(ctx context.Context, ch *Channel, filter Filter) *Subscription {
	sub := &Subscription{
		channel: ch,
		bus:     b,
		filter:  filter,
		queue:   make(chan Envelope, ch.config.BufferSize),
		done:    make(chan struct{}),
	}

	ch.mu.Lock()
	if ch.config.EnableHistory {
		for _, env := range ch.history {
			if filter != nil && !filter(env) {
				continue
			}
			select {
			case sub.queue <- env:
			default:
			}
		}
	}
	ch.subs = append(ch.subs, sub)
	ch.mu.Unlock()

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				sub.Close()
			case <-sub.done:
			}
		}()
	}
	return sub
}

// Next blocks for the next decodable event. Envelopes that fail to decode
// are dead-lettered and skipped, never surfaced. The second return is false
// once the subscription is closed or ctx is cancelled.
func (s *Subscription) Next(ctx context.Context) (TypedEvent, bool) {
	for {
		select {
		case <-s.done:
			return TypedEvent{}, false
		case <-ctx.Done():
			return TypedEvent{}, false
		case env := <-s.queue:
			event, err := s.channel.codec.Decode(env.Payload)
			if err != nil {
				s.bus.deadLetter(s.channel, env, err)
				continue
			}
			s.channel.delivered.Add(1)
			return TypedEvent{Envelope: env, Event: event}, true
		}
	}
}

// Close detaches the subscription from its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		ch := s.channel
		ch.mu.Lock()
		for i, other := range ch.subs {
			if other == s {
				ch.subs = append(ch.subs[:i], ch.subs[i+1:]...)
				break
			}
		}
		ch.mu.Unlock()
	})
}

func (b *Bus) deadLetter(ch *Channel, env Envelope, cause error) {
	ch.deadLettered.Add(1)
	b.dlCount.Add(1)

	dl := DeadLetter{
		Envelope:   env,
		Kind:       "deserialization",
		Message:    cause.Error(),
		ReceivedAt: time.Now(),
	}

	b.dlMu.Lock()
	b.deadLetters = append(b.deadLetters, dl)
	if len(b.deadLetters) > 256 {
		b.deadLetters = b.deadLetters[len(b.deadLetters)-256:]
	}
	subs := make([]chan DeadLetter, len(b.dlSubs))
	copy(subs, b.dlSubs)
	b.dlMu.Unlock()

	b.logger.Warn("event dead-lettered",
		zap.String("channel", env.Channel),
		zap.String("envelope_id", env.ID),
		zap.Error(cause))

	for _, c := range subs {
		select {
		case c <- dl:
		default:
		}
	}
}

// DeadLetters returns the retained dead-letter entries, newest last.
func (b *Bus) DeadLetters() []DeadLetter {
	b.dlMu.Lock()
	defer b.dlMu.Unlock()
	out := make([]DeadLetter, len(b.deadLetters))
	copy(out, b.deadLetters)
	return out
}

// SubscribeDeadLetters returns a channel of future dead-letter entries.
func (b *Bus) SubscribeDeadLetters() <-chan DeadLetter {
	c := make(chan DeadLetter, defaultBufferSize)
	b.dlMu.Lock()
	b.dlSubs = append(b.dlSubs, c)
	b.dlMu.Unlock()
	return c
}

// Stats snapshots all counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := Stats{Channels: make(map[string]ChannelStats, len(b.channels)), DeadLettered: b.dlCount.Load()}
	for name, ch := range b.channels {
		out.Channels[name] = ChannelStats{
			Published:    ch.published.Load(),
			Delivered:    ch.delivered.Load(),
			DeadLettered: ch.deadLettered.Load(),
		}
	}
	return out
}
