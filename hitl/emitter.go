package hitl

import (
	"context"

	"github.com/no-ai-labs/spice-go/eventbus"
	"github.com/no-ai-labs/spice-go/result"
)

// Emitter is the port a HITL tool publishes through. Injecting it keeps the
// tool testable without a bus.
type Emitter interface {
	EmitRequest(ctx context.Context, req Request) *result.Error
	DeliverResponse(ctx context.Context, resp Response) *result.Error
}

// RegisterEventSchemas registers the HITL codecs on a bus registry.
func RegisterEventSchemas(registry *eventbus.SchemaRegistry) {
	registry.Register("HitlRequest", eventVersion, eventbus.JSONCodec[Request]())
	registry.Register("HitlResponse", eventVersion, eventbus.JSONCodec[Response]())
}

// BusEmitter publishes requests and responses on the event bus. Both
// channels block the publisher on overflow; losing a HITL message strands a
// suspended run.
type BusEmitter struct {
	bus      *eventbus.Bus
	request  *eventbus.Channel
	response *eventbus.Channel
}

// NewBusEmitter wires the HITL channels on the given bus.
func NewBusEmitter(bus *eventbus.Bus) (*BusEmitter, *result.Error) {
	RegisterEventSchemas(bus.Registry())
	cfg := eventbus.ChannelConfig{OverflowPolicy: eventbus.BlockPublisher, EnableHistory: true}

	request, err := bus.Channel(ChannelRequest, "HitlRequest", eventVersion, cfg)
	if err != nil {
		return nil, err
	}
	response, err := bus.Channel(ChannelResponse, "HitlResponse", eventVersion, cfg)
	if err != nil {
		return nil, err
	}
	return &BusEmitter{bus: bus, request: request, response: response}, nil
}

// EmitRequest publishes a request on hitl.request.
func (e *BusEmitter) EmitRequest(ctx context.Context, req Request) *result.Error {
	return e.bus.Publish(ctx, e.request, req, map[string]string{
		"tool_call_id": req.ToolCallID,
	}).Err()
}

// DeliverResponse publishes a response on hitl.response; the coordinator
// listening there resumes the suspended run.
func (e *BusEmitter) DeliverResponse(ctx context.Context, resp Response) *result.Error {
	return e.bus.Publish(ctx, e.response, resp, map[string]string{
		"tool_call_id": resp.ToolCallID,
	}).Err()
}

// ResponseChannel exposes the response channel for subscribers.
func (e *BusEmitter) ResponseChannel() *eventbus.Channel { return e.response }

// RequestChannel exposes the request channel for subscribers.
func (e *BusEmitter) RequestChannel() *eventbus.Channel { return e.request }
