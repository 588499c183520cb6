package agent

import (
	"context"
	"testing"
	"time"

	"github.com/no-ai-labs/spice-go/result"
	"github.com/no-ai-labs/spice-go/schema"
)

func TestDefaultHandlerReplies(t *testing.T) {
	a := New("a1", "assistant")
	res := a.ProcessMessage(context.Background(), schema.NewComm("hello", "user"))

	reply, ok := res.Value()
	if !ok {
		t.Fatalf("process failed: %v", res.Err())
	}
	if reply.Content != "hello" || reply.From != "a1" || reply.To != "user" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestCustomHandlerAndErrorContext(t *testing.T) {
	a := New("a1", "failing", WithHandler(func(ctx context.Context, msg schema.Comm) result.Result[schema.Comm] {
		return result.Failure[schema.Comm](result.Unknown("handler broke"))
	}))

	err := a.ProcessMessage(context.Background(), schema.NewComm("x", "u")).Err()
	if err == nil {
		t.Fatalf("expected failure")
	}
	if err.ContextValue(result.CtxAgentID) != "a1" {
		t.Fatalf("agent id must be attached to failures: %v", err.Context)
	}
}

func TestExpiredMessageRejected(t *testing.T) {
	var handled bool
	a := New("a1", "a", WithHandler(func(ctx context.Context, msg schema.Comm) result.Result[schema.Comm] {
		handled = true
		return result.Success(msg)
	}))

	msg := schema.NewComm("x", "u")
	past := time.Now().Add(-time.Second)
	msg.ExpiresAt = &past

	err := a.ProcessMessage(context.Background(), msg).Err()
	if err == nil || err.Code != result.CodeComm {
		t.Fatalf("expected comm error, got %v", err)
	}
	if handled {
		t.Fatalf("handler must not see expired messages")
	}
}

func TestRegistryIdempotentReplace(t *testing.T) {
	reg := NewRegistry()
	reg.Register(New("a1", "first"))
	reg.Register(New("a1", "second"))
	reg.Register(New("a2", "other"))

	if got := reg.Get("a1"); got == nil || got.Name() != "second" {
		t.Fatalf("duplicate id must replace prior entry")
	}
	if reg.Get("missing") != nil {
		t.Fatalf("miss must return nil")
	}

	list := reg.List()
	if len(list) != 2 || list[0].ID() != "a1" || list[1].ID() != "a2" {
		t.Fatalf("list must be sorted by id: %v", list)
	}

	reg.Unregister("a1")
	if reg.Get("a1") != nil {
		t.Fatalf("unregister failed")
	}
}
