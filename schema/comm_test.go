package schema

import (
	"testing"
	"time"
)

func TestNewCommDefaults(t *testing.T) {
	c := NewComm("hello", "user")
	if c.ID == "" {
		t.Fatalf("id must be assigned")
	}
	if c.Type != TypeText || c.Role != RoleUser || c.Priority != PriorityNormal {
		t.Fatalf("unexpected defaults: %v %v %v", c.Type, c.Role, c.Priority)
	}
}

func TestReplyLinksAndCorrelation(t *testing.T) {
	original := NewComm("question", "alice", WithMetadata("correlation_id", "corr-1"))
	reply := original.Reply("answer", "bot")

	if reply.ParentID != original.ID {
		t.Fatalf("reply must reference the parent")
	}
	if reply.To != "alice" {
		t.Fatalf("reply must address the original sender, got %s", reply.To)
	}
	if reply.Role != RoleAssistant {
		t.Fatalf("reply default role must be assistant")
	}
	if reply.Metadata["correlation_id"] != "corr-1" {
		t.Fatalf("correlation metadata must be preserved")
	}
	if reply.ID == original.ID {
		t.Fatalf("reply must get a fresh id")
	}
}

func TestExpiry(t *testing.T) {
	fresh := NewComm("x", "a", WithTTL(time.Hour))
	if fresh.IsExpired() {
		t.Fatalf("fresh comm must not be expired")
	}

	stale := NewComm("x", "a")
	past := time.Now().Add(-time.Minute)
	stale.ExpiresAt = &past
	if !stale.IsExpired() {
		t.Fatalf("stale comm must be expired")
	}

	unbounded := NewComm("x", "a")
	if unbounded.IsExpired() {
		t.Fatalf("comm without expiry never expires")
	}
}

func TestCloneIsDeep(t *testing.T) {
	c := NewComm("x", "a", WithData("k", "v"), WithMetadata("m", 1))
	clone := c.Clone()
	clone.SetData("k", "changed")
	clone.SetMetadata("m", 2)

	if c.Data["k"] != "v" || c.Metadata["m"] != 1 {
		t.Fatalf("clone must not share maps with the original")
	}
}
