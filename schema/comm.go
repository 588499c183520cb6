// Package schema defines the data unit flowing through agents, flows and
// graph nodes.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// Role defines who authored a Comm.
type Role string

const (
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MessageType classifies a Comm.
type MessageType string

const (
	TypeText     MessageType = "TEXT"
	TypeSystem   MessageType = "SYSTEM"
	TypeError    MessageType = "ERROR"
	TypeToolCall MessageType = "TOOL_CALL"
	TypeResult   MessageType = "RESULT"
)

// Priority orders Comms when a consumer cares.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityNormal   Priority = "NORMAL"
	PriorityUrgent   Priority = "URGENT"
	PriorityCritical Priority = "CRITICAL"
)

// Comm is the unit of communication. Engines never mutate a Comm in place;
// every derivation goes through Reply or Clone.
type Comm struct {
	ID        string         `json:"id"`
	ParentID  string         `json:"parent_id,omitempty"`
	Content   string         `json:"content"`
	From      string         `json:"from"`
	To        string         `json:"to,omitempty"`
	Type      MessageType    `json:"type"`
	Role      Role           `json:"role"`
	Priority  Priority       `json:"priority"`
	Data      map[string]any `json:"data,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	TTL       time.Duration  `json:"ttl,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// CommOption configures a new Comm.
type CommOption func(*Comm)

// WithTo sets the recipient.
func WithTo(to string) CommOption {
	return func(c *Comm) { c.To = to }
}

// WithType sets the message type.
func WithType(t MessageType) CommOption {
	return func(c *Comm) { c.Type = t }
}

// WithRole sets the role.
func WithRole(r Role) CommOption {
	return func(c *Comm) { c.Role = r }
}

// WithPriority sets the priority.
func WithPriority(p Priority) CommOption {
	return func(c *Comm) { c.Priority = p }
}

// WithData sets a data entry.
func WithData(key string, value any) CommOption {
	return func(c *Comm) { c.SetData(key, value) }
}

// WithMetadata sets a metadata entry.
func WithMetadata(key string, value any) CommOption {
	return func(c *Comm) { c.SetMetadata(key, value) }
}

// WithTTL sets the time to live; ExpiresAt is derived from CreatedAt.
func WithTTL(ttl time.Duration) CommOption {
	return func(c *Comm) {
		c.TTL = ttl
		exp := c.CreatedAt.Add(ttl)
		c.ExpiresAt = &exp
	}
}

// NewComm creates a Comm with defaults: TEXT type, USER role, NORMAL
// priority, a fresh id and timestamp.
func NewComm(content, from string, opts ...CommOption) Comm {
	c := Comm{
		ID:        uuid.New().String(),
		Content:   content,
		From:      from,
		Type:      TypeText,
		Role:      RoleUser,
		Priority:  PriorityNormal,
		CreatedAt: time.Now(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	return c
}

// Reply produces a new Comm answering this one: ParentID points back, To is
// the original sender, and correlation metadata is carried over.
func (c Comm) Reply(content, from string, opts ...CommOption) Comm {
	reply := NewComm(content, from, opts...)
	reply.ParentID = c.ID
	reply.To = c.From
	if reply.Role == RoleUser {
		reply.Role = RoleAssistant
	}
	for _, key := range []string{"correlation_id", "causation_id", "tenant_id"} {
		if v, ok := c.metadataValue(key); ok {
			reply.SetMetadata(key, v)
		}
	}
	return reply
}

// IsExpired reports whether the Comm outlived its ExpiresAt.
func (c Comm) IsExpired() bool {
	if c.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*c.ExpiresAt)
}

// Clone deep-copies the Comm, including Data and Metadata maps.
func (c Comm) Clone() Comm {
	clone := c
	if c.Data != nil {
		clone.Data = make(map[string]any, len(c.Data))
		for k, v := range c.Data {
			clone.Data[k] = v
		}
	}
	if c.Metadata != nil {
		clone.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			clone.Metadata[k] = v
		}
	}
	if c.ExpiresAt != nil {
		exp := *c.ExpiresAt
		clone.ExpiresAt = &exp
	}
	return clone
}

// SetData sets a data entry, allocating the map on first use.
func (c *Comm) SetData(key string, value any) {
	if c.Data == nil {
		c.Data = make(map[string]any)
	}
	c.Data[key] = value
}

// GetData reads a data entry.
func (c Comm) GetData(key string) (any, bool) {
	if c.Data == nil {
		return nil, false
	}
	v, ok := c.Data[key]
	return v, ok
}

// SetMetadata sets a metadata entry, allocating the map on first use.
func (c *Comm) SetMetadata(key string, value any) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	c.Metadata[key] = value
}

func (c Comm) metadataValue(key string) (any, bool) {
	if c.Metadata == nil {
		return nil, false
	}
	v, ok := c.Metadata[key]
	return v, ok
}
