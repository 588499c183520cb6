package builtin

import (
	"context"
	"fmt"
	"sync"

	"github.com/no-ai-labs/spice-go/result"
	"github.com/no-ai-labs/spice-go/runtime"
	"github.com/no-ai-labs/spice-go/schema"
	"github.com/no-ai-labs/spice-go/tool"
)

// KVStore is a tenant-scoped in-memory store exposed as a tool. Values are
// partitioned by the ambient tenant id, so concurrent tenants never see
// each other's entries.
type KVStore struct {
	mu     sync.RWMutex
	values map[string]map[string][]string
}

// NewKVStore creates an empty store.
func NewKVStore() *KVStore {
	return &KVStore{values: make(map[string]map[string][]string)}
}

// Tool wraps the store as a tool with store / retrieve / delete actions.
func (s *KVStore) Tool() tool.Tool {
	sch := tool.NewSchema(map[string]tool.Parameter{
		"action": tool.StringParam("store, retrieve or delete", true),
		"key":    tool.StringParam("entry key", true),
		"value":  tool.StringParam("value to append, required for store", false),
	})

	return tool.New("kv_store", "tenant-scoped key-value store", sch,
		func(ctx context.Context, params map[string]any) (schema.ToolResult, error) {
			ec, err := runtime.Require(ctx)
			if err != nil {
				return schema.ToolResult{}, err
			}
			tenant := ec.TenantID
			if tenant == "" {
				return schema.ToolResult{}, result.Configuration(
					"tenant id required for kv_store", runtime.KeyTenantID)
			}

			key := params["key"].(string)
			switch action := params["action"].(string); action {
			case "store":
				value, ok := params["value"].(string)
				if !ok {
					return schema.ToolResult{}, result.Validation(
						"value required for store", "value", "string", params["value"])
				}
				s.append(tenant, key, value)
				return schema.SuccessResult("stored"), nil
			case "retrieve":
				return schema.SuccessResult(s.get(tenant, key)), nil
			case "delete":
				s.delete(tenant, key)
				return schema.SuccessResult("deleted"), nil
			default:
				return schema.ToolResult{}, result.Validation(
					fmt.Sprintf("unknown action %q", action), "action", "string", action)
			}
		})
}

func (s *KVStore) append(tenant, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.values[tenant]
	if !ok {
		bucket = make(map[string][]string)
		s.values[tenant] = bucket
	}
	bucket[key] = append(bucket[key], value)
}

func (s *KVStore) get(tenant, key string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.values[tenant][key]
	out := make([]string, len(entries))
	copy(out, entries)
	return out
}

func (s *KVStore) delete(tenant, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values[tenant], key)
}
