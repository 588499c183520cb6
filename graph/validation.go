package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/no-ai-labs/spice-go/result"
)

// ValidationPipeline checks node inputs against per-node JSON Schemas
// before the node runs. Nodes without a schema pass through.
type ValidationPipeline struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidationPipeline compiles one JSON Schema source per node id.
func NewValidationPipeline(sources map[string]string) (*ValidationPipeline, *result.Error) {
	compiler := jsonschema.NewCompiler()
	for nodeID, src := range sources {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, result.Configuration("invalid schema document", "schemas").
				WithCause(err).WithContext("node", nodeID)
		}
		if err := compiler.AddResource(nodeID+".json", doc); err != nil {
			return nil, result.Configuration("schema resource rejected", "schemas").
				WithCause(err).WithContext("node", nodeID)
		}
	}

	compiled := make(map[string]*jsonschema.Schema, len(sources))
	for nodeID := range sources {
		sch, err := compiler.Compile(nodeID + ".json")
		if err != nil {
			return nil, result.Configuration("schema compilation failed", "schemas").
				WithCause(err).WithContext("node", nodeID)
		}
		compiled[nodeID] = sch
	}
	return &ValidationPipeline{schemas: compiled}, nil
}

// Validate checks the input bound for nodeID. The input is normalized
// through JSON so Go values validate like their wire form.
func (p *ValidationPipeline) Validate(nodeID string, input any) *result.Error {
	if p == nil {
		return nil
	}
	sch, ok := p.schemas[nodeID]
	if !ok {
		return nil
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return result.Serialization("node input not serializable", "json").
			WithCause(err).WithContext("node", nodeID)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return result.Serialization("node input not decodable", "json").
			WithCause(err).WithContext("node", nodeID)
	}

	if err := sch.Validate(instance); err != nil {
		return result.Validation(
			fmt.Sprintf("node %q input rejected by schema", nodeID), nodeID, "schema", nil).
			WithCause(err)
	}
	return nil
}
