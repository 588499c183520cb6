package spice

import (
	"context"
	"strings"
	"testing"

	"github.com/no-ai-labs/spice-go/agent"
	"github.com/no-ai-labs/spice-go/config"
	"github.com/no-ai-labs/spice-go/flow"
	"github.com/no-ai-labs/spice-go/graph"
	"github.com/no-ai-labs/spice-go/result"
	"github.com/no-ai-labs/spice-go/schema"
)

func upperAgent(id string) agent.Agent {
	return agent.New(id, id, agent.WithHandler(
		func(ctx context.Context, msg schema.Comm) result.Result[schema.Comm] {
			return result.Success(msg.Reply(strings.ToUpper(msg.Content), id))
		}))
}

func TestEngineAsk(t *testing.T) {
	eng, err := New(WithConfig(config.Config{CacheMaxSize: 8, GraphMaxSteps: 10}))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	eng.RegisterAgent(upperAgent("echo"))

	got, ok := eng.Ask(context.Background(), "echo", "hello").Value()
	if !ok || got != "HELLO" {
		t.Fatalf("Ask = %q, ok=%v", got, ok)
	}

	if eng.Ask(context.Background(), "ghost", "hi").Err() == nil {
		t.Fatalf("unregistered agent must fail")
	}
}

func TestEngineFlowRegistration(t *testing.T) {
	eng, err := New(WithConfig(config.Config{GraphMaxSteps: 10}))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	eng.RegisterAgent(upperAgent("a"))

	f := eng.NewFlow("shout", []flow.Step{{ID: "a", Agent: upperAgent("a")}})
	if eng.Flows().Get("shout") != f {
		t.Fatalf("flow not registered")
	}

	out, ok := f.Process(context.Background(), schema.NewComm("hi", "user")).Value()
	if !ok || out.Content != "HI" {
		t.Fatalf("flow output = %+v", out)
	}
}

func TestEngineRunsGraph(t *testing.T) {
	eng, err := New(WithConfig(config.Config{GraphMaxSteps: 10}))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	g, berr := graph.NewBuilder("demo").
		AddNode(graph.NewFuncNode("double", func(ctx context.Context, nc *graph.NodeContext) result.Result[graph.NodeResult] {
			prev, _ := nc.Previous().(string)
			return result.Success(graph.NodeResult{Data: prev + prev})
		})).
		Build()
	if berr != nil {
		t.Fatalf("build: %v", berr)
	}

	report, ok := eng.Run(context.Background(), g, map[string]any{"input": "ab"}).Value()
	if !ok || report.Status != graph.StatusSuccess {
		t.Fatalf("run report = %+v", report)
	}
	if report.Result != "abab" {
		t.Fatalf("result = %v", report.Result)
	}
}
