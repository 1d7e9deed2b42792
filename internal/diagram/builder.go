package diagram

import (
	"fmt"

	"github.com/rendis/loom/pkg/schema"
)

// Build converts a workflow definition into a diagram model: the top-level
// step chain between start and end nodes, with branch and parallel bodies as
// nested subgraphs.
func Build(def *schema.WorkflowDefinition) *Model {
	m := &Model{Title: def.ID}

	start := &Node{ID: "start", Label: "start", Kind: NodeKindStart}
	// "end" is a reserved word in Mermaid flowcharts.
	end := &Node{ID: "finish", Label: "end", Kind: NodeKindEnd}

	nodes, edges := buildChain(def.Steps, "s")

	m.Nodes = append(m.Nodes, start)
	m.Nodes = append(m.Nodes, nodes...)
	m.Nodes = append(m.Nodes, end)

	if len(nodes) == 0 {
		m.Edges = append(m.Edges, Edge{From: start.ID, To: end.ID})
		return m
	}
	m.Edges = append(m.Edges, Edge{From: start.ID, To: nodes[0].ID})
	m.Edges = append(m.Edges, edges...)
	m.Edges = append(m.Edges, Edge{From: nodes[len(nodes)-1].ID, To: end.ID})
	return m
}

// buildChain builds one sequential step chain. prefix scopes generated node
// ids so nested branches never collide.
func buildChain(steps []schema.Step, prefix string) ([]*Node, []Edge) {
	var nodes []*Node
	var edges []Edge
	for i := range steps {
		node := buildNode(&steps[i], fmt.Sprintf("%s%d", prefix, i))
		nodes = append(nodes, node)
		if i > 0 {
			edges = append(edges, Edge{From: nodes[i-1].ID, To: node.ID})
		}
	}
	return nodes, edges
}

func buildNode(step *schema.Step, fallbackID string) *Node {
	id := step.ID
	if id == "" {
		id = fallbackID
	}

	node := &Node{ID: id}
	switch step.Type {
	case schema.StepTypeLLM:
		node.Kind = NodeKindLLM
		node.Label = "llm: " + step.Model

	case schema.StepTypeAgent:
		node.Kind = NodeKindAgent
		node.Label = "agent: " + step.Model

	case schema.StepTypeIf:
		node.Kind = NodeKindBranch
		node.Label = "if " + step.Condition
		node.Children = append(node.Children, buildSubGraph("then", step.Then, id+"_then"))
		if len(step.Else) > 0 {
			node.Children = append(node.Children, buildSubGraph("else", step.Else, id+"_else"))
		}

	case schema.StepTypeSwitch:
		node.Kind = NodeKindBranch
		node.Label = "switch " + step.Value
		for ci, c := range step.Cases {
			node.Children = append(node.Children,
				buildSubGraph(c.Value, c.Steps, fmt.Sprintf("%s_case%d_", id, ci)))
		}
		if len(step.Default) > 0 {
			node.Children = append(node.Children, buildSubGraph("default", step.Default, id+"_default"))
		}

	case schema.StepTypeMatch:
		node.Kind = NodeKindBranch
		node.Label = "match " + step.Value
		for ci, c := range step.Conditions {
			node.Children = append(node.Children,
				buildSubGraph(c.When, c.Steps, fmt.Sprintf("%s_cond%d_", id, ci)))
		}
		if len(step.Default) > 0 {
			node.Children = append(node.Children, buildSubGraph("default", step.Default, id+"_default"))
		}

	case schema.StepTypeParallel:
		node.Kind = NodeKindParallel
		node.Label = fmt.Sprintf("parallel (%d)", len(step.Steps))
		for bi := range step.Steps {
			branch := buildSubGraph(fmt.Sprintf("branch %d", bi),
				step.Steps[bi:bi+1], fmt.Sprintf("%s_b%d_", id, bi))
			node.Children = append(node.Children, branch)
		}

	case schema.StepTypeWorkflow:
		node.Kind = NodeKindWorkflow
		node.Label = "workflow: " + step.WorkflowID

	default:
		node.Label = string(step.Type)
	}
	return node
}

func buildSubGraph(label string, steps []schema.Step, prefix string) *SubGraph {
	nodes, edges := buildChain(steps, prefix)
	return &SubGraph{Label: label, Nodes: nodes, Edges: edges}
}
