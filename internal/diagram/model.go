package diagram

// NodeKind classifies a diagram node by its workflow step type.
type NodeKind string

const (
	NodeKindLLM      NodeKind = "llm"
	NodeKindAgent    NodeKind = "agent"
	NodeKindBranch   NodeKind = "branch"
	NodeKindParallel NodeKind = "parallel"
	NodeKindWorkflow NodeKind = "workflow"
	NodeKindStart    NodeKind = "start"
	NodeKindEnd      NodeKind = "end"
)

// Model is the intermediate representation consumed by renderers.
type Model struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node is a single step in the diagram. Branch and parallel nodes carry
// their nested steps as subgraphs.
type Node struct {
	ID       string
	Label    string
	Kind     NodeKind
	Children []*SubGraph
}

// SubGraph holds one branch of a flow-control node.
type SubGraph struct {
	Label string
	Nodes []*Node
	Edges []Edge
}

// Edge is a directed link between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}
