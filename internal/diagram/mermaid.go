package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a Model as a Mermaid flowchart.
func RenderMermaid(m *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if m.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", m.Title)
	}

	for _, node := range m.Nodes {
		writeNode(&b, node, 1)
	}
	for _, edge := range m.Edges {
		writeEdge(&b, edge, 1)
	}

	return b.String()
}

// writeNode emits one node definition plus any nested subgraphs.
func writeNode(b *strings.Builder, node *Node, depth int) {
	indent := strings.Repeat("    ", depth)
	fmt.Fprintf(b, "%s%s\n", indent, nodeDef(node))

	for _, sg := range node.Children {
		fmt.Fprintf(b, "%ssubgraph %s[\"%s\"]\n",
			indent, safeID(node.ID+"_"+sg.Label), escapeLabel(sg.Label))
		for _, sub := range sg.Nodes {
			writeNode(b, sub, depth+1)
		}
		for _, edge := range sg.Edges {
			writeEdge(b, edge, depth+1)
		}
		fmt.Fprintf(b, "%send\n", indent)
	}
}

func writeEdge(b *strings.Builder, edge Edge, depth int) {
	indent := strings.Repeat("    ", depth)
	label := ""
	if edge.Label != "" {
		label = fmt.Sprintf("|%s|", escapeLabel(edge.Label))
	}
	fmt.Fprintf(b, "%s%s -->%s %s\n", indent, safeID(edge.From), label, safeID(edge.To))
}

// nodeDef returns a node definition with a shape per kind.
func nodeDef(node *Node) string {
	id := safeID(node.ID)
	label := escapeLabel(node.Label)

	switch node.Kind {
	case NodeKindBranch:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindAgent:
		return fmt.Sprintf("%s{{%q}}", id, label)
	case NodeKindParallel:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case NodeKindWorkflow:
		return fmt.Sprintf("%s([%q])", id, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// safeID converts a node id to a Mermaid-safe identifier.
func safeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_", ":", "_", "(", "_", ")", "_")
	return r.Replace(id)
}

// escapeLabel strips characters Mermaid treats as markup.
func escapeLabel(s string) string {
	s = strings.ReplaceAll(s, "\"", "'")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
