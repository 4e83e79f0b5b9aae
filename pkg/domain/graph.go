package domain

// Graph is the minimal view of a workflow document the orchestrator needs:
// node identities for validation and edges for derived edge state.
type Graph struct {
	ID      string `json:"id"`
	Version string `json:"version,omitempty"`
	Nodes   []Node `json:"nodes"`
	Edges   []Edge `json:"edges"`
}

// Node is a workflow node
type Node struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// Edge connects two nodes
type Edge struct {
	ID           string `json:"id,omitempty"`
	SourceNodeID string `json:"source_node_id"`
	TargetNodeID string `json:"target_node_id"`
}

// Key returns the edge ID, or a stable one derived from its endpoints
func (e Edge) Key() string {
	if e.ID != "" {
		return e.ID
	}
	return e.SourceNodeID + "->" + e.TargetNodeID
}

// HasNode reports whether the graph contains nodeID
func (g *Graph) HasNode(nodeID string) bool {
	if g == nil {
		return false
	}
	for _, n := range g.Nodes {
		if n.ID == nodeID {
			return true
		}
	}
	return false
}
