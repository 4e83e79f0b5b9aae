package orchestrator

import (
	"fmt"

	"github.com/aescanero/dago-testrun/pkg/domain"
)

// Validator checks that a workflow graph can be test-run
type Validator struct{}

// NewValidator creates a new graph validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a graph structure
func (v *Validator) Validate(g *domain.Graph) error {
	if g == nil {
		return fmt.Errorf("graph is nil")
	}

	if g.ID == "" {
		return fmt.Errorf("graph ID is required")
	}

	if len(g.Nodes) == 0 {
		return fmt.Errorf("graph must have at least one node")
	}

	nodeIDs := make(map[string]bool, len(g.Nodes))
	for i, node := range g.Nodes {
		if err := v.validateNode(node); err != nil {
			return fmt.Errorf("invalid node at %d: %w", i, err)
		}

		// Check for duplicate node IDs
		if nodeIDs[node.ID] {
			return fmt.Errorf("duplicate node ID: %s", node.ID)
		}
		nodeIDs[node.ID] = true
	}

	edgeIDs := make(map[string]bool, len(g.Edges))
	for _, edge := range g.Edges {
		if !nodeIDs[edge.SourceNodeID] {
			return fmt.Errorf("edge references non-existent source node: %s", edge.SourceNodeID)
		}
		if !nodeIDs[edge.TargetNodeID] {
			return fmt.Errorf("edge references non-existent target node: %s", edge.TargetNodeID)
		}
		if edgeIDs[edge.Key()] {
			return fmt.Errorf("duplicate edge: %s", edge.Key())
		}
		edgeIDs[edge.Key()] = true
	}

	return nil
}

// validateNode validates a single node
func (v *Validator) validateNode(node domain.Node) error {
	if node.ID == "" {
		return fmt.Errorf("node ID is required")
	}

	if node.Type == "" {
		return fmt.Errorf("node %s has no type", node.ID)
	}

	return nil
}
