package engine

import (
	"fmt"
	"sort"

	"github.com/helixcrm/flowengine/pkg/models"
)

// Graph is the resolved step graph of one workflow: nodes indexed by ID,
// default order-ascending sequencing, and goto edges validated to stay
// inside the workflow. It is built once per execution and read-only after.
type Graph struct {
	nodes   map[string]*models.WorkflowStep
	ordered []*models.WorkflowStep
}

// NewGraph builds and validates the graph. A goto target that names no step
// of the workflow is a configuration error.
func NewGraph(steps []*models.WorkflowStep) (*Graph, error) {
	graph := &Graph{
		nodes:   make(map[string]*models.WorkflowStep, len(steps)),
		ordered: make([]*models.WorkflowStep, 0, len(steps)),
	}

	for _, step := range steps {
		if _, exists := graph.nodes[step.ID]; exists {
			return nil, fmt.Errorf("duplicate step ID %q", step.ID)
		}

		graph.nodes[step.ID] = step
		graph.ordered = append(graph.ordered, step)
	}

	sort.SliceStable(graph.ordered, func(i, j int) bool {
		if graph.ordered[i].Order != graph.ordered[j].Order {
			return graph.ordered[i].Order < graph.ordered[j].Order
		}

		return graph.ordered[i].ID < graph.ordered[j].ID
	})

	for _, step := range steps {
		for _, target := range []*string{step.OnSuccessGoto, step.OnFailureGoto} {
			if target == nil {
				continue
			}

			if _, exists := graph.nodes[*target]; !exists {
				return nil, fmt.Errorf("step %q references unknown goto target %q", step.ID, *target)
			}
		}
	}

	return graph, nil
}

// Len returns the number of steps in the graph.
func (g *Graph) Len() int {
	return len(g.ordered)
}

// First returns the lowest-order step, or nil for an empty workflow.
func (g *Graph) First() *models.WorkflowStep {
	if len(g.ordered) == 0 {
		return nil
	}

	return g.ordered[0]
}

// Step resolves a step by ID.
func (g *Graph) Step(id string) (*models.WorkflowStep, bool) {
	step, exists := g.nodes[id]

	return step, exists
}

// Wave returns the parallel wave the step belongs to: every step sharing its
// order and branch with is_parallel set. A non-parallel step is its own
// wave of one.
func (g *Graph) Wave(step *models.WorkflowStep) []*models.WorkflowStep {
	if !step.IsParallel {
		return []*models.WorkflowStep{step}
	}

	wave := make([]*models.WorkflowStep, 0, 2)

	for _, candidate := range g.ordered {
		if candidate.IsParallel && candidate.Order == step.Order && candidate.BranchID == step.BranchID {
			wave = append(wave, candidate)
		}
	}

	return wave
}

// NextAfter returns the first step with an order strictly greater than the
// given order, or nil when the walk runs off the end of the graph.
func (g *Graph) NextAfter(order int) *models.WorkflowStep {
	for _, step := range g.ordered {
		if step.Order > order {
			return step
		}
	}

	return nil
}
