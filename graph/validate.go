package graph

import "fmt"

// ValidateDescriptors checks the plan-validation rules of spec §4.5 step 3:
// dependency indices must refer to earlier subtasks only (forward-only),
// and every descriptor must carry an allowed task type. Returns an
// *errkind.Error-compatible error (via the caller wrapping with
// errkind.Validation) describing the first violation found.
func ValidateDescriptors(descriptors []ChildDescriptor) error {
	if len(descriptors) == 0 {
		return fmt.Errorf("plan produced no subtasks")
	}
	for i, d := range descriptors {
		switch d.Task {
		case TaskComposition, TaskRetrieval, TaskReasoning:
		default:
			return fmt.Errorf("subtask %d: unknown task type %q", i, d.Task)
		}
		if d.Goal == "" {
			return fmt.Errorf("subtask %d: missing goal", i)
		}
		for _, dep := range d.DependsOn {
			if dep < 0 || dep >= len(descriptors) {
				return fmt.Errorf("subtask %d: dependency index %d out of range", i, dep)
			}
			if dep >= i {
				return fmt.Errorf("subtask %d: dependency on %d is not forward-only", i, dep)
			}
		}
	}
	return nil
}

// topoSort computes a topological order of ids given a dependency map
// (child -> predecessors), detecting cycles. Forward-only validation in
// ValidateDescriptors already rules out cycles among freshly planned
// children; topoSort still detects cycles itself rather than assume
// acyclicity, as a guard against a caller that skipped that validation.
func topoSort(ids []string, edges map[string][]string) ([]string, error) {
	indegree := make(map[string]int, len(ids))
	children := make(map[string][]string, len(ids))
	for _, id := range ids {
		indegree[id] = len(edges[id])
	}
	for id, preds := range edges {
		for _, p := range preds {
			children[p] = append(children[p], id)
		}
	}

	var queue []string
	for _, id := range ids {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	stableSortByNID(queue, func(id string) string { return id })

	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, child := range children[id] {
			indegree[child]--
			if indegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if len(order) != len(ids) {
		return nil, fmt.Errorf("graph: dependency cycle detected among %d nodes", len(ids)-len(order))
	}
	return order, nil
}
