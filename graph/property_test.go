package graph

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestInnerGraphIsAcyclicProperty verifies P2: every inner dependency
// relation accepted by BuildInnerGraph is acyclic, for arbitrary
// forward-only dependency sets.
func TestInnerGraphIsAcyclicProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("forward-only descriptors always topo-sort", prop.ForAll(
		func(n int) bool {
			if n == 0 {
				return true
			}
			descriptors := make([]ChildDescriptor, n)
			for i := 0; i < n; i++ {
				var deps []int
				if i > 0 {
					deps = []int{i - 1} // chain dependency: always forward-only
				}
				descriptors[i] = ChildDescriptor{
					Task:      TaskComposition,
					Goal:      fmt.Sprintf("step-%d", i),
					DependsOn: deps,
				}
			}
			g := New()
			root, _ := g.AddRoot(TaskComposition, "root", 0, KindPlan)
			children, err := g.BuildInnerGraph(root, descriptors)
			if err != nil {
				return false
			}
			rootNode, _ := g.Get(root)
			return len(rootNode.InnerTopoOrder) == len(children)
		},
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t)
}

// TestContainmentIsTreeProperty verifies P1: after any sequence of
// BuildInnerGraph calls, every non-root node has exactly one outer parent
// and no node is its own ancestor.
func TestContainmentIsTreeProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("containment forms a tree", prop.ForAll(
		func(widths []int) bool {
			g := New()
			root, _ := g.AddRoot(TaskComposition, "root", 0, KindPlan)
			frontier := []string{root}
			for _, w := range widths {
				if w <= 0 || len(frontier) == 0 {
					continue
				}
				parent := frontier[0]
				frontier = frontier[1:]
				descriptors := make([]ChildDescriptor, w)
				for i := range descriptors {
					descriptors[i] = ChildDescriptor{Task: TaskComposition, Goal: fmt.Sprintf("g-%d", i)}
				}
				children, err := g.BuildInnerGraph(parent, descriptors)
				if err != nil {
					// Already-expanded or non-PLAN parents are expected to
					// reject a second plan; that is not a tree-shape violation.
					continue
				}
				frontier = append(frontier, children...)
			}
			for _, n := range g.All() {
				seen := map[string]bool{n.ID: true}
				cur := n.OuterParent
				for cur != "" {
					if seen[cur] {
						return false // cycle in containment
					}
					seen[cur] = true
					pn, ok := g.Get(cur)
					if !ok {
						return false
					}
					cur = pn.OuterParent
				}
			}
			return true
		},
		gen.SliceOfN(5, gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}
