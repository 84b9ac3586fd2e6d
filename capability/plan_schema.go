package capability

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// planSchemaDoc constrains what a PLAN-producing capability may emit: a
// non-empty list of subtask descriptors with a recognized task type, a
// non-empty goal, and non-negative integer dependency indices (that each
// index points at an earlier subtask is checked afterwards by
// graph.ValidateDescriptors). Validating here, before graph.BuildInnerGraph ever sees the plan, turns a malformed
// model response into an errkind.Validation result instead of a panic deep
// in graph construction. Grounded in registry/service.go's use of
// santhosh-tekuri/jsonschema/v6 to validate tool-call payloads against a
// compiled schema before they reach the rest of the system.
const planSchemaDoc = `{
  "type": "object",
  "required": ["subtasks"],
  "properties": {
    "subtasks": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["task", "goal"],
        "properties": {
          "task": {"enum": ["COMPOSITION", "RETRIEVAL", "REASONING"]},
          "goal": {"type": "string", "minLength": 1},
          "length_hint": {"type": "integer", "minimum": 0},
          "depends_on": {"type": "array", "items": {"type": "integer", "minimum": 0}}
        }
      }
    }
  }
}`

var planSchema *jsonschema.Schema

func init() {
	var doc any
	if err := json.Unmarshal([]byte(planSchemaDoc), &doc); err != nil {
		panic(fmt.Sprintf("capability: invalid embedded plan schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("plan.json", doc); err != nil {
		panic(fmt.Sprintf("capability: add plan schema resource: %v", err))
	}
	schema, err := c.Compile("plan.json")
	if err != nil {
		panic(fmt.Sprintf("capability: compile plan schema: %v", err))
	}
	planSchema = schema
}

type rawPlan struct {
	Subtasks []rawSubtask `json:"subtasks"`
}

type rawSubtask struct {
	Task       string `json:"task"`
	Goal       string `json:"goal"`
	LengthHint int    `json:"length_hint"`
	DependsOn  []int  `json:"depends_on"`
}

// parsePlan validates raw model output against planSchema and decodes it
// into SubtaskDescriptors. Any failure here is a Validation-kind error:
// the model produced a structurally invalid plan, which the scheduler's
// retry policy treats as retryable (spec §7).
func parsePlan(raw []byte) ([]SubtaskDescriptor, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("plan is not valid JSON: %w", err)
	}
	if err := planSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("plan failed schema validation: %w", err)
	}
	var p rawPlan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("plan decode: %w", err)
	}
	out := make([]SubtaskDescriptor, len(p.Subtasks))
	for i, s := range p.Subtasks {
		out[i] = SubtaskDescriptor{Task: s.Task, Goal: s.Goal, LengthHint: s.LengthHint, DependsOn: s.DependsOn}
	}
	return out, nil
}
