package expression

// BuildContext assembles an evaluation context from workflow inputs and
// the outputs of already-completed nodes:
//
//	{
//	    "inputs": {"name": "value", ...},
//	    "nodes": {
//	        "node_id": <output value>,
//	        ...
//	    },
//	}
//
// Input values are also exposed at the top level for convenience, so
// both `inputs.mode` and `mode` resolve, unless the name collides with
// a reserved key.
func BuildContext(inputs map[string]any, nodes map[string]any) map[string]any {
	ctx := make(map[string]any, len(inputs)+2)

	if inputs == nil {
		inputs = make(map[string]any)
	}
	if nodes == nil {
		nodes = make(map[string]any)
	}

	ctx["inputs"] = inputs
	ctx["nodes"] = nodes

	for k, v := range inputs {
		if _, exists := ctx[k]; !exists {
			ctx[k] = v
		}
	}

	return ctx
}
