package header

// expandKits replaces every {kit: NAME} tool entry, transitively, with the
// named kit's tool list (§4.2 Kit expansion). Kits may reference other
// kits; a cycle among them is a fatal initialization error (§9 Design
// notes: "Cyclic references... kit references to kits, detected by DFS
// with a visiting-set").
func expandKits(kits map[string][]ToolSpec, tools []ToolSpec) ([]ToolSpec, error) {
	visiting := map[string]bool{}
	return expandList(kits, tools, visiting)
}

func expandList(kits map[string][]ToolSpec, tools []ToolSpec, visiting map[string]bool) ([]ToolSpec, error) {
	var out []ToolSpec
	for _, t := range tools {
		if t.Variant != VariantKit {
			out = append(out, t)
			continue
		}
		expanded, err := expandKitRef(kits, t.KitName, visiting)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

func expandKitRef(kits map[string][]ToolSpec, name string, visiting map[string]bool) ([]ToolSpec, error) {
	if visiting[name] {
		return nil, &ValidationError{Kit: name, Msg: "cyclic kit reference"}
	}
	members, ok := kits[name]
	if !ok {
		return nil, &ValidationError{Kit: name, Msg: "unresolved kit reference"}
	}
	visiting[name] = true
	defer delete(visiting, name)
	return expandList(kits, members, visiting)
}
